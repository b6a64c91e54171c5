// Package transcript holds the turn-based conversation model.
//
// Model:
//   - A Turn is created once (user submission or completed assistant answer) and
//     only its Feedback may change afterwards.
//   - Turn IDs are allocated by the owning MessageStore and are the only key
//     used to find a turn again; list positions are never used as keys.
//   - Feedback fields are tri-state (unset, cleared, set) so a persisted record
//     comes back exactly as it was written.
package transcript
