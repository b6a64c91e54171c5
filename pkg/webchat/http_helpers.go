package webchat

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ragchat/pkg/chat"
	"github.com/go-go-golems/ragchat/pkg/feedback"
	"github.com/go-go-golems/ragchat/pkg/reconcile"
	"github.com/go-go-golems/ragchat/pkg/transcript"
)

const clientCookieMaxAge = 365 * 24 * 60 * 60

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("write json response")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorJSON{Error: code, Message: msg})
}

// errorStatus maps domain errors to HTTP statuses and stable error codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		return http.StatusNotFound, "turn_not_found"
	case errors.Is(err, feedback.ErrNotBindable):
		return http.StatusConflict, "turn_not_bindable"
	case errors.Is(err, transcript.ErrInvalidFeedback):
		return http.StatusBadRequest, "invalid_feedback"
	case errors.Is(err, reconcile.ErrEmptyPrompt):
		return http.StatusBadRequest, "empty_prompt"
	case errors.Is(err, reconcile.ErrNoPendingPrompt):
		return http.StatusConflict, "no_pending_prompt"
	case errors.Is(err, reconcile.ErrStreamAborted):
		return http.StatusBadGateway, "stream_aborted"
	case errors.Is(err, chat.ErrNotReady):
		return http.StatusServiceUnavailable, "not_ready"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// clientID returns the client id from the cookie, issuing a new one when the
// cookie is missing or malformed.
func (h *Handler) clientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(h.opts.ClientCookie); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(c.Value)); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.ClientCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   clientCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}
