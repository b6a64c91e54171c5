package webchat

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/ragchat/pkg/reconcile"
	"github.com/go-go-golems/ragchat/pkg/transcript"
)

// FeedbackJSON is a feedback record on the wire. Omitted fields were never
// set; null fields were cleared.
type FeedbackJSON struct {
	Thumbs transcript.Field[int]    `json:"thumbs,omitzero"`
	Stars  transcript.Field[int]    `json:"stars,omitzero"`
	Faces  transcript.Field[int]    `json:"faces,omitzero"`
	Text   transcript.Field[string] `json:"text,omitzero"`
}

func feedbackJSON(rec transcript.FeedbackRecord) *FeedbackJSON {
	return &FeedbackJSON{Thumbs: rec.Thumbs, Stars: rec.Stars, Faces: rec.Faces, Text: rec.Text}
}

type TurnJSON struct {
	ID              transcript.ID                       `json:"id"`
	Role            transcript.Role                     `json:"role"`
	Content         string                              `json:"content"`
	FeedbackEnabled bool                                `json:"feedback_enabled"`
	Feedback        *FeedbackJSON                       `json:"feedback,omitempty"`
	Keys            map[transcript.FeedbackField]string `json:"keys,omitempty"`
}

func turnJSON(tv reconcile.TurnView) TurnJSON {
	out := TurnJSON{
		ID:              tv.ID,
		Role:            tv.Role,
		Content:         tv.Content,
		FeedbackEnabled: tv.Feedback != nil,
		Keys:            tv.Keys,
	}
	if tv.Feedback != nil {
		out.Feedback = feedbackJSON(*tv.Feedback)
	}
	return out
}

type ViewJSON struct {
	SessionID          string             `json:"session_id"`
	ClientID           string             `json:"client_id"`
	Title              string             `json:"title"`
	Subheader          string             `json:"subheader"`
	Turns              []TurnJSON         `json:"turns"`
	PendingPrompt      bool               `json:"pending_prompt"`
	Notices            []reconcile.Notice `json:"notices"`
	Ready              bool               `json:"ready"`
	MissingCredentials []string           `json:"missing_credentials,omitempty"`
	Warnings           []string           `json:"warnings,omitempty"`
}

type SessionCreatedJSON struct {
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id"`
}

type ChatRequestBody struct {
	Prompt         string `json:"prompt"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type ErrorJSON struct {
	Error   string    `json:"error"`
	Message string    `json:"message,omitempty"`
	View    *ViewJSON `json:"view,omitempty"`
}

// FeedbackRequestBody addresses a turn either by TurnID plus any of the
// modality fields, or by a widget Key plus a single Value.
type FeedbackRequestBody struct {
	TurnID transcript.ID            `json:"turn_id,omitempty"`
	Thumbs transcript.Field[int]    `json:"thumbs,omitzero"`
	Stars  transcript.Field[int]    `json:"stars,omitzero"`
	Faces  transcript.Field[int]    `json:"faces,omitzero"`
	Text   transcript.Field[string] `json:"text,omitzero"`

	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (b FeedbackRequestBody) Patch() transcript.FeedbackPatch {
	return transcript.FeedbackPatch{Thumbs: b.Thumbs, Stars: b.Stars, Faces: b.Faces, Text: b.Text}
}

// KeyedValue decodes Value for a widget-keyed edit; null clears the field.
func (b FeedbackRequestBody) KeyedValue() (any, error) {
	raw := bytes.TrimSpace(b.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(transcript.ErrInvalidFeedback, err.Error())
	}
	return v, nil
}

// FeedbackResultJSON is returned after an edit and broadcast to websockets.
type FeedbackResultJSON struct {
	TurnID   transcript.ID      `json:"turn_id"`
	Feedback *FeedbackJSON      `json:"feedback"`
	Notices  []reconcile.Notice `json:"notices,omitempty"`
}

// Frame is a websocket message in either direction.
type Frame struct {
	Type string `json:"type"`

	// client -> server
	Prompt string `json:"prompt,omitempty"`
	FeedbackRequestBody

	// server -> client
	Chunk    string            `json:"chunk,omitempty"`
	Turn     *TurnJSON         `json:"turn,omitempty"`
	Feedback *FeedbackJSON     `json:"feedback,omitempty"`
	Notice   *reconcile.Notice `json:"notice,omitempty"`
	Error    string            `json:"error,omitempty"`
	View     *ViewJSON         `json:"view,omitempty"`
}

const (
	FramePrompt   = "prompt"
	FrameRetry    = "retry"
	FrameFeedback = "feedback"
	FrameChunk    = "chunk"
	FrameTurn     = "turn"
	FrameNotice   = "notice"
	FrameError    = "error"
	FrameView     = "view"
)
