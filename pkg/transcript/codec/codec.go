// Package codec converts a transcript to and from the persisted blob format.
//
// Blob layout: a JSON array of turn records
//
//	[{"id":1,"role":"assistant","content":"..."},
//	 {"id":3,"role":"assistant","content":"...","feedback":{"thumbs":1,"text":null}}]
//
// Feedback keys are written in the order thumbs, stars, faces, text. A key that
// is absent was never set; a null key was cleared by the user. Records without
// "id" (older blobs) decode with ID 0 and get an ID during hydration.
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/ragchat/pkg/transcript"
)

// DecodeError reports a blob that could not be turned back into a transcript.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	if e == nil || e.Err == nil {
		return "transcript codec: decode failed"
	}
	return "transcript codec: decode failed: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

type turnRecord struct {
	ID       uint64          `json:"id,omitempty"`
	Role     string          `json:"role"`
	Content  string          `json:"content"`
	Feedback *feedbackRecord `json:"feedback,omitempty"`
}

type feedbackRecord struct {
	Thumbs transcript.Field[int]    `json:"thumbs,omitzero"`
	Stars  transcript.Field[int]    `json:"stars,omitzero"`
	Faces  transcript.Field[int]    `json:"faces,omitzero"`
	Text   transcript.Field[string] `json:"text,omitzero"`
}

func Encode(tr transcript.Transcript) ([]byte, error) {
	records := make([]turnRecord, 0, len(tr))
	for _, t := range tr {
		if !t.Role.Valid() {
			return nil, errors.Errorf("transcript codec: turn %s has invalid role %q", t.ID, t.Role)
		}
		rec := turnRecord{
			ID:      uint64(t.ID),
			Role:    string(t.Role),
			Content: t.Content,
		}
		if t.Feedback != nil {
			rec.Feedback = &feedbackRecord{
				Thumbs: t.Feedback.Thumbs,
				Stars:  t.Feedback.Stars,
				Faces:  t.Feedback.Faces,
				Text:   t.Feedback.Text,
			}
		}
		records = append(records, rec)
	}
	b, err := json.Marshal(records)
	if err != nil {
		return nil, errors.Wrap(err, "transcript codec: encode")
	}
	return b, nil
}

// Decode never panics on bad input. Empty input is an empty transcript.
func Decode(blob []byte) (transcript.Transcript, error) {
	blob = bytes.TrimSpace(blob)
	if len(blob) == 0 || bytes.Equal(blob, []byte("null")) {
		return transcript.Transcript{}, nil
	}

	var records []turnRecord
	if err := json.Unmarshal(blob, &records); err != nil {
		return nil, &DecodeError{Err: err}
	}

	out := make(transcript.Transcript, 0, len(records))
	for i, rec := range records {
		role := transcript.Role(rec.Role)
		if !role.Valid() {
			return nil, &DecodeError{Err: errors.Errorf("record %d: unknown role %q", i, rec.Role)}
		}
		t := transcript.Turn{
			ID:      transcript.ID(rec.ID),
			Role:    role,
			Content: rec.Content,
		}
		if rec.Feedback != nil {
			t.Feedback = &transcript.FeedbackRecord{
				Thumbs: rec.Feedback.Thumbs,
				Stars:  rec.Feedback.Stars,
				Faces:  rec.Feedback.Faces,
				Text:   rec.Feedback.Text,
			}
		}
		out = append(out, t)
	}
	return out, nil
}
