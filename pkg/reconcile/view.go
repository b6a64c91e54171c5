package reconcile

import (
	"context"

	"github.com/go-go-golems/ragchat/pkg/transcript"
)

// TurnView is one rendered turn. Feedback and Keys are only present on turns
// that show feedback controls.
type TurnView struct {
	ID       transcript.ID
	Role     transcript.Role
	Content  string
	Feedback *transcript.FeedbackRecord
	Keys     map[transcript.FeedbackField]string
}

type View struct {
	Turns []TurnView
	// Pending is set when the last turn is a user prompt without an answer.
	Pending bool
}

// View projects the transcript for rendering and (re)binds the feedback
// controls of every answered assistant turn. It can be called any number of
// times; the result depends only on the transcript.
func (e *Engine) View(ctx context.Context) View {
	e.Hydrate(ctx)
	turns := e.messages.List()
	out := View{Turns: make([]TurnView, 0, len(turns))}
	for _, t := range turns {
		tv := TurnView{ID: t.ID, Role: t.Role, Content: t.Content}
		if binding, err := e.binder.Bind(t.ID); err == nil {
			rec := binding.Record
			tv.Feedback = &rec
			tv.Keys = binding.Keys
		}
		out.Turns = append(out.Turns, tv)
	}
	_, out.Pending = e.PendingPrompt(ctx)
	return out
}
