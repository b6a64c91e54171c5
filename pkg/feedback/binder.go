// Package feedback attaches feedback records to assistant turns.
//
// The Binder is the only writer of Turn.Feedback. Everything it hands out to a
// rendering layer (records, widget keys) is derived from the MessageStore and
// can be thrown away and rebuilt at any time.
package feedback

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/ragchat/pkg/transcript"
)

// ErrNotBindable is returned for turns that never carry a feedback control:
// the opening greeting and user turns.
var ErrNotBindable = errors.New("turn does not accept feedback")

// Binding is what a renderer needs to draw the feedback controls of one turn.
type Binding struct {
	TurnID transcript.ID
	Record transcript.FeedbackRecord
	// Keys maps every modality to the widget key that edit events must carry.
	Keys map[transcript.FeedbackField]string
}

type boundKey struct {
	turn  transcript.ID
	field transcript.FeedbackField
}

type Binder struct {
	store *transcript.MessageStore
	keys  map[string]boundKey
}

func NewBinder(store *transcript.MessageStore) *Binder {
	return &Binder{store: store, keys: map[string]boundKey{}}
}

// WidgetKey derives the key of a feedback widget from the stable turn id.
func WidgetKey(id transcript.ID, field transcript.FeedbackField) string {
	return fmt.Sprintf("%s_feedback_%s", field, id)
}

// Bindable reports whether id names a turn that accepts feedback.
func (b *Binder) Bindable(id transcript.ID) (transcript.Turn, error) {
	turn, ok := b.store.FindByID(id)
	if !ok {
		return transcript.Turn{}, errors.Wrapf(transcript.ErrNotFound, "feedback: turn %s", id)
	}
	if turn.Role != transcript.RoleAssistant {
		return turn, errors.Wrapf(ErrNotBindable, "feedback: turn %s is a %s turn", id, turn.Role)
	}
	if first, ok := b.store.First(); ok && first.ID == id {
		return turn, errors.Wrapf(ErrNotBindable, "feedback: turn %s is the greeting", id)
	}
	return turn, nil
}

// Bind returns the current record of the turn (all unset when nothing was
// recorded yet) and registers its widget keys.
func (b *Binder) Bind(id transcript.ID) (Binding, error) {
	turn, err := b.Bindable(id)
	if err != nil {
		return Binding{}, err
	}
	binding := Binding{
		TurnID: id,
		Keys:   make(map[transcript.FeedbackField]string, len(transcript.FeedbackFields)),
	}
	if turn.Feedback != nil {
		binding.Record = *turn.Feedback
	}
	for _, f := range transcript.FeedbackFields {
		key := WidgetKey(id, f)
		binding.Keys[f] = key
		b.keys[key] = boundKey{turn: id, field: f}
	}
	return binding, nil
}

// Materialize attaches the default record to a freshly completed assistant
// turn. An existing record is left as is.
func (b *Binder) Materialize(id transcript.ID) (transcript.FeedbackRecord, error) {
	turn, err := b.Bindable(id)
	if err != nil {
		return transcript.FeedbackRecord{}, err
	}
	if turn.Feedback != nil {
		return *turn.Feedback, nil
	}
	rec := transcript.FeedbackRecord{}
	if err := b.store.ReplaceFeedback(id, rec); err != nil {
		return transcript.FeedbackRecord{}, err
	}
	return rec, nil
}

// ApplyEdit merges the fields present in patch into the turn's record and
// returns the result. Applying the same patch twice stores the same record as
// applying it once. Unknown ids report transcript.ErrNotFound and change
// nothing.
func (b *Binder) ApplyEdit(id transcript.ID, patch transcript.FeedbackPatch) (transcript.FeedbackRecord, error) {
	turn, err := b.Bindable(id)
	if err != nil {
		return transcript.FeedbackRecord{}, err
	}
	if err := patch.Validate(); err != nil {
		return transcript.FeedbackRecord{}, err
	}
	var current transcript.FeedbackRecord
	if turn.Feedback != nil {
		current = *turn.Feedback
	}
	merged := current.Merge(patch)
	if err := b.store.ReplaceFeedback(id, merged); err != nil {
		return transcript.FeedbackRecord{}, err
	}
	return merged, nil
}

// ResolveKey maps a widget key handed out by Bind back to its turn and field.
func (b *Binder) ResolveKey(key string) (transcript.ID, transcript.FeedbackField, bool) {
	bk, ok := b.keys[strings.TrimSpace(key)]
	if !ok {
		return 0, "", false
	}
	return bk.turn, bk.field, true
}

// ApplyKeyedEdit applies a single widget value addressed by widget key.
func (b *Binder) ApplyKeyedEdit(key string, value any) (transcript.ID, transcript.FeedbackRecord, error) {
	id, field, ok := b.ResolveKey(key)
	if !ok {
		return 0, transcript.FeedbackRecord{}, errors.Wrapf(transcript.ErrNotFound, "feedback: unknown widget key %q", key)
	}
	patch, err := transcript.Patch(field, value)
	if err != nil {
		return id, transcript.FeedbackRecord{}, err
	}
	rec, err := b.ApplyEdit(id, patch)
	return id, rec, err
}
