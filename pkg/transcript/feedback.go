package transcript

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrInvalidFeedback = errors.New("invalid feedback value")

type fieldState uint8

const (
	fieldUnset fieldState = iota
	fieldCleared
	fieldSet
)

// Field is an optional feedback value with three distinguishable states:
// unset (never touched), cleared (explicitly emptied by the user) and set.
//
// In JSON an unset field is omitted (tag it `omitzero`), a cleared field is
// null and a set field carries its value.
type Field[T comparable] struct {
	state fieldState
	value T
}

func Set[T comparable](v T) Field[T] { return Field[T]{state: fieldSet, value: v} }

func Cleared[T comparable]() Field[T] { return Field[T]{state: fieldCleared} }

func (f Field[T]) IsSet() bool     { return f.state == fieldSet }
func (f Field[T]) IsCleared() bool { return f.state == fieldCleared }

// IsZero reports whether the field was never touched. encoding/json consults
// it for `omitzero`.
func (f Field[T]) IsZero() bool { return f.state == fieldUnset }

func (f Field[T]) Get() (T, bool) { return f.value, f.state == fieldSet }

// Overlay returns p when it carries an edit and f otherwise.
func (f Field[T]) Overlay(p Field[T]) Field[T] {
	if p.state == fieldUnset {
		return f
	}
	return p
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != fieldSet {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*f = Cleared[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Set(v)
	return nil
}

// FeedbackField names one of the feedback modalities.
type FeedbackField string

const (
	FieldThumbs FeedbackField = "thumbs"
	FieldStars  FeedbackField = "stars"
	FieldFaces  FeedbackField = "faces"
	FieldText   FeedbackField = "text"
)

// FeedbackFields lists the modalities in their canonical order.
var FeedbackFields = []FeedbackField{FieldThumbs, FieldStars, FieldFaces, FieldText}

const (
	ThumbsMin  = -1
	ThumbsMax  = 1
	OrdinalMin = 0
	OrdinalMax = 4
)

// FeedbackRecord is the feedback attached to one assistant turn. The zero
// value has every field unset.
type FeedbackRecord struct {
	Thumbs Field[int]
	Stars  Field[int]
	Faces  Field[int]
	Text   Field[string]
}

// FeedbackPatch is a partial edit. Unset fields leave the target untouched,
// cleared fields clear it.
type FeedbackPatch struct {
	Thumbs Field[int]
	Stars  Field[int]
	Faces  Field[int]
	Text   Field[string]
}

func (p FeedbackPatch) Empty() bool {
	return p.Thumbs.IsZero() && p.Stars.IsZero() && p.Faces.IsZero() && p.Text.IsZero()
}

func (p FeedbackPatch) Validate() error {
	if err := checkRange(FieldThumbs, p.Thumbs, ThumbsMin, ThumbsMax); err != nil {
		return err
	}
	if err := checkRange(FieldStars, p.Stars, OrdinalMin, OrdinalMax); err != nil {
		return err
	}
	return checkRange(FieldFaces, p.Faces, OrdinalMin, OrdinalMax)
}

func checkRange(name FeedbackField, f Field[int], lo, hi int) error {
	v, ok := f.Get()
	if !ok {
		return nil
	}
	if v < lo || v > hi {
		return errors.Wrapf(ErrInvalidFeedback, "%s=%d outside [%d, %d]", name, v, lo, hi)
	}
	return nil
}

// Merge applies p on top of r.
func (r FeedbackRecord) Merge(p FeedbackPatch) FeedbackRecord {
	r.Thumbs = r.Thumbs.Overlay(p.Thumbs)
	r.Stars = r.Stars.Overlay(p.Stars)
	r.Faces = r.Faces.Overlay(p.Faces)
	r.Text = r.Text.Overlay(p.Text)
	return r
}

// Sanitized returns r with every out-of-range rating cleared, and whether it
// had to clear any.
func (r FeedbackRecord) Sanitized() (FeedbackRecord, bool) {
	var a, b, c bool
	r.Thumbs, a = clearOutOfRange(r.Thumbs, ThumbsMin, ThumbsMax)
	r.Stars, b = clearOutOfRange(r.Stars, OrdinalMin, OrdinalMax)
	r.Faces, c = clearOutOfRange(r.Faces, OrdinalMin, OrdinalMax)
	return r, a || b || c
}

func clearOutOfRange(f Field[int], lo, hi int) (Field[int], bool) {
	if v, ok := f.Get(); ok && (v < lo || v > hi) {
		return Cleared[int](), true
	}
	return f, false
}

// Patch builds a single-field patch from a loosely typed widget value. A nil
// value clears the field.
func Patch(field FeedbackField, value any) (FeedbackPatch, error) {
	var p FeedbackPatch
	switch field {
	case FieldText:
		if value == nil {
			p.Text = Cleared[string]()
			return p, nil
		}
		s, ok := value.(string)
		if !ok {
			return p, errors.Wrapf(ErrInvalidFeedback, "text must be a string, got %T", value)
		}
		p.Text = Set(s)
		return p, nil
	case FieldThumbs, FieldStars, FieldFaces:
		f := Cleared[int]()
		if value != nil {
			n, err := toInt(value)
			if err != nil {
				return p, errors.Wrapf(err, "%s", field)
			}
			f = Set(n)
		}
		switch field {
		case FieldThumbs:
			p.Thumbs = f
		case FieldStars:
			p.Stars = f
		default:
			p.Faces = f
		}
		return p, p.Validate()
	}
	return p, errors.Wrapf(ErrInvalidFeedback, "unknown feedback field %q", field)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, errors.Wrapf(ErrInvalidFeedback, "non-integer rating %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidFeedback, "non-integer rating %q", n.String())
		}
		return int(i), nil
	}
	return 0, errors.Wrapf(ErrInvalidFeedback, "rating must be a number, got %T", v)
}
