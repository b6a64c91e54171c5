package transcript

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ID identifies a turn within a session. It is assigned once when the turn is
// created and travels with the turn through every persistence round-trip.
// Zero is never a valid ID.
type ID uint64

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseID parses the decimal form produced by ID.String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "transcript: invalid turn id %q", s)
	}
	if v == 0 {
		return 0, errors.New("transcript: turn id must be positive")
	}
	return ID(v), nil
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message of the conversation. Everything except Feedback is
// immutable after creation.
type Turn struct {
	ID       ID
	Role     Role
	Content  string
	Feedback *FeedbackRecord
}

// Clone returns a copy that shares no mutable state with t.
func (t Turn) Clone() Turn {
	if t.Feedback != nil {
		fb := *t.Feedback
		t.Feedback = &fb
	}
	return t
}

// Transcript is the ordered sequence of turns of a session.
type Transcript []Turn

func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	for i := range t {
		out[i] = t[i].Clone()
	}
	return out
}

// Last returns the final turn, if any.
func (t Transcript) Last() (Turn, bool) {
	if len(t) == 0 {
		return Turn{}, false
	}
	return t[len(t)-1], true
}
