package transcript

import (
	"github.com/pkg/errors"
)

var (
	ErrNotFound    = errors.New("turn not found")
	ErrDuplicateID = errors.New("duplicate turn id")
)

// MessageStore is the authoritative in-memory transcript of one session.
//
// Turns are only ever appended; lookups go through the turn ID, never the
// position. It is owned by a single session and is not safe for concurrent
// use.
type MessageStore struct {
	turns []Turn
	index map[ID]int
	last  ID
}

func NewMessageStore() *MessageStore {
	return &MessageStore{index: map[ID]int{}}
}

func (s *MessageStore) Len() int { return len(s.turns) }

// NextID allocates the next identifier. IDs grow monotonically and are never
// handed out twice, even if the allocated ID is never appended.
func (s *MessageStore) NextID() ID {
	s.last++
	return s.last
}

// Append adds t at the end. Identical content is never deduplicated; only a
// missing or already used ID is rejected.
func (s *MessageStore) Append(t Turn) error {
	if t.ID == 0 {
		return errors.New("message store: turn id is zero")
	}
	if !t.Role.Valid() {
		return errors.Errorf("message store: invalid role %q", t.Role)
	}
	if _, ok := s.index[t.ID]; ok {
		return errors.Wrapf(ErrDuplicateID, "message store: id %s", t.ID)
	}
	s.index[t.ID] = len(s.turns)
	s.turns = append(s.turns, t.Clone())
	if t.ID > s.last {
		s.last = t.ID
	}
	return nil
}

// Load appends every turn of tr in order. It stops at the first invalid turn.
func (s *MessageStore) Load(tr Transcript) error {
	for _, t := range tr {
		if err := s.Append(t); err != nil {
			return err
		}
	}
	return nil
}

// List returns a copy of the transcript in insertion order.
func (s *MessageStore) List() Transcript {
	return Transcript(s.turns).Clone()
}

func (s *MessageStore) FindByID(id ID) (Turn, bool) {
	i, ok := s.index[id]
	if !ok {
		return Turn{}, false
	}
	return s.turns[i].Clone(), true
}

// ReplaceFeedback swaps the feedback record of the turn with the given id.
func (s *MessageStore) ReplaceFeedback(id ID, rec FeedbackRecord) error {
	i, ok := s.index[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "message store: id %s", id)
	}
	s.turns[i].Feedback = &rec
	return nil
}

// First returns the opening turn of the transcript.
func (s *MessageStore) First() (Turn, bool) {
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[0].Clone(), true
}
