package chat

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ragchat/pkg/feedback"
	"github.com/go-go-golems/ragchat/pkg/reconcile"
	"github.com/go-go-golems/ragchat/pkg/transcript"
)

const DefaultTopK = 4

var ErrNotReady = errors.New("chat is not ready: credentials missing")

// Session is one browser or terminal session of a client. All methods are
// serialized, so edits and prompts from concurrent requests never interleave
// inside the engine.
type Session struct {
	ID        string
	ClientID  string
	CreatedAt time.Time

	mu        sync.Mutex
	engine    *reconcile.Engine
	retriever Retriever
	generator Generator
	topK      int
	missing   []string
	logger    zerolog.Logger
}

type SessionOption func(*Session)

func WithRetriever(r Retriever) SessionOption {
	return func(s *Session) { s.retriever = r }
}

func WithGenerator(g Generator) SessionOption {
	return func(s *Session) { s.generator = g }
}

func WithTopK(k int) SessionOption {
	return func(s *Session) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithMissingCredentials marks the session as not ready; Ask and Retry fail
// with ErrNotReady while feedback and transcript access keep working.
func WithMissingCredentials(missing []string) SessionOption {
	return func(s *Session) { s.missing = append([]string(nil), missing...) }
}

func NewSession(id, clientID string, engine *reconcile.Engine, opts ...SessionOption) *Session {
	s := &Session{
		ID:        id,
		ClientID:  clientID,
		CreatedAt: time.Now(),
		engine:    engine,
		topK:      DefaultTopK,
		logger: log.Logger.With().
			Str("component", "chat").
			Str("session_id", id).
			Str("client_id", clientID).
			Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Ready() bool { return len(s.missing) == 0 }

func (s *Session) MissingCredentials() []string {
	return append([]string(nil), s.missing...)
}

// Snapshot is a consistent view of the session plus the notices queued since
// the previous snapshot.
type Snapshot struct {
	View    reconcile.View
	Notices []reconcile.Notice
}

func (s *Session) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(ctx)
}

func (s *Session) snapshotLocked(ctx context.Context) Snapshot {
	v := s.engine.View(ctx)
	return Snapshot{View: v, Notices: s.engine.DrainNotices()}
}

// DrainNotices returns and clears the notices queued by the engine.
func (s *Session) DrainNotices() []reconcile.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.DrainNotices()
}

func (s *Session) Transcript(ctx context.Context) transcript.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Transcript(ctx)
}

// Ask commits prompt as a user turn and answers it. onChunk receives the
// answer as it streams. When the answer is aborted the user turn stays in the
// transcript and can be answered later with Retry.
func (s *Session) Ask(ctx context.Context, prompt string, onChunk func(string)) (transcript.Turn, error) {
	if !s.Ready() {
		return transcript.Turn{}, ErrNotReady
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.engine.SubmitUserTurn(ctx, prompt)
	if err != nil {
		return transcript.Turn{}, err
	}
	s.logger.Debug().Str("turn_id", user.ID.String()).Msg("user turn committed")
	return s.answerLocked(ctx, user, onChunk)
}

// Retry answers a trailing user turn that has no answer yet.
func (s *Session) Retry(ctx context.Context, onChunk func(string)) (transcript.Turn, error) {
	if !s.Ready() {
		return transcript.Turn{}, ErrNotReady
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.engine.PendingPrompt(ctx)
	if !ok {
		return transcript.Turn{}, reconcile.ErrNoPendingPrompt
	}
	return s.answerLocked(ctx, pending, onChunk)
}

func (s *Session) answerLocked(ctx context.Context, prompt transcript.Turn, onChunk func(string)) (transcript.Turn, error) {
	if s.generator == nil {
		return transcript.Turn{}, errors.New("chat session: no generator configured")
	}

	var docs []Document
	if s.retriever != nil {
		var err error
		docs, err = s.retriever.Retrieve(ctx, prompt.Content, s.topK)
		if err != nil {
			s.logger.Warn().Err(err).Str("turn_id", prompt.ID.String()).Msg("retrieval failed, answering without context")
			docs = nil
		}
	}

	history := s.engine.Transcript(ctx)
	if last, ok := history.Last(); ok && last.ID == prompt.ID {
		history = history[:len(history)-1]
	}

	started := time.Now()
	turn, err := s.engine.Respond(ctx, s.generator.Generate(ctx, GenerateRequest{
		Prompt:  prompt.Content,
		Context: docs,
		History: history,
	}), onChunk)
	if err != nil {
		return transcript.Turn{}, err
	}
	s.logger.Info().
		Str("turn_id", turn.ID.String()).
		Int("context_docs", len(docs)).
		Dur("elapsed", time.Since(started)).
		Msg("answer committed")
	return turn, nil
}

func (s *Session) Bind(ctx context.Context, id transcript.ID) (feedback.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Bind(ctx, id)
}

func (s *Session) ApplyEdit(ctx context.Context, id transcript.ID, patch transcript.FeedbackPatch) (transcript.FeedbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.engine.ApplyEdit(ctx, id, patch)
	if err != nil {
		return rec, err
	}
	s.logger.Debug().Str("turn_id", id.String()).Msg("feedback edit applied")
	return rec, nil
}

func (s *Session) ApplyKeyedEdit(ctx context.Context, key string, value any) (transcript.ID, transcript.FeedbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.ApplyKeyedEdit(ctx, key, value)
}
