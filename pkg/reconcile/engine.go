package reconcile

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ragchat/pkg/feedback"
	"github.com/go-go-golems/ragchat/pkg/persistence/blobstore"
	"github.com/go-go-golems/ragchat/pkg/transcript"
	"github.com/go-go-golems/ragchat/pkg/transcript/codec"
)

type State int

const (
	Unhydrated State = iota
	Hydrated
)

func (s State) String() string {
	if s == Hydrated {
		return "hydrated"
	}
	return "unhydrated"
}

const (
	DefaultGreeting = "What would you like to know?"
	storageTimeout  = 2 * time.Second
)

var (
	ErrStreamAborted   = errors.New("response stream aborted")
	ErrNoPendingPrompt = errors.New("no user turn awaiting a response")
	ErrEmptyPrompt     = errors.New("prompt is empty")
)

type streamAbortedError struct {
	cause error
}

func (e *streamAbortedError) Error() string {
	return ErrStreamAborted.Error() + ": " + e.cause.Error()
}

func (e *streamAbortedError) Is(target error) bool { return target == ErrStreamAborted }

func (e *streamAbortedError) Unwrap() error { return e.cause }

// Engine owns one session's working transcript and keeps it in sync with the
// client's persisted blob.
//
// The first call that touches the transcript hydrates it from the store,
// exactly once. After that every append and every feedback edit is written
// back before the call returns. Storage problems never fail a call; they are
// logged and queued as notices.
//
// An Engine belongs to a single session and is not safe for concurrent use.
type Engine struct {
	store    blobstore.Store
	key      string
	greeting string
	logger   zerolog.Logger

	state State
	// readFailed is set while the persisted blob could not be read. Writes
	// are held back so a fresh transcript never replaces saved history.
	readFailed bool
	messages   *transcript.MessageStore
	binder     *feedback.Binder
	notices    []Notice
}

type Option func(*Engine)

// WithKey sets the store key, normally blobstore.ClientKey(clientID, blobstore.DefaultKey).
func WithKey(key string) Option {
	return func(e *Engine) { e.key = key }
}

func WithGreeting(greeting string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(greeting) != "" {
			e.greeting = greeting
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(store blobstore.Store, opts ...Option) *Engine {
	messages := transcript.NewMessageStore()
	e := &Engine{
		store:    store,
		key:      blobstore.DefaultKey,
		greeting: DefaultGreeting,
		logger:   log.Logger.With().Str("component", "reconcile").Logger(),
		messages: messages,
		binder:   feedback.NewBinder(messages),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) State() State { return e.state }

// Hydrate performs the Unhydrated -> Hydrated transition. It reports whether
// this call did the transition; later calls are no-ops.
func (e *Engine) Hydrate(ctx context.Context) bool {
	if e.state == Hydrated {
		return false
	}
	e.state = Hydrated

	loaded := e.load(ctx)
	if len(loaded) == 0 {
		e.seedGreeting()
		return true
	}

	loaded, changed := normalize(loaded, e.greeting)
	if err := e.messages.Load(loaded); err != nil {
		// normalize guarantees valid, unique ids; this only trips on a bug.
		e.logger.Error().Err(err).Str("key", e.key).Msg("hydration load failed, starting empty")
		e.messages = transcript.NewMessageStore()
		e.binder = feedback.NewBinder(e.messages)
		e.seedGreeting()
		return true
	}
	e.logger.Debug().Str("key", e.key).Int("turns", len(loaded)).Bool("normalized", changed).Msg("hydrated transcript")
	if changed {
		e.writeBack(ctx)
	}
	return true
}

func (e *Engine) load(ctx context.Context) transcript.Transcript {
	if e.store == nil {
		return nil
	}
	readCtx, cancel := storageContext(ctx)
	defer cancel()
	blob, ok, err := e.store.Get(readCtx, e.key)
	if err != nil {
		e.readFailed = true
		e.logger.Warn().Err(err).Str("key", e.key).Msg("reading persisted transcript failed")
		e.notice(NoticeStorageRead, "Saved chat history could not be read; changes in this conversation will not be saved.")
		return nil
	}
	if !ok {
		return nil
	}
	tr, err := codec.Decode(blob)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", e.key).Int("bytes", len(blob)).Msg("persisted transcript is malformed")
		e.notice(NoticeDecode, "Saved chat history was unreadable; starting a new conversation.")
		return nil
	}
	return tr
}

// storageContext detaches store calls from the caller's cancellation and
// bounds them by storageTimeout instead.
func storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), storageTimeout)
}

// writable reports whether write-back may replace the persisted blob. After a
// failed read it looks at the store again and only lets writes through once
// nothing readable is stored under the key.
func (e *Engine) writable(ctx context.Context) bool {
	if !e.readFailed {
		return true
	}
	blob, ok, err := e.store.Get(ctx, e.key)
	if err != nil {
		e.logger.Debug().Err(err).Str("key", e.key).Msg("persisted transcript still unreadable, write-back skipped")
		return false
	}
	if ok {
		if tr, err := codec.Decode(blob); err == nil && len(tr) > 0 {
			e.logger.Warn().Str("key", e.key).Int("turns", len(tr)).Msg("persisted transcript not loaded by this session, write-back skipped")
			return false
		}
	}
	e.readFailed = false
	return true
}

func (e *Engine) seedGreeting() {
	_ = e.messages.Append(transcript.Turn{
		ID:      e.messages.NextID(),
		Role:    transcript.RoleAssistant,
		Content: e.greeting,
	})
}

// normalize makes a decoded transcript satisfy the session invariants: the
// first turn is an assistant greeting without feedback, only assistant turns
// carry feedback, ratings are in range and ids are positive and strictly
// increasing.
func normalize(tr transcript.Transcript, greeting string) (transcript.Transcript, bool) {
	changed := false
	if tr[0].Role != transcript.RoleAssistant {
		tr = append(transcript.Transcript{{Role: transcript.RoleAssistant, Content: greeting}}, tr...)
		changed = true
	}
	if tr[0].Feedback != nil {
		tr[0].Feedback = nil
		changed = true
	}
	var last transcript.ID
	for i := range tr {
		if tr[i].ID <= last {
			tr[i].ID = last + 1
			changed = true
		}
		last = tr[i].ID
		if tr[i].Feedback == nil {
			continue
		}
		if tr[i].Role == transcript.RoleUser {
			tr[i].Feedback = nil
			changed = true
			continue
		}
		if rec, cleared := tr[i].Feedback.Sanitized(); cleared {
			tr[i].Feedback = &rec
			changed = true
		}
	}
	return tr, changed
}

// Transcript returns a copy of the working transcript.
func (e *Engine) Transcript(ctx context.Context) transcript.Transcript {
	e.Hydrate(ctx)
	return e.messages.List()
}

// PendingPrompt returns the trailing user turn that still awaits an answer.
func (e *Engine) PendingPrompt(ctx context.Context) (transcript.Turn, bool) {
	e.Hydrate(ctx)
	last, ok := e.messages.List().Last()
	if !ok || last.Role != transcript.RoleUser {
		return transcript.Turn{}, false
	}
	return last, true
}

// SubmitUserTurn appends the user's prompt and writes the transcript back.
func (e *Engine) SubmitUserTurn(ctx context.Context, content string) (transcript.Turn, error) {
	e.Hydrate(ctx)
	if strings.TrimSpace(content) == "" {
		return transcript.Turn{}, ErrEmptyPrompt
	}
	turn := transcript.Turn{ID: e.messages.NextID(), Role: transcript.RoleUser, Content: content}
	if err := e.messages.Append(turn); err != nil {
		return transcript.Turn{}, err
	}
	e.writeBack(ctx)
	return turn, nil
}

// CommitAssistant appends a fully produced assistant answer, gives it its
// default feedback record and writes the transcript back.
func (e *Engine) CommitAssistant(ctx context.Context, content string) (transcript.Turn, error) {
	e.Hydrate(ctx)
	if _, ok := e.PendingPrompt(ctx); !ok {
		return transcript.Turn{}, ErrNoPendingPrompt
	}
	turn := transcript.Turn{ID: e.messages.NextID(), Role: transcript.RoleAssistant, Content: content}
	if err := e.messages.Append(turn); err != nil {
		return transcript.Turn{}, err
	}
	rec, err := e.binder.Materialize(turn.ID)
	if err != nil {
		return transcript.Turn{}, err
	}
	turn.Feedback = &rec
	e.writeBack(ctx)
	return turn, nil
}

// Respond drains chunks, forwarding each to onChunk, and commits the assembled
// answer only once the sequence ends. A cancelled ctx, an error from the
// sequence or an empty answer discard everything and return an error matching
// ErrStreamAborted; neither the transcript nor the store is touched.
func (e *Engine) Respond(ctx context.Context, chunks iter.Seq2[string, error], onChunk func(string)) (transcript.Turn, error) {
	if _, ok := e.PendingPrompt(ctx); !ok {
		return transcript.Turn{}, ErrNoPendingPrompt
	}

	var (
		buf   strings.Builder
		cause error
	)
	for chunk, err := range chunks {
		if err != nil {
			cause = err
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = ctxErr
			break
		}
		buf.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	if cause == nil {
		cause = ctx.Err()
	}
	if cause == nil && strings.TrimSpace(buf.String()) == "" {
		cause = errors.New("empty response")
	}
	if cause != nil {
		e.logger.Warn().Err(cause).Int("discarded_bytes", buf.Len()).Msg("response stream aborted")
		e.notice(NoticeStreamAborted, "The answer was interrupted. Please try again.")
		return transcript.Turn{}, &streamAbortedError{cause: cause}
	}
	return e.CommitAssistant(ctx, buf.String())
}

// Bind returns the feedback binding of an assistant turn.
func (e *Engine) Bind(ctx context.Context, id transcript.ID) (feedback.Binding, error) {
	e.Hydrate(ctx)
	return e.binder.Bind(id)
}

// ApplyEdit merges a feedback edit into the turn and writes back on success.
func (e *Engine) ApplyEdit(ctx context.Context, id transcript.ID, patch transcript.FeedbackPatch) (transcript.FeedbackRecord, error) {
	e.Hydrate(ctx)
	rec, err := e.binder.ApplyEdit(id, patch)
	if err != nil {
		return transcript.FeedbackRecord{}, err
	}
	e.writeBack(ctx)
	return rec, nil
}

// ApplyKeyedEdit applies a single widget value addressed by its widget key.
func (e *Engine) ApplyKeyedEdit(ctx context.Context, key string, value any) (transcript.ID, transcript.FeedbackRecord, error) {
	e.Hydrate(ctx)
	id, rec, err := e.binder.ApplyKeyedEdit(key, value)
	if err != nil {
		return id, transcript.FeedbackRecord{}, err
	}
	e.writeBack(ctx)
	return id, rec, nil
}

func (e *Engine) writeBack(ctx context.Context) {
	if e.store == nil {
		return
	}
	blob, err := codec.Encode(e.messages.List())
	if err != nil {
		e.logger.Error().Err(err).Str("key", e.key).Msg("encoding transcript failed")
		e.notice(NoticeStorageWrite, "Chat history could not be saved.")
		return
	}

	// The mutation is already committed in memory; persist it even if the
	// caller went away.
	writeCtx, cancel := storageContext(ctx)
	defer cancel()
	if !e.writable(writeCtx) {
		return
	}

	if err := e.store.Put(writeCtx, e.key, blob); err != nil {
		e.logger.Warn().Err(err).Str("key", e.key).Int("bytes", len(blob)).Int("turns", e.messages.Len()).Msg("transcript write-back failed")
		e.notice(NoticeStorageWrite, "Chat history could not be saved; this conversation will continue without it.")
	}
}
