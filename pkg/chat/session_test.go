package chat

import (
	"context"
	"iter"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/ragchat/pkg/persistence/blobstore"
	"github.com/go-go-golems/ragchat/pkg/reconcile"
	"github.com/go-go-golems/ragchat/pkg/transcript"
)

type scriptedGenerator struct {
	mu       sync.Mutex
	answers  [][]string
	failWith error
	requests []GenerateRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req GenerateRequest) iter.Seq2[string, error] {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	var parts []string
	if len(g.answers) > 0 {
		parts, g.answers = g.answers[0], g.answers[1:]
	}
	fail := g.failWith
	g.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, p := range parts {
			if !yield(p, nil) {
				return
			}
		}
		if fail != nil {
			yield("", fail)
		}
	}
}

type staticRetriever struct {
	docs    []Document
	err     error
	queries []string
}

func (r *staticRetriever) Retrieve(_ context.Context, query string, k int) ([]Document, error) {
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	if k < len(r.docs) {
		return r.docs[:k], nil
	}
	return r.docs, nil
}

type mapSource map[string]string

func (m mapSource) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

func newSession(t *testing.T, opts ...SessionOption) (*Session, blobstore.Store) {
	t.Helper()
	store := blobstore.NewMemoryStore(0)
	engine := reconcile.NewEngine(store, reconcile.WithKey(blobstore.ClientKey("client-a", "")))
	return NewSession("session-1", "client-a", engine, opts...), store
}

func TestSession_AskStreamsAndCommits(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{answers: [][]string{{"Lasa", "gna."}}}
	ret := &staticRetriever{docs: []Document{{Source: "monday.txt", Content: "Monday: lasagna"}}}
	s, _ := newSession(t, WithGenerator(gen), WithRetriever(ret), WithTopK(2))

	var streamed []string
	turn, err := s.Ask(ctx, "What's for dinner?", func(c string) { streamed = append(streamed, c) })
	require.NoError(t, err)
	require.Equal(t, "Lasagna.", turn.Content)
	require.Equal(t, []string{"Lasa", "gna."}, streamed)
	require.Equal(t, []string{"What's for dinner?"}, ret.queries)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	require.Equal(t, "What's for dinner?", req.Prompt)
	require.Len(t, req.Context, 1)
	require.Len(t, req.History, 1)
	require.Equal(t, transcript.RoleAssistant, req.History[0].Role)

	snap := s.Snapshot(ctx)
	require.Len(t, snap.View.Turns, 3)
	require.NotNil(t, snap.View.Turns[2].Feedback)
	require.Empty(t, snap.Notices)
}

func TestSession_RetrievalFailureStillAnswers(t *testing.T) {
	gen := &scriptedGenerator{answers: [][]string{{"Soup."}}}
	s, _ := newSession(t, WithGenerator(gen), WithRetriever(&staticRetriever{err: errors.New("index offline")}))

	turn, err := s.Ask(context.Background(), "What's for lunch?", nil)
	require.NoError(t, err)
	require.Equal(t, "Soup.", turn.Content)
	require.Empty(t, gen.requests[0].Context)
}

func TestSession_RetryAfterAbortedStream(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{answers: [][]string{{"Las"}}, failWith: errors.New("connection reset")}
	s, store := newSession(t, WithGenerator(gen))

	_, err := s.Ask(ctx, "What's for dinner?", nil)
	require.True(t, errors.Is(err, reconcile.ErrStreamAborted))

	snap := s.Snapshot(ctx)
	require.True(t, snap.View.Pending)
	require.Len(t, snap.Notices, 1)
	require.Equal(t, reconcile.NoticeStreamAborted, snap.Notices[0].Kind)

	gen.failWith = nil
	gen.answers = [][]string{{"Lasagna."}}
	turn, err := s.Retry(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "Lasagna.", turn.Content)
	require.Len(t, s.Transcript(ctx), 3)

	_, err = s.Retry(ctx, nil)
	require.True(t, errors.Is(err, reconcile.ErrNoPendingPrompt))

	// The retried history only holds the greeting, never the prompt twice.
	require.Len(t, gen.requests[1].History, 1)

	reloaded := reconcile.NewEngine(store, reconcile.WithKey(blobstore.ClientKey("client-a", "")))
	require.Equal(t, s.Transcript(ctx), reloaded.Transcript(ctx))
}

func TestSession_NotReadyStillAcceptsFeedback(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{answers: [][]string{{"Lasagna."}}}
	store := blobstore.NewMemoryStore(0)
	key := blobstore.ClientKey("client-a", "")

	ready := NewSession("s1", "client-a", reconcile.NewEngine(store, reconcile.WithKey(key)), WithGenerator(gen))
	answer, err := ready.Ask(ctx, "What's for dinner?", nil)
	require.NoError(t, err)

	missing := Readiness(mapSource{"GROQ_API_KEY": "  "}, RequiredCredentials)
	require.Equal(t, []string{"GROQ_API_KEY"}, missing)

	s := NewSession("s2", "client-a", reconcile.NewEngine(store, reconcile.WithKey(key)),
		WithGenerator(gen), WithMissingCredentials(missing))
	require.False(t, s.Ready())
	_, err = s.Ask(ctx, "And tomorrow?", nil)
	require.True(t, errors.Is(err, ErrNotReady))

	rec, err := s.ApplyEdit(ctx, answer.ID, transcript.FeedbackPatch{Thumbs: transcript.Set(1)})
	require.NoError(t, err)
	require.Equal(t, transcript.Set(1), rec.Thumbs)
}

func TestReadiness(t *testing.T) {
	require.Empty(t, Readiness(mapSource{"GROQ_API_KEY": "a"}, RequiredCredentials))
	require.Equal(t, []string{"HUGGINGFACEHUB_API_TOKEN"},
		Readiness(mapSource{"GROQ_API_KEY": "a"}, []string{"GROQ_API_KEY", "HUGGINGFACEHUB_API_TOKEN"}))
	require.Equal(t, RequiredCredentials, Readiness(mapSource{"GROQ_API_KEY": "  "}, RequiredCredentials))
	require.Equal(t, RequiredCredentials, Readiness(nil, RequiredCredentials))
	require.Equal(t, []string{"Missing GROQ_API_KEY"}, MissingWarnings([]string{"GROQ_API_KEY"}))
}

func TestSession_ConcurrentEditsAndPrompts(t *testing.T) {
	ctx := context.Background()
	answers := make([][]string, 0, 8)
	for range 8 {
		answers = append(answers, []string{"ok"})
	}
	gen := &scriptedGenerator{answers: answers}
	s, _ := newSession(t, WithGenerator(gen))
	first, err := s.Ask(ctx, "first", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 7 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Ask(ctx, "again", nil)
		}()
		go func() {
			defer wg.Done()
			_, _ = s.ApplyEdit(ctx, first.ID, transcript.FeedbackPatch{Stars: transcript.Set(i % 5)})
		}()
	}
	wg.Wait()

	tr := s.Transcript(ctx)
	require.Len(t, tr, 1+2*8)
	for i := 1; i < len(tr); i += 2 {
		require.Equal(t, transcript.RoleUser, tr[i].Role)
		require.Equal(t, transcript.RoleAssistant, tr[i+1].Role)
	}
}
