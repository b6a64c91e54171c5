package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/ragchat/pkg/chat"
	"github.com/go-go-golems/ragchat/pkg/credentials"
	"github.com/go-go-golems/ragchat/pkg/persistence/blobstore"
	"github.com/go-go-golems/ragchat/pkg/transcript"
	"github.com/go-go-golems/ragchat/pkg/transcript/codec"
)

type fakeGenerator struct {
	mu   sync.Mutex
	fail bool
}

func (g *fakeGenerator) setFail(v bool) {
	g.mu.Lock()
	g.fail = v
	g.mu.Unlock()
}

func (g *fakeGenerator) Generate(_ context.Context, req chat.GenerateRequest) iter.Seq2[string, error] {
	g.mu.Lock()
	fail := g.fail
	g.mu.Unlock()
	return func(yield func(string, error) bool) {
		if !yield("Answer to: ", nil) {
			return
		}
		if fail {
			yield("", errors.New("upstream reset"))
			return
		}
		yield(req.Prompt, nil)
	}
}

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	store  blobstore.Store
	gen    *fakeGenerator
}

func newEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	store := blobstore.NewMemoryStore(0)
	gen := &fakeGenerator{}
	opts := Options{
		Store:     store,
		Generator: gen,
		Title:     "Meal plan assistant",
		Greeting:  "What would you like to know?",
		Subheader: "Ask me questions about this week's meal plan",
	}
	if mutate != nil {
		mutate(&opts)
	}
	h, err := NewHandler(opts)
	require.NoError(t, err)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{srv: srv, client: &http.Client{Jar: jar}, store: store, gen: gen}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			buf, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(buf)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (e *testEnv) createSession(t *testing.T) SessionCreatedJSON {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, status)
	var created SessionCreatedJSON
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.SessionID)
	return created
}

func (e *testEnv) view(t *testing.T, sessionID string) ViewJSON {
	t.Helper()
	status, body := e.do(t, http.MethodGet, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var v ViewJSON
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func (e *testEnv) chat(t *testing.T, sessionID, prompt string, headers ...string) (int, []byte) {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/chat", ChatRequestBody{Prompt: prompt}, headers...)
}

func TestHandler_SessionLifecycle(t *testing.T) {
	env := newEnv(t, nil)
	created := env.createSession(t)

	u, _ := url.Parse(env.srv.URL)
	cookies := env.client.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	require.Equal(t, "ragchat_client", cookies[0].Name)
	require.Equal(t, created.ClientID, cookies[0].Value)

	v := env.view(t, created.SessionID)
	require.Equal(t, "Ask me questions about this week's meal plan", v.Subheader)
	require.True(t, v.Ready)
	require.Len(t, v.Turns, 1)
	require.Equal(t, "What would you like to know?", v.Turns[0].Content)
	require.False(t, v.Turns[0].FeedbackEnabled)
	require.Empty(t, v.Notices)

	// A second session of the same client keeps the same client id.
	again := env.createSession(t)
	require.Equal(t, created.ClientID, again.ClientID)
	require.NotEqual(t, created.SessionID, again.SessionID)

	status, _ := env.do(t, http.MethodGet, "/api/sessions/nope", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestHandler_ChatFeedbackAndReload(t *testing.T) {
	env := newEnv(t, nil)
	sess := env.createSession(t)

	status, body := env.chat(t, sess.SessionID, "What's for dinner?")
	require.Equal(t, http.StatusOK, status, string(body))
	status, body = env.chat(t, sess.SessionID, "What's for dinner?")
	require.Equal(t, http.StatusOK, status, string(body))

	var v ViewJSON
	require.NoError(t, json.Unmarshal(body, &v))
	require.Len(t, v.Turns, 5)
	first, second := v.Turns[2], v.Turns[4]
	require.Equal(t, "Answer to: What's for dinner?", first.Content)
	require.True(t, first.FeedbackEnabled)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, "thumbs_feedback_3", first.Keys[transcript.FieldThumbs])

	path := "/api/sessions/" + sess.SessionID + "/feedback"
	status, body = env.do(t, http.MethodPost, path, `{"turn_id":3,"thumbs":1,"text":"more cheese"}`)
	require.Equal(t, http.StatusOK, status, string(body))
	require.JSONEq(t, `{"turn_id":3,"feedback":{"thumbs":1,"text":"more cheese"}}`, string(body))

	status, body = env.do(t, http.MethodPost, path, `{"key":"text_feedback_3","value":null}`)
	require.Equal(t, http.StatusOK, status, string(body))
	require.JSONEq(t, `{"turn_id":3,"feedback":{"thumbs":1,"text":null}}`, string(body))

	status, _ = env.do(t, http.MethodPost, path, `{"turn_id":1,"thumbs":1}`)
	require.Equal(t, http.StatusConflict, status)
	status, _ = env.do(t, http.MethodPost, path, `{"turn_id":2,"thumbs":1}`)
	require.Equal(t, http.StatusConflict, status)
	status, _ = env.do(t, http.MethodPost, path, `{"turn_id":42,"thumbs":1}`)
	require.Equal(t, http.StatusNotFound, status)
	status, _ = env.do(t, http.MethodPost, path, `{"turn_id":3,"stars":9}`)
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodPost, path, `{"turn_id":3,"thumbs":"up"}`)
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodPost, path, `{"thumbs":1}`)
	require.Equal(t, http.StatusBadRequest, status)

	// The second answer was never touched.
	v = env.view(t, sess.SessionID)
	require.JSONEq(t, `{}`, mustJSON(t, v.Turns[4].Feedback))

	// A new page load for the same client rehydrates from the store.
	reload := env.createSession(t)
	rv := env.view(t, reload.SessionID)
	require.Equal(t, v.Turns, rv.Turns)

	blob, ok, err := env.store.Get(context.Background(), blobstore.ClientKey(sess.ClientID, ""))
	require.NoError(t, err)
	require.True(t, ok)
	tr, err := codec.Decode(blob)
	require.NoError(t, err)
	require.Len(t, tr, 5)
	require.Equal(t, transcript.Set(1), tr[2].Feedback.Thumbs)
	require.True(t, tr[2].Feedback.Text.IsCleared())
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestHandler_IdempotentChat(t *testing.T) {
	env := newEnv(t, nil)
	sess := env.createSession(t)

	status1, body1 := env.chat(t, sess.SessionID, "What's for dinner?", "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusOK, status1)
	status2, body2 := env.chat(t, sess.SessionID, "What's for dinner?", "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusOK, status2)
	require.JSONEq(t, string(body1), string(body2))

	require.Len(t, env.view(t, sess.SessionID).Turns, 3)

	// An empty prompt commits nothing, so the key stays usable.
	status, _ := env.do(t, http.MethodPost, "/api/sessions/"+sess.SessionID+"/chat",
		ChatRequestBody{Prompt: " ", IdempotencyKey: "req-2"})
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodPost, "/api/sessions/"+sess.SessionID+"/chat",
		ChatRequestBody{Prompt: "And lunch?", IdempotencyKey: "req-2"})
	require.Equal(t, http.StatusOK, status)
	require.Len(t, env.view(t, sess.SessionID).Turns, 5)
}

func TestHandler_AbortedAnswerAndRetry(t *testing.T) {
	env := newEnv(t, nil)
	sess := env.createSession(t)

	env.gen.setFail(true)
	status, body := env.chat(t, sess.SessionID, "What's for dinner?")
	require.Equal(t, http.StatusBadGateway, status)
	var failed ErrorJSON
	require.NoError(t, json.Unmarshal(body, &failed))
	require.Equal(t, "stream_aborted", failed.Error)
	require.NotNil(t, failed.View)
	require.True(t, failed.View.PendingPrompt)
	require.Len(t, failed.View.Turns, 2)
	require.Len(t, failed.View.Notices, 1)

	env.gen.setFail(false)
	status, body = env.do(t, http.MethodPost, "/api/sessions/"+sess.SessionID+"/retry", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	v := env.view(t, sess.SessionID)
	require.Len(t, v.Turns, 3)
	require.False(t, v.PendingPrompt)

	status, _ = env.do(t, http.MethodPost, "/api/sessions/"+sess.SessionID+"/retry", nil)
	require.Equal(t, http.StatusConflict, status)
}

func TestHandler_NotReadyWithoutCredentials(t *testing.T) {
	env := newEnv(t, func(o *Options) {
		o.Credentials = credentials.Static{"GROQ_API_KEY": "gsk"}
		o.RequiredCredentials = []string{"GROQ_API_KEY", "HUGGINGFACEHUB_API_TOKEN"}
	})
	sess := env.createSession(t)

	v := env.view(t, sess.SessionID)
	require.False(t, v.Ready)
	require.Equal(t, []string{"HUGGINGFACEHUB_API_TOKEN"}, v.MissingCredentials)
	require.Equal(t, []string{"Missing HUGGINGFACEHUB_API_TOKEN"}, v.Warnings)

	status, _ := env.chat(t, sess.SessionID, "What's for dinner?")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Len(t, env.view(t, sess.SessionID).Turns, 1)
}

func TestHandler_RejectsForeignClient(t *testing.T) {
	env := newEnv(t, nil)
	sess := env.createSession(t)

	other := &http.Client{}
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/sessions/"+sess.SessionID, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "ragchat_client", Value: "11111111-1111-1111-1111-111111111111"})
	resp, err := other.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_StorageLimitSurfacesNotice(t *testing.T) {
	env := newEnv(t, func(o *Options) {
		o.Store = blobstore.WithLimit(blobstore.NewMemoryStore(0), 200)
	})
	sess := env.createSession(t)

	status, body := env.chat(t, sess.SessionID, strings.Repeat("tell me about dinner ", 20))
	require.Equal(t, http.StatusOK, status)
	var v ViewJSON
	require.NoError(t, json.Unmarshal(body, &v))
	require.Len(t, v.Turns, 3)
	require.NotEmpty(t, v.Notices)
	require.Equal(t, "storage_write_failure", string(v.Notices[0].Kind))
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHandler_WebSocket(t *testing.T) {
	env := newEnv(t, nil)
	sess := env.createSession(t)

	u, _ := url.Parse(env.srv.URL)
	header := http.Header{}
	for _, c := range env.client.Jar.Cookies(u) {
		header.Add("Cookie", c.Name+"="+c.Value)
	}
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/sessions/" + sess.SessionID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	first := readFrame(t, conn)
	require.Equal(t, FrameView, first.Type)
	require.Len(t, first.View.Turns, 1)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "prompt", "prompt": "What's for dinner?"}))
	var chunks []string
	var turn *TurnJSON
	for turn == nil {
		f := readFrame(t, conn)
		switch f.Type {
		case FrameChunk:
			chunks = append(chunks, f.Chunk)
		case FrameTurn:
			turn = f.Turn
		default:
			t.Fatalf("unexpected frame %q", f.Type)
		}
	}
	require.Equal(t, "Answer to: What's for dinner?", strings.Join(chunks, ""))
	require.Equal(t, "Answer to: What's for dinner?", turn.Content)
	require.True(t, turn.FeedbackEnabled)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "feedback", "turn_id": turn.ID, "faces": 3}))
	fb := readFrame(t, conn)
	require.Equal(t, FrameFeedback, fb.Type)
	require.Equal(t, turn.ID, fb.TurnID)
	require.Equal(t, transcript.Set(3), fb.Feedback.Faces)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "feedback", "turn_id": 1, "faces": 3}))
	errFrame := readFrame(t, conn)
	require.Equal(t, FrameError, errFrame.Type)
	require.Equal(t, "turn_not_bindable", errFrame.Error)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	require.Equal(t, "bad_frame", readFrame(t, conn).Error)

	v := env.view(t, sess.SessionID)
	require.Equal(t, transcript.Set(3), v.Turns[2].Feedback.Faces)
}
