package webchat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ragchat/pkg/chat"
	"github.com/go-go-golems/ragchat/pkg/persistence/blobstore"
	"github.com/go-go-golems/ragchat/pkg/reconcile"
	"github.com/go-go-golems/ragchat/pkg/transcript"
)

type Options struct {
	Store     blobstore.Store
	Generator chat.Generator
	Retriever chat.Retriever
	TopK      int

	Credentials         chat.CredentialSource
	RequiredCredentials []string

	Title     string
	Greeting  string
	Subheader string

	SessionTTL   time.Duration
	ClientCookie string
}

type Handler struct {
	opts     Options
	sessions *SessionRegistry
	upgrader websocket.Upgrader
}

func NewHandler(opts Options) (*Handler, error) {
	if opts.Store == nil {
		return nil, errors.New("webchat: blob store is nil")
	}
	if opts.Generator == nil {
		return nil, errors.New("webchat: generator is nil")
	}
	if strings.TrimSpace(opts.ClientCookie) == "" {
		opts.ClientCookie = "ragchat_client"
	}
	return &Handler{
		opts:     opts,
		sessions: NewSessionRegistry(opts.SessionTTL),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}, nil
}

func (h *Handler) Sessions() *SessionRegistry { return h.sessions }

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", h.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", h.handleView)
	mux.HandleFunc("POST /api/sessions/{id}/chat", h.handleChat)
	mux.HandleFunc("POST /api/sessions/{id}/retry", h.handleRetry)
	mux.HandleFunc("POST /api/sessions/{id}/feedback", h.handleFeedback)
	mux.HandleFunc("GET /api/sessions/{id}/ws", h.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (h *Handler) missingCredentials() []string {
	if len(h.opts.RequiredCredentials) == 0 {
		return nil
	}
	return chat.Readiness(h.opts.Credentials, h.opts.RequiredCredentials)
}

// NewSession registers a fresh session for clientID. Credential readiness is
// evaluated once, at creation.
func (h *Handler) NewSession(clientID string) *chat.Session {
	id := newSessionID()
	engine := reconcile.NewEngine(h.opts.Store,
		reconcile.WithKey(blobstore.ClientKey(clientID, blobstore.DefaultKey)),
		reconcile.WithGreeting(h.opts.Greeting),
		reconcile.WithLogger(log.Logger.With().
			Str("component", "reconcile").
			Str("session_id", id).
			Str("client_id", clientID).
			Logger()),
	)
	sess := chat.NewSession(id, clientID, engine,
		chat.WithGenerator(h.opts.Generator),
		chat.WithRetriever(h.opts.Retriever),
		chat.WithTopK(h.opts.TopK),
		chat.WithMissingCredentials(h.missingCredentials()),
	)
	h.sessions.add(&sessionEntry{Session: sess, pool: NewConnectionPool(id)})
	return sess
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	clientID := h.clientID(w, r)
	sess := h.NewSession(clientID)
	h.logger(sess).Info().Msg("session created")
	writeJSON(w, http.StatusCreated, SessionCreatedJSON{SessionID: sess.ID, ClientID: clientID})
}

// session resolves {id} and checks that it belongs to the calling client.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*sessionEntry, bool) {
	e, ok := h.sessions.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "unknown or expired session")
		return nil, false
	}
	if c, err := r.Cookie(h.opts.ClientCookie); err == nil && c.Value != e.ClientID {
		writeError(w, http.StatusForbidden, "wrong_client", "session belongs to another client")
		return nil, false
	}
	return e, true
}

func (h *Handler) logger(sess *chat.Session) *zerolog.Logger {
	l := log.Logger.With().
		Str("component", "webchat").
		Str("session_id", sess.ID).
		Str("client_id", sess.ClientID).
		Logger()
	return &l
}

func (h *Handler) view(ctx context.Context, e *sessionEntry) *ViewJSON {
	snap := e.Snapshot(ctx)
	missing := e.MissingCredentials()
	out := &ViewJSON{
		SessionID:          e.ID,
		ClientID:           e.ClientID,
		Title:              h.opts.Title,
		Subheader:          h.opts.Subheader,
		Turns:              make([]TurnJSON, 0, len(snap.View.Turns)),
		PendingPrompt:      snap.View.Pending,
		Notices:            snap.Notices,
		Ready:              len(missing) == 0,
		MissingCredentials: missing,
		Warnings:           chat.MissingWarnings(missing),
	}
	if out.Notices == nil {
		out.Notices = []reconcile.Notice{}
	}
	for _, tv := range snap.View.Turns {
		out.Turns = append(out.Turns, turnJSON(tv))
	}
	return out
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	e, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(r.Context(), e))
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	e, ok := h.session(w, r)
	if !ok {
		return
	}
	var body ChatRequestBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	key := idempotencyKeyFromRequest(r, &body)
	if key != "" {
		prev, fresh := e.requests.begin(key, time.Now())
		if !fresh {
			if prev.Status == requestRunning {
				writeError(w, http.StatusConflict, "request_in_progress", "a request with this idempotency key is still running")
				return
			}
			h.logger(e.Session).Debug().Str("idempotency_key", key).Msg("replaying chat response")
			writeJSON(w, prev.HTTPStatus, prev.Response)
			return
		}
	}

	_, err := e.Ask(r.Context(), body.Prompt, h.chunkBroadcaster(e))
	status, resp := h.answerResponse(r.Context(), e, err)
	if key != "" {
		if err != nil && !errors.Is(err, reconcile.ErrStreamAborted) {
			// Nothing was committed; let the client retry with the same key.
			e.requests.forget(key)
		} else {
			e.requests.complete(key, status, resp, time.Now())
		}
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	e, ok := h.session(w, r)
	if !ok {
		return
	}
	_, err := e.Retry(r.Context(), h.chunkBroadcaster(e))
	status, resp := h.answerResponse(r.Context(), e, err)
	writeJSON(w, status, resp)
}

func (h *Handler) answerResponse(ctx context.Context, e *sessionEntry, err error) (int, any) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err == nil {
		v := h.view(ctx, e)
		if len(v.Turns) > 0 {
			last := v.Turns[len(v.Turns)-1]
			e.pool.Broadcast(Frame{Type: FrameTurn, Turn: &last})
		}
		return http.StatusOK, v
	}
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger(e.Session).Error().Err(err).Msg("chat request failed")
	}
	return status, ErrorJSON{Error: code, Message: err.Error(), View: h.view(ctx, e)}
}

func (h *Handler) chunkBroadcaster(e *sessionEntry) func(string) {
	return func(chunk string) {
		e.pool.Broadcast(Frame{Type: FrameChunk, Chunk: chunk})
	}
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	e, ok := h.session(w, r)
	if !ok {
		return
	}
	var body FeedbackRequestBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_feedback", err.Error())
		return
	}
	res, err := h.applyFeedback(r.Context(), e, body)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) applyFeedback(ctx context.Context, e *sessionEntry, body FeedbackRequestBody) (*FeedbackResultJSON, error) {
	var (
		id  transcript.ID
		rec transcript.FeedbackRecord
		err error
	)
	if strings.TrimSpace(body.Key) != "" {
		var value any
		value, err = body.KeyedValue()
		if err != nil {
			return nil, err
		}
		id, rec, err = e.ApplyKeyedEdit(ctx, body.Key, value)
	} else {
		if body.TurnID == 0 {
			return nil, errors.Wrap(transcript.ErrInvalidFeedback, "turn_id or key is required")
		}
		id = body.TurnID
		rec, err = e.ApplyEdit(ctx, id, body.Patch())
	}
	if err != nil {
		return nil, err
	}
	res := &FeedbackResultJSON{TurnID: id, Feedback: feedbackJSON(rec), Notices: e.DrainNotices()}
	f := Frame{Type: FrameFeedback, Feedback: res.Feedback}
	f.TurnID = id
	e.pool.Broadcast(f)
	return res, nil
}
