package webchat

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/go-go-golems/ragchat/pkg/reconcile"
	"github.com/go-go-golems/ragchat/pkg/transcript"
)

const wsReadLimit = 1 << 20

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	e, ok := h.session(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger(e.Session).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(wsReadLimit)
	e.pool.Add(conn)
	defer e.pool.Remove(conn)

	logger := h.logger(e.Session)
	logger.Debug().Int("connections", e.pool.Count()).Msg("websocket attached")

	ctx := r.Context()
	e.pool.SendToOne(conn, Frame{Type: FrameView, View: h.view(ctx, e)})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		var in Frame
		if err := json.Unmarshal(data, &in); err != nil {
			e.pool.SendToOne(conn, Frame{Type: FrameError, Error: "bad_frame"})
			continue
		}
		h.handleFrame(ctx, e, conn, in)
	}
}

func (h *Handler) handleFrame(ctx context.Context, e *sessionEntry, conn *websocket.Conn, in Frame) {
	var err error
	switch in.Type {
	case FramePrompt:
		var turn transcript.Turn
		turn, err = e.Ask(ctx, in.Prompt, h.chunkBroadcaster(e))
		if err == nil {
			h.broadcastTurn(ctx, e, turn.ID)
		}
	case FrameRetry:
		var turn transcript.Turn
		turn, err = e.Retry(ctx, h.chunkBroadcaster(e))
		if err == nil {
			h.broadcastTurn(ctx, e, turn.ID)
		}
	case FrameFeedback:
		var res *FeedbackResultJSON
		res, err = h.applyFeedback(ctx, e, in.FeedbackRequestBody)
		if err == nil {
			h.broadcastNotices(e, res.Notices)
		}
	default:
		e.pool.SendToOne(conn, Frame{Type: FrameError, Error: "bad_frame"})
		return
	}
	if err != nil {
		_, code := errorStatus(err)
		e.pool.SendToOne(conn, Frame{Type: FrameError, Error: code})
	}
	h.broadcastNotices(e, e.DrainNotices())
}

// broadcastTurn sends the rendered form of a committed turn.
func (h *Handler) broadcastTurn(ctx context.Context, e *sessionEntry, id transcript.ID) {
	tr := e.Transcript(ctx)
	for _, t := range tr {
		if t.ID != id {
			continue
		}
		tv := reconcile.TurnView{ID: t.ID, Role: t.Role, Content: t.Content}
		if b, err := e.Bind(ctx, id); err == nil {
			rec := b.Record
			tv.Feedback = &rec
			tv.Keys = b.Keys
		}
		out := turnJSON(tv)
		e.pool.Broadcast(Frame{Type: FrameTurn, Turn: &out})
		return
	}
}

func (h *Handler) broadcastNotices(e *sessionEntry, notices []reconcile.Notice) {
	for _, n := range notices {
		e.pool.Broadcast(Frame{Type: FrameNotice, Notice: &n})
	}
}
