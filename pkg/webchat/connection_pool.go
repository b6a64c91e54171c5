package webchat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const defaultWriteTimeout = 5 * time.Second

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionPool holds the websocket connections attached to one session.
// Writes are serialized by the pool lock, which gorilla/websocket requires.
type ConnectionPool struct {
	sessionID    string
	writeTimeout time.Duration
	mu           sync.Mutex
	conns        map[wsConn]struct{}
}

func NewConnectionPool(sessionID string) *ConnectionPool {
	return &ConnectionPool{
		sessionID:    sessionID,
		writeTimeout: defaultWriteTimeout,
		conns:        map[wsConn]struct{}{},
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	cp.conns[conn] = struct{}{}
	cp.mu.Unlock()
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		_ = closeConn(conn)
		return
	}
	cp.mu.Lock()
	delete(cp.conns, conn)
	cp.mu.Unlock()
	_ = closeConn(conn)
}

// Broadcast sends f to every connection and drops the ones that fail.
func (cp *ConnectionPool) Broadcast(f Frame) {
	if cp == nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("component", "webchat").Str("frame", f.Type).Msg("marshal ws frame")
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		if err := cp.write(conn, data); err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("session_id", cp.sessionID).Msg("ws broadcast failed, dropping connection")
			delete(cp.conns, conn)
			_ = closeConn(conn)
		}
	}
}

// SendToOne writes f to conn only, if it is still attached.
func (cp *ConnectionPool) SendToOne(conn wsConn, f Frame) {
	if cp == nil || conn == nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("component", "webchat").Str("frame", f.Type).Msg("marshal ws frame")
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.conns[conn]; !ok {
		return
	}
	if err := cp.write(conn, data); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("session_id", cp.sessionID).Msg("ws send failed, dropping connection")
		delete(cp.conns, conn)
		_ = closeConn(conn)
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for conn := range cp.conns {
		_ = closeConn(conn)
		delete(cp.conns, conn)
	}
	cp.mu.Unlock()
}

func (cp *ConnectionPool) write(conn wsConn, data []byte) error {
	if cp.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeConn(conn wsConn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}
