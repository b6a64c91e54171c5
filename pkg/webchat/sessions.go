package webchat

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ragchat/pkg/chat"
)

// sessionEntry is everything the server keeps per session.
type sessionEntry struct {
	*chat.Session
	pool     *ConnectionPool
	requests requestLog
}

// SessionRegistry keeps live sessions in memory and drops them after ttl
// without activity. Only the in-memory engine is lost on expiry; the client's
// transcript stays in the blob store.
type SessionRegistry struct {
	cache *cache.Cache
}

func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 4
		if cleanup < time.Second {
			cleanup = time.Second
		}
	}
	c := cache.New(expiration, cleanup)
	c.OnEvicted(func(id string, v any) {
		if e, ok := v.(*sessionEntry); ok {
			e.pool.CloseAll()
		}
		log.Debug().Str("component", "webchat").Str("session_id", id).Msg("session expired")
	})
	return &SessionRegistry{cache: c}
}

func newSessionID() string { return uuid.NewString() }

func (r *SessionRegistry) add(e *sessionEntry) {
	r.cache.SetDefault(e.ID, e)
}

// get returns the session and refreshes its expiry.
func (r *SessionRegistry) get(id string) (*sessionEntry, bool) {
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	e, ok := v.(*sessionEntry)
	if !ok {
		return nil, false
	}
	r.cache.SetDefault(id, e)
	return e, true
}

func (r *SessionRegistry) Len() int { return r.cache.ItemCount() }

// Close drops every session and closes its websockets.
func (r *SessionRegistry) Close() {
	for id := range r.cache.Items() {
		r.cache.Delete(id)
	}
}
