package webchat

import (
	"net/http"
	"strings"
)

// idempotencyHeaders are consulted in order before the body field.
var idempotencyHeaders = []string{"Idempotency-Key", "X-Idempotency-Key"}

// idempotencyKeyFromRequest returns the client-chosen key of a chat request,
// or "" when the client did not send one. Unkeyed requests are never
// deduplicated.
func idempotencyKeyFromRequest(r *http.Request, body *ChatRequestBody) string {
	if r != nil {
		for _, name := range idempotencyHeaders {
			if key := strings.TrimSpace(r.Header.Get(name)); key != "" {
				return key
			}
		}
	}
	if body == nil {
		return ""
	}
	return strings.TrimSpace(body.IdempotencyKey)
}
