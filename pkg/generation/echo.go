package generation

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/go-go-golems/ragchat/pkg/chat"
)

// EchoGenerator answers offline by quoting the best retrieved document. It is
// used when no API credentials are configured and in tests.
type EchoGenerator struct {
	// Delay is slept between chunks.
	Delay time.Duration
}

var _ chat.Generator = EchoGenerator{}

func (g EchoGenerator) Generate(ctx context.Context, req chat.GenerateRequest) iter.Seq2[string, error] {
	answer := "I don't know."
	if len(req.Context) > 0 {
		answer = strings.TrimSpace(req.Context[0].Content)
	}
	words := strings.Fields(answer)

	return func(yield func(string, error) bool) {
		for i, w := range words {
			if i > 0 {
				w = " " + w
			}
			if g.Delay > 0 {
				select {
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				case <-time.After(g.Delay):
				}
			}
			if !yield(w, nil) {
				return
			}
		}
	}
}
