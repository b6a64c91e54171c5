// Package chat wires a reconciled transcript to retrieval and generation.
//
// A Session answers one prompt at a time: the user turn is committed first,
// the retriever supplies context, the generator streams the answer and the
// reconcile engine commits it once the stream has finished.
package chat

import (
	"context"
	"iter"
	"strings"

	"github.com/go-go-golems/ragchat/pkg/transcript"
)

// Document is a piece of retrieved context.
type Document struct {
	Source  string  `json:"source" yaml:"source"`
	Content string  `json:"content" yaml:"content"`
	Score   float64 `json:"score" yaml:"score"`
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Document, error)
}

// GenerateRequest carries everything a generator needs for one answer.
// History holds the turns before Prompt, greeting included.
type GenerateRequest struct {
	Prompt  string
	Context []Document
	History transcript.Transcript
}

// Generator streams an answer as text chunks. The sequence yields a non-nil
// error at most once, as its last element.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) iter.Seq2[string, error]
}

// CredentialSource resolves named secrets such as API keys.
type CredentialSource interface {
	Lookup(name string) (string, bool)
}

// RequiredCredentials are the secrets the hosted generation backend needs.
var RequiredCredentials = []string{"GROQ_API_KEY"}

// Readiness returns the names from required that src cannot resolve to a
// non-empty value, in order. An empty result means chat can run.
func Readiness(src CredentialSource, required []string) []string {
	var missing []string
	for _, name := range required {
		if src == nil {
			missing = append(missing, name)
			continue
		}
		if v, ok := src.Lookup(name); !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// MissingWarnings renders the warnings shown while credentials are missing.
func MissingWarnings(missing []string) []string {
	out := make([]string, 0, len(missing))
	for _, name := range missing {
		out = append(out, "Missing "+name)
	}
	return out
}
