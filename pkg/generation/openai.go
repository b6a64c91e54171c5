// Package generation implements chat.Generator on top of OpenAI-compatible
// chat completion APIs, with Groq as the default endpoint.
package generation

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/ragchat/pkg/chat"
	"github.com/go-go-golems/ragchat/pkg/transcript"
)

const (
	GroqBaseURL  = "https://api.groq.com/openai/v1"
	DefaultModel = "llama-3.1-8b-instant"

	DefaultSystemPrompt = `You are a helpful assistant answering questions about this week's meal plan.
Use only the context below to answer. If the answer is not in the context, say you don't know.`
)

type Settings struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
	// MaxHistory limits how many previous turns are sent along; 0 sends all.
	MaxHistory int
}

type OpenAIGenerator struct {
	client   *openai.Client
	settings Settings
}

var _ chat.Generator = &OpenAIGenerator{}

func NewOpenAIGenerator(s Settings) (*OpenAIGenerator, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, errors.New("openai generator: api key is empty")
	}
	if s.BaseURL == "" {
		s.BaseURL = GroqBaseURL
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = DefaultSystemPrompt
	}
	cfg := openai.DefaultConfig(s.APIKey)
	cfg.BaseURL = strings.TrimRight(s.BaseURL, "/")
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), settings: s}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req chat.GenerateRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream, err := g.client.CreateChatCompletionStream(ctx, g.request(req))
		if err != nil {
			yield("", errors.Wrap(err, "openai generator: start stream"))
			return
		}
		defer func() { _ = stream.Close() }()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", errors.Wrap(err, "openai generator: receive"))
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
	}
}

func (g *OpenAIGenerator) request(req chat.GenerateRequest) openai.ChatCompletionRequest {
	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemMessage(g.settings.SystemPrompt, req.Context),
	}}
	history := req.History
	if n := g.settings.MaxHistory; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == transcript.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	return openai.ChatCompletionRequest{
		Model:       g.settings.Model,
		Messages:    messages,
		Temperature: g.settings.Temperature,
		MaxTokens:   g.settings.MaxTokens,
		Stream:      true,
	}
}

// SystemMessage appends the retrieved documents to the system prompt.
func SystemMessage(prompt string, docs []chat.Document) string {
	if len(docs) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nContext:\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, d.Source, strings.TrimSpace(d.Content))
	}
	return b.String()
}
