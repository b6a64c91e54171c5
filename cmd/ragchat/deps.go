package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ragchat/pkg/chat"
	"github.com/go-go-golems/ragchat/pkg/config"
	"github.com/go-go-golems/ragchat/pkg/credentials"
	"github.com/go-go-golems/ragchat/pkg/generation"
	"github.com/go-go-golems/ragchat/pkg/persistence/blobstore"
	"github.com/go-go-golems/ragchat/pkg/retrieval"
)

// deps are the collaborators built from the configuration.
type deps struct {
	store     blobstore.Store
	creds     chat.CredentialSource
	generator chat.Generator
	retriever *retrieval.LocalRetriever
	required  []string
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	store, err := blobstore.Open(ctx, cfg.Storage.BlobStore())
	if err != nil {
		return nil, errors.Wrap(err, "open blob store")
	}
	log.Info().
		Str("component", "ragchat").
		Str("backend", cfg.Storage.Backend).
		Int("max_blob_bytes", cfg.Storage.MaxBlobBytes).
		Msg("blob store opened")

	d := &deps{
		store:    store,
		creds:    credentials.NewViperSource(cfg.Viper()),
		required: requiredCredentials(cfg),
	}

	d.retriever, err = retrieval.NewLocalRetriever(cfg.Retrieval.DocsDir, cfg.Retrieval.Pattern)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info().
		Str("component", "ragchat").
		Str("docs_dir", cfg.Retrieval.DocsDir).
		Int("passages", d.retriever.Len()).
		Msg("documents loaded")

	d.generator, err = newGenerator(cfg.Generation, d.creds)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return d, nil
}

// requiredCredentials is the readiness list for cfg. The offline echo provider
// never needs the generation API key.
func requiredCredentials(cfg *config.Config) []string {
	if cfg.Generation.Provider != "echo" {
		return cfg.Chat.RequiredCredentials
	}
	var out []string
	for _, name := range cfg.Chat.RequiredCredentials {
		if name != cfg.Generation.APIKeyCredential {
			out = append(out, name)
		}
	}
	return out
}

// newGenerator returns the configured generator. Without an API key the
// openai provider falls back to answering offline from retrieved documents;
// that only happens when chat.required_credentials does not gate on the key.
func newGenerator(gc config.GenerationConfig, creds chat.CredentialSource) (chat.Generator, error) {
	if gc.Provider == "echo" {
		return generation.EchoGenerator{}, nil
	}
	key, ok := creds.Lookup(gc.APIKeyCredential)
	if !ok {
		log.Warn().
			Str("component", "ragchat").
			Str("credential", gc.APIKeyCredential).
			Msg("no API key configured, answering from retrieved documents only")
		return generation.EchoGenerator{}, nil
	}
	return generation.NewOpenAIGenerator(generation.Settings{
		APIKey:       key,
		BaseURL:      gc.BaseURL,
		Model:        gc.Model,
		Temperature:  gc.Temperature,
		MaxTokens:    gc.MaxTokens,
		SystemPrompt: gc.SystemPrompt,
		MaxHistory:   gc.MaxHistory,
	})
}

func (d *deps) Close() error {
	return d.store.Close()
}
