package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/ragchat/pkg/webchat"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat over HTTP and websockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg
			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			h, err := webchat.NewHandler(webchat.Options{
				Store:               d.store,
				Generator:           d.generator,
				Retriever:           d.retriever,
				TopK:                cfg.Retrieval.TopK,
				Credentials:         d.creds,
				RequiredCredentials: d.required,
				Title:               cfg.Chat.Title,
				Greeting:            cfg.Chat.Greeting,
				Subheader:           cfg.Chat.Subheader,
				SessionTTL:          cfg.Server.SessionTTL,
				ClientCookie:        cfg.Server.ClientCookie,
			})
			if err != nil {
				return err
			}
			srv, err := webchat.NewServer(cfg.Server.Addr, h, cfg.Server.ShutdownTimeout)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("addr", ":8501", "address to listen on")
	cmd.Flags().String("docs", "docs", "directory of text documents to answer from")
	cmd.Flags().String("provider", "openai", "generation provider (openai, echo)")
	cmd.Flags().String("model", "llama-3.1-8b-instant", "model name")
	addStorageFlags(cmd)
	return cmd
}
