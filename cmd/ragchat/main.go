package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/ragchat/pkg/config"
	"github.com/go-go-golems/ragchat/pkg/logging"
)

// flagKeys maps command-line flags to the configuration keys they override.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"addr":       "server.addr",
	"storage":    "storage.backend",
	"sqlite-db":  "storage.sqlite_db",
	"redis-addr": "storage.redis.addr",
	"docs":       "retrieval.docs_dir",
	"provider":   "generation.provider",
	"model":      "generation.model",
}

// app carries state shared by the subcommands once the root command has
// loaded the configuration.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "ragchat",
		Short:        "ragchat answers questions about local documents and records feedback on every answer",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var opts []config.Option
			for name, key := range flagKeys {
				if f := cmd.Flags().Lookup(name); f != nil {
					opts = append(opts, config.WithFlag(key, f))
				}
			}
			cfg, err := config.Load(a.configPath, opts...)
			if err != nil {
				return err
			}
			// reinitialize the logger now that --log-level and co are parsed
			if err := logging.Init(cfg.Log); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./ragchat.yaml or $HOME/.ragchat/ragchat.yaml)")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.String("log-format", "auto", "log format (auto, console, json)")

	root.AddCommand(
		newServeCommand(a),
		newChatCommand(a),
		newHistoryCommand(a),
	)
	return root
}

// addStorageFlags registers the flags every command that opens the blob
// store understands.
func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String("storage", "sqlite", "blob store backend (memory, sqlite, redis)")
	cmd.Flags().String("sqlite-db", "data/ragchat.db", "SQLite database file")
	cmd.Flags().String("redis-addr", "localhost:6379", "Redis address")
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
