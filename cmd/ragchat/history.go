package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/ragchat/pkg/persistence/blobstore"
	"github.com/go-go-golems/ragchat/pkg/transcript"
	"github.com/go-go-golems/ragchat/pkg/transcript/codec"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		clientID string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the persisted conversation of a client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := blobstore.Open(ctx, a.cfg.Storage.BlobStore())
			if err != nil {
				return errors.Wrap(err, "open blob store")
			}
			defer func() { _ = store.Close() }()

			blob, ok, err := store.Get(ctx, blobstore.ClientKey(clientID, blobstore.DefaultKey))
			if err != nil {
				return err
			}
			if !ok {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "no history stored for client %q\n", clientID)
				return err
			}
			tr, err := codec.Decode(blob)
			if err != nil {
				return err
			}
			return writeHistory(cmd.OutOrStdout(), tr, output)
		},
	}
	cmd.Flags().StringVar(&clientID, "client", defaultTerminalClient, "client id")
	cmd.Flags().StringVar(&output, "output", "yaml", "output format (yaml, json)")
	addStorageFlags(cmd)
	return cmd
}

type historyTurn struct {
	ID       transcript.ID  `json:"id" yaml:"id"`
	Role     string         `json:"role" yaml:"role"`
	Content  string         `json:"content" yaml:"content"`
	Feedback map[string]any `json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// historyFeedback keeps set fields with their value and cleared fields as
// null; unset fields are left out.
func historyFeedback(rec *transcript.FeedbackRecord) map[string]any {
	if rec == nil {
		return nil
	}
	out := map[string]any{}
	addInt := func(name transcript.FeedbackField, f transcript.Field[int]) {
		if v, ok := f.Get(); ok {
			out[string(name)] = v
		} else if f.IsCleared() {
			out[string(name)] = nil
		}
	}
	addInt(transcript.FieldThumbs, rec.Thumbs)
	addInt(transcript.FieldStars, rec.Stars)
	addInt(transcript.FieldFaces, rec.Faces)
	if v, ok := rec.Text.Get(); ok {
		out[string(transcript.FieldText)] = v
	} else if rec.Text.IsCleared() {
		out[string(transcript.FieldText)] = nil
	}
	return out
}

func writeHistory(w io.Writer, tr transcript.Transcript, format string) error {
	turns := make([]historyTurn, 0, len(tr))
	for _, t := range tr {
		turns = append(turns, historyTurn{
			ID:       t.ID,
			Role:     string(t.Role),
			Content:  t.Content,
			Feedback: historyFeedback(t.Feedback),
		})
	}

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(turns)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(turns); err != nil {
			return errors.Wrap(err, "encode history")
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
