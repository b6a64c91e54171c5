package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/ragchat/pkg/chat"
	"github.com/go-go-golems/ragchat/pkg/persistence/blobstore"
	"github.com/go-go-golems/ragchat/pkg/reconcile"
	"github.com/go-go-golems/ragchat/pkg/transcript"
)

const defaultTerminalClient = "terminal"

func newChatCommand(a *app) *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Long: `Chat in the terminal. Besides questions, the prompt accepts

  /history                          show the conversation with turn ids and feedback
  /rate <turn> thumbs=1 stars=4     rate an answer (thumbs -1..1, stars and faces 0..4)
  /rate <turn> text=too salty       attach a comment; "field=" clears a field
  /retry                            answer the last question again after a failure
  /quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			cfg := a.cfg
			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			engine := reconcile.NewEngine(d.store,
				reconcile.WithKey(blobstore.ClientKey(clientID, blobstore.DefaultKey)),
				reconcile.WithGreeting(cfg.Chat.Greeting),
			)
			var missing []string
			if len(d.required) > 0 {
				missing = chat.Readiness(d.creds, d.required)
			}
			sess := chat.NewSession("cli", clientID, engine,
				chat.WithGenerator(d.generator),
				chat.WithRetriever(d.retriever),
				chat.WithTopK(cfg.Retrieval.TopK),
				chat.WithMissingCredentials(missing),
			)

			r := newREPL(sess, cmd.InOrStdin(), cmd.OutOrStdout())
			r.title, r.subheader = cfg.Chat.Title, cfg.Chat.Subheader
			r.interactive = isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
			return r.run(ctx)
		},
	}
	cmd.Flags().StringVar(&clientID, "client", defaultTerminalClient, "client id whose history is loaded and saved")
	cmd.Flags().String("docs", "docs", "directory of text documents to answer from")
	cmd.Flags().String("provider", "openai", "generation provider (openai, echo)")
	cmd.Flags().String("model", "llama-3.1-8b-instant", "model name")
	addStorageFlags(cmd)
	return cmd
}

type replStyles struct {
	title     lipgloss.Style
	subheader lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	meta      lipgloss.Style
	warning   lipgloss.Style
}

func newREPLStyles(out io.Writer) replStyles {
	r := lipgloss.NewRenderer(out)
	return replStyles{
		title:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")),
		subheader: r.NewStyle().Italic(true).Foreground(lipgloss.Color("#AFAFAF")),
		user:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("62")),
		assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("170")),
		meta:      r.NewStyle().Foreground(lipgloss.Color("#888888")),
		warning:   r.NewStyle().Foreground(lipgloss.Color("208")),
	}
}

type repl struct {
	sess        *chat.Session
	in          io.Reader
	out         io.Writer
	styles      replStyles
	title       string
	subheader   string
	interactive bool
}

func newREPL(sess *chat.Session, in io.Reader, out io.Writer) *repl {
	return &repl{sess: sess, in: in, out: out, styles: newREPLStyles(out)}
}

func (r *repl) run(ctx context.Context) error {
	if r.title != "" {
		fmt.Fprintln(r.out, r.styles.title.Render(r.title))
	}
	if r.subheader != "" {
		fmt.Fprintln(r.out, r.styles.subheader.Render(r.subheader))
	}
	for _, w := range chat.MissingWarnings(r.sess.MissingCredentials()) {
		fmt.Fprintln(r.out, r.styles.warning.Render(w))
	}
	r.printHistory(ctx)
	r.printNotices()

	scanner := bufio.NewScanner(r.in)
	for {
		if r.interactive {
			fmt.Fprint(r.out, r.styles.user.Render(">")+" ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if err := r.handle(ctx, line); err != nil {
			fmt.Fprintln(r.out, r.styles.warning.Render("error: "+err.Error()))
		}
		r.printNotices()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) error {
	cmd, args, _ := strings.Cut(line, " ")
	switch cmd {
	case "/history":
		r.printHistory(ctx)
		return nil
	case "/retry":
		return r.answer(func(onChunk func(string)) (transcript.Turn, error) {
			return r.sess.Retry(ctx, onChunk)
		})
	case "/rate":
		id, patch, err := parseRating(args)
		if err != nil {
			return err
		}
		rec, err := r.sess.ApplyEdit(ctx, id, patch)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("[%s] %s", id, formatFeedback(rec))))
		return nil
	}
	if strings.HasPrefix(cmd, "/") {
		return errors.Errorf("unknown command %s", cmd)
	}
	return r.answer(func(onChunk func(string)) (transcript.Turn, error) {
		return r.sess.Ask(ctx, line, onChunk)
	})
}

func (r *repl) answer(fn func(onChunk func(string)) (transcript.Turn, error)) error {
	fmt.Fprint(r.out, r.styles.assistant.Render("assistant:")+" ")
	turn, err := fn(func(chunk string) { fmt.Fprint(r.out, chunk) })
	fmt.Fprintln(r.out)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("[%s] rate with /rate %s thumbs=1", turn.ID, turn.ID)))
	return nil
}

func (r *repl) printHistory(ctx context.Context) {
	for _, t := range r.sess.Transcript(ctx) {
		label := r.styles.user.Render(string(t.Role) + ":")
		if t.Role == transcript.RoleAssistant {
			label = r.styles.assistant.Render(string(t.Role) + ":")
		}
		fmt.Fprintf(r.out, "%s %s\n", label, t.Content)
		if b, err := r.sess.Bind(ctx, t.ID); err == nil {
			fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("[%s] %s", t.ID, formatFeedback(b.Record))))
		}
	}
}

func (r *repl) printNotices() {
	for _, n := range r.sess.DrainNotices() {
		fmt.Fprintln(r.out, r.styles.warning.Render(n.Message))
	}
}

// parseRating parses "<turn> field=value ...". text= takes the rest of the
// line; an empty value clears the field.
func parseRating(args string) (transcript.ID, transcript.FeedbackPatch, error) {
	var patch transcript.FeedbackPatch
	idStr, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	if idStr == "" {
		return 0, patch, errors.Wrap(transcript.ErrInvalidFeedback, "usage: /rate <turn> field=value ...")
	}
	id, err := transcript.ParseID(idStr)
	if err != nil {
		return 0, patch, err
	}

	rest = strings.TrimSpace(rest)
	for rest != "" {
		var tok string
		if strings.HasPrefix(rest, string(transcript.FieldText)+"=") {
			tok, rest = rest, ""
		} else {
			tok, rest, _ = strings.Cut(rest, " ")
			rest = strings.TrimSpace(rest)
		}
		name, raw, ok := strings.Cut(tok, "=")
		if !ok {
			return 0, patch, errors.Wrapf(transcript.ErrInvalidFeedback, "expected field=value, got %q", tok)
		}
		field := transcript.FeedbackField(name)

		var value any
		switch {
		case raw == "":
		case field == transcript.FieldText:
			if unq, err := strconv.Unquote(raw); err == nil {
				raw = unq
			}
			value = raw
		default:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return 0, patch, errors.Wrapf(transcript.ErrInvalidFeedback, "%s must be a number, got %q", name, raw)
			}
			value = n
		}

		p, err := transcript.Patch(field, value)
		if err != nil {
			return 0, patch, err
		}
		patch.Thumbs = patch.Thumbs.Overlay(p.Thumbs)
		patch.Stars = patch.Stars.Overlay(p.Stars)
		patch.Faces = patch.Faces.Overlay(p.Faces)
		patch.Text = patch.Text.Overlay(p.Text)
	}
	if patch.Empty() {
		return 0, patch, errors.Wrap(transcript.ErrInvalidFeedback, "nothing to rate")
	}
	return id, patch, nil
}

func formatFeedback(rec transcript.FeedbackRecord) string {
	var parts []string
	for _, f := range []struct {
		name  transcript.FeedbackField
		value string
		set   bool
	}{
		{transcript.FieldThumbs, intValue(rec.Thumbs), rec.Thumbs.IsSet()},
		{transcript.FieldStars, intValue(rec.Stars), rec.Stars.IsSet()},
		{transcript.FieldFaces, intValue(rec.Faces), rec.Faces.IsSet()},
		{transcript.FieldText, textValue(rec.Text), rec.Text.IsSet()},
	} {
		if f.set {
			parts = append(parts, string(f.name)+"="+f.value)
		}
	}
	if len(parts) == 0 {
		return "no feedback"
	}
	return strings.Join(parts, " ")
}

func intValue(f transcript.Field[int]) string {
	v, _ := f.Get()
	return strconv.Itoa(v)
}

func textValue(f transcript.Field[string]) string {
	v, _ := f.Get()
	return strconv.Quote(v)
}
