// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Settings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	WithCaller bool   `mapstructure:"with_caller"`
	// Output defaults to stderr.
	Output io.Writer `mapstructure:"-"`
}

// Init replaces log.Logger according to s. "auto" picks the console writer
// when the output is a terminal and JSON otherwise.
func Init(s Settings) error {
	level := zerolog.InfoLevel
	if strings.TrimSpace(s.Level) != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s.Level)))
		if err != nil {
			return errors.Wrapf(err, "logging: invalid level %q", s.Level)
		}
		level = l
	}

	out := s.Output
	if out == nil {
		out = os.Stderr
	}

	format := strings.ToLower(strings.TrimSpace(s.Format))
	switch format {
	case "", FormatAuto:
		format = FormatJSON
		if isTerminal(out) {
			format = FormatConsole
		}
	case FormatConsole, FormatJSON:
	default:
		return errors.Errorf("logging: unknown format %q", s.Format)
	}

	if format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = ctx.Logger()
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
