// Package credentials resolves API keys from the configuration and the
// process environment.
package credentials

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/go-go-golems/ragchat/pkg/chat"
)

// ViperSource looks a name up as credentials.<name> in the loaded
// configuration (which includes RAGCHAT_CREDENTIALS_<NAME>), then as the
// plain environment variable <NAME>.
type ViperSource struct {
	v         *viper.Viper
	lookupEnv func(string) (string, bool)
}

var _ chat.CredentialSource = &ViperSource{}

func NewViperSource(v *viper.Viper) *ViperSource {
	return &ViperSource{v: v, lookupEnv: os.LookupEnv}
}

func (s *ViperSource) Lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if s.v != nil {
		if v := strings.TrimSpace(s.v.GetString("credentials." + strings.ToLower(name))); v != "" {
			return v, true
		}
	}
	if s.lookupEnv != nil {
		if v, ok := s.lookupEnv(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Static is a fixed set of credentials, e.g. entered interactively.
type Static map[string]string

var _ chat.CredentialSource = Static{}

func (s Static) Lookup(name string) (string, bool) {
	v, ok := s[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Chain returns the first non-empty value found in sources.
type Chain []chat.CredentialSource

var _ chat.CredentialSource = Chain{}

func (c Chain) Lookup(name string) (string, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if v, ok := src.Lookup(name); ok {
			return v, true
		}
	}
	return "", false
}
