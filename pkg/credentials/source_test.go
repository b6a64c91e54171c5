package credentials

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/ragchat/pkg/chat"
)

func TestViperSource(t *testing.T) {
	v := viper.New()
	v.Set("credentials.groq_api_key", "from-config")
	env := map[string]string{"GROQ_API_KEY": "from-env", "HUGGINGFACEHUB_API_TOKEN": "hf-token", "EMPTY": "  "}
	s := &ViperSource{v: v, lookupEnv: func(k string) (string, bool) {
		val, ok := env[k]
		return val, ok
	}}

	got, ok := s.Lookup("GROQ_API_KEY")
	require.True(t, ok)
	require.Equal(t, "from-config", got)

	got, ok = s.Lookup("HUGGINGFACEHUB_API_TOKEN")
	require.True(t, ok)
	require.Equal(t, "hf-token", got)

	_, ok = s.Lookup("EMPTY")
	require.False(t, ok)
	_, ok = s.Lookup("")
	require.False(t, ok)

	require.Empty(t, chat.Readiness(s, chat.RequiredCredentials))
}

func TestViperSource_ProcessEnv(t *testing.T) {
	t.Setenv("HUGGINGFACEHUB_API_TOKEN", "hf-env")
	s := NewViperSource(nil)
	got, ok := s.Lookup("HUGGINGFACEHUB_API_TOKEN")
	require.True(t, ok)
	require.Equal(t, "hf-env", got)
}

func TestChain(t *testing.T) {
	c := Chain{nil, Static{"GROQ_API_KEY": ""}, Static{"GROQ_API_KEY": "typed-in"}}
	got, ok := c.Lookup("GROQ_API_KEY")
	require.True(t, ok)
	require.Equal(t, "typed-in", got)
	require.Empty(t, chat.Readiness(c, chat.RequiredCredentials))
	require.Equal(t, []string{"HUGGINGFACEHUB_API_TOKEN"}, chat.Readiness(c, []string{"GROQ_API_KEY", "HUGGINGFACEHUB_API_TOKEN"}))
}
