// Package config loads ragchat settings from defaults, an optional YAML file
// and RAGCHAT_* environment variables, in increasing order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/ragchat/pkg/logging"
	"github.com/go-go-golems/ragchat/pkg/persistence/blobstore"
)

const (
	AppName   = "ragchat"
	EnvPrefix = "RAGCHAT"
)

// Config stores all configuration of the application.
type Config struct {
	Log         logging.Settings  `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Server      ServerConfig      `mapstructure:"server"`
	Chat        ChatConfig        `mapstructure:"chat"`
	Generation  GenerationConfig  `mapstructure:"generation"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Credentials map[string]string `mapstructure:"credentials"`

	v *viper.Viper
}

type StorageConfig struct {
	Backend      string        `mapstructure:"backend"` // memory, sqlite, redis
	SQLiteDB     string        `mapstructure:"sqlite_db"`
	SQLiteDSN    string        `mapstructure:"sqlite_dsn"`
	MemoryTTL    time.Duration `mapstructure:"memory_ttl"`
	MaxBlobBytes int           `mapstructure:"max_blob_bytes"` // 0 disables the limit
	Redis        RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	ClientCookie    string        `mapstructure:"client_cookie"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ChatConfig struct {
	Title               string   `mapstructure:"title"`
	Greeting            string   `mapstructure:"greeting"`
	Subheader           string   `mapstructure:"subheader"`
	RequiredCredentials []string `mapstructure:"required_credentials"`
}

type GenerationConfig struct {
	Provider     string  `mapstructure:"provider"` // openai, echo
	BaseURL      string  `mapstructure:"base_url"`
	Model        string  `mapstructure:"model"`
	Temperature  float32 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	MaxHistory   int     `mapstructure:"max_history"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	// APIKeyCredential names the credential that holds the API key.
	APIKeyCredential string `mapstructure:"api_key_credential"`
}

type RetrievalConfig struct {
	DocsDir string `mapstructure:"docs_dir"`
	Pattern string `mapstructure:"pattern"`
	TopK    int    `mapstructure:"top_k"`
}

type Option func(v *viper.Viper) error

// WithOverride sets key explicitly, above every other source.
func WithOverride(key string, value any) Option {
	return func(v *viper.Viper) error {
		v.Set(key, value)
		return nil
	}
}

// WithFlag binds a command-line flag to key. The flag wins over files and
// environment only when the user set it.
func WithFlag(key string, flag *pflag.Flag) Option {
	return func(v *viper.Viper) error {
		if flag == nil {
			return nil
		}
		return errors.Wrapf(v.BindPFlag(key, flag), "config: bind flag --%s", flag.Name)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.with_caller", false)

	v.SetDefault("storage.backend", blobstore.BackendSQLite)
	v.SetDefault("storage.sqlite_db", "data/ragchat.db")
	v.SetDefault("storage.sqlite_dsn", "")
	v.SetDefault("storage.memory_ttl", "0s")
	v.SetDefault("storage.max_blob_bytes", blobstore.DefaultMaxBlobBytes)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "ragchat:")
	v.SetDefault("storage.redis.ttl", "720h")

	v.SetDefault("server.addr", ":8501")
	v.SetDefault("server.session_ttl", "2h")
	v.SetDefault("server.client_cookie", "ragchat_client")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("chat.title", "Meal plan assistant")
	v.SetDefault("chat.greeting", "What would you like to know?")
	v.SetDefault("chat.subheader", "Ask me questions about this week's meal plan")
	v.SetDefault("chat.required_credentials", []string{"GROQ_API_KEY"})

	v.SetDefault("generation.provider", "openai")
	v.SetDefault("generation.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("generation.model", "llama-3.1-8b-instant")
	v.SetDefault("generation.temperature", 0.2)
	v.SetDefault("generation.max_tokens", 1024)
	v.SetDefault("generation.max_history", 10)
	v.SetDefault("generation.system_prompt", "")
	v.SetDefault("generation.api_key_credential", "GROQ_API_KEY")

	v.SetDefault("retrieval.docs_dir", "docs")
	v.SetDefault("retrieval.pattern", "*.txt")
	v.SetDefault("retrieval.top_k", 4)

	v.SetDefault("credentials", map[string]string{})
}

// Load reads the configuration. An empty path searches for ragchat.yaml in
// the working directory and in $HOME/.ragchat; a missing file is not an error.
func Load(path string, opts ...Option) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/." + AppName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "config: read config file")
		}
	}

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	cfg.v = v
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case blobstore.BackendMemory, blobstore.BackendSQLite, blobstore.BackendRedis:
	default:
		return errors.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Generation.Provider {
	case "openai", "echo":
	default:
		return errors.Errorf("config: unknown generation.provider %q", c.Generation.Provider)
	}
	if c.Storage.MaxBlobBytes < 0 {
		return errors.New("config: storage.max_blob_bytes must not be negative")
	}
	return nil
}

// Viper exposes the loaded settings for lookups outside the typed config.
func (c *Config) Viper() *viper.Viper { return c.v }

// BlobStore converts the storage section for blobstore.Open.
func (s StorageConfig) BlobStore() blobstore.Settings {
	return blobstore.Settings{
		Backend:   s.Backend,
		SQLiteDB:  s.SQLiteDB,
		SQLiteDSN: s.SQLiteDSN,
		Redis: blobstore.RedisSettings{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
			TTL:      s.Redis.TTL,
		},
		MemoryTTL:    s.MemoryTTL,
		MaxBlobBytes: s.MaxBlobBytes,
	}
}
