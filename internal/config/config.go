package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of environment overrides, e.g. SWAPCHAT_HTTP_ADDR.
const EnvPrefix = "swapchat"

// Config represents ~/.swapchat/config.toml.
type Config struct {
	DataDir      string `toml:"data_dir" envconfig:"data_dir"`
	Socket       string `toml:"socket_path" envconfig:"socket_path"`
	HTTPAddr     string `toml:"http_addr" envconfig:"http_addr"`
	LogLevel     string `toml:"log_level" envconfig:"log_level"`
	ShareBaseURL string `toml:"share_base_url" envconfig:"share_base_url"`

	Auth        AuthConfig        `toml:"auth" envconfig:"auth"`
	Translation TranslationConfig `toml:"translation" envconfig:"translation"`
	Sync        SyncConfig        `toml:"sync" envconfig:"sync"`
	HTTP        HTTPConfig        `toml:"http" envconfig:"http"`
	Client      ClientConfig      `toml:"client" envconfig:"client"`
}

type AuthConfig struct {
	JWTSecret string        `toml:"jwt_secret" envconfig:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl" envconfig:"token_ttl"`
}

// TranslationConfig configures the OpenAI-compatible translation upstream.
// The key is read from APIKey, or from the SSM parameter APIKeyParam.
type TranslationConfig struct {
	Enabled     bool          `toml:"enabled" envconfig:"enabled"`
	BaseURL     string        `toml:"base_url" envconfig:"base_url"`
	Model       string        `toml:"model" envconfig:"model"`
	APIKey      string        `toml:"api_key" envconfig:"api_key"`
	APIKeyParam string        `toml:"api_key_param" envconfig:"api_key_param"`
	AWSRegion   string        `toml:"aws_region" envconfig:"aws_region"`
	Timeout     time.Duration `toml:"timeout" envconfig:"timeout"`
}

type SyncConfig struct {
	MatchWindow time.Duration `toml:"match_window" envconfig:"match_window"`
	PushBuffer  int           `toml:"push_buffer" envconfig:"push_buffer"`
	SendTimeout time.Duration `toml:"send_timeout" envconfig:"send_timeout"`
}

type HTTPConfig struct {
	SendPerMinute  uint     `toml:"send_per_minute" envconfig:"send_per_minute"`
	AllowedOrigins []string `toml:"allowed_origins" envconfig:"allowed_origins"`
}

// ClientConfig holds what swapchatctl and swapchattui send to the daemon.
type ClientConfig struct {
	Token    string `toml:"token" envconfig:"token"`
	Language string `toml:"language" envconfig:"language"`
}

// Default returns the configuration used when no file or override sets a value.
func Default() *Config {
	return &Config{
		DataDir:      BaseDir(),
		HTTPAddr:     "127.0.0.1:8787",
		LogLevel:     "info",
		ShareBaseURL: "https://bibswap.app/c/",
		Auth: AuthConfig{
			TokenTTL: 30 * 24 * time.Hour,
		},
		Translation: TranslationConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 20 * time.Second,
		},
		Sync: SyncConfig{
			MatchWindow: 2 * time.Minute,
			PushBuffer:  256,
			SendTimeout: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			SendPerMinute:  30,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Client: ClientConfig{
			Language: "en",
		},
	}
}

// Load reads config from the given path over the defaults. Returns nil and an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve builds the effective configuration: defaults, then the file at path
// when it exists, then .env and SWAPCHAT_* environment variables.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
	} else if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. Variables that are unset
// leave the current value in place.
func ApplyEnv(cfg *Config) error {
	if os.Getenv("GIN_MODE") != "release" {
		// .env is optional.
		_ = godotenv.Load()
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	return nil
}

// Validate rejects settings the daemon and clients cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Sync.MatchWindow <= 0 {
		return errors.New("sync.match_window must be positive")
	}
	if c.Sync.PushBuffer <= 0 {
		return errors.New("sync.push_buffer must be positive")
	}
	if c.Translation.Enabled {
		if c.Translation.Model == "" {
			return errors.New("translation.model is required when translation is enabled")
		}
		if c.Translation.APIKey == "" && c.Translation.APIKeyParam == "" {
			return errors.New("translation.api_key or translation.api_key_param is required when translation is enabled")
		}
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
