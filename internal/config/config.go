package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.dm/config.toml. Every field can be
// overridden from the environment.
type Config struct {
	DefaultSession string  `toml:"default_session" env:"DM_SESSION"`
	Backend        Backend `toml:"backend"`
	Live           Live    `toml:"live"`
	Chat           Chat    `toml:"chat"`
	Auth           Auth    `toml:"auth"`
	Log            Log     `toml:"log"`
	Cache          Cache   `toml:"cache"`
}

// Backend configures the REST collaborator.
type Backend struct {
	BaseURL           string        `toml:"base_url" env:"DM_BACKEND_URL" env-default:"http://localhost:8080"`
	Timeout           time.Duration `toml:"timeout" env:"DM_BACKEND_TIMEOUT" env-default:"15s"`
	RequestsPerSecond float64       `toml:"requests_per_second" env:"DM_BACKEND_RPS" env-default:"10"`
	Burst             int           `toml:"burst" env:"DM_BACKEND_BURST" env-default:"5"`
}

// Live configures the push channel.
type Live struct {
	URL                  string        `toml:"url" env:"DM_LIVE_URL" env-default:"ws://localhost:8080/ws/chat"`
	TokenParam           string        `toml:"token_param" env:"DM_LIVE_TOKEN_PARAM" env-default:"token"`
	Reconnect            bool          `toml:"reconnect" env:"DM_LIVE_RECONNECT" env-default:"false"`
	MaxReconnectInterval time.Duration `toml:"max_reconnect_interval" env:"DM_LIVE_MAX_RECONNECT_INTERVAL" env-default:"30s"`
	MaxReconnectElapsed  time.Duration `toml:"max_reconnect_elapsed" env:"DM_LIVE_MAX_RECONNECT_ELAPSED" env-default:"5m"`
}

// Chat configures the synchronization engine.
type Chat struct {
	PageSize           int           `toml:"page_size" env:"DM_PAGE_SIZE" env-default:"20"`
	DirectoryPageSize  int           `toml:"directory_page_size" env:"DM_DIRECTORY_PAGE_SIZE" env-default:"50"`
	ReceiptTimeout     time.Duration `toml:"receipt_timeout" env:"DM_RECEIPT_TIMEOUT" env-default:"10s"`
	PendingMatchWindow time.Duration `toml:"pending_match_window" env:"DM_PENDING_MATCH_WINDOW" env-default:"2m"`
}

// Auth locates the bearer credential issued by the account service.
// User overrides the identity read from the token, for opaque tokens.
type Auth struct {
	Token     string `toml:"token" env:"DM_TOKEN"`
	TokenFile string `toml:"token_file" env:"DM_TOKEN_FILE"`
	User      string `toml:"user" env:"DM_USER"`
}

// Log configures the daemon logger.
type Log struct {
	Level string `toml:"level" env:"DM_LOG_LEVEL" env-default:"info"`
}

// Cache configures the session-scoped sqlite cache. An empty path keeps it in memory.
type Cache struct {
	Path string `toml:"path" env:"DM_CACHE_PATH"`
}

// Load reads config from the given path and applies environment overrides.
// Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but falls back to environment and defaults
// when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		var cfg Config
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	return Load(path)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
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
