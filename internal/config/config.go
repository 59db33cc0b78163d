package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the runtime configuration for the service, read from one JSON
// file. Relative paths are resolved against the config file's directory.
type Config struct {
	ServerAddress string `json:"server_address"`

	APIKeys  keyList `json:"api_keys"`
	Provider string  `json:"provider"`
	BaseURL  string  `json:"base_url"`
	Model    string  `json:"model"`

	Temperature    float32 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	TimeoutSeconds int     `json:"timeout_seconds"`

	ChatMemoryMax    int  `json:"chat_memory_max"`
	HistoryMax       int  `json:"history_max"`
	KeyLoadBalancing bool `json:"key_load_balancing"`
	DefaultOnlyAdmin bool `json:"default_only_admin"`
	AllowPrivate     bool `json:"allow_private"`
	AutoCreateNotice bool `json:"auto_create_notice"`
	EnableWebSearch  bool `json:"enable_web_search"`

	HistoryDir string        `json:"history_dir"`
	PresetDir  string        `json:"preset_dir"`
	Storage    StorageConfig `json:"storage"`

	Redis  RedisConfig  `json:"redis"`
	Worker WorkerConfig `json:"worker"`
}

type StorageConfig struct {
	// Backend is "file", "sqlite3" or "mysql".
	Backend string `json:"backend"`
	DSN     string `json:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type WorkerConfig struct {
	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleMinutes int `json:"worker_idle_minutes"`
}

// keyList accepts either a single string or a list of strings, matching
// both config shapes seen in the wild.
type keyList []string

func (k *keyList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*k = keyList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("api_keys must be a string or a list of strings")
	}
	*k = keyList(many)
	return nil
}

// Load reads configuration from the provided path (defaults to
// config.json) and applies defaults and floors.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(absPath))
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-3.5-turbo"
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.5
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
	// the window must hold at least one exchange
	if c.ChatMemoryMax < 2 {
		c.ChatMemoryMax = 2
	}
	if c.HistoryMax < c.ChatMemoryMax {
		c.HistoryMax = 100
		if c.HistoryMax < c.ChatMemoryMax {
			c.HistoryMax = c.ChatMemoryMax
		}
	}
	if c.HistoryDir == "" {
		c.HistoryDir = "data/ChatHistory"
	}
	if c.PresetDir == "" {
		c.PresetDir = "data/Presets"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if !filepath.IsAbs(c.HistoryDir) {
		c.HistoryDir = filepath.Join(baseDir, c.HistoryDir)
	}
	if !filepath.IsAbs(c.PresetDir) {
		c.PresetDir = filepath.Join(baseDir, c.PresetDir)
	}
}
