package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Jeffrey-done/SubScript/internal/models"
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "SUBSCRIPT_CONFIG"

const (
	DefaultServerAddress = ":8090"
	DefaultRelayAddress  = ":8787"
	DefaultSessionTTL    = 7 * 24 * time.Hour
	DefaultSyncTimeout   = 15 * time.Second
	DefaultVendorHost    = "maas-api.cn-huabei-1.xf-yun.com"
)

// Config represents runtime configuration for the gateway, the relay and the CLI.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Spark       SparkConfig               `json:"spark" yaml:"spark"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Sync        SyncConfig                `json:"sync" yaml:"sync"`
	Pantry      PantryConfig              `json:"pantry" yaml:"pantry"`
	Relay       RelayConfig               `json:"relay" yaml:"relay"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	// StoreType selects the key-value backend: redis, memory, or a key of Databases.
	StoreType         string `json:"store_type" yaml:"store_type"`
	SessionTTLMinutes int    `json:"session_ttl_minutes" yaml:"session_ttl_minutes"`
	LogLevel          string `json:"log_level" yaml:"log_level"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

// SparkConfig holds per-capability vendor credentials and endpoints.
type SparkConfig struct {
	Chat           models.ModelCredential `json:"chat" yaml:"chat"`
	Image          models.ModelCredential `json:"image" yaml:"image"`
	Vision         models.ModelCredential `json:"vision" yaml:"vision"`
	ChatURL        string                 `json:"chat_url" yaml:"chat_url"`
	VisionURL      string                 `json:"vision_url" yaml:"vision_url"`
	ImageURL       string                 `json:"image_url" yaml:"image_url"`
	RelayURL       string                 `json:"relay_url" yaml:"relay_url"`
	MinOCRLength   int                    `json:"min_ocr_length" yaml:"min_ocr_length"`
	ExtractionWith string                 `json:"extraction_provider" yaml:"extraction_provider"`
}

// ProviderConfig configures an alternative chat model for the extraction stage.
type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type SyncConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	Token          string `json:"token" yaml:"token"`
}

type PantryConfig struct {
	PantryID string `json:"pantry_id" yaml:"pantry_id"`
}

type RelayConfig struct {
	Address    string `json:"address" yaml:"address"`
	TargetHost string `json:"target_host" yaml:"target_host"`
}

// SessionTTL reports the configured session lifetime.
func (c *Config) SessionTTL() time.Duration {
	if c.BasicConfig.SessionTTLMinutes <= 0 {
		return DefaultSessionTTL
	}
	return time.Duration(c.BasicConfig.SessionTTLMinutes) * time.Minute
}

// SyncTimeout reports the request timeout used by the sync client.
func (c *Config) SyncTimeout() time.Duration {
	if c.Sync.TimeoutSeconds <= 0 {
		return DefaultSyncTimeout
	}
	return time.Duration(c.Sync.TimeoutSeconds) * time.Second
}

// PathFromEnv returns the config path from SUBSCRIPT_CONFIG, defaulting to config.json.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return "config.json"
}

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.decryptSecrets(); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(absPath))
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if c.BasicConfig.StoreType == "" {
		c.BasicConfig.StoreType = "redis"
	}
	if c.BasicConfig.LogLevel == "" {
		c.BasicConfig.LogLevel = "info"
	}
	if c.Relay.Address == "" {
		c.Relay.Address = DefaultRelayAddress
	}
	if c.Relay.TargetHost == "" {
		c.Relay.TargetHost = DefaultVendorHost
	}
	for name, db := range c.Databases {
		if (name == "sqlite" || name == "sqlite3") && db.DSN != "" && db.DSN != ":memory:" &&
			!strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(baseDir, db.DSN)
			c.Databases[name] = db
		}
	}
}

// decryptSecrets replaces enc:-prefixed secrets with their plaintext.
func (c *Config) decryptSecrets() error {
	fields := []*string{
		&c.Spark.Chat.APISecret, &c.Spark.Chat.APIKey,
		&c.Spark.Image.APISecret, &c.Spark.Image.APIKey,
		&c.Spark.Vision.APISecret, &c.Spark.Vision.APIKey,
		&c.Redis.Password, &c.Sync.Token,
	}
	for name, p := range c.Providers {
		key := p.APIKey
		plain, err := revealSecret(key)
		if err != nil {
			return fmt.Errorf("provider %s api_key: %w", name, err)
		}
		p.APIKey = plain
		c.Providers[name] = p
	}
	for _, f := range fields {
		plain, err := revealSecret(*f)
		if err != nil {
			return err
		}
		*f = plain
	}
	return nil
}
