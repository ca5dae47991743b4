package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"databases": {"sqlite3": {"dsn": "data/subscript.db"}},
		"spark": {"chat": {"app_id": "app", "api_key": "key", "api_secret": "secret"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerAddress, cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "redis", cfg.BasicConfig.StoreType)
	assert.Equal(t, DefaultVendorHost, cfg.Relay.TargetHost)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL())
	assert.Equal(t, DefaultSyncTimeout, cfg.SyncTimeout())
	assert.True(t, cfg.Spark.Chat.Complete())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data/subscript.db"), cfg.Databases["sqlite3"].DSN)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", strings.Join([]string{
		"basic_config:",
		"  server_address: \":9000\"",
		"  store_type: memory",
		"  session_ttl_minutes: 30",
		"sync:",
		"  base_url: http://localhost:9000",
		"  timeout_seconds: 3",
	}, "\n"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "memory", cfg.BasicConfig.StoreType)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL())
	assert.Equal(t, 3*time.Second, cfg.SyncTimeout())
	assert.Equal(t, "http://localhost:9000", cfg.Sync.BaseURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestLoadDecryptsSecrets(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	t.Setenv(EnvSecretKey, key)

	sealed, err := EncryptSecret("vendor-secret")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sealed, "enc:"))

	path := writeConfig(t, "config.json", `{
		"spark": {"chat": {"app_id": "app", "api_key": "key", "api_secret": "`+sealed+`"}},
		"providers": {"openai": {"api_key": "`+sealed+`", "model": "gpt-4o-mini"}}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "vendor-secret", cfg.Spark.Chat.APISecret)
	assert.Equal(t, "vendor-secret", cfg.Providers["openai"].APIKey)
	assert.Equal(t, "key", cfg.Spark.Chat.APIKey)
}

func TestLoadEncryptedSecretWithoutKey(t *testing.T) {
	t.Setenv(EnvSecretKey, "")
	path := writeConfig(t, "config.json", `{"sync": {"token": "enc:AAAA"}}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "config.json", PathFromEnv())
	t.Setenv(EnvConfigPath, "/etc/subscript.yaml")
	assert.Equal(t, "/etc/subscript.yaml", PathFromEnv())
}
