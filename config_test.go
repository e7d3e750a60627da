package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearLegacyEnv keeps variables from the developer's shell out of the test.
func clearLegacyEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"REDIS_ADDR", "HTTP_ADDR", "WISHLIST_REDIS_ADDR", "WISHLIST_HTTP_ADDR", "WISHLIST_STORE_DRIVER"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearLegacyEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "/api/v1", cfg.HTTP.BasePath)
	assert.Equal(t, 10*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "wishlist-images", cfg.S3.Bucket)
	assert.Equal(t, int64(5<<20), cfg.Images.MaxSize)
	assert.Equal(t, time.Hour, cfg.Images.URLTTL)
	assert.Equal(t, 8, cfg.Images.SignConcurrency)
	assert.Equal(t, 5*time.Second, cfg.Images.SignTimeout)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Empty(t, cfg.RouterOptions().APIKeys)
}

func TestLoadConfig_Env(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("WISHLIST_STORE_DRIVER", "memory")
	t.Setenv("WISHLIST_IMAGES_URL_TTL", "15m")
	t.Setenv("WISHLIST_IMAGES_MAX_SIZE", "1024")
	t.Setenv("WISHLIST_AUTH_API_KEYS", "key-a, key-b")
	t.Setenv("REDIS_ADDR", "legacy:6379")
	t.Setenv("HTTP_ADDR", ":8080")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Images.URLTTL)
	assert.Equal(t, int64(1024), cfg.Images.MaxSize)
	assert.Equal(t, "legacy:6379", cfg.Redis.Addr)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)

	keys := cfg.RouterOptions().APIKeys
	assert.Contains(t, keys, "key-a")
	assert.Contains(t, keys, "key-b")
}

func TestLoadConfig_PrefixedEnvBeatsLegacy(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("REDIS_ADDR", "legacy:6379")
	t.Setenv("WISHLIST_REDIS_ADDR", "current:6379")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "current:6379", cfg.Redis.Addr)
}

func TestLoadConfig_File(t *testing.T) {
	clearLegacyEnv(t)
	path := filepath.Join(t.TempDir(), "wishlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: badger
badger:
  path: /var/lib/wishlist
s3:
  endpoint: http://minio:9000
  use_path_style: true
images:
  sign_concurrency: 2
cors:
  allowed_origins:
    - https://wishlist.example
log:
  format: text
  level: debug
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DriverBadger, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/wishlist", cfg.Badger.Path)
	assert.True(t, cfg.S3.UsePathStyle)
	assert.Equal(t, "http://minio:9000", cfg.S3Options().Endpoint)
	assert.Equal(t, 2, cfg.ServiceConfig().SignConcurrency)
	assert.Equal(t, []string{"https://wishlist.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:  StoreConfig{Driver: DriverRedis},
			S3:     S3Config{Bucket: "b"},
			Images: ImagesConfig{MaxSize: 1, URLTTL: time.Minute, SignConcurrency: 1},
			Log:    LogConfig{Level: "info", Format: "json"},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "postgres.dsn"},
		{"no bucket", func(c *Config) { c.S3.Bucket = "" }, "s3.bucket"},
		{"zero max size", func(c *Config) { c.Images.MaxSize = 0 }, "images.max_size"},
		{"zero ttl", func(c *Config) { c.Images.URLTTL = 0 }, "images.url_ttl"},
		{"zero concurrency", func(c *Config) { c.Images.SignConcurrency = 0 }, "images.sign_concurrency"},
		{"negative sign timeout", func(c *Config) { c.Images.SignTimeout = -time.Second }, "images.sign_timeout"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
