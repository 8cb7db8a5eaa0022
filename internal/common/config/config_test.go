package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecomet/rendeer/internal/common/configtypes"
	"github.com/edgecomet/rendeer/internal/filter"
	"github.com/edgecomet/rendeer/pkg/types"
)

const fullConfigYAML = `
server:
  listen: ":3100"
  cache_control_max_age: 1h

render:
  whitelist:
    - "example.com"
    - "~*cdn\\.example\\.net"
  page_timeout: 20s
  render_timeout: 5
  concurrency: "4"
  chrome:
    no_sandbox: true

cache:
  local:
    capacity: 500
  distributed:
    enabled: true
    backend: "redis"
    hosts: ["localhost:6379"]
    prefix: "test:"
    compression: "lz4"
    expiry: 2d

log:
  level: "debug"
  console:
    enabled: true
    format: "json"

metrics:
  enabled: true
  listen: ":9100"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rendeer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"USE_MEMCACHE", "MEMCACHE_HOSTS", "CACHE_BACKEND", "PORT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(writeConfig(t, fullConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, ":3100", cfg.Server.Listen)
	assert.Equal(t, types.Duration(time.Hour), cfg.Server.CacheControlMaxAge)
	assert.Equal(t, types.Duration(35*time.Second), cfg.Server.Timeout)

	assert.Len(t, cfg.Render.Whitelist, 2)
	assert.Equal(t, types.Duration(20*time.Second), cfg.Render.PageTimeout)
	assert.Equal(t, types.Duration(5*time.Second), cfg.Render.RenderTimeout)
	assert.Equal(t, "4", cfg.Render.Concurrency)
	assert.True(t, cfg.Render.Chrome.NoSandbox)
	assert.True(t, cfg.Render.IsSSRFProtectionEnabled())

	assert.Equal(t, 500, cfg.Cache.Local.Capacity)
	dc := cfg.Cache.Distributed
	assert.True(t, dc.Enabled)
	assert.Equal(t, configtypes.BackendRedis, dc.Backend)
	assert.Equal(t, []string{"localhost:6379"}, dc.Hosts)
	assert.Equal(t, "test:", dc.Prefix)
	assert.Equal(t, configtypes.CompressionLZ4, dc.Compression)
	assert.Equal(t, types.Duration(48*time.Hour), dc.Expiry)
	assert.Equal(t, defaultWriters, dc.Writers)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "rendeer", cfg.Metrics.Namespace)
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(writeConfig(t, "render:\n  whitelist: [\"example.com\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, defaultListen, cfg.Server.Listen)
	assert.Equal(t, types.Duration(defaultPageTimeout), cfg.Render.PageTimeout)
	assert.Equal(t, types.Duration(defaultRenderTimeout), cfg.Render.RenderTimeout)
	assert.Equal(t, "0", cfg.Render.Concurrency)
	assert.False(t, cfg.Cache.Distributed.Enabled)
	assert.Equal(t, configtypes.BackendMemcached, cfg.Cache.Distributed.Backend)
	assert.Equal(t, []string{defaultMemcachedHost}, cfg.Cache.Distributed.Hosts)
	assert.Equal(t, configtypes.CompressionSnappy, cfg.Cache.Distributed.Compression)
	assert.True(t, cfg.Log.Console.Enabled)
	assert.Equal(t, configtypes.LogLevelInfo, cfg.Log.Level)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_MEMCACHE", "true")
	t.Setenv("MEMCACHE_HOSTS", "mc1:11211, mc2:11211")
	t.Setenv("PORT", "8080")

	cfg, err := LoadConfig(writeConfig(t, "render:\n  whitelist: [\"example.com\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.True(t, cfg.Cache.Distributed.Enabled)
	assert.Equal(t, configtypes.BackendMemcached, cfg.Cache.Distributed.Backend)
	assert.Equal(t, []string{"mc1:11211", "mc2:11211"}, cfg.Cache.Distributed.Hosts)
}

func TestLoadConfig_EnvBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("USE_MEMCACHE", "1")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("MEMCACHE_HOSTS", "redis:6379")

	cfg, err := LoadConfig(writeConfig(t, "render:\n  whitelist: [\"example.com\"]\n"))
	require.NoError(t, err)
	assert.Equal(t, configtypes.BackendRedis, cfg.Cache.Distributed.Backend)
}

func TestLoadConfig_Errors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name        string
		yaml        string
		errContains string
	}{
		{
			name:        "unknown field",
			yaml:        "render:\n  whitelist: [\"a\"]\n  wihtelist: [\"b\"]\n",
			errContains: "check for typos",
		},
		{
			name:        "missing whitelist",
			yaml:        "server:\n  listen: \":3000\"\n",
			errContains: "render.whitelist",
		},
		{
			name:        "bad whitelist regexp",
			yaml:        "render:\n  whitelist: [\"~(\"]\n",
			errContains: "invalid render.whitelist",
		},
		{
			name:        "bad concurrency",
			yaml:        "render:\n  whitelist: [\"a\"]\n  concurrency: \"many\"\n",
			errContains: "render.concurrency",
		},
		{
			name:        "bad backend",
			yaml:        "render:\n  whitelist: [\"a\"]\ncache:\n  distributed:\n    enabled: true\n    backend: \"etcd\"\n",
			errContains: "cache.distributed.backend",
		},
		{
			name:        "bad compression",
			yaml:        "render:\n  whitelist: [\"a\"]\ncache:\n  distributed:\n    enabled: true\n    compression: \"zip\"\n",
			errContains: "cache.distributed.compression",
		},
		{
			name:        "negative capacity",
			yaml:        "render:\n  whitelist: [\"a\"]\ncache:\n  local:\n    capacity: -1\n",
			errContains: "cache.local.capacity",
		},
		{
			name:        "metrics port clash",
			yaml:        "render:\n  whitelist: [\"a\"]\nmetrics:\n  enabled: true\n  listen: \":3000\"\n",
			errContains: "must differ",
		},
		{
			name:        "bad log level",
			yaml:        "render:\n  whitelist: [\"a\"]\nlog:\n  level: \"loud\"\n",
			errContains: "invalid log.level",
		},
		{
			name:        "file log without path",
			yaml:        "render:\n  whitelist: [\"a\"]\nlog:\n  file:\n    enabled: true\n",
			errContains: "log.file.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGetConfigPath(t *testing.T) {
	path := writeConfig(t, "render: {}\n")

	resolved, err := GetConfigPath(path)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(resolved))

	_, err = GetConfigPath("")
	assert.Error(t, err)

	_, err = GetConfigPath(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_ShippedSample(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join("..", "..", "..", "configs", "rendeer.yaml"))
	require.NoError(t, err)

	policy, err := filter.NewPolicy(cfg.Render.Whitelist)
	require.NoError(t, err)

	// whitelist entries match anywhere in the URL, case-insensitively
	assert.True(t, policy.Allowed("HTTPS://EXAMPLE.COM/page"))
	assert.True(t, policy.Allowed("https://cdn.test/?ref=https://example.com/"))
	assert.False(t, policy.Allowed("https://other.test/"))

	image := filter.Request{URL: "https://example.com/hero.png", Method: "GET", ResourceType: "Image"}
	assert.Equal(t, filter.ActionSubstitute, policy.Decide(image).Action)

	image.URL = "https://other.test/hero.png"
	assert.Equal(t, filter.ActionBlock, policy.Decide(image).Action)
}
