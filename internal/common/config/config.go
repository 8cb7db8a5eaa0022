package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/edgecomet/rendeer/internal/common/configtypes"
	"github.com/edgecomet/rendeer/internal/common/yamlutil"
	"github.com/edgecomet/rendeer/pkg/pattern"
	"github.com/edgecomet/rendeer/pkg/types"
)

const (
	// SafetyMargin is added on top of the render budget so FastHTTP does not
	// cut connections while a page is still loading
	SafetyMargin = 10 * time.Second

	defaultListen             = ":3000"
	defaultPageTimeout        = 30 * time.Second
	defaultRenderTimeout      = 10 * time.Second
	defaultCacheControlMaxAge = 24 * time.Hour
	defaultExpiry             = 24 * time.Hour
	defaultCacheTimeout       = 500 * time.Millisecond
	defaultCachePrefix        = "rendeer:"
	defaultMemcachedHost      = "localhost:11211"
	defaultWriters            = 4
	defaultQueueSize          = 1024
	defaultFailureThreshold   = 5
	defaultBreakerDelay       = 30 * time.Second
)

var metricsNamespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// envOverrides are the environment toggles honoured on top of the YAML file
type envOverrides struct {
	UseMemcache   *bool    `envconfig:"USE_MEMCACHE"`
	MemcacheHosts []string `envconfig:"MEMCACHE_HOSTS"`
	CacheBackend  string   `envconfig:"CACHE_BACKEND"`
	Port          string   `envconfig:"PORT"`
}

// LoadConfig reads, defaults, overrides from the environment and validates the configuration file
func LoadConfig(configPath string) (*configtypes.RendeerConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg configtypes.RendeerConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overlays USE_MEMCACHE, MEMCACHE_HOSTS, CACHE_BACKEND and PORT onto cfg.
func ApplyEnv(cfg *configtypes.RendeerConfig) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	dc := &cfg.Cache.Distributed
	if env.UseMemcache != nil {
		dc.Enabled = *env.UseMemcache
		if dc.Enabled && env.CacheBackend == "" {
			dc.Backend = configtypes.BackendMemcached
		}
	}
	if len(env.MemcacheHosts) > 0 {
		dc.Hosts = trimHosts(env.MemcacheHosts)
	}
	if env.CacheBackend != "" {
		dc.Backend = strings.ToLower(env.CacheBackend)
	}
	if env.Port != "" {
		cfg.Server.Listen = ":" + env.Port
	}

	return nil
}

func trimHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// ApplyDefaults fills zero values
func ApplyDefaults(cfg *configtypes.RendeerConfig) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaultListen
	}
	if cfg.Server.CacheControlMaxAge == 0 {
		cfg.Server.CacheControlMaxAge = types.Duration(defaultCacheControlMaxAge)
	}

	if cfg.Render.PageTimeout == 0 {
		cfg.Render.PageTimeout = types.Duration(defaultPageTimeout)
	}
	if cfg.Render.RenderTimeout == 0 {
		cfg.Render.RenderTimeout = types.Duration(defaultRenderTimeout)
	}
	if cfg.Render.Concurrency == "" {
		cfg.Render.Concurrency = "0"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = types.Duration(CalculateServerTimeout(&cfg.Render))
	}

	dc := &cfg.Cache.Distributed
	if dc.Backend == "" {
		dc.Backend = configtypes.BackendMemcached
	}
	if len(dc.Hosts) == 0 && dc.Backend == configtypes.BackendMemcached {
		dc.Hosts = []string{defaultMemcachedHost}
	}
	if dc.Prefix == "" {
		dc.Prefix = defaultCachePrefix
	}
	if dc.Compression == "" {
		dc.Compression = configtypes.CompressionSnappy
	}
	if dc.Expiry == 0 {
		dc.Expiry = types.Duration(defaultExpiry)
	}
	if dc.Timeout == 0 {
		dc.Timeout = types.Duration(defaultCacheTimeout)
	}
	if dc.Writers == 0 {
		dc.Writers = defaultWriters
	}
	if dc.QueueSize == 0 {
		dc.QueueSize = defaultQueueSize
	}
	if dc.Breaker.FailureThreshold == 0 {
		dc.Breaker.FailureThreshold = defaultFailureThreshold
	}
	if dc.Breaker.Delay == 0 {
		dc.Breaker.Delay = types.Duration(defaultBreakerDelay)
	}

	// If both outputs are disabled, enable console
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "rendeer"
	}
}

// CalculateServerTimeout returns the FastHTTP read/write timeout:
// navigation budget + serialization budget + SafetyMargin
func CalculateServerTimeout(r *configtypes.RenderConfig) time.Duration {
	return r.PageTimeout.ToDuration() + r.RenderTimeout.ToDuration() + SafetyMargin
}

// Validate checks configuration validity
func Validate(cfg *configtypes.RendeerConfig) error {
	if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}
	if cfg.Server.CacheControlMaxAge < 0 {
		return fmt.Errorf("server.cache_control_max_age must not be negative")
	}

	if err := validateRender(&cfg.Render); err != nil {
		return err
	}

	if cfg.Cache.Local.Capacity < 0 {
		return fmt.Errorf("cache.local.capacity must be >= 0, got %d", cfg.Cache.Local.Capacity)
	}
	if err := validateDistributed(&cfg.Cache.Distributed); err != nil {
		return err
	}

	if err := validateLog(&cfg.Log); err != nil {
		return err
	}

	return validateMetrics(cfg)
}

func validateRender(r *configtypes.RenderConfig) error {
	if len(r.Whitelist) == 0 {
		return fmt.Errorf("render.whitelist must contain at least one pattern")
	}
	if _, err := pattern.CompileAll(r.Whitelist); err != nil {
		return fmt.Errorf("invalid render.whitelist: %w", err)
	}
	if r.PageTimeout <= 0 {
		return fmt.Errorf("render.page_timeout must be positive")
	}
	if r.RenderTimeout <= 0 {
		return fmt.Errorf("render.render_timeout must be positive")
	}
	if r.Concurrency != configtypes.ConcurrencyAuto {
		n, err := strconv.Atoi(r.Concurrency)
		if err != nil || n < 0 {
			return fmt.Errorf("render.concurrency must be 'auto' or a non-negative integer")
		}
	}
	return nil
}

func validateDistributed(dc *configtypes.DistributedCacheConfig) error {
	if !dc.Enabled {
		return nil
	}

	switch dc.Backend {
	case configtypes.BackendMemcached, configtypes.BackendRedis:
	default:
		return fmt.Errorf("invalid cache.distributed.backend: %s (must be memcached or redis)", dc.Backend)
	}
	if len(dc.Hosts) == 0 {
		return fmt.Errorf("cache.distributed.hosts is required when the distributed cache is enabled")
	}

	switch dc.Compression {
	case configtypes.CompressionNone, configtypes.CompressionSnappy, configtypes.CompressionLZ4:
	default:
		return fmt.Errorf("invalid cache.distributed.compression: %s (must be none, snappy, or lz4)", dc.Compression)
	}

	if dc.Expiry < 0 {
		return fmt.Errorf("cache.distributed.expiry must not be negative")
	}
	if dc.Writers < 0 || dc.QueueSize < 0 {
		return fmt.Errorf("cache.distributed.writers and queue_size must be >= 0")
	}
	return nil
}

func validateLog(l *configtypes.LogConfig) error {
	validLogLevels := map[string]bool{
		configtypes.LogLevelDebug:  true,
		configtypes.LogLevelInfo:   true,
		configtypes.LogLevelWarn:   true,
		configtypes.LogLevelError:  true,
		configtypes.LogLevelDPanic: true,
		configtypes.LogLevelPanic:  true,
		configtypes.LogLevelFatal:  true,
	}
	if !validLogLevels[l.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, error, dpanic, panic, or fatal)", l.Level)
	}

	if l.Console.Enabled && l.Console.Format != configtypes.LogFormatJSON && l.Console.Format != configtypes.LogFormatConsole {
		return fmt.Errorf("invalid log.console.format: %s (must be json or console)", l.Console.Format)
	}

	if !l.File.Enabled {
		return nil
	}
	if l.File.Path == "" {
		return fmt.Errorf("log.file.path must be specified when file logging is enabled")
	}
	if l.File.Format != configtypes.LogFormatJSON && l.File.Format != configtypes.LogFormatText {
		return fmt.Errorf("invalid log.file.format: %s (must be json or text)", l.File.Format)
	}
	rot := l.File.Rotation
	if rot.MaxSize < 0 || rot.MaxAge < 0 || rot.MaxBackups < 0 {
		return fmt.Errorf("log.file.rotation values must be >= 0")
	}
	return nil
}

func validateMetrics(cfg *configtypes.RendeerConfig) error {
	m := cfg.Metrics
	if m.Enabled {
		if err := configtypes.ValidateListenAddress(m.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}

		metricsPort, err1 := configtypes.GetPortFromListen(m.Listen)
		serverPort, err2 := configtypes.GetPortFromListen(cfg.Server.Listen)
		if err1 == nil && err2 == nil && metricsPort == serverPort {
			return fmt.Errorf("metrics.listen port (%d) must differ from server.listen port (%d) when metrics enabled", metricsPort, serverPort)
		}
	}

	if m.Path != "" && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", m.Path)
	}
	if m.Namespace != "" && !metricsNamespacePattern.MatchString(m.Namespace) {
		return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", m.Namespace)
	}
	return nil
}

// GetConfigPath resolves the config file path
func GetConfigPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("config file does not exist: %s", absPath)
	}

	return absPath, nil
}
