package configtypes

import (
	"github.com/edgecomet/rendeer/pkg/types"
)

// Log level constants
const (
	LogLevelDebug  = "debug"
	LogLevelInfo   = "info"
	LogLevelWarn   = "warn"
	LogLevelError  = "error"
	LogLevelDPanic = "dpanic"
	LogLevelPanic  = "panic"
	LogLevelFatal  = "fatal"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// Distributed cache backends
const (
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// Compression algorithms for distributed cache values
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// ConcurrencyAuto sizes the render limiter from available memory
const ConcurrencyAuto = "auto"

// RendeerConfig is the top-level service configuration
type RendeerConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Render  RenderConfig  `yaml:"render"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Listen  string         `yaml:"listen"`
	Timeout types.Duration `yaml:"timeout"`
	// CacheControlMaxAge is advertised as public,max-age on the root and rendered responses
	CacheControlMaxAge types.Duration `yaml:"cache_control_max_age"`
}

// RenderConfig controls the browser engine and the resource policy applied while rendering
type RenderConfig struct {
	Whitelist      []string       `yaml:"whitelist"`
	PageTimeout    types.Duration `yaml:"page_timeout"`
	RenderTimeout  types.Duration `yaml:"render_timeout"`
	Concurrency    string         `yaml:"concurrency"`               // "auto", "0" (unbounded) or a positive integer
	SSRFProtection *bool          `yaml:"ssrf_protection,omitempty"` // Reject literal private IP targets (default: true)
	Chrome         ChromeConfig   `yaml:"chrome"`
}

// IsSSRFProtectionEnabled reports the effective SSRF setting
func (r *RenderConfig) IsSSRFProtectionEnabled() bool {
	return r.SSRFProtection == nil || *r.SSRFProtection
}

type ChromeConfig struct {
	ExecPath  string   `yaml:"exec_path,omitempty"`
	UserAgent string   `yaml:"user_agent,omitempty"`
	NoSandbox bool     `yaml:"no_sandbox"`
	ExtraArgs []string `yaml:"extra_args,omitempty"`
}

type CacheConfig struct {
	Local       LocalCacheConfig       `yaml:"local"`
	Distributed DistributedCacheConfig `yaml:"distributed"`
}

type LocalCacheConfig struct {
	Capacity int `yaml:"capacity"` // 0 = unbounded
}

type DistributedCacheConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Backend     string         `yaml:"backend"`
	Hosts       []string       `yaml:"hosts"`
	Prefix      string         `yaml:"prefix"`
	Compression string         `yaml:"compression,omitempty"`
	Expiry      types.Duration `yaml:"expiry"`
	Timeout     types.Duration `yaml:"timeout"`
	Writers     int            `yaml:"writers"`
	QueueSize   int            `yaml:"queue_size"`
	Redis       RedisConfig    `yaml:"redis"`
	Breaker     BreakerConfig  `yaml:"breaker"`
}

type RedisConfig struct {
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BreakerConfig trips the distributed cache after consecutive failures
type BreakerConfig struct {
	FailureThreshold uint           `yaml:"failure_threshold"`
	Delay            types.Duration `yaml:"delay"`
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}
