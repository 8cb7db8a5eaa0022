package chrome

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/edgecomet/rendeer/internal/common/configtypes"
)

// Config holds the engine and render settings
type Config struct {
	PageTimeout   time.Duration // Navigation wait for network idle
	RenderTimeout time.Duration // Bound on HTML serialization
	Concurrency   string        // "auto", "0" (unbounded) or integer string

	ExecPath  string
	UserAgent string
	NoSandbox bool
	ExtraArgs []string

	// ShutdownTimeout bounds how long Close waits for in-flight renders
	ShutdownTimeout time.Duration
}

// NewConfig converts the YAML render section to Config
func NewConfig(rc configtypes.RenderConfig) *Config {
	return &Config{
		PageTimeout:     rc.PageTimeout.ToDuration(),
		RenderTimeout:   rc.RenderTimeout.ToDuration(),
		Concurrency:     rc.Concurrency,
		ExecPath:        rc.Chrome.ExecPath,
		UserAgent:       rc.Chrome.UserAgent,
		NoSandbox:       rc.Chrome.NoSandbox,
		ExtraArgs:       rc.Chrome.ExtraArgs,
		ShutdownTimeout: 10 * time.Second,
	}
}

// DefaultConfig is used in tests to avoid constructing full Config structs
func DefaultConfig() *Config {
	return &Config{
		PageTimeout:     30 * time.Second,
		RenderTimeout:   10 * time.Second,
		Concurrency:     "0",
		NoSandbox:       true,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PageTimeout <= 0 {
		return fmt.Errorf("page timeout must be positive")
	}
	if c.RenderTimeout <= 0 {
		return fmt.Errorf("render timeout must be positive")
	}

	if c.Concurrency != configtypes.ConcurrencyAuto {
		n, err := strconv.Atoi(c.Concurrency)
		if err != nil {
			return fmt.Errorf("concurrency must be 'auto' or valid integer")
		}
		if n < 0 {
			return fmt.Errorf("concurrency must not be negative")
		}
	}

	return nil
}

// CalculateConcurrency returns the render limit; 0 means unbounded
func (c *Config) CalculateConcurrency() int {
	if c.Concurrency == configtypes.ConcurrencyAuto {
		return calculateAutoConcurrency()
	}

	n, err := strconv.Atoi(c.Concurrency)
	if err != nil || n < 0 {
		return calculateAutoConcurrency()
	}
	return n
}

// calculateAutoConcurrency sizes the limit from system RAM
// Formula: (Total RAM - 2GB) / 500MB per tab, clamped to [2, 50]
func calculateAutoConcurrency() int {
	v, err := mem.VirtualMemory()
	var totalRAMBytes int64

	if err != nil {
		totalRAMBytes = int64(8 * 1024 * 1024 * 1024) // 8GB fallback
	} else {
		totalRAMBytes = int64(v.Total)
	}

	reservedBytes := int64(2 * 1024 * 1024 * 1024)
	tabBytes := int64(500 * 1024 * 1024)

	limit := int((totalRAMBytes - reservedBytes) / tabBytes)
	if limit < 2 {
		limit = 2
	}
	if limit > 50 {
		limit = 50
	}
	return limit
}
