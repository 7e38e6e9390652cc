package recovery

import (
	"math"
	"math/rand"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
)

// Config controls the retry loop and circuit breaking for one execution.
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	BackoffFactor    float64
	Jitter           bool
	BreakerThreshold int
	BreakerReset     time.Duration
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxRetries:       3,
	InitialDelay:     1 * time.Second,
	MaxDelay:         30 * time.Second,
	BackoffFactor:    2.0,
	Jitter:           true,
	BreakerThreshold: 5,
	BreakerReset:     60 * time.Second,
}

// Per-type delay bounds applied after the generic backoff computation.
const (
	rateLimitFloor    = 30 * time.Second
	networkCeiling    = 10 * time.Second
	timeoutMultiplier = 1.5
)

// withDefaults fills zero fields from DefaultConfig. A fully zero config
// means "use the defaults", jitter included; a partially filled one keeps
// its jitter flag as set.
func (c Config) withDefaults() Config {
	if c == (Config{}) {
		return DefaultConfig
	}
	d := DefaultConfig
	if c.MaxRetries > 0 {
		d.MaxRetries = c.MaxRetries
	}
	if c.InitialDelay > 0 {
		d.InitialDelay = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		d.MaxDelay = c.MaxDelay
	}
	if c.BackoffFactor > 0 {
		d.BackoffFactor = c.BackoffFactor
	}
	d.Jitter = c.Jitter
	if c.BreakerThreshold > 0 {
		d.BreakerThreshold = c.BreakerThreshold
	}
	if c.BreakerReset > 0 {
		d.BreakerReset = c.BreakerReset
	}
	return d
}

// computeDelay returns the wait before the attempt following attemptNumber
// (1-indexed). The base grows exponentially from InitialDelay and is
// clamped to MaxDelay, then jitter scales it by a uniform factor in
// [0.5, 1.0), and finally the error type's bounds apply: rate limits never
// wait less than the server-hinted floor, network errors never wait longer
// than 10s, timeouts wait half again as long.
func computeDelay(
	cfg Config,
	attemptNumber int,
	cerr *domain.ClassifiedError,
	rng *rand.Rand,
) time.Duration {
	base := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attemptNumber-1))
	if base > float64(cfg.MaxDelay) {
		base = float64(cfg.MaxDelay)
	}
	if base < 0 {
		base = 0
	}

	delay := time.Duration(base)
	if cfg.Jitter {
		delay = time.Duration(base * (0.5 + 0.5*rng.Float64()))
	}

	if cerr == nil {
		return delay
	}

	switch cerr.Type {
	case domain.ErrorTypeRateLimit:
		floor := rateLimitFloor
		// The classifier raises RetryDelay when the server sent a
		// RetryInfo hint; honor it when it is the stricter bound.
		if cerr.RetryDelay > floor {
			floor = cerr.RetryDelay
		}
		if delay < floor {
			delay = floor
		}
	case domain.ErrorTypeNetwork:
		if delay > networkCeiling {
			delay = networkCeiling
		}
	case domain.ErrorTypeTimeout:
		delay = time.Duration(float64(delay) * timeoutMultiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return delay
}
