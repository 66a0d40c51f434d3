package guard

import (
	"fmt"
	"time"

	"github.com/agentcore/runtime/internal/ratelimit"
	"github.com/agentcore/runtime/pkg/models"
)

// RateLimitConfig configures the dual-window (per-minute, per-hour) rate
// limit stage.
type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
	Order             int
}

// DefaultRateLimitConfig returns sane defaults: 20 requests/minute, 300/hour.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		RequestsPerHour:   300,
		Order:             10,
	}
}

// RateLimitStage enforces independent per-minute and per-hour token-bucket
// limits per user. A request is checked against the minute window first and
// only then against the hour window; either one tripping rejects the
// request. Generalizes the single-window
// ratelimit.Limiter into a dual-window checker the way ratelimit.MultiLimiter
// checks several limiters at once.
type RateLimitStage struct {
	cfg     RateLimitConfig
	minute  *ratelimit.Limiter
	hour    *ratelimit.Limiter
}

// NewRateLimitStage builds a stage backed by two independent token-bucket
// limiters: one whose burst equals the per-minute allowance and refills
// across a minute, one whose burst equals the per-hour allowance and
// refills across an hour.
func NewRateLimitStage(cfg RateLimitConfig) *RateLimitStage {
	minuteCfg := ratelimit.Config{
		RequestsPerSecond: float64(cfg.RequestsPerMinute) / time.Minute.Seconds(),
		BurstSize:         cfg.RequestsPerMinute,
		Enabled:           true,
	}
	hourCfg := ratelimit.Config{
		RequestsPerSecond: float64(cfg.RequestsPerHour) / time.Hour.Seconds(),
		BurstSize:         cfg.RequestsPerHour,
		Enabled:           true,
	}

	return &RateLimitStage{
		cfg:    cfg,
		minute: ratelimit.NewLimiter(minuteCfg),
		hour:   ratelimit.NewLimiter(hourCfg),
	}
}

func (s *RateLimitStage) Name() string { return "rate_limit" }
func (s *RateLimitStage) Order() int   { return s.cfg.Order }

// Check consumes a minute-window token for cmd.UserID and, only if that
// succeeds, an hour-window token; a rejection by the minute window leaves
// the hour window untouched. An empty UserID is allowed without being
// counted. Different
// UserID values have fully independent counters because the underlying
// Limiter keys its buckets per string key.
func (s *RateLimitStage) Check(cmd GuardCommand) models.GuardResult {
	if cmd.UserID == "" {
		return models.GuardAllowed()
	}

	if !s.minute.Allow(cmd.UserID) {
		return models.GuardRejected(
			fmt.Sprintf("rate limit exceeded: %d requests per minute", s.cfg.RequestsPerMinute),
			models.GuardRateLimited, s.Name())
	}
	if !s.hour.Allow(cmd.UserID) {
		return models.GuardRejected(
			fmt.Sprintf("rate limit exceeded: %d requests per hour", s.cfg.RequestsPerHour),
			models.GuardRateLimited, s.Name())
	}
	return models.GuardAllowed()
}
