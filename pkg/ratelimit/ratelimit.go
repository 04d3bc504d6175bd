package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/editguard/editguard/pkg/config"
	infraprometheus "github.com/editguard/editguard/pkg/infra/prometheus"
	"github.com/editguard/editguard/pkg/types"
)

// ThreatSink receives the threat event emitted when an identifier blows
// its window. The ledger implements this.
type ThreatSink interface {
	Report(ctx context.Context, evt types.ThreatEvent)
}

// Limiter enforces a fixed request window per identifier.
type Limiter struct {
	logger       *logrus.Logger
	cfg          config.RateLimitConfig
	store        CounterStore
	sink         ThreatSink
	timeProvider func() time.Time
}

// LimiterOpts carries optional collaborators.
type LimiterOpts struct {
	Store        CounterStore
	Sink         ThreatSink
	TimeProvider func() time.Time
}

func NewLimiter(cfg config.RateLimitConfig, logger *logrus.Logger, opts *LimiterOpts) *Limiter {
	l := &Limiter{
		logger:       logger,
		cfg:          cfg,
		timeProvider: time.Now,
	}
	if opts != nil {
		l.store = opts.Store
		l.sink = opts.Sink
		if opts.TimeProvider != nil {
			l.timeProvider = opts.TimeProvider
		}
	}
	if l.store == nil {
		l.store = NewMemoryStore(l.timeProvider)
	}
	return l
}

// Allow reports whether identifier may proceed inside the current
// window. Store failures fail open: losing rate limiting for one call is
// preferable to blocking legitimate edits on an infra hiccup.
func (l *Limiter) Allow(ctx context.Context, identifier string) bool {
	if !l.cfg.Enabled {
		return true
	}

	count, resetAt, err := l.store.Incr(ctx, identifier, l.cfg.Window)
	if err != nil {
		l.logger.WithError(err).WithField("identifier", identifier).
			Error("rate limit store failed, allowing request")
		return true
	}

	if count <= int64(l.cfg.MaxRequests) {
		return true
	}

	infraprometheus.RateLimitDenials.Inc()
	l.logger.WithFields(logrus.Fields{
		"identifier": identifier,
		"count":      count,
		"limit":      l.cfg.MaxRequests,
	}).Warn("rate limit exceeded")

	if l.sink != nil {
		l.sink.Report(ctx, types.ThreatEvent{
			ID:        uuid.NewString(),
			Type:      types.ThreatRateLimitExceeded,
			Severity:  types.SeverityMedium,
			Timestamp: l.timeProvider(),
			Source:    identifier,
			Details: map[string]interface{}{
				"count":    count,
				"limit":    l.cfg.MaxRequests,
				"reset_at": resetAt,
			},
		})
	}
	return false
}

// Reset clears the window for identifier.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	return l.store.Reset(ctx, identifier)
}
