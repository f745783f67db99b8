package linkauth

import (
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/linkauth/internal/audit"
	"github.com/MrEthical07/linkauth/internal/limiters"
	"github.com/MrEthical07/linkauth/internal/stores"
	"github.com/MrEthical07/linkauth/jwt"
	"github.com/MrEthical07/linkauth/session"
)

// Engine issues magic links, redeems them into sessions, and answers
// "who is this token" for the cookie bridge. Build one with [New].
//
// An Engine is safe for concurrent use once built.
type Engine struct {
	config       Config
	sessionStore *session.Store
	linkStore    *stores.MagicLinkStore
	limiter      *limiters.SignInLimiter
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	jwtManager   *jwt.Manager
	users        UserDirectory
	mailer       Mailer
	logger       *slog.Logger
	now          func() time.Time
}

// Close flushes pending audit events. Further audit events are dropped.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) ready() bool {
	return e != nil && e.sessionStore != nil && e.jwtManager != nil && e.users != nil
}
