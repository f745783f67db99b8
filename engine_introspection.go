package linkauth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionInfo describes one live session without any token material.
type SessionInfo struct {
	SessionID string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	Current   bool   `json:"current"`
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// ListSessions returns the live sessions of the token's user. The session
// behind accessToken is marked Current.
func (e *Engine) ListSessions(ctx context.Context, accessToken string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	claims, err := e.authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	ids, err := e.sessionStore.ActiveSessionIDs(ctx, claims.UserID())
	if err != nil {
		return nil, wrapUnavailable(err)
	}

	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		sess, err := e.sessionStore.Get(ctx, id)
		if err != nil {
			// The index lags expiry.
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, wrapUnavailable(err)
		}
		out = append(out, SessionInfo{
			SessionID: id,
			CreatedAt: sess.CreatedAt,
			ExpiresAt: sess.ExpiresAt,
			Current:   id == claims.SID,
		})
	}

	return out, nil
}

// Health pings Redis.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessionStore == nil {
		return HealthStatus{}
	}

	latency, err := e.sessionStore.Ping(ctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
	}
}
