package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrSignInRateLimited        = errors.New("sign-in rate limited")
	ErrSignInLimiterUnavailable = errors.New("sign-in limiter unavailable")
)

// SignInConfig holds the magic-link throttle thresholds.
type SignInConfig struct {
	EnableEmailThrottle bool
	EnableIPThrottle    bool
	MaxRequests         int
	MaxVerifyAttempts   int
	Window              time.Duration
}

// SignInLimiter throttles link requests and redemptions.
type SignInLimiter struct {
	redis  redis.UniversalClient
	config SignInConfig
}

// NewSignInLimiter returns a limiter using redisClient.
func NewSignInLimiter(redisClient redis.UniversalClient, cfg SignInConfig) *SignInLimiter {
	return &SignInLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckRequest counts one magic-link request against the email and IP windows.
func (l *SignInLimiter) CheckRequest(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	if l.config.EnableEmailThrottle {
		if err := l.enforceFixedWindow(ctx, signInEmailKey(email), l.config.MaxRequests); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, signInIPKey(ip), l.config.MaxRequests); err != nil {
			return err
		}
	}
	return nil
}

// CheckVerify counts one link redemption attempt against the IP window.
func (l *SignInLimiter) CheckVerify(ctx context.Context, ip string) error {
	if l == nil || !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	return l.enforceFixedWindow(ctx, verifyIPKey(ip), l.config.MaxVerifyAttempts)
}

func (l *SignInLimiter) enforceFixedWindow(ctx context.Context, key string, max int) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignInLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrSignInLimiterUnavailable, err)
		}
	}

	if count > int64(max) {
		return ErrSignInRateLimited
	}

	return nil
}

func signInEmailKey(email string) string {
	return "alse:" + email
}

func signInIPKey(ip string) string {
	return "alsip:" + ip
}

func verifyIPKey(ip string) string {
	return "alvip:" + ip
}
