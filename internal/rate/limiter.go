package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	EnableIPThrottle      bool
	EnableRefreshThrottle bool

	MaxLoginAttempts   int
	LoginCooldown      time.Duration
	MaxRefreshAttempts int
	RefreshCooldown    time.Duration
}

// DefaultConfig returns conservative production limits.
func DefaultConfig() Config {
	return Config{
		EnableIPThrottle:      true,
		EnableRefreshThrottle: true,
		MaxLoginAttempts:      5,
		LoginCooldown:         15 * time.Minute,
		MaxRefreshAttempts:    30,
		RefreshCooldown:       time.Minute,
	}
}

// Limiter enforces per-identifier and per-IP login limits and a
// per-session refresh limit using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func loginUserKey(username string) string { return "rl:login:u:" + username }
func loginIPKey(ip string) string         { return "rl:login:ip:" + ip }
func refreshKey(sessionID string) string  { return "rl:refresh:" + sessionID }

// CheckLogin reports whether the identifier+IP pair is still within the
// failed-login budget without recording an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, username, ip string) error {
	if err := l.checkCounter(ctx, loginUserKey(username), l.config.MaxLoginAttempts); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}

	return nil
}

// IncrementLogin records a failed login attempt for the identifier+IP
// pair and reports whether the budget is now exhausted.
func (l *Limiter) IncrementLogin(ctx context.Context, username, ip string) error {
	count, err := l.incrementWithTTL(ctx, loginUserKey(username), l.config.LoginCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LoginCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the failed-login counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, username, ip string) error {
	keys := []string{loginUserKey(username)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// CheckRefresh counts a refresh attempt against the session's window
// and returns [ErrRateLimited] once the budget is exceeded.
func (l *Limiter) CheckRefresh(ctx context.Context, sessionID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, refreshKey(sessionID), l.config.RefreshCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}

	return nil
}

// LoginAttempts returns the current failed-attempt counter for an
// identifier. Missing keys return zero.
func (l *Limiter) LoginAttempts(ctx context.Context, username string) (int, error) {
	count, err := l.redis.Get(ctx, loginUserKey(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if count > int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Fixed window: the TTL starts with the first hit and is never
	// extended by later ones.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return count, nil
}
