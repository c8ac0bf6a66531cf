package auth

import (
	"errors"
	"time"

	"user-service/internal/audit"
	"user-service/internal/metrics"
	"user-service/internal/password"
	"user-service/internal/rate"
	"user-service/internal/token"
)

// Config aggregates the tuning of every engine component.
type Config struct {
	Token    token.Config
	Password password.Config
	Rate     rate.Config
	Audit    audit.Config
	Metrics  metrics.Config

	// SessionPrefix namespaces the registry's Redis keys.
	SessionPrefix string
	// StoreOpTimeout bounds each Redis round-trip.
	StoreOpTimeout time.Duration
	// RetryBackoff is the pause before the single retry of a failed
	// store operation.
	RetryBackoff time.Duration

	// DefaultRole is assigned to registrations that omit a role.
	DefaultRole string
	// AllowedRoles lists the roles Register accepts.
	AllowedRoles []string
}

// DefaultConfig returns production defaults. Token.Secret must still be
// supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Token: token.Config{
			Issuer:     "user-service",
			AccessTTL:  time.Hour,
			RefreshTTL: 720 * time.Hour,
			Leeway:     30 * time.Second,
		},
		Password: password.DefaultConfig(),
		Rate:     rate.DefaultConfig(),
		Audit: audit.Config{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: metrics.Config{
			Enabled:       true,
			EnableLatency: true,
		},
		SessionPrefix:  "us",
		StoreOpTimeout: 2 * time.Second,
		RetryBackoff:   50 * time.Millisecond,
		DefaultRole:    "customer",
		AllowedRoles:   []string{"customer", "admin"},
	}
}

func (c *Config) validate() error {
	if len(c.Token.Secret) == 0 {
		return errors.New("token signing secret required")
	}
	if c.DefaultRole == "" {
		return errors.New("default role required")
	}
	if len(c.AllowedRoles) == 0 {
		return errors.New("allowed roles required")
	}
	for _, role := range c.AllowedRoles {
		if role == c.DefaultRole {
			return nil
		}
	}
	return errors.New("default role must be an allowed role")
}
