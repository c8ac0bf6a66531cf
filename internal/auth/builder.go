package auth

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"user-service/internal/audit"
	"user-service/internal/metrics"
	"user-service/internal/password"
	"user-service/internal/rate"
	"user-service/internal/session"
	"user-service/internal/token"
)

// Builder assembles an [Engine]. Configure, then call Build exactly
// once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	creds     CredentialStore
	auditSink audit.Sink
	warn      func(msg string, err error)

	built bool
}

// New returns a builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client shared by the session registry and the rate
// limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the account persistence backend.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.creds = store
	return b
}

// WithAuditSink sets the destination for audit events. Defaults to a
// no-op sink.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithWarn sets the hook invoked when a best-effort operation fails.
func (b *Builder) WithWarn(warn func(msg string, err error)) *Builder {
	b.warn = warn
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.creds == nil {
		return nil, errors.New("credential store required")
	}
	if err := b.config.validate(); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(b.config.Token)
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(b.config.Password)
	if err != nil {
		return nil, err
	}

	// Verified against when the identifier is unknown, so both failure
	// paths cost one argon2 evaluation.
	decoyHash, err := hasher.Hash("decoy-password-never-matches")
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    b.config,
		codec:     codec,
		hasher:    hasher,
		decoyHash: decoyHash,
		creds:     b.creds,
		sessions:  session.NewStore(b.redis, b.config.SessionPrefix, b.config.StoreOpTimeout),
		limiter:   rate.New(b.redis, b.config.Rate),
		metrics:   metrics.New(b.config.Metrics),
		audit:     audit.NewDispatcher(b.config.Audit, b.auditSink),
		warn:      b.warn,
	}

	b.built = true

	return engine, nil
}
