package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"user-service/internal/audit"
	"user-service/internal/metrics"
	"user-service/internal/password"
	"user-service/internal/rate"
	"user-service/internal/session"
	"user-service/internal/token"
)

// Engine executes the authentication flows. Safe for concurrent use.
type Engine struct {
	config    Config
	codec     *token.Codec
	hasher    *password.Hasher
	decoyHash string
	creds     CredentialStore
	sessions  *session.Store
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	audit     *audit.Dispatcher
	warn      func(msg string, err error)
}

// Register creates an account with a hashed password. An empty role
// defaults to the configured role.
func (e *Engine) Register(ctx context.Context, username, email, passwd, role string) (*Account, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if role == "" {
		role = e.config.DefaultRole
	}

	if len(username) < 3 || len(username) > 80 {
		return nil, fmt.Errorf("%w: username must be 3-80 characters", ErrRegistrationInvalid)
	}
	if _, err := mail.ParseAddress(email); err != nil || len(email) > 120 {
		return nil, fmt.Errorf("%w: invalid email", ErrRegistrationInvalid)
	}
	if !slices.Contains(e.config.AllowedRoles, role) {
		return nil, fmt.Errorf("%w: unknown role", ErrRegistrationInvalid)
	}

	hash, err := e.hasher.Hash(passwd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistrationInvalid, err)
	}

	account := &Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}

	if err := e.creds.Create(ctx, account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metrics.Inc(metrics.RegisterDuplicate)
			e.emit(ctx, audit.EventRegister, "", "", false, ErrAccountExists.Error())
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(metrics.RegisterSuccess)
	e.emit(ctx, audit.EventRegister, account.ID, "", true, "")

	return account, nil
}

// Login verifies credentials and opens a fresh session. Unknown
// identifiers and wrong passwords are indistinguishable to the caller
// and cost one hash evaluation each.
func (e *Engine) Login(ctx context.Context, username, passwd string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIP(ctx)

	err := e.withStoreRetry(ctx, func() error {
		return e.limiter.CheckLogin(ctx, username, ip)
	})
	if err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Inc(metrics.LoginRateLimited)
			e.emit(ctx, audit.EventLogin, "", "", false, ErrLoginRateLimited.Error())
			return nil, ErrLoginRateLimited
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	account, err := e.creds.ByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = e.hasher.Verify(passwd, e.decoyHash)
			return nil, e.failLogin(ctx, username, ip)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ok, err := e.hasher.Verify(passwd, account.PasswordHash)
	if err != nil {
		e.warnf("verify stored hash", err)
		return nil, e.failLogin(ctx, username, ip)
	}
	if !ok {
		return nil, e.failLogin(ctx, username, ip)
	}

	if err := e.limiter.ResetLogin(ctx, username, ip); err != nil {
		e.warnf("reset login counters", err)
	}

	var sess *session.Session
	err = e.withStoreRetry(ctx, func() error {
		var createErr error
		sess, createErr = e.sessions.Create(ctx, account.ID, account.Role, e.config.Token.RefreshTTL)
		return createErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pair, err := e.issuePair(account.ID, sess.SessionID, account.Role)
	if err != nil {
		if revokeErr := e.sessions.Revoke(ctx, sess.SessionID); revokeErr != nil {
			e.warnf("revoke session after signing failure", revokeErr)
		}
		return nil, err
	}

	e.metrics.Inc(metrics.LoginSuccess)
	e.metrics.Inc(metrics.SessionCreated)
	e.emit(ctx, audit.EventLogin, account.ID, sess.SessionID, true, "")

	return pair, nil
}

func (e *Engine) failLogin(ctx context.Context, username, ip string) error {
	if err := e.limiter.IncrementLogin(ctx, username, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		e.warnf("record failed login", err)
	}
	e.metrics.Inc(metrics.LoginFailure)
	e.emit(ctx, audit.EventLogin, "", "", false, ErrInvalidCredentials.Error())
	return ErrInvalidCredentials
}

// Refresh rotates the refresh token: the presented token's session is
// atomically revoked and replaced, and a new pair is issued against the
// successor. Presenting an already-rotated token is treated as theft:
// every session of the user is revoked and [ErrSessionReuse] returned.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.codec.ParseRefresh(refreshToken)
	if err != nil {
		e.metrics.Inc(metrics.RefreshFailure)
		return nil, ErrTokenInvalid
	}

	err = e.withStoreRetry(ctx, func() error {
		return e.limiter.CheckRefresh(ctx, claims.SessionID)
	})
	if err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Inc(metrics.RefreshRateLimited)
			e.emit(ctx, audit.EventRefresh, claims.Subject, claims.SessionID, false, ErrRefreshRateLimited.Error())
			return nil, ErrRefreshRateLimited
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var sess *session.Session
	err = e.withStoreRetry(ctx, func() error {
		var rotateErr error
		sess, rotateErr = e.sessions.Rotate(ctx, claims.SessionID, e.config.Token.RefreshTTL)
		return rotateErr
	})

	switch {
	case err == nil:
	case errors.Is(err, session.ErrAlreadyRotated):
		return nil, e.handleReuse(ctx, claims)
	case errors.Is(err, session.ErrNotFound):
		e.metrics.Inc(metrics.RefreshFailure)
		e.emit(ctx, audit.EventRefresh, claims.Subject, claims.SessionID, false, ErrTokenInvalid.Error())
		return nil, ErrTokenInvalid
	case errors.Is(err, session.ErrCorrupt):
		e.warnf("rotate corrupt session entry", err)
		e.metrics.Inc(metrics.RefreshFailure)
		return nil, ErrTokenInvalid
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pair, err := e.issuePair(sess.UserID, sess.SessionID, sess.Role)
	if err != nil {
		if revokeErr := e.sessions.Revoke(ctx, sess.SessionID); revokeErr != nil {
			e.warnf("revoke session after signing failure", revokeErr)
		}
		return nil, err
	}

	e.metrics.Inc(metrics.RefreshSuccess)
	e.metrics.Inc(metrics.SessionRevoked)
	e.metrics.Inc(metrics.SessionCreated)
	e.emit(ctx, audit.EventRefresh, sess.UserID, sess.SessionID, true, "")

	return pair, nil
}

// handleReuse is the defensive response to a rotated token coming back:
// someone holds a token that was already spent, so the whole account's
// sessions are revoked.
func (e *Engine) handleReuse(ctx context.Context, claims *token.Claims) error {
	e.metrics.Inc(metrics.RefreshReuseDetected)

	revoked := 0
	err := e.withStoreRetry(ctx, func() error {
		var revokeErr error
		revoked, revokeErr = e.sessions.RevokeAllForUser(ctx, claims.Subject)
		return revokeErr
	})
	if err != nil {
		e.warnf("revoke sessions after reuse detection", err)
	}
	for i := 0; i < revoked; i++ {
		e.metrics.Inc(metrics.SessionRevoked)
	}

	e.emit(ctx, audit.EventRefreshReuse, claims.Subject, claims.SessionID, false, ErrSessionReuse.Error())

	return ErrSessionReuse
}

// Logout revokes the session behind the refresh token. Best effort and
// idempotent: invalid tokens and store failures are swallowed so a
// client can always complete its local logout.
func (e *Engine) Logout(ctx context.Context, refreshToken string) {
	if e == nil {
		return
	}

	claims, err := e.codec.ParseRefresh(refreshToken)
	if err != nil {
		return
	}

	err = e.withStoreRetry(ctx, func() error {
		return e.sessions.Revoke(ctx, claims.SessionID)
	})
	if err != nil {
		e.warnf("revoke session on logout", err)
		return
	}

	e.metrics.Inc(metrics.Logout)
	e.metrics.Inc(metrics.SessionRevoked)
	e.emit(ctx, audit.EventLogout, claims.Subject, claims.SessionID, true, "")
}

// LogoutAll revokes every session of the user and returns how many
// entries were revoked.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	revoked := 0
	err := e.withStoreRetry(ctx, func() error {
		var revokeErr error
		revoked, revokeErr = e.sessions.RevokeAllForUser(ctx, userID)
		return revokeErr
	})
	if err != nil {
		return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(metrics.LogoutAll)
	for i := 0; i < revoked; i++ {
		e.metrics.Inc(metrics.SessionRevoked)
	}
	e.emit(ctx, audit.EventLogoutAll, userID, "", true, "")

	return revoked, nil
}

// Authorize verifies an access token without touching any store. All
// failures collapse into [ErrUnauthorized].
func (e *Engine) Authorize(ctx context.Context, accessToken string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.codec.ParseAccess(accessToken)
	e.metrics.Observe(time.Since(start))

	if err != nil {
		e.metrics.Inc(metrics.AuthorizeFailure)
		return nil, ErrUnauthorized
	}

	return &Identity{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Role:      claims.Role,
	}, nil
}

// Me returns the account record for a verified identity.
func (e *Engine) Me(ctx context.Context, userID string) (*Account, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.creds.ByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return account, nil
}

// SessionActive reports whether the session behind an identity is still
// live in the registry. Slower than Authorize; intended for sensitive
// endpoints that opt into registry confirmation.
func (e *Engine) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	active, err := e.sessions.IsActive(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return active, nil
}

// Ping checks registry availability.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if _, err := e.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// MetricsSnapshot exposes the current counters for exporters.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	if e == nil {
		return metrics.Snapshot{Counters: map[metrics.ID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) issuePair(userID, sessionID, role string) (*TokenPair, error) {
	access, err := e.codec.IssueAccess(userID, sessionID, role)
	if err != nil {
		return nil, err
	}
	refresh, err := e.codec.IssueRefresh(userID, sessionID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// withStoreRetry runs op and retries it once after a short backoff when
// the failure is a transport-level store error. The session registry
// and the rate counters share the retry contract.
func (e *Engine) withStoreRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !storeRetryable(err) {
		return err
	}

	e.metrics.Inc(metrics.StoreRetry)

	select {
	case <-time.After(e.config.RetryBackoff):
	case <-ctx.Done():
		return err
	}

	return op()
}

func storeRetryable(err error) bool {
	return errors.Is(err, session.ErrStoreUnavailable) || errors.Is(err, rate.ErrStoreUnavailable)
}

func (e *Engine) emit(ctx context.Context, eventType audit.EventType, userID, sessionID string, success bool, errMsg string) {
	e.audit.Emit(ctx, audit.Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIP(ctx),
		Success:   success,
		Error:     errMsg,
	})
}

func (e *Engine) warnf(msg string, err error) {
	if e.warn != nil {
		e.warn(msg, err)
	}
}
