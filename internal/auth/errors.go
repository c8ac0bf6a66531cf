package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown identifiers and wrong passwords
	// alike, so login failures do not reveal account existence.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned by Authorize for every access token
	// failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenInvalid is returned by Refresh for malformed, forged,
	// expired, and unknown refresh tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrSessionReuse is returned when a refresh token that was already
	// rotated is presented again. The engine has revoked the user's
	// sessions by the time this is returned.
	ErrSessionReuse = errors.New("refresh token reuse detected")
	// ErrLoginRateLimited is returned when the login attempt budget for
	// the identifier or source IP is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when a session refreshes faster
	// than the configured budget.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrAccountExists is returned by Register on a duplicate username or
	// email.
	ErrAccountExists = errors.New("account already exists")
	// ErrRegistrationInvalid is returned by Register when the submitted
	// fields fail validation.
	ErrRegistrationInvalid = errors.New("invalid registration request")
	// ErrUserNotFound is returned by profile lookups for unknown user ids.
	ErrUserNotFound = errors.New("user not found")
	// ErrStoreUnavailable is returned when a backing store cannot be
	// reached after the internal retry. Callers may retry the operation.
	ErrStoreUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady is returned when an operation is invoked on an
	// unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
