// Package auth is the authentication engine: login, token refresh with
// rotation and reuse detection, logout, and stateless authorization.
//
// The engine composes the token codec, the Redis session registry, the
// credential store, the rate limiter, and the audit dispatcher. It owns
// the error taxonomy callers see: credential and token failures collapse
// into generic sentinels so responses do not leak whether an account
// exists or why exactly a token was rejected.
package auth
