// Package session is the Redis-backed registry of refresh sessions.
//
// Each issued refresh token is bound to exactly one registry entry. An
// entry is created at login, revoked at logout, and replaced on refresh
// through [Store.Rotate], which runs as a single Lua compare-and-swap:
// it flips the old entry's revoked-at and writes the successor entry in
// one atomic step. Under N concurrent rotations of the same session id
// exactly one caller wins; the rest observe [ErrAlreadyRotated], which
// the engine treats as evidence of refresh-token theft.
//
// Revoked entries are not deleted. They keep their revoked-at timestamp
// until Redis TTL expiry so that late arrivals of the dead token are
// still recognizable as reuse rather than as an unknown session.
//
// Atomicity lives in the store, not in process memory: multiple service
// instances may share one Redis and the guarantees hold across them.
package session
