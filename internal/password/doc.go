// Package password hashes and verifies user secrets with argon2id in PHC
// string format. Verification uses a constant-time comparison of the
// derived keys so mismatches are not distinguishable by timing.
package password
