// Package token issues and verifies the signed access and refresh tokens
// used by the auth engine.
//
// Tokens are compact JWS strings signed with HS256. The header carries a
// key id so the signing secret can be rotated: verification consults a
// kid-keyed set of secrets while issuance always uses the active key.
// Every token embeds a type claim ("access" or "refresh") that is checked
// on parse, so a refresh token can never pass an access check.
//
// All operations are pure CPU work over the configured secrets and the
// clock; the package performs no I/O and is safe for concurrent use.
package token
