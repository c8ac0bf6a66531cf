package auth

import (
	"context"
	"time"
)

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Identity is the caller identity extracted from a verified access
// token. Authorization is stateless; holding an Identity does not imply
// the underlying session is still unrevoked.
type Identity struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

// Account is a stored credential record.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// CredentialStore is the persistence boundary for accounts. The engine
// never sees plaintext passwords past hashing and never stores them.
//
// Implementations map their duplicate-key and not-found conditions to
// [ErrAccountExists] and [ErrUserNotFound].
type CredentialStore interface {
	Create(ctx context.Context, account *Account) error
	ByUsername(ctx context.Context, username string) (*Account, error)
	ByID(ctx context.Context, id string) (*Account, error)
}
