package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type tags embedded in the "type" claim.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

var (
	// ErrMalformed is returned when a token cannot be decoded or fails a
	// claim check other than signature or expiry.
	ErrMalformed = errors.New("malformed token")
	// ErrBadSignature is returned when the signature does not verify under
	// any known key.
	ErrBadSignature = errors.New("invalid token signature")
	// ErrExpired is returned when the token is past its expiry beyond the
	// configured leeway.
	ErrExpired = errors.New("token expired")
	// ErrWrongUse is returned when a token of one type is presented where
	// the other is expected.
	ErrWrongUse = errors.New("wrong token type")
)

// Config holds codec signing parameters.
type Config struct {
	// Secret is the active HS256 signing key.
	Secret []byte
	// KeyID identifies Secret in the token header. Required when
	// VerifyKeys is set.
	KeyID string
	// VerifyKeys maps key ids to secrets accepted during verification.
	// Enables zero-downtime secret rotation: old kids stay here until
	// their tokens age out.
	VerifyKeys map[string][]byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Leeway tolerated on expiry checks to absorb clock skew between
	// service instances.
	Leeway time.Duration
}

// Claims is the payload carried by both token types.
type Claims struct {
	SessionID string `json:"sid"`
	TokenType string `json:"type"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens. Immutable after construction.
type Codec struct {
	config Config
}

// NewCodec validates cfg and returns a [Codec].
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if len(cfg.VerifyKeys) > 0 {
		if cfg.KeyID == "" {
			return nil, errors.New("KeyID is required when VerifyKeys is set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if len(key) == 0 {
				return nil, fmt.Errorf("empty verify key for kid %q", kid)
			}
		}
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Codec{config: cfg}, nil
}

// IssueAccess signs a short-lived access token bound to the session.
func (c *Codec) IssueAccess(userID, sessionID, role string) (string, error) {
	return c.issue(userID, sessionID, role, UseAccess, c.config.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token bound to the session.
func (c *Codec) IssueRefresh(userID, sessionID string) (string, error) {
	return c.issue(userID, sessionID, "", UseRefresh, c.config.RefreshTTL)
}

// ParseAccess verifies tokenStr and requires the access type tag.
func (c *Codec) ParseAccess(tokenStr string) (*Claims, error) {
	return c.parse(tokenStr, UseAccess)
}

// ParseRefresh verifies tokenStr and requires the refresh type tag.
func (c *Codec) ParseRefresh(tokenStr string) (*Claims, error) {
	return c.parse(tokenStr, UseRefresh)
}

func (c *Codec) issue(userID, sessionID, role, use string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID: sessionID,
		TokenType: use,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    c.config.Issuer,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if c.config.KeyID != "" {
		tok.Header["kid"] = c.config.KeyID
	}

	return tok.SignedString(c.config.Secret)
}

func (c *Codec) parse(tokenStr, expectedUse string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, c.verifyKey)
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.TokenType != expectedUse {
		return nil, ErrWrongUse
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrMalformed
	}

	return claims, nil
}

func (c *Codec) verifyKey(t *jwt.Token) (interface{}, error) {
	if len(c.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := c.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if c.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != c.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return c.config.Secret, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrBadSignature
	default:
		return ErrMalformed
	}
}
