// Package auth issues and verifies the signed session tokens presented to the
// HTTP API and the websocket gateway.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/baduk1/threadsync/pkg/thread"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 24 * time.Hour

const issuerName = "threads"

// ErrInvalidToken is returned for tokens that fail verification for any
// reason: bad signature, wrong algorithm, expired or malformed.
var ErrInvalidToken = errors.New("invalid token")

// Claims identify the user a token was issued to.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// User returns the account the claims describe.
func (c *Claims) User() thread.User {
	return thread.User{ID: c.UserID, DisplayName: c.DisplayName, Email: c.Email}
}

// Issuer signs and verifies HS256 tokens with a shared secret.
type Issuer struct {
	secret []byte
	TTL    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. The secret must not be empty.
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret cannot be empty")
	}
	return &Issuer{secret: []byte(secret), TTL: DefaultTTL, now: time.Now}, nil
}

// Issue creates a signed token for user.
func (i *Issuer) Issue(user thread.User) (string, error) {
	if user.ID == "" {
		return "", fmt.Errorf("cannot issue a token without a user id")
	}

	now := i.now()
	claims := &Claims{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuerName,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.TTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing", ErrInvalidToken)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: malformed claims", ErrInvalidToken)
	}
	return claims, nil
}

// UserID verifies a token and returns only its user id. It has the shape the
// websocket gateway expects.
func (i *Issuer) UserID(tokenString string) (string, error) {
	claims, err := i.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
