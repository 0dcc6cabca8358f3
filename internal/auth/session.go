// internal/auth/session.go
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Issuer signs and verifies player tokens. The player id travels in "sub".
type Issuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// ttl of issued tokens; 0 means no exp claim.
	ttl time.Duration
	now func() time.Time
}

// NewIssuer wraps an existing key pair.
func NewIssuer(priv ed25519.PrivateKey, pub ed25519.PublicKey, ttl time.Duration) *Issuer {
	return &Issuer{privateKey: priv, publicKey: pub, ttl: ttl, now: time.Now}
}

// GenerateIssuer creates a fresh ed25519 key pair at runtime. Tokens do not
// survive a restart.
func GenerateIssuer(ttl time.Duration) (*Issuer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return NewIssuer(priv, pub, ttl), nil
}

// LoadIssuer reads raw ed25519 keys from disk.
func LoadIssuer(privatePath, publicPath string, ttl time.Duration) (*Issuer, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, errors.New("invalid ed25519 key size")
	}
	return NewIssuer(ed25519.PrivateKey(privateKeyData), ed25519.PublicKey(publicKeyData), ttl), nil
}

// CreateJWT signs a token for playerID.
func (i *Issuer) CreateJWT(playerID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  playerID,
		IssuedAt: jwt.NewNumericDate(i.now()),
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(i.now().Add(i.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(i.privateKey)
}

// Authenticate verifies a token and returns its subject.
func (i *Issuer) Authenticate(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.publicKey, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing sub in jwt", ErrUnauthenticated)
	}
	return claims.Subject, nil
}

type playerKey struct{}

// WithPlayer stores the authenticated player id in ctx.
func WithPlayer(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, playerKey{}, playerID)
}

// PlayerFrom returns the authenticated player id, if any.
func PlayerFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(playerKey{}).(string)
	return id, ok && id != ""
}
