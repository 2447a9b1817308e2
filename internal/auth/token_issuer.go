package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 60 * time.Minute
	DefaultIssuer   = "888cargo-auth"
	DefaultAudience = "888cargo-api"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates access tokens for authenticated users.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with defaults for issuer, audience and ttl.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = DefaultAudience
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        issuer,
			Audience:      audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}, nil
}

// IssueToken produces a signed JWT and its expiry (seconds) for subject.
func (i *TokenIssuer) IssueToken(_ context.Context, subject string) (string, int64, error) {
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.config.Issuer,
		Audience:  []string{i.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the JWT is well formed and returns the subject.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
