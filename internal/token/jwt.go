// Package token signs and verifies the access and refresh JWTs. Each token type
// has its own key; a token is only accepted by the verifier for its own type.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type separates access tokens from refresh tokens inside the claims.
type Type string

const (
	Access  Type = "access"
	Refresh Type = "refresh"
)

// ErrInvalid is returned for any token that fails verification.
var ErrInvalid = errors.New("invalid token")

// Claims is the JWT payload for both token types.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Type   Type   `json:"type"`
}

// Identity is what a verified token proves.
type Identity struct {
	UserID uuid.UUID
	Email  string
}

// Signer mints and verifies tokens of a single type with a single HS256 key.
type Signer struct {
	typ    Type
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewSigner returns a Signer for typ. The secret must not be empty.
func NewSigner(typ Type, secret []byte, ttl time.Duration, issuer string) (*Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%s token secret is empty", typ)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%s token ttl must be positive", typ)
	}
	return &Signer{typ: typ, secret: secret, ttl: ttl, issuer: issuer}, nil
}

// TTL is the lifetime of tokens minted by s.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Sign mints a token for id issued at now. It returns the token and its expiry.
func (s *Signer) Sign(id Identity, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.ttl).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID: id.UserID.String(),
		Email:  id.Email,
		Type:   s.typ,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses token and returns the identity it carries. Any malformed,
// expired, wrongly signed or wrong-type token yields ErrInvalid.
func (s *Signer) Verify(token string, now time.Time) (Identity, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid || claims.Type != s.typ {
		return Identity{}, ErrInvalid
	}
	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Identity{}, ErrInvalid
	}
	return Identity{UserID: uid, Email: claims.Email}, nil
}
