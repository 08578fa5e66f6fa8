package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const audience = "recette"

type Claims struct {
	OwnerID string   `json:"owner_id"`
	Roles   []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 token naming owner as the job owner.
func NewToken(secret, issuer, owner string, roles []string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	cl := Claims{
		OwnerID: owner,
		Roles:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  []string{audience},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies signature, issuer, audience and expiry.
func ParseToken(secret, issuer, tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	cl := &Claims{}
	if _, err := parser.ParseWithClaims(tokenStr, cl, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return nil, err
	}
	if cl.OwnerID == "" {
		cl.OwnerID = cl.Subject
	}
	if cl.OwnerID == "" {
		return nil, fmt.Errorf("token has no owner")
	}
	return cl, nil
}
