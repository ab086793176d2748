// Package utils provides helpers for minting and verifying the HS256
// access tokens that identify callers on the REST and websocket surfaces.
package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/live-auction/internal/model"
)

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// AccessClaims are the claims carried by an access token.  The subject is
// the decimal user id; tenant and role travel as private claims.
type AccessClaims struct {
	TenantID uint64 `json:"tid"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid access token")

// NewAccessToken builds and signs an HS256 JWT for an identity.  The
// token expires ttl after now.
func NewAccessToken(secret string, id model.Identity, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := AccessClaims{
		TenantID: id.TenantID,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(id.UserID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseIdentity verifies raw against secret and returns the identity it
// carries.  Only HMAC-signed tokens with a known role and a numeric
// subject are accepted.
func ParseIdentity(secret, raw string) (model.Identity, error) {
	var claims AccessClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		// Type assert the signing method to HMAC; reject others.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return model.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return model.Identity{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	if !model.IsKnownRole(claims.Role) {
		return model.Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return model.Identity{UserID: userID, TenantID: claims.TenantID, Role: claims.Role}, nil
}
