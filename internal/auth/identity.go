package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the local user as carried by the session credential.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the credential's exp claim is in the past.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

var errNoSubject = errors.New("token carries no user claim")

// identityClaims lists the claim names backends use for the user id, in
// priority order.
var identityClaims = []string{"username", "sub", "userId", "user_id", "id"}

// ResolveIdentity reads the local user id from a JWT bearer token without
// verifying its signature.
func ResolveIdentity(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	var id Identity
	for _, name := range identityClaims {
		if v := claimString(claims[name]); v != "" {
			id.UserID = v
			break
		}
	}
	if id.UserID == "" {
		return Identity{}, errNoSubject
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

func claimString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}
