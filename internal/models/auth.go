package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the JWT payload of access tokens minted by the auth provider.
// Every service operation receives the claims of the acting user explicitly.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// ActsFor reports whether the claims belong to the given user or to an administrator.
func (c *JWTClaims) ActsFor(userID string) bool {
	if c == nil {
		return false
	}
	return c.UserID == userID || c.Role.IsAdmin()
}
