package auth

import "github.com/golang-jwt/jwt/v5"

type AccessTokenPayload struct {
	UserID string
	Email  string
	JTI    string
}

// AccessTokenClaims is the session token presented by the web app. Email is
// optional; purchase lookups fall back to it when no row carries the user id.
type AccessTokenClaims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
