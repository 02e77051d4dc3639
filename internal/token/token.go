// Package token issues and validates the JWTs that authorize mutating calls
// to the rowsync admin API.
package token

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	Issuer = "rowsync"
)

// DefaultLifetime is how long a token is valid for if Generate is not given a
// lifetime.
const DefaultLifetime = time.Hour

// Validate checks that tok is a token signed with secret by Generate and has
// not expired. It returns the subject of the token.
func Validate(tok string, secret []byte) (string, error) {
	parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}), jwt.WithIssuer(Issuer), jwt.WithLeeway(time.Minute), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	subj, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("cannot get subject: %w", err)
	}
	if subj == "" {
		return "", fmt.Errorf("token has no subject")
	}

	return subj, nil
}

// Get gets the token from the Authorization header as a bearer token.
func Get(req *http.Request) (string, error) {
	authHeader := strings.TrimSpace(req.Header.Get("Authorization"))

	if authHeader == "" {
		return "", fmt.Errorf("no authorization header present")
	}

	authParts := strings.SplitN(authHeader, " ", 2)
	if len(authParts) != 2 {
		return "", fmt.Errorf("authorization header not in Bearer format")
	}

	scheme := strings.TrimSpace(strings.ToLower(authParts[0]))
	token := strings.TrimSpace(authParts[1])

	if scheme != "bearer" {
		return "", fmt.Errorf("authorization header not in Bearer format")
	}

	return token, nil
}

// Generate creates a token for subject signed with secret. If lifetime is zero
// or less, DefaultLifetime is used.
func Generate(secret []byte, subject string, lifetime time.Duration) (string, error) {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	now := time.Now()
	claims := &jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)

	tokStr, err := tok.SignedString(secret)
	if err != nil {
		return "", err
	}
	return tokStr, nil
}
