// ABOUTME: JWT token verification for authenticating API requests
// ABOUTME: Uses HS256 signing with a configured secret; sub carries the user id

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HS256 secret accepted.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the user ID from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates a new JWT token for the given user ID with expiration
func (v *JWTVerifier) Generate(userID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
