package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/semilia/storefront/pkg/errors"
)

// Claims are the access token claims issued by the account service.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager validates HMAC-signed access tokens. Generate exists for local
// tooling and tests; production tokens come from the account service.
type JWTManager struct {
	secret []byte
	issuer string
}

// NewJWTManager creates a manager for tokens signed with secret.
func NewJWTManager(secret, issuer string) *JWTManager {
	return &JWTManager{secret: []byte(secret), issuer: issuer}
}

// Generate signs an access token for userID valid for ttl.
func (m *JWTManager) Generate(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   "customer",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    m.issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and returns the identity it carries. Any
// failure is an apperrors.ErrUnauthorized.
func (m *JWTManager) Validate(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperrors.Unauthorized("access token expired")
		}
		return Identity{}, apperrors.Unauthorized("invalid access token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, apperrors.Unauthorized("invalid access token claims")
	}
	return claims.identity()
}

func (c *Claims) identity() (Identity, error) {
	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	if userID == "" {
		return Identity{}, apperrors.Unauthorized("access token has no subject")
	}
	return Identity{UserID: userID, Email: c.Email}, nil
}

// ClaimsReader reads the identity from a token without checking its
// signature. It suits clients that only forward the token to the cart API,
// which verifies it. Expired tokens are still rejected.
type ClaimsReader struct{}

// Validate returns the identity carried by tokenString.
func (ClaimsReader) Validate(tokenString string) (Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return Identity{}, apperrors.Unauthorized("malformed access token")
	}
	if exp := claims.ExpiresAt; exp != nil && exp.Before(time.Now()) {
		return Identity{}, apperrors.Unauthorized("access token expired")
	}
	return claims.identity()
}
