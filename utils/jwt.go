package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

// Claims identify the caller. Tokens are issued by the identity service; this
// service only verifies them.
type Claims struct {
	UserID string
	Role   string
}

// RoleAdmin grants the ledger administration endpoints.
const RoleAdmin = "admin"

// ErrNoSigningSecret is returned by a verifier built with an empty secret. It
// signs nothing and rejects every token.
var ErrNoSigningSecret = errors.New("jwt signing secret is not configured")

// TokenVerifier validates HMAC-signed bearer tokens.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// GenerateToken creates a signed token for subject. Used by local tooling and tests.
func (v *TokenVerifier) GenerateToken(subject, role string, duration time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSigningSecret
	}
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(duration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify parses and validates a token string and extracts its claims.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSigningSecret
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Ensure that the token's signing method is HMAC.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("token does not contain a valid 'sub' claim")
	}
	role, _ := claims["role"].(string)

	return &Claims{UserID: sub, Role: role}, nil
}
