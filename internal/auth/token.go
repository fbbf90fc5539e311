package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Sub  string
	Name string
	Role string
	JTI  string
	Exp  int64
}

type jwtClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func IssueToken(secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Name: claims.Name,
		Role: claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Sub,
			ID:        claims.JTI,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.Exp, 0)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	var parsed jwtClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if parsed.Subject == "" || parsed.ID == "" || parsed.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}
	return Claims{
		Sub:  parsed.Subject,
		Name: parsed.Name,
		Role: parsed.Role,
		JTI:  parsed.ID,
		Exp:  parsed.ExpiresAt.Unix(),
	}, nil
}

// HashToken is used to store refresh tokens without keeping the raw value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
