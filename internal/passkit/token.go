package passkit

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is how long a minted API token stays valid.
const TokenTTL = time.Hour

// MintToken signs a short-lived API token for key with secret. It depends
// only on its arguments.
func MintToken(key, secret string, now time.Time) (string, error) {
	if key == "" || secret == "" {
		return "", fmt.Errorf("passkit token: key and secret are required")
	}

	claims := jwt.MapClaims{
		"uid": key,
		"sub": key,
		"iat": now.Unix(),
		"exp": now.Add(TokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign passkit token: %w", err)
	}
	return signed, nil
}
