package passkit

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestMintToken(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	signed, err := MintToken("api-key", "api-secret", now)
	if err != nil {
		t.Fatalf("MintToken failed: %v", err)
	}

	tok, err := jwt.Parse(signed, func(t *jwt.Token) (interface{}, error) {
		return []byte("api-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("Failed to parse token: %v", err)
	}

	claims := tok.Claims.(jwt.MapClaims)
	if claims["uid"] != "api-key" || claims["sub"] != "api-key" {
		t.Errorf("Expected key as subject, got %v", claims)
	}
	if int64(claims["iat"].(float64)) != now.Unix() {
		t.Errorf("Unexpected iat %v", claims["iat"])
	}
	if int64(claims["exp"].(float64)) != now.Add(time.Hour).Unix() {
		t.Errorf("Expected one hour expiry, got %v", claims["exp"])
	}
}

func TestMintToken_Deterministic(t *testing.T) {
	now := time.Unix(1760000000, 0)
	a, _ := MintToken("k", "s", now)
	b, _ := MintToken("k", "s", now)
	if a != b {
		t.Error("Expected identical tokens for identical inputs")
	}
}

func TestMintToken_MissingCredentials(t *testing.T) {
	if _, err := MintToken("", "s", time.Now()); err == nil {
		t.Error("Expected error for missing key")
	}
	if _, err := MintToken("k", "", time.Now()); err == nil {
		t.Error("Expected error for missing secret")
	}
}
