package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.Generate(1001, "device-1", "ios")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UserID != 1001 {
		t.Errorf("expected userId 1001, got %d", claims.UserID)
	}
	if claims.DeviceID != "device-1" || claims.Platform != "ios" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	token, err := NewService("secret-a", time.Hour).Generate(1001, "d", "p")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, err := NewService("secret-b", time.Hour).Validate(token); err == nil {
		t.Fatal("expected validation failure for wrong secret")
	}
}

func TestValidateExpired(t *testing.T) {
	// NewService 会把非法过期时长钳到默认值，这里直接签发已过期的 token
	now := time.Now()
	claims := &Claims{
		UserID: 1001,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
			Issuer:    "im-relay",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := NewService("test-secret", time.Hour).Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateGarbage(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	if _, err := svc.Validate("not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
