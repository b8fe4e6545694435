package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/boardsync/pkg/models"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", time.Minute)
	session := &models.Session{
		ID:          "sess-1",
		UserID:      "u1",
		Email:       "u1@example.com",
		DisplayName: "User One",
	}

	token, err := svc.Generate(session)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.SessionID != "sess-1" || claims.Subject != "u1" || claims.Email != "u1@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestJWTService_WrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", time.Minute).Generate(&models.Session{ID: "s", UserID: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewJWTService("secret-b", time.Minute).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestJWTService_ExpiredToken(t *testing.T) {
	svc := NewJWTService("secret", -time.Minute)
	token, err := svc.Generate(&models.Session{ID: "s", UserID: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestJWTService_Disabled(t *testing.T) {
	svc := NewJWTService("", time.Minute)
	if _, err := svc.Generate(&models.Session{ID: "s", UserID: "u"}); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("generate err = %v, want ErrAuthDisabled", err)
	}
	if _, err := svc.Validate("x"); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("validate err = %v, want ErrAuthDisabled", err)
	}
}
