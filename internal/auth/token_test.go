package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	secret := []byte("secret")
	issued, err := Sign(secret, AccessToken{
		UserID:      "u_1",
		DisplayName: "Avery",
		TokenID:     "tk_1",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	tok, err := Verify(secret, issued)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if tok.UserID != "u_1" || tok.DisplayName != "Avery" || tok.TokenID != "tk_1" {
		t.Fatalf("unexpected claims: %+v", tok)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := Sign(secret, AccessToken{
		UserID:    "u_1",
		TokenID:   "tk_1",
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := Verify(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, err := Sign(secret, AccessToken{
		UserID:    "u_1",
		TokenID:   "tk_1",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := Verify([]byte("other-secret"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("expected Verify() to fail for the wrong secret")
	}
	if _, err := Verify(secret, issued+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("expected Verify() to fail for a tampered token")
	}
}

func TestSignRejectsIncompleteClaims(t *testing.T) {
	if _, err := Sign([]byte("secret"), AccessToken{UserID: "u_1"}); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("expected Sign() to reject a claim set without token id and expiry")
	}
}
