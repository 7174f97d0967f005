// Package auth holds Folio's credential primitives: HMAC-signed access
// tokens and bcrypt password hashing. A token is a base64url JSON claim
// set plus an HMAC-SHA256 signature over it; workspace roles live on
// memberships, so the token only names the user.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AccessToken is the claim set a signed token carries.
type AccessToken struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"name"`
	TokenID     string `json:"tok"`
	ExpiresAt   int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Sign serializes the claim set and appends its signature.
func Sign(secret []byte, tok AccessToken) (string, error) {
	if tok.UserID == "" || tok.TokenID == "" || tok.ExpiresAt == 0 {
		return "", ErrInvalidToken
	}
	body, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("marshal access token: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + signature(secret, encoded), nil
}

// Verify checks the signature and expiry and returns the claim set.
func Verify(secret []byte, raw string) (AccessToken, error) {
	encoded, sig, ok := strings.Cut(raw, ".")
	if !ok {
		return AccessToken{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(signature(secret, encoded))) {
		return AccessToken{}, ErrInvalidToken
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return AccessToken{}, ErrInvalidToken
	}
	var tok AccessToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return AccessToken{}, ErrInvalidToken
	}
	if tok.UserID == "" || tok.TokenID == "" || tok.ExpiresAt == 0 {
		return AccessToken{}, ErrInvalidToken
	}
	if !time.Now().Before(time.Unix(tok.ExpiresAt, 0)) {
		return AccessToken{}, ErrExpiredToken
	}
	return tok, nil
}

func signature(secret []byte, encoded string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
