// Package auth signs the browser session cookie so that a forged or
// truncated value is rejected before the session store is consulted.
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

type Claims struct {
	SID string `json:"sid"`
	Exp int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid session cookie")
	ErrExpiredToken = errors.New("expired session cookie")
)

// IssueCookie returns the cookie value carrying sid until exp.
func IssueCookie(secret []byte, sid string, exp time.Time) (string, error) {
	if sid == "" {
		return "", ErrInvalidToken
	}
	payloadBytes, err := json.Marshal(Claims{SID: sid, Exp: exp.Unix()})
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + sign(secret, payload), nil
}

// ParseCookie verifies a cookie value and returns its session id.
func ParseCookie(secret []byte, value string) (string, error) {
	payload, signature, ok := strings.Cut(value, ".")
	if !ok || payload == "" || signature == "" {
		return "", ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(sign(secret, payload))) {
		return "", ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return "", ErrInvalidToken
	}
	if claims.SID == "" || claims.Exp == 0 {
		return "", ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return "", ErrExpiredToken
	}
	return claims.SID, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
