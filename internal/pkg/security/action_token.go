package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tradesafe-app/paygate/internal/pkg/cache"
	"github.com/tradesafe-app/paygate/internal/pkg/env"

	"github.com/google/uuid"
)

// Admin action names embedded in action tokens.
const (
	ActionRetryEvent    = "retry_event"
	ActionRefundOrder   = "refund_order"
	ActionDeclineOrder  = "decline_order"
	ActionRequeueEvents = "requeue_events"
)

// DefaultActionTokenTTL is how long a minted admin action link stays valid.
const DefaultActionTokenTTL = 24 * time.Hour

var ErrTokenUsed = errors.New("action token already used")

// ActionTokenClaims bind one admin action to one target. The token ID
// backs the single-use check.
type ActionTokenClaims struct {
	TokenID   string `json:"jti"`
	Action    string `json:"action"`
	Target    string `json:"target"`
	AdminID   uint   `json:"admin_id"`
	ExpiresAt int64  `json:"exp"`
}

// GenerateActionToken mints a signed, time-limited token authorizing a
// single admin action against a single target (event ID or order ID).
func GenerateActionToken(action, target string, adminID uint, ttl time.Duration, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required for token generation")
	}
	if action == "" || target == "" {
		return "", errors.New("action and target are required")
	}
	claims := ActionTokenClaims{
		TokenID:   uuid.New().String(),
		Action:    action,
		Target:    target,
		AdminID:   adminID,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sig := mac.Sum(nil)
	token := fmt.Sprintf("%s.%s", base64.RawURLEncoding.EncodeToString(payload), base64.RawURLEncoding.EncodeToString(sig))
	return token, nil
}

// VerifyActionToken validates signature and expiry and returns the claims.
func VerifyActionToken(token, secret string) (*ActionTokenClaims, error) {
	if secret == "" {
		return nil, errors.New("secret is required for token verification")
	}
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid token format")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errors.New("invalid payload encoding")
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("invalid signature encoding")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payloadBytes)
	expected := mac.Sum(nil)
	if !hmac.Equal(sigBytes, expected) {
		return nil, errors.New("invalid token signature")
	}
	var claims ActionTokenClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, errors.New("invalid payload")
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, errors.New("token expired")
	}
	return &claims, nil
}

// ConsumeActionToken verifies the token and burns it. The tombstone in
// Redis lives until the token would have expired anyway, so a replayed
// link gets ErrTokenUsed.
func ConsumeActionToken(token, secret string) (*ActionTokenClaims, error) {
	claims, err := VerifyActionToken(token, secret)
	if err != nil {
		return nil, err
	}
	key := "action_token:used:" + claims.TokenID
	remaining := time.Until(time.Unix(claims.ExpiresAt, 0))
	if remaining <= 0 {
		return nil, errors.New("token expired")
	}
	set, err := cache.GetClient().SetNX(context.Background(), key, "1", remaining).Result()
	if err != nil {
		return nil, fmt.Errorf("token replay check failed: %w", err)
	}
	if !set {
		return nil, ErrTokenUsed
	}
	return claims, nil
}

// ActionTokenSecret returns the HMAC key for admin action tokens.
func ActionTokenSecret() string {
	return env.GetEnv("ADMIN_ACTION_SECRET", "")
}
