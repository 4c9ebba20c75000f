package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/appointly/appointly/internal/shared"
)

// Purpose separates the namespaces of one-time tokens.
type Purpose string

const (
	PurposePasswordReset       Purpose = "password_reset"
	PurposeAccountVerification Purpose = "account_verification"
	PurposeEmailVerification   Purpose = "email_verification"
)

// TokenTTLs configures one-time token lifetimes.
type TokenTTLs struct {
	PasswordReset       time.Duration
	AccountVerification time.Duration
	EmailVerification   time.Duration
}

// DefaultTokenTTLs returns 1h reset and 24h verification windows.
func DefaultTokenTTLs() TokenTTLs {
	return TokenTTLs{
		PasswordReset:       time.Hour,
		AccountVerification: 24 * time.Hour,
		EmailVerification:   24 * time.Hour,
	}
}

func (t TokenTTLs) forPurpose(p Purpose) (time.Duration, bool) {
	defaults := DefaultTokenTTLs()
	var ttl, fallback time.Duration
	switch p {
	case PurposePasswordReset:
		ttl, fallback = t.PasswordReset, defaults.PasswordReset
	case PurposeAccountVerification:
		ttl, fallback = t.AccountVerification, defaults.AccountVerification
	case PurposeEmailVerification:
		ttl, fallback = t.EmailVerification, defaults.EmailVerification
	default:
		return 0, false
	}
	if ttl <= 0 {
		ttl = fallback
	}
	return ttl, true
}

// issueScript swaps the account's live token for a new one in a single step.
// KEYS: index key, new token key. ARGV: token key prefix, user id, token, ttl ms.
var issueScript = redis.NewScript(`
local previous = redis.call('GET', KEYS[1])
if previous then
	redis.call('DEL', ARGV[1] .. previous)
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[4])
redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[4])
return 1
`)

// consumeScript redeems a token and clears the owner's index when it still
// points at that token. KEYS: token key. ARGV: index key prefix, token.
var consumeScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if not owner then
	return false
end
redis.call('DEL', KEYS[1])
local index = ARGV[1] .. owner
if redis.call('GET', index) == ARGV[2] then
	redis.call('DEL', index)
end
return owner
`)

// OneTimeStore keeps single-use tokens in Redis. Each account holds at most one
// live token per purpose.
type OneTimeStore struct {
	client redis.UniversalClient
	ttls   TokenTTLs
	prefix string
}

// NewOneTimeStore constructs a store over client.
func NewOneTimeStore(client redis.UniversalClient, ttls TokenTTLs) *OneTimeStore {
	return &OneTimeStore{client: client, ttls: ttls, prefix: "onetime"}
}

// Issue creates a token for userID, revoking any earlier unused token of the same
// purpose.
func (s *OneTimeStore) Issue(ctx context.Context, purpose Purpose, userID string) (string, error) {
	ttl, ok := s.ttls.forPurpose(purpose)
	if !ok {
		return "", fmt.Errorf("auth: unknown token purpose %q", purpose)
	}
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("auth: token owner required: %w", shared.ErrValidation)
	}
	token, err := randomToken()
	if err != nil {
		return "", err
	}

	err = issueScript.Run(ctx, s.client,
		[]string{s.indexKey(purpose, userID), s.tokenKey(purpose, token)},
		s.tokenKey(purpose, ""), userID, token, ttl.Milliseconds(),
	).Err()
	if err != nil {
		return "", fmt.Errorf("auth: store token: %w", err)
	}
	return token, nil
}

// Consume redeems token and returns its owner. Unknown, expired and already used
// tokens report shared.ErrNotFound.
func (s *OneTimeStore) Consume(ctx context.Context, purpose Purpose, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("auth: token required: %w", shared.ErrNotFound)
	}
	userID, err := consumeScript.Run(ctx, s.client,
		[]string{s.tokenKey(purpose, token)},
		s.indexKey(purpose, ""), token,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("auth: %s token: %w", purpose, shared.ErrNotFound)
		}
		return "", fmt.Errorf("auth: consume token: %w", err)
	}
	return userID, nil
}

func (s *OneTimeStore) tokenKey(purpose Purpose, token string) string {
	return s.prefix + ":" + string(purpose) + ":" + token
}

func (s *OneTimeStore) indexKey(purpose Purpose, userID string) string {
	return s.prefix + ":" + string(purpose) + ":user:" + userID
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
