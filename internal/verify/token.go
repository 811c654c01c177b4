package verify

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	codeLength      = 6
	issueAttempts   = 5
	DefaultTokenTTL = 24 * time.Hour
)

// ErrCodeCollision is returned when no free code could be minted.
var ErrCodeCollision = errors.New("could not mint a unique verification code")

// Token is an outstanding verification code. It is single use.
type Token struct {
	Code              string    `json:"code"`
	TenantID          string    `json:"tenant_id"`
	CandidateMemberID string    `json:"candidate_member_id,omitempty"`
	SenderID          string    `json:"sender_id,omitempty"`
	PhoneNumber       string    `json:"phone_number,omitempty"`
	Email             string    `json:"email,omitempty"`
	IssuedAt          time.Time `json:"issued_at"`
}

// ConsumeResult is the outcome of an atomic consume attempt.
type ConsumeResult int

const (
	ConsumeMissing ConsumeResult = iota // code unknown, expired or already used
	ConsumeOK
	ConsumeForeign // bound to another sender; token left intact
)

// TokenStore keeps verification tokens keyed by (tenant, code) with a
// reverse index by (tenant, sender).
type TokenStore interface {
	Issue(ctx context.Context, tok Token) (Token, error)
	Lookup(ctx context.Context, tenantID, code string) (*Token, error)
	Outstanding(ctx context.Context, tenantID, senderID string) (*Token, error)
	Consume(ctx context.Context, tenantID, code, senderID string) (ConsumeResult, error)
	Revoke(ctx context.Context, tenantID, code string) error
	Restore(ctx context.Context, tok Token) error
}

// consumeScript deletes the code and its reverse index in one step, but only
// if the code still exists and is not bound to a different sender. Two
// concurrent consumers of one code cannot both get 1.
var consumeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 0
end
local tok = cjson.decode(raw)
if tok.sender_id and tok.sender_id ~= '' and tok.sender_id ~= ARGV[1] then
	return 2
end
redis.call('DEL', KEYS[1])
if redis.call('GET', KEYS[2]) == ARGV[2] then
	redis.call('DEL', KEYS[2])
end
return 1
`)

// RedisTokenStore implements TokenStore on Redis keys with TTLs.
type RedisTokenStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisTokenStore(client redis.Cmdable, ttl time.Duration) *RedisTokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &RedisTokenStore{client: client, ttl: ttl}
}

// The tenant is a hash tag so a code and its index share a cluster slot.
func codeKey(tenantID, code string) string { return fmt.Sprintf("verify:{%s}:code:%s", tenantID, code) }
func senderKey(tenantID, sender string) string { return fmt.Sprintf("verify:{%s}:sender:%s", tenantID, sender) }

func (s *RedisTokenStore) Issue(ctx context.Context, tok Token) (Token, error) {
	if prev, err := s.Outstanding(ctx, tok.TenantID, tok.SenderID); err != nil {
		return tok, err
	} else if prev != nil {
		if err := s.Revoke(ctx, tok.TenantID, prev.Code); err != nil {
			return tok, err
		}
	}

	tok.IssuedAt = time.Now().UTC()
	for i := 0; i < issueAttempts; i++ {
		tok.Code = generateSecureCode(codeLength)
		data, err := json.Marshal(tok)
		if err != nil {
			return tok, fmt.Errorf("encode token: %w", err)
		}
		ok, err := s.client.SetNX(ctx, codeKey(tok.TenantID, tok.Code), data, s.ttl).Result()
		if err != nil {
			return tok, fmt.Errorf("store token: %w", err)
		}
		if !ok {
			continue
		}
		if tok.SenderID != "" {
			if err := s.client.Set(ctx, senderKey(tok.TenantID, tok.SenderID), tok.Code, s.ttl).Err(); err != nil {
				return tok, fmt.Errorf("store token index: %w", err)
			}
		}
		return tok, nil
	}
	return tok, ErrCodeCollision
}

func (s *RedisTokenStore) Lookup(ctx context.Context, tenantID, code string) (*Token, error) {
	raw, err := s.client.Get(ctx, codeKey(tenantID, code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

func (s *RedisTokenStore) Outstanding(ctx context.Context, tenantID, senderID string) (*Token, error) {
	if senderID == "" {
		return nil, nil
	}
	code, err := s.client.Get(ctx, senderKey(tenantID, senderID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup token index: %w", err)
	}
	tok, err := s.Lookup(ctx, tenantID, code)
	if err != nil || tok != nil {
		return tok, err
	}
	// index outlived its token
	s.client.Del(ctx, senderKey(tenantID, senderID))
	return nil, nil
}

func (s *RedisTokenStore) Consume(ctx context.Context, tenantID, code, senderID string) (ConsumeResult, error) {
	n, err := consumeScript.Run(ctx, s.client,
		[]string{codeKey(tenantID, code), senderKey(tenantID, senderID)},
		senderID, code).Int()
	if err != nil {
		return ConsumeMissing, fmt.Errorf("consume token: %w", err)
	}
	switch n {
	case 1:
		return ConsumeOK, nil
	case 2:
		return ConsumeForeign, nil
	default:
		return ConsumeMissing, nil
	}
}

func (s *RedisTokenStore) Revoke(ctx context.Context, tenantID, code string) error {
	tok, err := s.Lookup(ctx, tenantID, code)
	if err != nil {
		return err
	}
	keys := []string{codeKey(tenantID, code)}
	if tok != nil && tok.SenderID != "" {
		keys = append(keys, senderKey(tenantID, tok.SenderID))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Restore puts a consumed token back for the rest of its lifetime. An
// expired token, or a code or sender index taken in the meantime, is left alone.
func (s *RedisTokenStore) Restore(ctx context.Context, tok Token) error {
	remaining := s.ttl
	if !tok.IssuedAt.IsZero() {
		remaining -= time.Since(tok.IssuedAt)
	}
	if remaining <= 0 {
		return nil
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	ok, err := s.client.SetNX(ctx, codeKey(tok.TenantID, tok.Code), data, remaining).Result()
	if err != nil {
		return fmt.Errorf("restore token: %w", err)
	}
	if !ok || tok.SenderID == "" {
		return nil
	}
	if err := s.client.SetNX(ctx, senderKey(tok.TenantID, tok.SenderID), tok.Code, remaining).Err(); err != nil {
		return fmt.Errorf("restore token index: %w", err)
	}
	return nil
}

// generateSecureCode generates a cryptographically random numeric code of the given length.
func generateSecureCode(length int) string {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			code[i] = '0'
			continue
		}
		code[i] = byte('0') + byte(n.Int64())
	}
	return string(code)
}
