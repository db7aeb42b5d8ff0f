package auth

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList answers whether a vendor token was revoked before it expired.
// The identity service writes revocations; this service only reads them,
// apart from tests and tooling.
type RevocationList interface {
	// Revoke marks a single token (by JTI) as revoked until ttl elapses
	Revoke(ctx context.Context, jti string, ttl time.Duration) error

	// IsRevoked checks a single token
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// RevokeVendor rejects every token issued to the vendor up to now
	RevokeVendor(ctx context.Context, vendorID string, ttl time.Duration) error

	// IsVendorRevoked reports whether a token issued at issuedAt predates the vendor's cutoff
	IsVendorRevoked(ctx context.Context, vendorID string, issuedAt time.Time) (bool, error)
}

// RedisRevocationList implements RevocationList using Redis
type RedisRevocationList struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisRevocationList creates a revocation list on an existing Redis client
func NewRedisRevocationList(client redis.UniversalClient) *RedisRevocationList {
	return &RedisRevocationList{
		client:    client,
		keyPrefix: "auth:revoked:",
	}
}

func (l *RedisRevocationList) jtiKey(jti string) string {
	return l.keyPrefix + "jti:" + jti
}

func (l *RedisRevocationList) vendorKey(vendorID string) string {
	return l.keyPrefix + "vendor:" + vendorID
}

// Revoke adds a token's JTI to the list
func (l *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if err := l.client.Set(ctx, l.jtiKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked checks if a token's JTI is in the list
func (l *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := l.client.Exists(ctx, l.jtiKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return exists > 0, nil
}

// RevokeVendor stores the current time as the vendor's cutoff
func (l *RedisRevocationList) RevokeVendor(ctx context.Context, vendorID string, ttl time.Duration) error {
	if err := l.client.Set(ctx, l.vendorKey(vendorID), time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke vendor tokens: %w", err)
	}
	return nil
}

// IsVendorRevoked checks the token's issue time against the vendor's cutoff
func (l *RedisRevocationList) IsVendorRevoked(ctx context.Context, vendorID string, issuedAt time.Time) (bool, error) {
	value, err := l.client.Get(ctx, l.vendorKey(vendorID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check vendor revocation: %w", err)
	}

	cutoff, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false, fmt.Errorf("failed to parse revocation cutoff: %w", err)
	}
	return issuedAt.Unix() <= cutoff, nil
}

var _ RevocationList = (*RedisRevocationList)(nil)

// InMemoryRevocationList is a single-process RevocationList for tests and local runs
type InMemoryRevocationList struct {
	mu      sync.Mutex
	tokens  map[string]time.Time // JTI -> expiry of the entry
	cutoffs map[string]time.Time // vendorID -> cutoff
	now     func() time.Time
}

// NewInMemoryRevocationList creates an empty in-memory list
func NewInMemoryRevocationList() *InMemoryRevocationList {
	return &InMemoryRevocationList{
		tokens:  make(map[string]time.Time),
		cutoffs: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke adds a token's JTI to the list
func (l *InMemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[jti] = l.now().Add(ttl)
	return nil
}

// IsRevoked checks if a token's JTI is listed and the entry has not lapsed
func (l *InMemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiry, ok := l.tokens[jti]
	if !ok {
		return false, nil
	}
	if l.now().After(expiry) {
		delete(l.tokens, jti)
		return false, nil
	}
	return true, nil
}

// RevokeVendor records the current time as the vendor's cutoff
func (l *InMemoryRevocationList) RevokeVendor(_ context.Context, vendorID string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cutoffs[vendorID] = l.now()
	return nil
}

// IsVendorRevoked checks the token's issue time against the vendor's cutoff
func (l *InMemoryRevocationList) IsVendorRevoked(_ context.Context, vendorID string, issuedAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff, ok := l.cutoffs[vendorID]
	if !ok {
		return false, nil
	}
	return !issuedAt.After(cutoff), nil
}

var _ RevocationList = (*InMemoryRevocationList)(nil)
