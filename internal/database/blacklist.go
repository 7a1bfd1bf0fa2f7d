package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Tokens are blacklisted in Redis when connected, otherwise in memory.
var (
	memBlacklist   = map[string]time.Time{}
	memBlacklistMu sync.Mutex
)

func blacklistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return CacheKeyBlacklist + hex.EncodeToString(sum[:])
}

// BlacklistToken marks a JWT as revoked until it would have expired anyway.
func BlacklistToken(token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	key := blacklistKey(token)

	if Redis == nil {
		memBlacklistMu.Lock()
		memBlacklist[key] = expiresAt
		memBlacklistMu.Unlock()
		return nil
	}
	return Redis.Set(context.Background(), key, "1", ttl).Err()
}

// IsTokenBlacklisted reports whether the token was revoked by a logout.
func IsTokenBlacklisted(token string) bool {
	key := blacklistKey(token)

	if Redis == nil {
		memBlacklistMu.Lock()
		defer memBlacklistMu.Unlock()
		exp, ok := memBlacklist[key]
		if !ok {
			return false
		}
		if time.Now().After(exp) {
			delete(memBlacklist, key)
			return false
		}
		return true
	}

	n, err := Redis.Exists(context.Background(), key).Result()
	return err == nil && n > 0
}
