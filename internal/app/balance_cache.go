package app

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const balanceCacheTTL = 5 * time.Minute

// BalanceCache is an advisory Redis cache over derived balances. Cache misses
// and Redis outages fall through to the transfer-log aggregate; entries are
// invalidated whenever a transfer touching the account moves to or from
// COMPLETE. A nil cache is valid and does nothing.
type BalanceCache struct {
	client redis.UniversalClient
	prefix string
}

// NewBalanceCache creates a balance cache with the given key prefix.
func NewBalanceCache(client redis.UniversalClient, prefix string) *BalanceCache {
	if prefix == "" {
		prefix = "ledger:balance"
	}
	return &BalanceCache{client: client, prefix: prefix}
}

func (c *BalanceCache) key(accountID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", c.prefix, accountID)
}

// Get returns the cached balance and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, accountID uuid.UUID) (int64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	value, err := c.client.Get(ctx, c.key(accountID)).Result()
	if err != nil {
		return 0, false
	}
	balance, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return balance, true
}

// Set stores a balance with a bounded TTL.
func (c *BalanceCache) Set(ctx context.Context, accountID uuid.UUID, balance int64) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, c.key(accountID), strconv.FormatInt(balance, 10), balanceCacheTTL).Err(); err != nil {
		log.Printf("level=warn component=balance_cache msg=\"cache set failed\" account_id=%s err=%v", accountID, err)
	}
}

// Invalidate drops the cached balance for an account.
func (c *BalanceCache) Invalidate(ctx context.Context, accountID uuid.UUID) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.key(accountID)).Err(); err != nil {
		log.Printf("level=warn component=balance_cache msg=\"cache invalidation failed\" account_id=%s err=%v", accountID, err)
	}
}
