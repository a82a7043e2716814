// Package rediscache wraps the balance read path with a Redis read-through
// cache. Money mutations always go straight to Postgres; the cache only
// serves dashboard-style balance reads and is invalidated after every
// balance-affecting commit.
package rediscache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
)

// BalanceReader is the read side of the balance store.
type BalanceReader interface {
	GetBalance(ctx context.Context, organizerID string) (domain.BalanceAccount, error)
}

type cachedBalance struct {
	Pending   string    `json:"pending"`
	Available string    `json:"available"`
	Withdrawn string    `json:"withdrawn"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceCache is a read-through cache over a primary BalanceReader.
// Cache failures degrade to the primary; they are never surfaced.
type BalanceCache struct {
	primary BalanceReader
	rdb     *redis.Client
	ttl     time.Duration
}

func NewBalanceCache(primary BalanceReader, rdb *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{primary: primary, rdb: rdb, ttl: ttl}
}

func (c *BalanceCache) GetBalance(ctx context.Context, organizerID string) (domain.BalanceAccount, error) {
	data, err := c.rdb.Get(ctx, balanceKey(organizerID)).Bytes()
	if err == nil {
		var cached cachedBalance
		if json.Unmarshal(data, &cached) == nil {
			if acc, ok := cached.toAccount(organizerID); ok {
				return acc, nil
			}
		}
	}

	acc, err := c.primary.GetBalance(ctx, organizerID)
	if err != nil {
		return domain.BalanceAccount{}, err
	}

	payload, err := json.Marshal(cachedBalance{
		Pending:   acc.Pending.String(),
		Available: acc.Available.String(),
		Withdrawn: acc.Withdrawn.String(),
		UpdatedAt: acc.UpdatedAt,
	})
	if err == nil {
		if err := c.rdb.Set(ctx, balanceKey(organizerID), payload, c.ttl).Err(); err != nil {
			slog.WarnContext(ctx, "balance cache set failed", "err", err)
		}
	}
	return acc, nil
}

// Invalidate drops the cached balance; called after any commit that moved
// the organizer's money.
func (c *BalanceCache) Invalidate(ctx context.Context, organizerID string) {
	if err := c.rdb.Del(ctx, balanceKey(organizerID)).Err(); err != nil {
		slog.WarnContext(ctx, "balance cache invalidate failed", "err", err)
	}
}

func (cb cachedBalance) toAccount(organizerID string) (domain.BalanceAccount, bool) {
	pending, err1 := decimal.NewFromString(cb.Pending)
	available, err2 := decimal.NewFromString(cb.Available)
	withdrawn, err3 := decimal.NewFromString(cb.Withdrawn)
	if err1 != nil || err2 != nil || err3 != nil {
		return domain.BalanceAccount{}, false
	}
	return domain.BalanceAccount{
		OrganizerID: organizerID,
		Pending:     pending,
		Available:   available,
		Withdrawn:   withdrawn,
		UpdatedAt:   cb.UpdatedAt,
	}, true
}

func balanceKey(organizerID string) string {
	return "balance:" + organizerID
}
