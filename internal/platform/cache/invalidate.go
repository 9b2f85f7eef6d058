package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache key prefixes invalidated after engine mutations.
const (
	PrefixSales        = "sales:"
	PrefixInvoices     = "invoices:"
	PrefixPayments     = "payments:"
	PrefixCustomers    = "customers:"
	PrefixProducts     = "products:"
	PrefixLatePayments = "late_payments:"
)

// Invalidator drops cached read models after a mutation commits. It is a
// fire-and-forget side channel: failures are logged and never surfaced to the
// transaction that triggered the invalidation.
type Invalidator struct {
	client *redis.Client
	logger *slog.Logger
}

// NewInvalidator constructs an Invalidator. A nil client yields a no-op
// invalidator, which keeps the engine usable without Redis in tests.
func NewInvalidator(client *redis.Client, logger *slog.Logger) *Invalidator {
	return &Invalidator{client: client, logger: logger}
}

// InvalidatePrefixes deletes every key matching the given prefixes.
func (i *Invalidator) InvalidatePrefixes(ctx context.Context, prefixes ...string) {
	if i == nil || i.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for _, prefix := range prefixes {
		iter := i.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			i.warn("cache scan failed", prefix, err)
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if err := i.client.Del(ctx, keys...).Err(); err != nil {
			i.warn("cache delete failed", prefix, err)
		}
	}
}

func (i *Invalidator) warn(msg, prefix string, err error) {
	if i.logger == nil {
		return
	}
	i.logger.Warn(msg, slog.String("prefix", prefix), slog.Any("error", err))
}
