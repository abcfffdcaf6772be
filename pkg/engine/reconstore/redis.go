package reconstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is the "kv" backend from §4.1/§6, giving the Recon State
// Store cross-process, cross-detector-run durability. The per-actor
// mutual exclusion required by the spec is implemented with a WATCH-based
// optimistic transaction, the same primitive jordigilh-kubernaut's Gateway
// service uses for its Redis-backed dedup/storm state (the retrieval pack's
// heaviest Redis consumer). Every method is bounded by retry.go's
// withRetry, the §5 per-call timeout and backoff-retry contract.
type RedisBackend struct {
	client   redis.UniversalClient
	prefix   string
	entryTTL time.Duration
}

// NewRedisBackend wraps an existing redis client. entryTTL implements §6's
// "expired by the KV TTL (default 35 days)" persisted-state rule.
func NewRedisBackend(client redis.UniversalClient, entryTTL time.Duration) *RedisBackend {
	if entryTTL <= 0 {
		entryTTL = 35 * 24 * time.Hour
	}
	return &RedisBackend{client: client, prefix: "recon_score:", entryTTL: entryTTL}
}

type redisEntry struct {
	Score        float64   `json:"score"`
	LastUpdateTS time.Time `json:"last_update_ts"`
}

func (b *RedisBackend) key(actor string) string {
	return b.prefix + actor
}

// Get satisfies §5's per-call bound: at most callTimeout per attempt, up to
// maxCallRetries retries with exponential backoff on a transient redis
// error.
func (b *RedisBackend) Get(ctx context.Context, actor string) (Entry, bool, error) {
	var entry Entry
	var found bool
	err := withRetry(ctx, func(ctx context.Context) error {
		raw, err := b.client.Get(ctx, b.key(actor)).Bytes()
		if errors.Is(err, redis.Nil) {
			entry, found = Entry{}, false
			return nil
		}
		if err != nil {
			return fmt.Errorf("reconstore: redis get %s: %w", actor, err)
		}

		var re redisEntry
		if err := json.Unmarshal(raw, &re); err != nil {
			return fmt.Errorf("reconstore: redis decode %s: %w", actor, err)
		}
		entry, found = Entry{Score: re.Score, LastUpdateTS: re.LastUpdateTS}, true
		return nil
	})
	return entry, found, err
}

func (b *RedisBackend) PutCAS(ctx context.Context, actor string, expected Entry, expectedFound bool, next Entry) error {
	key := b.key(actor)

	return withRetry(ctx, func(ctx context.Context) error {
		txf := func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			found := true
			if errors.Is(err, redis.Nil) {
				found = false
			} else if err != nil {
				return fmt.Errorf("reconstore: redis watch-get %s: %w", actor, err)
			}

			var current Entry
			if found {
				var re redisEntry
				if err := json.Unmarshal(raw, &re); err != nil {
					return fmt.Errorf("reconstore: redis decode %s: %w", actor, err)
				}
				current = Entry{Score: re.Score, LastUpdateTS: re.LastUpdateTS}
			}

			if found != expectedFound || (found && current != expected) {
				return ErrCASConflict
			}

			payload, err := json.Marshal(redisEntry{Score: next.Score, LastUpdateTS: next.LastUpdateTS})
			if err != nil {
				return fmt.Errorf("reconstore: redis encode %s: %w", actor, err)
			}

			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, payload, b.entryTTL)
				return nil
			})
			return err
		}

		err := b.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			return ErrCASConflict
		}
		return err
	})
}

func (b *RedisBackend) DeleteIfStale(ctx context.Context, actor string, expected Entry) error {
	key := b.key(actor)

	return withRetry(ctx, func(ctx context.Context) error {
		txf := func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reconstore: redis watch-get %s: %w", actor, err)
			}

			var re redisEntry
			if err := json.Unmarshal(raw, &re); err != nil {
				return fmt.Errorf("reconstore: redis decode %s: %w", actor, err)
			}
			if (Entry{Score: re.Score, LastUpdateTS: re.LastUpdateTS}) != expected {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				return nil
			})
			return err
		}

		err := b.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer raced the eviction; the entry is fresh now,
			// which is the outcome we wanted anyway, so this is not an error.
			return nil
		}
		return err
	})
}
