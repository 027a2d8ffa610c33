package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/castlepoint/sso-kernel/internal/config"
	"github.com/castlepoint/sso-kernel/internal/ticket"
	"github.com/castlepoint/sso-kernel/internal/ticket/expiration"
)

const (
	// redisTicketPrefix organizes ticket records.
	redisTicketPrefix = "sso:ticket:"
	// redisChildrenPrefix organizes the per-parent child index sets.
	redisChildrenPrefix = "sso:children:"
	// redisScanBatch is the SCAN page size.
	redisScanBatch = 100
	// redisBackstopFactor pads the backstop TTL applied to records whose
	// policy exposes a hard ceiling. The sweeper remains the authority;
	// the key TTL only caps how long an orphan can linger.
	redisBackstopFactor = 2
)

// compareAndDeleteScript deletes a ticket key only if the stored record's
// use count matches the expected value, and detaches the record from its
// parent's child index in the same atomic step.
//
// KEYS[1] = ticket key, ARGV[1] = expected use count,
// ARGV[2] = children key prefix, ARGV[3] = ticket id.
var compareAndDeleteScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return 0
end
local t = cjson.decode(v)
if tonumber(t['useCount']) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('DEL', KEYS[1])
if t['parentId'] then
  redis.call('SREM', ARGV[2] .. t['parentId'], ARGV[3])
end
return 1
`)

// RedisStore is a Store backed by a shared Redis instance, the default
// backend for clustered deployments. Insert-if-absent maps to SETNX and
// compare-and-delete to a Lua script, so the atomicity contract holds
// across server instances.
//
// Update is best-effort: a write racing a deletion is dropped silently
// (SET XX on a missing key), which matches the contract for a ticket that
// was consumed or swept between read and write.
type RedisStore struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password // pragma: allowlist secret
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConn
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout
	opts.ConnMaxIdleTime = cfg.IdleTimeout

	store := &RedisStore{rdb: redis.NewClient(opts), logger: logger}
	if pingErr := store.Ping(context.Background()); pingErr != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", pingErr)
	}

	logger.Info("Connected to Redis ticket store")
	return store, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		s.logger.WithError(err).Error("Failed to close Redis connection")
		return err
	}
	s.logger.Info("Redis ticket store closed")
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Insert implements Store.
func (s *RedisStore) Insert(ctx context.Context, t *ticket.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, ticketKey(t.ID), data, backstopTTL(t)).Result()
	if err != nil {
		return fmt.Errorf("failed to store ticket: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ticket.ErrDuplicateTicket, t.ID)
	}

	if t.ParentID != "" {
		if addErr := s.rdb.SAdd(ctx, childrenKey(t.ParentID), t.ID).Err(); addErr != nil {
			// The record exists but is unreachable through the cascade
			// index; undo the insert so issuance fails atomically.
			s.rdb.Del(ctx, ticketKey(t.ID))
			return fmt.Errorf("failed to index ticket under parent: %w", addErr)
		}
	}

	s.logger.WithField("ticket_id", maskID(t.ID)).Debug("Ticket stored in Redis")
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*ticket.Ticket, error) {
	data, err := s.rdb.Get(ctx, ticketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ticket.ErrTicketNotFound, id)
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	var t ticket.Ticket
	if unmarshalErr := json.Unmarshal(data, &t); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket %s: %w", id, unmarshalErr)
	}
	return &t, nil
}

// Update implements Store. Best-effort per the Store contract.
func (s *RedisStore) Update(ctx context.Context, t *ticket.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	ok, err := s.rdb.SetXX(ctx, ticketKey(t.ID), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if !ok {
		s.logger.WithField("ticket_id", maskID(t.ID)).Debug("Dropped update to vanished ticket")
	}
	return nil
}

// CompareAndDelete implements Store.
func (s *RedisStore) CompareAndDelete(ctx context.Context, id string, expectedUses int) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, s.rdb,
		[]string{ticketKey(id)}, expectedUses, redisChildrenPrefix, id).Int()
	if err != nil {
		return false, fmt.Errorf("failed to consume ticket: %w", err)
	}
	return res == 1, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	// Read the record first to learn the parent for index cleanup. A
	// record vanishing between read and delete is fine: both outcomes
	// leave the key absent.
	t, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ticket.ErrTicketNotFound) {
			return false, nil
		}
		return false, err
	}

	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, ticketKey(id))
	if t.ParentID != "" {
		pipe.SRem(ctx, childrenKey(t.ParentID), id)
	}
	pipe.Del(ctx, childrenKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to delete ticket: %w", err)
	}

	s.logger.WithField("ticket_id", maskID(id)).Debug("Ticket deleted from Redis")
	return del.Val() > 0, nil
}

// DeleteAll implements Store.
func (s *RedisStore) DeleteAll(ctx context.Context) (int, error) {
	removed, err := s.deleteByPattern(ctx, redisTicketPrefix+"*")
	if err != nil {
		return removed, err
	}
	if _, idxErr := s.deleteByPattern(ctx, redisChildrenPrefix+"*"); idxErr != nil {
		return removed, idxErr
	}

	s.logger.WithField("tickets_removed", removed).Info("Redis ticket store flushed")
	return removed, nil
}

// Children implements Store.
func (s *RedisStore) Children(ctx context.Context, parentID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, childrenKey(parentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read child index: %w", err)
	}
	return ids, nil
}

// Scan implements Store.
func (s *RedisStore) Scan(ctx context.Context, visit func(*ticket.Ticket) error) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, redisTicketPrefix+"*", redisScanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan ticket keys: %w", err)
		}

		if len(keys) > 0 {
			values, mgetErr := s.rdb.MGet(ctx, keys...).Result()
			if mgetErr != nil {
				return fmt.Errorf("failed to fetch ticket batch: %w", mgetErr)
			}
			for _, v := range values {
				raw, ok := v.(string)
				if !ok {
					// Key expired between SCAN and MGET.
					continue
				}
				var t ticket.Ticket
				if unmarshalErr := json.Unmarshal([]byte(raw), &t); unmarshalErr != nil {
					return fmt.Errorf("failed to unmarshal stored ticket: %w", unmarshalErr)
				}
				if visitErr := visit(&t); visitErr != nil {
					return visitErr
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// deleteByPattern scans and deletes all keys matching a pattern in batches.
func (s *RedisStore) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, redisScanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			n, delErr := s.rdb.Del(ctx, keys...).Result()
			if delErr != nil {
				return deleted, fmt.Errorf("failed to delete key batch: %w", delErr)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// backstopTTL returns a key TTL for policies with a hard ceiling, padded
// so the sweeper always runs first. Zero disables the backstop.
func backstopTTL(t *ticket.Ticket) time.Duration {
	if lt, ok := t.Policy.(expiration.Lifetimed); ok && lt.MaxLifetime() > 0 {
		return lt.MaxLifetime() * redisBackstopFactor
	}
	return 0
}

func ticketKey(id string) string { return redisTicketPrefix + id }

func childrenKey(parentID string) string { return redisChildrenPrefix + parentID }

// maskID obscures ticket identifiers for safe logging, keeping the prefix
// and a short tail for correlation.
func maskID(id string) string {
	if len(id) <= 12 {
		return "***"
	}
	return id[:8] + "***" + id[len(id)-4:]
}
