package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"athanor/internal/model"
)

const (
	redisRecordPrefix = "athanor:cache:record:"
	redisLeasePrefix  = "athanor:cache:lease:"
)

// releaseLeaseScript deletes the lease only when the caller still owns it.
var releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisOptions configures the redis-backed store.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisStore serves distributed runs: records land via SETNX and leases are
// SETNX entries with a TTL, released with a compare-and-delete script so one
// worker can never drop another's lease.
type RedisStore struct {
	opts RedisOptions

	mu     sync.RWMutex
	client *redis.Client
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	return &RedisStore{opts: opts}
}

func (s *RedisStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Addr == "" {
		return errors.New("redis address is required")
	}
	if s.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     s.opts.Addr,
		Username: s.opts.Username,
		Password: s.opts.Password,
		DB:       s.opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping: %w", err)
	}
	s.client = client
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (model.CacheRecord, bool, error) {
	client, err := s.getClient()
	if err != nil {
		return model.CacheRecord{}, false, err
	}

	payload, err := client.Get(ctx, redisRecordPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CacheRecord{}, false, nil
	}
	if err != nil {
		return model.CacheRecord{}, false, err
	}

	record, err := decodeRecord(payload)
	if err != nil {
		return model.CacheRecord{}, false, fmt.Errorf("decode cache record %s: %w", key, err)
	}
	return record, true, nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, record model.CacheRecord) (bool, error) {
	client, err := s.getClient()
	if err != nil {
		return false, err
	}

	payload, err := encodeRecord(record)
	if err != nil {
		return false, err
	}
	return client.SetNX(ctx, redisRecordPrefix+key, payload, 0).Result()
}

func (s *RedisStore) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	client, err := s.getClient()
	if err != nil {
		return false, err
	}

	acquired, err := client.SetNX(ctx, redisLeasePrefix+key, owner, ttl).Result()
	if err != nil {
		return false, err
	}
	if acquired {
		return true, nil
	}
	holder, err := client.Get(ctx, redisLeasePrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return client.SetNX(ctx, redisLeasePrefix+key, owner, ttl).Result()
	}
	if err != nil {
		return false, err
	}
	if holder == owner {
		return true, client.Expire(ctx, redisLeasePrefix+key, ttl).Err()
	}
	return false, nil
}

func (s *RedisStore) ReleaseLease(ctx context.Context, key, owner string) error {
	client, err := s.getClient()
	if err != nil {
		return err
	}
	return releaseLeaseScript.Run(ctx, client, []string{redisLeasePrefix + key}, owner).Err()
}

func (s *RedisStore) Export(ctx context.Context) ([]model.CacheRecord, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, err
	}

	var out []model.CacheRecord
	iter := client.Scan(ctx, 0, redisRecordPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		payload, err := client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		record, err := decodeRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("decode cache record %s: %w", iter.Val(), err)
		}
		out = append(out, record)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *RedisStore) getClient() (*redis.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return nil, ErrNotInitialized
	}
	return s.client, nil
}

