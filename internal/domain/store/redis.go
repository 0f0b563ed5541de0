package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a redis-backed store. Items live under prefix+id and
// their order is kept in the prefix+"order" list.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "imgshrink:image:"
	}
	return &redisStore{
		client: client,
		ttl:    cfg.TTL,
		prefix: prefix,
	}, nil
}

func (s *redisStore) key(id string) string {
	return s.prefix + id
}

func (s *redisStore) orderKey() string {
	return s.prefix + "order"
}

func (s *redisStore) Put(ctx context.Context, item Item) error {
	if item.ID == "" {
		return fmt.Errorf("image id required")
	}
	existing, err := s.Get(ctx, item.ID)
	isNew := errors.Is(err, ErrNotFound)
	if err != nil && !isNew {
		return err
	}
	if !isNew && item.CreatedAt.IsZero() {
		item.CreatedAt = existing.CreatedAt
	}
	stamp(&item)

	data, err := sonic.Marshal(item)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(item.ID), data, s.ttl)
		if isNew {
			pipe.LRem(ctx, s.orderKey(), 0, item.ID)
			pipe.RPush(ctx, s.orderKey(), item.ID)
		}
		return nil
	})
	return err
}

func (s *redisStore) Get(ctx context.Context, id string) (Item, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Item{}, err
	}
	var item Item
	if err := sonic.Unmarshal(data, &item); err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *redisStore) List(ctx context.Context) ([]Item, error) {
	ids, err := s.client.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		item, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// expired; drop the dangling order entry
			s.client.LRem(ctx, s.orderKey(), 0, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *redisStore) Remove(ctx context.Context, id string) error {
	var deleted *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, s.key(id))
		pipe.LRem(ctx, s.orderKey(), 0, id)
		return nil
	})
	if err != nil {
		return err
	}
	if deleted.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	ids, err := s.client.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.orderKey())
	return s.client.Del(ctx, keys...).Err()
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	total, err := s.client.LLen(ctx, s.orderKey()).Result()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        DriverRedis,
		"total":       total,
		"ttl_seconds": int(s.ttl.Seconds()),
		"prefix":      s.prefix,
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
