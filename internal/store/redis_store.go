package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/edgecache/imgcache/internal/config"
)

const (
	redisKeyPrefix   = "img:"
	redisFieldBody   = "body"
	redisFieldType   = "content_type"
	redisFieldStored = "stored_at"
)

// redisStore 每个对象对应一个 hash，单条 HSET 写入正文与元数据，不设置过期时间。
type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 连接 Redis 并执行一次 PING 确认可用。
func NewRedisStore(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis %s: %w", cfg.RedisAddr, err)
	}
	return newRedisStoreWithClient(client, cfg.Prefix), nil
}

func newRedisStoreWithClient(client *redis.Client, prefix string) *redisStore {
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	fields, err := s.client.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	body, ok := fields[redisFieldBody]
	if !ok {
		return nil, ErrNotFound
	}

	meta := Metadata{ContentType: fields[redisFieldType]}
	if raw := fields[redisFieldStored]; raw != "" {
		if unixNano, err := strconv.ParseInt(raw, 10, 64); err == nil {
			meta.StoredAt = time.Unix(0, unixNano).UTC()
		}
	}
	return &Object{Key: key, Body: []byte(body), Metadata: normalizeMetadata(meta)}, nil
}

func (s *redisStore) Put(ctx context.Context, key string, body []byte, meta Metadata) error {
	if err := validateKey(key); err != nil {
		return err
	}
	meta = normalizeMetadata(meta)

	err := s.client.HSet(ctx, s.redisKey(key), map[string]interface{}{
		redisFieldBody:   body,
		redisFieldType:   meta.ContentType,
		redisFieldStored: strconv.FormatInt(meta.StoredAt.UnixNano(), 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) redisKey(key string) string {
	return redisKeyPrefix + joinPrefix(s.prefix, key)
}
