package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	boltObjectsBucket = []byte("objects")
	boltMetaBucket    = []byte("meta")
)

// boltStore 把正文与元数据放在同一个 bbolt 文件的两个 bucket 中，单个事务内写入。
type boltStore struct {
	db *bolt.DB
}

// NewBoltStore 打开（或创建）path 处的 bbolt 数据库。
func NewBoltStore(path string) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{boltObjectsBucket, boltMetaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var (
		body    []byte
		rawMeta []byte
	)
	// 元数据与正文同事务写入，以元数据是否存在判定命中；空正文也算命中。
	if err := s.db.View(func(tx *bolt.Tx) error {
		m := tx.Bucket(boltMetaBucket).Get([]byte(key))
		if m == nil {
			return nil
		}
		// bbolt 返回的切片只在事务内有效。
		rawMeta = append([]byte(nil), m...)
		body = append([]byte{}, tx.Bucket(boltObjectsBucket).Get([]byte(key))...)
		return nil
	}); err != nil {
		return nil, err
	}
	if rawMeta == nil {
		return nil, ErrNotFound
	}

	var meta Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", key, err)
	}
	return &Object{Key: key, Body: body, Metadata: normalizeMetadata(meta)}, nil
}

func (s *boltStore) Put(ctx context.Context, key string, body []byte, meta Metadata) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	rawMeta, err := json.Marshal(normalizeMetadata(meta))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if body == nil {
		body = []byte{}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(boltMetaBucket).Put([]byte(key), rawMeta); err != nil {
			return err
		}
		return tx.Bucket(boltObjectsBucket).Put([]byte(key), body)
	})
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
