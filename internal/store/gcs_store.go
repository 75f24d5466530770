package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/edgecache/imgcache/internal/config"
)

// gcsStore 把对象写入 Google Cloud Storage；写入在 Writer.Close 成功时才对读者可见。
type gcsStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSStore 使用 Application Default Credentials，或配置中的 CredentialsFile。
func NewGCSStore(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	bucket := client.Bucket(cfg.Bucket)
	if _, err := bucket.Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to access GCS bucket %s: %w", cfg.Bucket, err)
	}

	return &gcsStore{
		client: client,
		bucket: bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *gcsStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	reader, err := s.bucket.Object(joinPrefix(s.prefix, key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open GCS object: %w", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object: %w", err)
	}

	meta := Metadata{
		ContentType: reader.Attrs.ContentType,
		StoredAt:    reader.Attrs.LastModified,
	}
	return &Object{Key: key, Body: body, Metadata: normalizeMetadata(meta)}, nil
}

func (s *gcsStore) Put(ctx context.Context, key string, body []byte, meta Metadata) error {
	if err := validateKey(key); err != nil {
		return err
	}
	meta = normalizeMetadata(meta)

	// 取消 ctx 会让 Writer 放弃上传，对象保持不存在。
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := s.bucket.Object(joinPrefix(s.prefix, key)).NewWriter(writeCtx)
	writer.ContentType = meta.ContentType
	if _, err := writer.Write(body); err != nil {
		cancel()
		_ = writer.Close()
		return fmt.Errorf("failed to write GCS object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to commit GCS object: %w", err)
	}
	return nil
}

func (s *gcsStore) Close() error {
	return s.client.Close()
}
