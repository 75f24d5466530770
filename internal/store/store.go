package store

import (
	"context"
	"errors"
	"time"
)

// Store 负责图片正文与元数据的持久化读写。
type Store interface {
	// Get 返回 key 对应的完整对象；不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) (*Object, error)

	// Put 写入正文与元数据。实现需保证单个 key 的写入要么完整成功、要么不可见。
	Put(ctx context.Context, key string, body []byte, meta Metadata) error

	// Close 释放底层连接或文件句柄。
	Close() error
}

// Metadata 是随正文一起保存的附加信息。
type Metadata struct {
	ContentType string    `json:"content_type"`
	StoredAt    time.Time `json:"stored_at"`
}

// Object 表示一次缓存命中结果。
type Object struct {
	Key      string
	Body     []byte
	Metadata Metadata
}

// Size 返回正文字节数。
func (o *Object) Size() int64 {
	if o == nil {
		return 0
	}
	return int64(len(o.Body))
}

// DefaultContentType 在元数据缺失内容类型时使用。
const DefaultContentType = "application/octet-stream"

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("store: object not found")
	// ErrInvalidKey 表示 key 为空或会逃逸出存储命名空间。
	ErrInvalidKey = errors.New("store: invalid key")
)

func normalizeMetadata(meta Metadata) Metadata {
	if meta.ContentType == "" {
		meta.ContentType = DefaultContentType
	}
	if meta.StoredAt.IsZero() {
		meta.StoredAt = time.Now().UTC()
	}
	return meta
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
