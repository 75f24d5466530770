package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/edgecache/imgcache/internal/config"
)

const s3StoredAtKey = "stored-at"

// s3Store 适用于 AWS S3 以及 R2、MinIO 等 S3 兼容对象存储。
type s3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store 根据配置构建 S3 客户端，并通过 HeadBucket 确认 bucket 可访问。
func NewS3Store(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %s: %w", cfg.Bucket, err)
	}

	return &s3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *s3Store) Get(ctx context.Context, key string) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	meta := Metadata{ContentType: aws.ToString(out.ContentType)}
	if raw, ok := out.Metadata[s3StoredAtKey]; ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			meta.StoredAt = parsed
		}
	}
	if meta.StoredAt.IsZero() && out.LastModified != nil {
		meta.StoredAt = out.LastModified.UTC()
	}
	return &Object{Key: key, Body: body, Metadata: normalizeMetadata(meta)}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, body []byte, meta Metadata) error {
	if err := validateKey(key); err != nil {
		return err
	}
	meta = normalizeMetadata(meta)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(meta.ContentType),
		Metadata: map[string]string{
			s3StoredAtKey: meta.StoredAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (s *s3Store) Close() error {
	return nil
}

func (s *s3Store) objectKey(key string) string {
	return joinPrefix(s.prefix, key)
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	// 部分 S3 兼容实现不会返回类型化错误，只能退回到错误文本匹配。
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound")
}

// joinPrefix 拼接对象前缀，保证二者之间恰好一个斜杠。
func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimRight(prefix, "/") + "/" + key
}
