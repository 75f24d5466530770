package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-redis/redis/v8"

	"github.com/edgecache/imgcache/internal/config"
)

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	fsStore, err := Open(context.Background(), config.StoreConfig{Backend: config.BackendFS, Path: dir})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if _, ok := fsStore.(*fileStore); !ok {
		t.Fatalf("expected *fileStore, got %T", fsStore)
	}

	bs, err := Open(context.Background(), config.StoreConfig{Backend: config.BackendBolt, Path: filepath.Join(dir, "b.db")})
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	defer bs.Close()
	if _, ok := bs.(*boltStore); !ok {
		t.Fatalf("expected *boltStore, got %T", bs)
	}

	if _, err := Open(context.Background(), config.StoreConfig{Backend: "tape"}); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}

func TestOpenWrapsFaultInjection(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Backend: config.BackendFS, Path: t.TempDir(), FaultRate: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	faulty, ok := s.(*Faulty)
	if !ok {
		t.Fatalf("expected *Faulty, got %T", s)
	}

	if err := faulty.Put(context.Background(), "k", []byte("v"), Metadata{}); err == nil {
		t.Fatalf("rate 1 should always fail")
	}
	if _, err := faulty.Get(context.Background(), "k"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected injected error, got %v", err)
	}
	gets, puts := faulty.Injected()
	if gets != 1 || puts != 1 {
		t.Fatalf("unexpected injected counts gets=%d puts=%d", gets, puts)
	}
}

func TestFaultyZeroRatePassesThrough(t *testing.T) {
	inner := newTestFSStore(t)
	faulty := NewFaulty(inner, -1)
	if err := faulty.Put(context.Background(), "k", []byte("v"), Metadata{}); err != nil {
		t.Fatalf("rate 0 should never fail: %v", err)
	}
	if obj, err := faulty.Get(context.Background(), "k"); err != nil || string(obj.Body) != "v" {
		t.Fatalf("unexpected get: %v %v", obj, err)
	}
}

func TestObjectKeyPrefixes(t *testing.T) {
	if got := joinPrefix("", "a/b.png"); got != "a/b.png" {
		t.Fatalf("unexpected key: %s", got)
	}
	if got := joinPrefix("images/", "a/b.png"); got != "images/a/b.png" {
		t.Fatalf("unexpected key: %s", got)
	}
	if got := joinPrefix("images", "a/b.png"); got != "images/a/b.png" {
		t.Fatalf("unexpected key: %s", got)
	}

	rs := newRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "site")
	defer rs.Close()
	if got := rs.redisKey("logo.png"); got != "img:site/logo.png" {
		t.Fatalf("unexpected redis key: %s", got)
	}
}

func TestS3NotFoundDetection(t *testing.T) {
	if !isS3NotFound(errors.New("operation error S3: GetObject, api error NoSuchKey: The specified key does not exist.")) {
		t.Fatalf("NoSuchKey text should be detected")
	}
	if isS3NotFound(errors.New("AccessDenied")) {
		t.Fatalf("AccessDenied is not a miss")
	}
	if !strings.Contains(ErrNotFound.Error(), "not found") {
		t.Fatalf("unexpected sentinel text: %s", ErrNotFound)
	}
}
