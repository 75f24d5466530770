package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	objectsDir = "objects"
	metaDir    = "meta"
)

// NewFSStore 以 basePath 为根目录构建磁盘存储，整站复用一份实例。文件名取 key 的 sha256，
// 任何 key 都不会成为另一个 key 的目录；原始 key 记录在元数据里。磁盘布局：
//
//	<basePath>/objects/<h[0:2]>/<h>        # 图片正文
//	<basePath>/meta/<h[0:2]>/<h>.json      # key + Metadata
func NewFSStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	for _, dir := range []string{objectsDir, metaDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 key 在进程内并发写入。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// fileMeta 是元数据文件的内容。
type fileMeta struct {
	Key string `json:"key"`
	Metadata
}

func (s *fileStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	bodyPath, metaPath, err := s.paths(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	meta := fileMeta{Key: key, Metadata: Metadata{StoredAt: info.ModTime().UTC()}}
	if raw, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", key, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if meta.Key != key {
		return nil, ErrNotFound
	}

	return &Object{
		Key:      key,
		Body:     body,
		Metadata: normalizeMetadata(meta.Metadata),
	}, nil
}

func (s *fileStore) Put(ctx context.Context, key string, body []byte, meta Metadata) error {
	bodyPath, metaPath, err := s.paths(key)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	if err := checkContext(ctx); err != nil {
		return err
	}

	rawMeta, err := json.Marshal(fileMeta{Key: key, Metadata: normalizeMetadata(meta)})
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	// 先落元数据再落正文：命中判定只看正文文件，正文可见时元数据必然已就绪。
	if err := writeFileAtomic(metaPath, rawMeta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := writeFileAtomic(bodyPath, body); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// paths 返回 key 的正文与元数据路径，key 原样参与哈希，不做路径归一化。
func (s *fileStore) paths(key string) (string, string, error) {
	if err := validateKey(key); err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	shard := name[:2]
	bodyPath := filepath.Join(s.basePath, objectsDir, shard, name)
	metaPath := filepath.Join(s.basePath, metaDir, shard, name+".json")
	return bodyPath, metaPath, nil
}

// validateKey 拒绝空 key、含 NUL 以及含 ".." 段的 key。其余 key 原样使用，
// "a//b" 与 "a/b" 是两个不同的对象。
func validateKey(key string) error {
	if key == "" || strings.ContainsRune(key, 0) {
		return ErrInvalidKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
