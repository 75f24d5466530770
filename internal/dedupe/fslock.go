package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	defaultLockWait = 30 * time.Second
	lockPollEvery   = 10 * time.Millisecond
)

// FSLockGroup 用锁目录下的 flock 文件做跨进程互斥。结果不共享：每个拿到锁的调用方
// 都会执行自己的 fn，所以 fn 需要先重新检查存储。
type FSLockGroup struct {
	dir  string
	wait time.Duration
}

// NewFSLockGroup 确保锁目录存在。lockDir 为空时使用系统临时目录，wait<=0 时等待 30s。
func NewFSLockGroup(lockDir string, wait time.Duration) (*FSLockGroup, error) {
	if lockDir == "" {
		lockDir = filepath.Join(os.TempDir(), "imgcache-dedupe-locks")
	}
	if wait <= 0 {
		wait = defaultLockWait
	}
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir %s: %w", lockDir, err)
	}
	return &FSLockGroup{dir: lockDir, wait: wait}, nil
}

// Do 最多等待 wait 时长拿锁；ctx 提前结束（如客户端断开）时放弃等待。
func (g *FSLockGroup) Do(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error, bool) {
	lock := flock.New(g.lockPath(key))

	waitCtx, cancel := context.WithTimeout(ctx, g.wait)
	defer cancel()

	locked, err := lock.TryLockContext(waitCtx, lockPollEvery)
	switch {
	case err != nil:
		return nil, fmt.Errorf("lock %s: %w", key, err), false
	case !locked:
		return nil, fmt.Errorf("lock %s: not acquired within %s", key, g.wait), false
	}
	defer lock.Unlock()

	v, err := fn()
	return v, err, false
}

// lockPath 以 key 的 sha256 命名锁文件，key 中的斜杠不会产生子目录。
func (g *FSLockGroup) lockPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(g.dir, hex.EncodeToString(sum[:])+".lock")
}
