package dedupe

import (
	"context"
	"fmt"

	"github.com/edgecache/imgcache/internal/config"
)

// Group 保证同一 key 同一时刻只有一个 fn 在执行。
type Group interface {
	// Do 执行 fn；shared 表示返回值是否同时交给了多个调用方，调用方不得修改共享结果。
	// ctx 只约束排队等待：ctx 结束时尚未轮到的调用方直接返回 ctx.Err()，fn 本身不受影响。
	Do(ctx context.Context, key string, fn func() (interface{}, error)) (v interface{}, err error, shared bool)
}

// New 根据配置的 Dedupe 模式构造 Group。
func New(mode config.DedupeMode, lockDir string) (Group, error) {
	switch mode {
	case config.DedupeNone, "":
		return NewNoOpGroup(), nil
	case config.DedupeMemory:
		return NewSingleflightGroup(), nil
	case config.DedupeFSLock:
		return NewFSLockGroup(lockDir, 0)
	default:
		return nil, fmt.Errorf("unsupported dedupe mode: %s", mode)
	}
}

// Guards 报告 g 是否真正提供互斥，NoOpGroup 返回 false。
func Guards(g Group) bool {
	switch g.(type) {
	case nil, NoOpGroup, *NoOpGroup:
		return false
	default:
		return true
	}
}

// SharesResults 报告 g 是否会把同一次执行的结果交给多个调用方。
func SharesResults(g Group) bool {
	_, ok := g.(*SingleflightGroup)
	return ok
}
