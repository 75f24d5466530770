package dedupe

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// SingleflightGroup 在进程内合并并发调用，等待者直接拿到首个调用的结果。
type SingleflightGroup struct {
	group singleflight.Group
}

func NewSingleflightGroup() *SingleflightGroup {
	return &SingleflightGroup{}
}

// Do 等待共享结果时若 ctx 先结束，本调用方返回 ctx.Err()，进行中的 fn 继续为其他等待者执行。
func (s *SingleflightGroup) Do(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error, bool) {
	ch := s.group.DoChan(key, fn)
	select {
	case res := <-ch:
		return res.Val, res.Err, res.Shared
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}
