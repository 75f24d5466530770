package dedupe

import "context"

// NoOpGroup 不做任何合并，每次调用都直接执行 fn。
type NoOpGroup struct{}

func NewNoOpGroup() *NoOpGroup {
	return &NoOpGroup{}
}

func (NoOpGroup) Do(_ context.Context, _ string, fn func() (interface{}, error)) (interface{}, error, bool) {
	v, err := fn()
	return v, err, false
}
