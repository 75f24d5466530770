package store

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Faulty 包装任意 Store，按 rate 比例随机返回错误，用于演练存储故障下的代理行为。
type Faulty struct {
	inner Store
	rate  float64

	rngMu sync.Mutex
	rng   *rand.Rand

	getFaults atomic.Int64
	putFaults atomic.Int64
}

// NewFaulty 构造故障注入包装器，rate 会被限制在 [0, 1]。
func NewFaulty(inner Store, rate float64) *Faulty {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &Faulty{
		inner: inner,
		rate:  rate,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (f *Faulty) shouldFail() bool {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return f.rng.Float64() < f.rate
}

func (f *Faulty) Get(ctx context.Context, key string) (*Object, error) {
	if f.shouldFail() {
		f.getFaults.Add(1)
		return nil, fmt.Errorf("faulty store: injected get failure for %s", key)
	}
	return f.inner.Get(ctx, key)
}

func (f *Faulty) Put(ctx context.Context, key string, body []byte, meta Metadata) error {
	if f.shouldFail() {
		f.putFaults.Add(1)
		return fmt.Errorf("faulty store: injected put failure for %s", key)
	}
	return f.inner.Put(ctx, key, body, meta)
}

func (f *Faulty) Close() error {
	return f.inner.Close()
}

// Injected 返回已注入的 Get/Put 故障次数。
func (f *Faulty) Injected() (gets, puts int64) {
	return f.getFaults.Load(), f.putFaults.Load()
}
