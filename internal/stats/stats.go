// Package stats keeps process-local counters and a latency sketch for the
// image proxy. Values are exposed as JSON on the diagnostics route.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Outcome 标记一次请求的最终结果，对应一个计数器。
type Outcome int

const (
	OutcomeHit Outcome = iota
	OutcomeMiss
	OutcomeNotFound
	OutcomeUpstreamFailure
	OutcomeFault
	// OutcomeRejected 表示请求方法不被支持，未触达存储与源站。
	OutcomeRejected
)

const sketchAccuracy = 0.01

// Recorder 统计各类结果次数与请求耗时分布，可被多个请求并发调用。
type Recorder struct {
	started time.Time

	hits             atomic.Int64
	misses           atomic.Int64
	notFound         atomic.Int64
	upstreamFailures atomic.Int64
	faults           atomic.Int64
	rejected         atomic.Int64
	storeErrors      atomic.Int64
	bytesServed      atomic.Int64

	mu      sync.Mutex
	latency *ddsketch.DDSketch
}

// NewRecorder 构造 Recorder；sketch 参数固定，构造失败只可能是编程错误。
func NewRecorder() *Recorder {
	sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		panic(err)
	}
	return &Recorder{started: time.Now(), latency: sketch}
}

// Observe 记录一次请求的结果、耗时与返回的正文字节数。
func (r *Recorder) Observe(outcome Outcome, elapsed time.Duration, bytes int) {
	if r == nil {
		return
	}
	switch outcome {
	case OutcomeHit:
		r.hits.Add(1)
	case OutcomeMiss:
		r.misses.Add(1)
	case OutcomeNotFound:
		r.notFound.Add(1)
	case OutcomeUpstreamFailure:
		r.upstreamFailures.Add(1)
	case OutcomeFault:
		r.faults.Add(1)
	case OutcomeRejected:
		r.rejected.Add(1)
	}
	if bytes > 0 {
		r.bytesServed.Add(int64(bytes))
	}

	ms := float64(elapsed) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	_ = r.latency.Add(ms)
	r.mu.Unlock()
}

// StoreError 记录一次存储读写失败（无论是否导致请求失败）。
func (r *Recorder) StoreError() {
	if r == nil {
		return
	}
	r.storeErrors.Add(1)
}

// Snapshot 是某一时刻的统计快照。
type Snapshot struct {
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Requests         int64   `json:"requests"`
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	NotFound         int64   `json:"not_found"`
	UpstreamFailures int64   `json:"upstream_failures"`
	Faults           int64   `json:"faults"`
	Rejected         int64   `json:"rejected"`
	StoreErrors      int64   `json:"store_errors"`
	BytesServed      int64   `json:"bytes_served"`
	HitRatio         float64 `json:"hit_ratio"`
	LatencyMS        Latency `json:"latency_ms"`
}

// Latency 汇总耗时分位数，单位毫秒；无样本时均为 0。
type Latency struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
}

func (r *Recorder) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds:    time.Since(r.started).Seconds(),
		Hits:             r.hits.Load(),
		Misses:           r.misses.Load(),
		NotFound:         r.notFound.Load(),
		UpstreamFailures: r.upstreamFailures.Load(),
		Faults:           r.faults.Load(),
		Rejected:         r.rejected.Load(),
		StoreErrors:      r.storeErrors.Load(),
		BytesServed:      r.bytesServed.Load(),
	}
	snap.Requests = snap.Hits + snap.Misses + snap.NotFound + snap.UpstreamFailures + snap.Faults + snap.Rejected
	if served := snap.Hits + snap.Misses; served > 0 {
		snap.HitRatio = float64(snap.Hits) / float64(served)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latency.IsEmpty() {
		return snap
	}
	if values, err := r.latency.GetValuesAtQuantiles([]float64{0.5, 0.9, 0.99}); err == nil {
		snap.LatencyMS = Latency{P50: values[0], P90: values[1], P99: values[2]}
	}
	return snap
}
