package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxlate/internal/observe"
	"github.com/MrWong99/voxlate/pkg/audio"
)

// Policy selects what the frame queue does when it is full.
type Policy string

const (
	// PolicyDropOldest discards the oldest queued frame to make room.
	PolicyDropOldest Policy = "drop_oldest"

	// PolicyBlock waits up to one frame period for room, then discards the
	// new frame. The device callback is never stalled longer than that.
	PolicyBlock Policy = "block"
)

// ParsePolicy validates s. An empty string selects [PolicyDropOldest].
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyDropOldest:
		return PolicyDropOldest, nil
	case PolicyBlock:
		return PolicyBlock, nil
	default:
		return "", fmt.Errorf("session: unknown queue policy %q (want %q or %q)", s, PolicyDropOldest, PolicyBlock)
	}
}

// DefaultQueueCapacity holds about 7.7 s of 30 ms frames.
const DefaultQueueCapacity = 256

// warnInterval rate-limits the falling-behind warning.
const warnInterval = time.Second

// Queue is the bounded single-producer/single-consumer hand-off between the
// device callback and the detection goroutine. Frames leave the queue in the
// order they entered it and are never duplicated.
type Queue struct {
	ch      chan audio.Frame
	policy  Policy
	wait    time.Duration
	metrics *observe.Metrics

	dropped     atomic.Int64
	lastDropped atomic.Uint64

	// Owned by the consumer goroutine.
	reported int64
	lastWarn time.Time
}

// NewQueue returns a queue holding up to capacity frames. framePeriod bounds
// the producer's wait under [PolicyBlock].
func NewQueue(capacity int, policy Policy, framePeriod time.Duration, m *observe.Metrics) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if policy == "" {
		policy = PolicyDropOldest
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Queue{
		ch:      make(chan audio.Frame, capacity),
		policy:  policy,
		wait:    framePeriod,
		metrics: m,
	}
}

// Push enqueues f. It is called on the device callback goroutine and never
// blocks for longer than one frame period.
func (q *Queue) Push(f audio.Frame) {
	select {
	case q.ch <- f:
		q.metrics.QueueDepth.Add(context.Background(), 1)
		return
	default:
	}

	switch q.policy {
	case PolicyBlock:
		t := time.NewTimer(q.wait)
		defer t.Stop()
		select {
		case q.ch <- f:
			q.metrics.QueueDepth.Add(context.Background(), 1)
		case <-t.C:
			q.drop(f.Seq)
		}

	default:
		for {
			select {
			case old := <-q.ch:
				q.metrics.QueueDepth.Add(context.Background(), -1)
				q.drop(old.Seq)
			default:
			}
			select {
			case q.ch <- f:
				q.metrics.QueueDepth.Add(context.Background(), 1)
				return
			default:
			}
		}
	}
}

// Pop returns the next frame, blocking until one is available or ctx is
// done.
func (q *Queue) Pop(ctx context.Context) (audio.Frame, bool) {
	select {
	case <-ctx.Done():
		return audio.Frame{}, false
	case f := <-q.ch:
		q.metrics.QueueDepth.Add(ctx, -1)
		return f, true
	}
}

// Discard empties the queue and returns the number of frames removed.
func (q *Queue) Discard() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			if n > 0 {
				q.metrics.QueueDepth.Add(context.Background(), int64(-n))
			}
			return n
		}
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the number of frames discarded since creation.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// drop runs on the device callback goroutine. It only updates counters;
// the warning is logged by the consumer in [Queue.ReportBacklog].
func (q *Queue) drop(seq uint64) {
	q.dropped.Add(1)
	q.lastDropped.Store(seq)
	q.metrics.RecordDroppedFrames(context.Background(), string(q.policy), 1)
}

// ReportBacklog logs the falling-behind warning when frames were dropped
// since the last report, at most once per second. It must be called from
// the consumer goroutine, never from the device callback.
func (q *Queue) ReportBacklog() {
	total := q.dropped.Load()
	if total == q.reported {
		return
	}
	now := time.Now()
	if now.Sub(q.lastWarn) < warnInterval {
		return
	}
	slog.Warn("session: falling behind",
		"policy", string(q.policy),
		"dropped_seq", q.lastDropped.Load(),
		"dropped", total-q.reported,
		"dropped_total", total,
		"depth", len(q.ch),
		"capacity", cap(q.ch),
	)
	q.reported = total
	q.lastWarn = now
}
