// Package reactor models the "global I/O reactor" design note of
// spec.md §9: a process-wide service, with explicit New/Shutdown, that
// components needing to post non-blocking work are handed rather than
// reaching for a package-level singleton.
package reactor

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reactor runs posted work items on a bounded pool of single-goroutine
// lanes, so a slow receiver (a stalled keepalive session, for instance)
// cannot back up every other poster. Work posted under the same key
// always lands on the same lane and is drained strictly in the order it
// was posted, which is what lets a single changefeed listener preserve
// its emission order (spec.md §5) while still letting unrelated
// listeners run concurrently.
type Reactor struct {
	lanes  []chan func()
	group  *errgroup.Group
	cancel context.CancelFunc
	log    *zap.Logger

	closeOnce sync.Once
	nextLane  uint32 // atomic, round-robins unkeyed Post calls
}

// New starts a Reactor with `workers` lanes, each drained by its own
// goroutine. Call Shutdown to stop it.
func New(workers int, log *zap.Logger) *Reactor {
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	r := &Reactor{
		lanes:  make([]chan func(), workers),
		group:  group,
		cancel: cancel,
		log:    log.With(zap.String("component", "reactor")),
	}
	for i := range r.lanes {
		lane := make(chan func(), 256)
		r.lanes[i] = lane
		group.Go(func() error {
			r.runWorker(ctx, lane)
			return nil
		})
	}
	return r
}

func (r *Reactor) runWorker(ctx context.Context, lane chan func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn, ok := <-lane:
			if !ok {
				return
			}
			fn()
		}
	}
}

// Post schedules fn to run on the next lane in round-robin order, with
// no ordering guarantee relative to any other posted work. Callers that
// need FIFO delivery for a given identity (a session, a listener) must
// use PostKeyed instead.
func (r *Reactor) Post(fn func()) {
	i := atomic.AddUint32(&r.nextLane, 1)
	r.postTo(r.lanes[i%uint32(len(r.lanes))], fn)
}

// PostKeyed schedules fn on the lane key always hashes to, so every fn
// posted under the same key runs in the order it was posted, while
// fn's posted under different keys may still run concurrently on other
// lanes.
func (r *Reactor) PostKeyed(key string, fn func()) {
	r.postTo(r.lanes[laneIndex(key, len(r.lanes))], fn)
}

func laneIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (r *Reactor) postTo(lane chan func(), fn func()) {
	select {
	case lane <- fn:
	default:
		// Lane momentarily full: block until it has room rather than drop,
		// since a dropped send would violate the fire-and-post contract
		// silently, and running fn here would overtake work already queued.
		r.log.Warn("reactor lane full, posting synchronously")
		lane <- fn
	}
}

// Shutdown stops accepting new work and waits for in-flight items to
// finish.
func (r *Reactor) Shutdown() {
	r.closeOnce.Do(func() {
		r.cancel()
		for _, lane := range r.lanes {
			close(lane)
		}
		_ = r.group.Wait()
	})
}
