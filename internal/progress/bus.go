package progress

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// subscriberBuffer is the channel depth per subscriber; publishes never block,
// a slow consumer just misses intermediate snapshots.
const subscriberBuffer = 64

type entry struct {
	state      models.ProgressState
	updatedAt  time.Time
	terminalAt time.Time
}

// Bus fans progress snapshots out to subscribers and caches the latest state
// per job. Retention is bounded: terminal entries are evicted once the TTL
// elapses. Each job has a single producer, so per-job writes are ordered.
type Bus struct {
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
	jobs map[string]*entry
	subs map[string][]chan models.ProgressState
}

// NewBus creates a progress bus retaining terminal states for ttl
func NewBus(ttl time.Duration) *Bus {
	return &Bus{
		ttl:  ttl,
		now:  time.Now,
		jobs: make(map[string]*entry),
		subs: make(map[string][]chan models.ProgressState),
	}
}

// Publish records the latest state for a job and fans it out to subscribers.
// It never blocks. Percent regressions are clamped to the previous value, and
// once a terminal state is recorded, publishes with a different status are
// dropped.
func (b *Bus) Publish(state models.ProgressState) {
	state.ClampPercent()
	if state.Timestamp.IsZero() {
		state.Timestamp = b.now().UTC()
	}

	b.mu.Lock()
	now := b.now()
	prev, ok := b.jobs[state.JobID]
	if ok {
		if prev.state.Status.Terminal() && state.Status != prev.state.Status {
			b.mu.Unlock()
			return
		}
		if state.Percent < prev.state.Percent {
			state.Percent = prev.state.Percent
		}
	}

	e := &entry{state: state, updatedAt: now}
	if ok && !prev.terminalAt.IsZero() {
		e.terminalAt = prev.terminalAt
	}
	if state.Status.Terminal() && e.terminalAt.IsZero() {
		e.terminalAt = now
	}
	b.jobs[state.JobID] = e
	b.evictExpired(now)

	listeners := b.subs[state.JobID]
	for _, ch := range listeners {
		select {
		case ch <- state:
		default:
		}
	}
	b.mu.Unlock()
}

// Latest returns the most recent state for a job, if still retained
func (b *Bus) Latest(jobID string) (models.ProgressState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictExpired(b.now())
	e, ok := b.jobs[jobID]
	if !ok {
		return models.ProgressState{}, false
	}
	return e.state, true
}

// Subscribe returns a channel receiving every snapshot published for jobID.
// The caller must Unsubscribe when done.
func (b *Bus) Subscribe(jobID string) <-chan models.ProgressState {
	ch := make(chan models.ProgressState, subscriberBuffer)

	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], ch)
	// Replay the latest snapshot so late subscribers see current state.
	if e, ok := b.jobs[jobID]; ok {
		ch <- e.state
	}
	b.mu.Unlock()

	return ch
}

// Unsubscribe detaches a channel previously returned by Subscribe
func (b *Bus) Unsubscribe(jobID string, sub <-chan models.ProgressState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	listeners := b.subs[jobID]
	for i, ch := range listeners {
		if ch == sub {
			b.subs[jobID] = append(listeners[:i], listeners[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.subs[jobID]) == 0 {
		delete(b.subs, jobID)
	}
}

// Snapshot returns the retained state for every live job
func (b *Bus) Snapshot() map[string]models.ProgressState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictExpired(b.now())
	out := make(map[string]models.ProgressState, len(b.jobs))
	for id, e := range b.jobs {
		out[id] = e.state
	}
	return out
}

// StartSweeper runs periodic eviction until ctx is cancelled
func (b *Bus) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.mu.Lock()
				b.evictExpired(b.now())
				b.mu.Unlock()
			}
		}
	}()
}

// evictExpired drops terminal entries older than the TTL. Caller holds b.mu.
func (b *Bus) evictExpired(now time.Time) {
	for id, e := range b.jobs {
		if !e.terminalAt.IsZero() && now.Sub(e.terminalAt) > b.ttl {
			delete(b.jobs, id)
		}
	}
}
