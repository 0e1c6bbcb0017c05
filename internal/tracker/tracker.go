// Package tracker records, per job and stream, the highest completion index
// the client has fully retrieved. Indices only ever move forward.
package tracker

import (
	"sync"

	"github.com/rescale/jobshell/internal/models"
)

// Key identifies one stream of one job.
type Key struct {
	JobID  int64
	Stream models.StreamKind
}

// Tracker is safe for concurrent use. The zero value is not usable; call New.
type Tracker struct {
	mu      sync.Mutex
	indices map[Key]int64
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{indices: make(map[Key]int64)}
}

// Get returns the last retrieved index for key, 0 if never seen.
func (t *Tracker) Get(key Key) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.indices[key]
}

// Advance raises the index for key to index and returns the stored value.
// Lower values are ignored so the watermark never moves backwards.
func (t *Tracker) Advance(key Key, index int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur := t.indices[key]; index <= cur {
		return cur
	}
	t.indices[key] = index
	return index
}

// Snapshot returns a copy of every recorded index.
func (t *Tracker) Snapshot() map[Key]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Key]int64, len(t.indices))
	for k, v := range t.indices {
		out[k] = v
	}
	return out
}

// Len returns the number of keys with a recorded index.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.indices)
}
