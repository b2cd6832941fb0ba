// Package broadcaster is the in-memory publish-subscribe channel for
// ephemeral cycle state. Subscribers are plain function references held in
// registration order; nothing here is persisted.
package broadcaster

import (
	"sync"

	"github.com/pvworks/floorsync/pkg/models"
)

type progressSub struct {
	id int
	fn func(models.SyncProgress)
}

type statusSub struct {
	id int
	fn func(models.StatusEvent)
}

// Broadcaster fans progress and status events out to subscribers and keeps
// the latest progress snapshot.
type Broadcaster struct {
	mu           sync.Mutex
	nextID       int
	progressSubs []progressSub
	statusSubs   []statusSub
	progress     models.SyncProgress
}

// New returns an idle broadcaster.
func New() *Broadcaster {
	return &Broadcaster{progress: models.SyncProgress{State: models.StateIdle}}
}

// OnProgress registers a progress callback and returns its unsubscribe
// function. Callbacks run synchronously in registration order; unsubscribe
// is idempotent.
func (b *Broadcaster) OnProgress(fn func(models.SyncProgress)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.progressSubs = append(b.progressSubs, progressSub{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.progressSubs {
			if s.id == id {
				b.progressSubs = append(b.progressSubs[:i], b.progressSubs[i+1:]...)
				return
			}
		}
	}
}

// OnStatus registers a status callback and returns its unsubscribe function.
func (b *Broadcaster) OnStatus(fn func(models.StatusEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.statusSubs = append(b.statusSubs, statusSub{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.statusSubs {
			if s.id == id {
				b.statusSubs = append(b.statusSubs[:i], b.statusSubs[i+1:]...)
				return
			}
		}
	}
}

// PublishProgress updates the snapshot and notifies progress subscribers.
func (b *Broadcaster) PublishProgress(p models.SyncProgress) {
	b.mu.Lock()
	b.progress = p
	subs := make([]progressSub, len(b.progressSubs))
	copy(subs, b.progressSubs)
	b.mu.Unlock()

	// Callbacks run outside the lock so a subscriber may re-register.
	for _, s := range subs {
		s.fn(p)
	}
}

// PublishStatus notifies status subscribers and tracks the state in the
// progress snapshot.
func (b *Broadcaster) PublishStatus(ev models.StatusEvent) {
	b.mu.Lock()
	b.progress.State = ev.State
	subs := make([]statusSub, len(b.statusSubs))
	copy(subs, b.statusSubs)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// SetIdle returns the state machine to idle without notifying subscribers;
// the final status of a cycle has already been broadcast by then.
func (b *Broadcaster) SetIdle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress.State = models.StateIdle
}

// GetProgress returns the latest progress snapshot.
func (b *Broadcaster) GetProgress() models.SyncProgress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

// IsCurrentlySyncing reports whether a cycle is between starting and its
// final status.
func (b *Broadcaster) IsCurrentlySyncing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress.State == models.StateStarting || b.progress.State == models.StateSyncing
}
