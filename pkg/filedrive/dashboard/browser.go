// Package dashboard holds the file browser's view model: which identity and
// query are active, and the latest list committed for them.
//
// Every input change starts a new fetch under a fresh generation number and
// cancels the previous one. A fetch result is committed only while its
// generation is current, so a list fetched for one scope is never shown
// after the viewer has moved to another.
package dashboard

import (
	"context"
	"sync"

	"github.com/DanSmirnov48/file-drive/pkg/filedrive/identity"
)

// Status is the state of the current list
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Query is the user's search input
type Query struct {
	Search        string
	FavoritesOnly bool
}

// Fetcher loads the list for a viewer and query
type Fetcher[T any] func(ctx context.Context, viewer identity.Viewer, q Query) ([]T, error)

// Snapshot is what the browser currently shows
type Snapshot[T any] struct {
	Status     Status
	Items      []T
	Err        error
	ScopeID    string
	Generation uint64
}

// Browser re-fetches whenever its identity, query or data changes
type Browser[T any] struct {
	fetch Fetcher[T]

	mu      sync.Mutex
	state   identity.AuthState
	query   Query
	gen     uint64
	cancel  context.CancelFunc
	current Snapshot[T]
	updates chan Snapshot[T]
	closed  bool
	wg      sync.WaitGroup
}

// New creates a browser that loads lists with fetch. It starts in the
// Loading state with no identity.
func New[T any](fetch Fetcher[T]) *Browser[T] {
	b := &Browser[T]{
		fetch:   fetch,
		current: Snapshot[T]{Status: StatusLoading},
		updates: make(chan Snapshot[T], 1),
	}
	return b
}

// Updates delivers the latest snapshot after each change. Intermediate
// snapshots are dropped when the reader falls behind.
func (b *Browser[T]) Updates() <-chan Snapshot[T] {
	return b.updates
}

// Snapshot returns the current state
func (b *Browser[T]) Snapshot() Snapshot[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// SetIdentity switches the browser to a new auth state. The previous list is
// cleared immediately.
func (b *Browser[T]) SetIdentity(state identity.AuthState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	b.restartLocked(true)
}

// SetQuery changes the search input
func (b *Browser[T]) SetQuery(q Query) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.query = q
	b.restartLocked(true)
}

// Refresh re-fetches with the current inputs, keeping the shown list until
// the new one arrives
func (b *Browser[T]) Refresh() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restartLocked(false)
}

// Close cancels any in-flight fetch and waits for it to return
func (b *Browser[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.gen++
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Browser[T]) restartLocked(clear bool) {
	if b.closed {
		return
	}

	b.gen++
	gen := b.gen
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}

	viewer, err := identity.NewViewer(b.state)
	if err != nil {
		// Nothing to fetch until both halves of the identity are known
		b.commitLocked(Snapshot[T]{Status: StatusLoading, Generation: gen})
		return
	}

	if clear || b.current.ScopeID != viewer.ScopeID || b.current.Status != StatusReady {
		b.commitLocked(Snapshot[T]{Status: StatusLoading, ScopeID: viewer.ScopeID, Generation: gen})
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	query := b.query

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		items, err := b.fetch(ctx, viewer, query)

		b.mu.Lock()
		defer b.mu.Unlock()
		if gen != b.gen {
			return
		}
		cancel()
		b.cancel = nil

		if err != nil {
			b.commitLocked(Snapshot[T]{Status: StatusFailed, Err: err, ScopeID: viewer.ScopeID, Generation: gen})
			return
		}
		if items == nil {
			items = []T{}
		}
		b.commitLocked(Snapshot[T]{Status: StatusReady, Items: items, ScopeID: viewer.ScopeID, Generation: gen})
	}()
}

func (b *Browser[T]) commitLocked(s Snapshot[T]) {
	b.current = s
	select {
	case <-b.updates:
	default:
	}
	b.updates <- s
}
