package ingestion

import (
	"context"
	"sync"

	"github.com/poiesic/contractor/core"
)

// docLocks hands out one mutex per document id. Entries are dropped when
// nobody holds or waits for them.
type docLocks struct {
	mu        sync.Mutex
	locks     map[core.DocumentID]*docLock
	resetting bool
}

type docLock struct {
	ch   chan struct{}
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{locks: make(map[core.DocumentID]*docLock)}
}

func (d *docLocks) ref(id core.DocumentID) (*docLock, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resetting {
		return nil, ErrResetInProgress
	}
	l, ok := d.locks[id]
	if !ok {
		l = &docLock{ch: make(chan struct{}, 1)}
		d.locks[id] = l
	}
	l.refs++
	return l, nil
}

func (d *docLocks) unref(id core.DocumentID, l *docLock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(d.locks, id)
	}
}

// acquire locks id. With wait false it fails fast with
// ErrIngestionInProgress; otherwise it blocks until the lock is free or ctx
// is done.
func (d *docLocks) acquire(ctx context.Context, id core.DocumentID, wait bool) (release func(), err error) {
	l, err := d.ref(id)
	if err != nil {
		return nil, err
	}
	release = func() {
		<-l.ch
		d.unref(id, l)
	}

	if !wait {
		select {
		case l.ch <- struct{}{}:
			return release, nil
		default:
			d.unref(id, l)
			return nil, ErrIngestionInProgress
		}
	}

	select {
	case l.ch <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		d.unref(id, l)
		return nil, ctx.Err()
	}
}

// exclusive claims every document at once. It fails with
// ErrIngestionInProgress while any document lock is held or awaited, and
// acquire fails with ErrResetInProgress until release is called.
func (d *docLocks) exclusive() (release func(), err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resetting {
		return nil, ErrResetInProgress
	}
	if len(d.locks) > 0 {
		return nil, ErrIngestionInProgress
	}
	d.resetting = true
	return func() {
		d.mu.Lock()
		d.resetting = false
		d.mu.Unlock()
	}, nil
}
