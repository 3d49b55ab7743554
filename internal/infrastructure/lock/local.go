// Package lock serializes writers of the same purchase.
package lock

import (
	"context"
	"sync"

	"github.com/garyjia/shipment-workflow/internal/application/port"
)

// LocalLocker is an in-process keyed mutex. It only protects a single
// server instance; use RedisLocker when several instances share a database.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates a new LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry)}
}

// Lock blocks until the purchase is free or ctx is done
func (l *LocalLocker) Lock(ctx context.Context, purchaseID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[purchaseID]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[purchaseID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(purchaseID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(purchaseID, e)
		})
	}, nil
}

func (l *LocalLocker) unref(purchaseID string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, purchaseID)
	}
}

// held reports how many keys currently have holders or waiters
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Verify interface compliance
var _ port.PurchaseLocker = (*LocalLocker)(nil)
