// Package locking serializes work per key. Settlement takes "invoice:<id>" so
// that two confirmations never read-modify-write the same invoice at once.
package locking

import (
	"context"
	"fmt"
	"sync"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// Locker acquires an exclusive lock on key. The returned release func must be
// called exactly once. A lock that cannot be obtained before ctx is done yields
// an error wrapping ledger.ErrConflict.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// TryLocker is a Locker that can also take a key without waiting. ok is false
// when another holder has it; err reports a broken backend.
type TryLocker interface {
	Locker
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// InvoiceKey is the lock key for an invoice.
func InvoiceKey(invoiceID int64) string {
	return fmt.Sprintf("invoice:%d", invoiceID)
}

// UserKey is the lock key for a user's reconciliation pass.
func UserKey(userID int64) string {
	return fmt.Sprintf("reconcile:user:%d", userID)
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// removed when the last holder or waiter leaves.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{} // buffered(1): holding the token means holding the lock
	refs int
}

// NewKeyedMutex creates an empty in-process locker
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

var _ TryLocker = (*KeyedMutex)(nil)

// Acquire blocks until key is free or ctx is done.
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.leave(key, l)
		return nil, fmt.Errorf("lock %s: %w: %w", key, ledger.ErrConflict, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.leave(key, l)
		})
	}, nil
}

// TryAcquire takes key only if it is free right now. The error is always nil.
func (k *KeyedMutex) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	default:
		k.leave(key, l)
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.leave(key, l)
		})
	}, true, nil
}

func (k *KeyedMutex) leave(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
