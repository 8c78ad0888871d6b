package storage

import (
	"context"
	"sync"

	pkgstrings "kycvault/pkg/platform/strings"
)

// KeyedMutex is a map of per-key locks. Entries are reference counted and removed
// once no goroutine holds or waits on them, so the map does not grow with the
// number of records ever touched.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// LockAll acquires every key in sorted order and returns a release func. If ctx ends
// while waiting, locks already taken are released and ctx.Err() is returned.
func (k *KeyedMutex) LockAll(ctx context.Context, keys []string) (func(), error) {
	keys = pkgstrings.SortedUnique(keys)
	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.unlock(held[i])
		}
	}
	for _, key := range keys {
		l := k.acquireRef(key)
		select {
		case l.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			k.releaseRef(key)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (k *KeyedMutex) acquireRef(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedMutex) releaseRef(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *KeyedMutex) unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	k.mu.Unlock()
	<-l.ch
	k.releaseRef(key)
}

// Len reports how many keys are currently tracked.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
