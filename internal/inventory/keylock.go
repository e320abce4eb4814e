package inventory

import (
	"sync"
)

// keyLock serializes writers per key without a lock shared across keys.
// A locked key holds a channel that is closed on unlock; waiters block on
// it and then race to lock again.
type keyLock struct {
	mu    sync.Mutex
	locks map[ReplicaKey]chan struct{}
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[ReplicaKey]chan struct{})}
}

// Lock blocks until key is free and returns the unlock function.
func (l *keyLock) Lock(key ReplicaKey) func() {
	for {
		unlock, wait := l.tryLock(key)
		if unlock != nil {
			return unlock
		}

		<-wait
	}
}

func (l *keyLock) tryLock(key ReplicaKey) (func(), chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if wait, held := l.locks[key]; held {
		return nil, wait
	}

	released := make(chan struct{})
	l.locks[key] = released

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		delete(l.locks, key)
		close(released)
	}, nil
}
