package storage

import "sync"

// keyLock serializes work per key in the order Lock was called (ticket
// lock). Different keys never wait on each other.
type keyLock struct {
	mu   sync.Mutex
	keys map[string]*keyQueue
}

type keyQueue struct {
	next    uint64
	serving uint64
	refs    int
	cond    *sync.Cond
}

func newKeyLock() *keyLock {
	return &keyLock{keys: make(map[string]*keyQueue)}
}

// Lock blocks until every earlier holder of key has unlocked, then returns
// the unlock function.
func (l *keyLock) Lock(key string) func() {
	l.mu.Lock()
	q, ok := l.keys[key]
	if !ok {
		q = &keyQueue{cond: sync.NewCond(&l.mu)}
		l.keys[key] = q
	}
	ticket := q.next
	q.next++
	q.refs++
	for q.serving != ticket {
		q.cond.Wait()
	}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			q.serving++
			q.refs--
			if q.refs == 0 {
				delete(l.keys, key)
			}
			q.cond.Broadcast()
			l.mu.Unlock()
		})
	}
}

// pending returns how many holders and waiters a key has.
func (l *keyLock) pending(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q, ok := l.keys[key]; ok {
		return q.refs
	}
	return 0
}
