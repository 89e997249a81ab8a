package bus

import "sync"

// roomLocks hands out one mutex per room key. Joins and leaves of the same
// room run in order while unrelated rooms never wait on each other. Entries
// are dropped once nobody holds or waits for them.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

// lock acquires roomKey's mutex and returns the function releasing it.
func (l *roomLocks) lock(roomKey string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*roomLock)
	}
	rl, ok := l.locks[roomKey]
	if !ok {
		rl = &roomLock{}
		l.locks[roomKey] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomKey)
		}
		l.mu.Unlock()
	}
}

func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
