package artifact

import "sync"

// NameLocks serialises mutation per model name. Entries are reference
// counted and dropped once nobody holds or waits on them.
type NameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	sync.RWMutex
	refs int
}

func NewNameLocks() *NameLocks {
	return &NameLocks{locks: make(map[string]*nameLock)}
}

func (n *NameLocks) acquire(name string) *nameLock {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.locks[name]
	if !ok {
		l = &nameLock{}
		n.locks[name] = l
	}
	l.refs++
	return l
}

func (n *NameLocks) release(name string, l *nameLock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(n.locks, name)
	}
}

// Lock takes the exclusive lock for name and returns its release func.
func (n *NameLocks) Lock(name string) func() {
	l := n.acquire(name)
	l.Lock()
	return func() {
		l.Unlock()
		n.release(name, l)
	}
}

// RLock takes the shared lock for name and returns its release func.
func (n *NameLocks) RLock(name string) func() {
	l := n.acquire(name)
	l.RLock()
	return func() {
		l.RUnlock()
		n.release(name, l)
	}
}
