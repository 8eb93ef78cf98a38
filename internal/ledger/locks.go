package ledger

import "sync"

// userLocks hands out one mutex per user id. Entries are never evicted;
// the map is bounded by the number of users.
type userLocks struct {
	mu    sync.Mutex
	users map[int64]*sync.Mutex
}

// lock acquires the user's mutex and returns the release func.
func (l *userLocks) lock(userID int64) func() {
	l.mu.Lock()
	if l.users == nil {
		l.users = make(map[int64]*sync.Mutex)
	}
	m, ok := l.users[userID]
	if !ok {
		m = &sync.Mutex{}
		l.users[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
