package service

import (
	"sort"
	"sync"
)

// ConnectorLocks serializes check-then-insert per connector inside this process.
// The database exclusion constraint still guards across replicas.
type ConnectorLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewConnectorLocks builds an empty lock table.
func NewConnectorLocks() *ConnectorLocks {
	return &ConnectorLocks{entries: make(map[string]*lockEntry)}
}

// Lock acquires every id in sorted order and returns the release func.
func (l *ConnectorLocks) Lock(ids ...string) func() {
	keys := uniqueSorted(ids)
	held := make([]*lockEntry, 0, len(keys))
	for _, key := range keys {
		held = append(held, l.acquire(key))
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			l.release(keys[i], held[i])
		}
	}
}

func (l *ConnectorLocks) acquire(key string) *lockEntry {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return entry
}

func (l *ConnectorLocks) release(key string, entry *lockEntry) {
	entry.mu.Unlock()

	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
