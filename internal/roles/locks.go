package roles

import (
	"sort"
	"sync"
)

// subtreeLocks serializes hierarchy mutations per tree root, so two
// concurrent reparenting operations on the same tree can never race the
// cycle check against the edge write. Operations spanning two trees lock
// both roots in ascending id order to avoid deadlock.
type subtreeLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newSubtreeLocks() *subtreeLocks {
	return &subtreeLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *subtreeLocks) lockFor(root int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[root]
	if !ok {
		m = &sync.Mutex{}
		l.locks[root] = m
	}
	return m
}

// acquire locks the given roots and returns the release function.
func (l *subtreeLocks) acquire(roots ...int64) func() {
	unique := make(map[int64]struct{}, len(roots))
	for _, root := range roots {
		unique[root] = struct{}{}
	}
	ordered := make([]int64, 0, len(unique))
	for root := range unique {
		ordered = append(ordered, root)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	held := make([]*sync.Mutex, 0, len(ordered))
	for _, root := range ordered {
		m := l.lockFor(root)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
