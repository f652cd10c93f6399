package messenger

import (
	"sync"

	"github.com/k-iijima/hiveforge/internal/logging"
)

// LockManager hands out advisory resource locks to colonies. Waiters are
// promoted in FIFO order on release; the wait-for graph it maintains
// feeds deadlock detection.
type LockManager struct {
	mu      sync.Mutex
	holders map[string]string   // resource -> colony
	waiters map[string][]string // resource -> FIFO queue of colonies
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		holders: map[string]string{},
		waiters: map[string][]string{},
	}
}

// TryAcquire grants the lock when free (or already held by the same
// colony) and reports success.
func (lm *LockManager) TryAcquire(resourceID, colonyID string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	holder, held := lm.holders[resourceID]
	if !held {
		lm.holders[resourceID] = colonyID
		logging.Messenger("lock %s acquired by %s", resourceID, colonyID)
		return true
	}
	return holder == colonyID
}

// WaitFor enqueues the colony as a waiter. Duplicate waits are collapsed.
func (lm *LockManager) WaitFor(resourceID, colonyID string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.holders[resourceID] == colonyID {
		return
	}
	for _, w := range lm.waiters[resourceID] {
		if w == colonyID {
			return
		}
	}
	lm.waiters[resourceID] = append(lm.waiters[resourceID], colonyID)
}

// Release frees the lock and promotes the first waiter, returning the new
// holder's id or "" when nobody waited. Releasing a lock held by someone
// else is a no-op.
func (lm *LockManager) Release(resourceID, colonyID string) string {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.holders[resourceID] != colonyID {
		return ""
	}
	delete(lm.holders, resourceID)

	queue := lm.waiters[resourceID]
	if len(queue) == 0 {
		return ""
	}
	next := queue[0]
	lm.waiters[resourceID] = queue[1:]
	lm.holders[resourceID] = next
	logging.Messenger("lock %s promoted to %s", resourceID, next)
	return next
}

// ReleaseAllHeldBy frees every lock the colony holds and removes it from
// all wait queues. Used when a colony fails or is cancelled.
func (lm *LockManager) ReleaseAllHeldBy(colonyID string) []string {
	lm.mu.Lock()
	held := make([]string, 0, 2)
	for resource, holder := range lm.holders {
		if holder == colonyID {
			held = append(held, resource)
		}
	}
	for resource, queue := range lm.waiters {
		filtered := queue[:0]
		for _, w := range queue {
			if w != colonyID {
				filtered = append(filtered, w)
			}
		}
		lm.waiters[resource] = filtered
	}
	lm.mu.Unlock()

	for _, resource := range held {
		lm.Release(resource, colonyID)
	}
	return held
}

// Holder returns the current holder of a resource, or "".
func (lm *LockManager) Holder(resourceID string) string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.holders[resourceID]
}

// DetectDeadlock builds the wait-for graph restricted to the given
// colonies (edge A→B when A waits on a resource B holds) and reports
// whether it contains a cycle.
func (lm *LockManager) DetectDeadlock(colonies []string) bool {
	lm.mu.Lock()
	inScope := make(map[string]bool, len(colonies))
	for _, c := range colonies {
		inScope[c] = true
	}
	graph := map[string][]string{}
	for resource, queue := range lm.waiters {
		holder, held := lm.holders[resource]
		if !held || !inScope[holder] {
			continue
		}
		for _, waiter := range queue {
			if inScope[waiter] {
				graph[waiter] = append(graph[waiter], holder)
			}
		}
	}
	lm.mu.Unlock()

	visited := map[string]bool{}
	onStack := map[string]bool{}

	var visit func(node string) bool
	visit = func(node string) bool {
		visited[node] = true
		onStack[node] = true
		for _, next := range graph[node] {
			if onStack[next] {
				return true
			}
			if !visited[next] && visit(next) {
				return true
			}
		}
		onStack[node] = false
		return false
	}

	for _, c := range colonies {
		if !visited[c] && visit(c) {
			return true
		}
	}
	return false
}
