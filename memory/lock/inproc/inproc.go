// Package inproc implements lock.WorkflowLock with a per-workflow
// sync.Mutex, sufficient for a single binary (spec.md §5: "a per-workflow
// mutex suffices").
package inproc

import (
	"context"
	"sync"

	"github.com/toolmem/toolmem/memory/lock"
)

// Locks is an in-process lock.WorkflowLock.
type Locks struct {
	mu        sync.Mutex
	workflows map[string]*sync.Mutex
}

// New constructs an empty Locks.
func New() *Locks {
	return &Locks{workflows: make(map[string]*sync.Mutex)}
}

func (l *Locks) workflowMutex(workflowID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.workflows[workflowID]
	if !ok {
		m = &sync.Mutex{}
		l.workflows[workflowID] = m
	}
	return m
}

// Lock acquires the mutex for workflowID. ctx cancellation has no effect
// on an in-process mutex; the lock is always granted once prior holders
// release it.
func (l *Locks) Lock(_ context.Context, workflowID string) (func(), error) {
	m := l.workflowMutex(workflowID)
	m.Lock()
	return m.Unlock, nil
}

var _ lock.WorkflowLock = (*Locks)(nil)
