// Package lock provides the per-workflow mutual exclusion spec.md §5
// requires between Preflight and post-write housekeeping. Two
// implementations are provided: inproc (a single binary) and redislock
// (multiple agent processes driving the same workflow against a shared
// graph backend).
package lock

import "context"

// WorkflowLock serializes operations within a single workflow. Lock
// blocks until the lock is acquired or ctx is done, returning an unlock
// function the caller must invoke exactly once.
type WorkflowLock interface {
	Lock(ctx context.Context, workflowID string) (unlock func(), err error)
}
