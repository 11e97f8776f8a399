package lockmgr

import (
	"context"
	"github.com/ValentinKolb/memjob/lib/store"
	"time"
)

// ILockManager defines the interface for a named lock provider.
type ILockManager interface {
	// Acquire acquires the lock for resource, waiting at most timeout.
	// A timeout <= 0 tries exactly once without waiting.
	// Returns the held lock, or an error matching store.ErrLockTimeout.
	Acquire(resource string, timeout time.Duration) (lock store.ILock, err error)

	// AcquireContext is like Acquire but also gives up when ctx is done.
	// In that case the error matches store.ErrCancelled.
	AcquireContext(ctx context.Context, resource string, timeout time.Duration) (lock store.ILock, err error)

	// Len returns the number of resources currently known to the registry
	// (held or waited for).
	Len() int
}
