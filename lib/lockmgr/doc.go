// Package lockmgr implements named locks for coordinating goroutines of one
// process, e.g. to keep two instances of a recurring job from running at the
// same time. The locks emulate the distributed lock of the job framework; they
// are not shared across processes.
//
// Core Functionality:
//   - Lock acquisition with a timeout (or a single try for a zero timeout)
//   - Cancellation of a waiting acquirer through a context
//   - Idempotent release, safe to defer
//
// Implementation Approach:
//
//	Every resource name maps to a registry entry holding a channel with
//	capacity 1. Acquiring sends into the channel, releasing receives from it,
//	so a waiting acquirer is a select over the channel, a timer and the
//	context.
//
//	- Registry cleanup: Every entry counts its holders and waiters. The count
//	  is changed only inside an atomic Compute on the registry key and the
//	  entry is removed in the same Compute that drops the count to zero. An
//	  acquirer that has fetched an entry therefore always holds a reference
//	  and the entry cannot be removed underneath it.
//
//	- Reentrancy: Locks are not reentrant. Acquiring a held lock again from
//	  the same goroutine waits until the timeout and then fails.
//
// Usage Example:
//
//	mgr := lockmgr.NewLockManager()
//
//	lock, err := mgr.Acquire("recurring-job:cleanup", 5*time.Second)
//	if errors.Is(err, store.ErrLockTimeout) {
//	    // somebody else is running it
//	    return nil
//	} else if err != nil {
//	    return err
//	}
//	defer lock.Release()
package lockmgr
