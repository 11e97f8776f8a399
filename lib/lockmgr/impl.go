package lockmgr

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/memjob/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"time"
)

var Logger = logger.GetLogger("lockmgr")

// entry is the registry record of one resource. sem has capacity 1 and is
// full while the lock is held. refs counts holders and waiters and is only
// modified inside a Compute call on the registry key.
type entry struct {
	sem  chan struct{}
	refs int
}

type lockMgrImpl struct {
	locks *xsync.MapOf[string, *entry]
}

// NewLockManager creates an empty lock registry.
func NewLockManager() ILockManager {
	return &lockMgrImpl{
		locks: xsync.NewMapOf[string, *entry](),
	}
}

func (m *lockMgrImpl) Acquire(resource string, timeout time.Duration) (store.ILock, error) {
	return m.AcquireContext(context.Background(), resource, timeout)
}

func (m *lockMgrImpl) AcquireContext(ctx context.Context, resource string, timeout time.Duration) (store.ILock, error) {
	if err := store.RequireKey("resource", resource); err != nil {
		return nil, err
	}

	e := m.ref(resource)

	// fast path, also the only attempt for timeout <= 0
	select {
	case e.sem <- struct{}{}:
		return &lockImpl{mgr: m, resource: resource, entry: e}, nil
	default:
	}

	if timeout <= 0 {
		m.unref(resource, e)
		Logger.Debugf("lock %q is held, not waiting", resource)
		return nil, store.NewError(store.RetCLockTimeout, fmt.Sprintf("lock %q is held", resource))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return &lockImpl{mgr: m, resource: resource, entry: e}, nil
	case <-timer.C:
		m.unref(resource, e)
		Logger.Debugf("timeout after %s waiting for lock %q", timeout, resource)
		return nil, store.NewError(store.RetCLockTimeout, fmt.Sprintf("timeout after %s waiting for lock %q", timeout, resource))
	case <-ctx.Done():
		m.unref(resource, e)
		return nil, store.WrapError(store.RetCCancelled, fmt.Sprintf("waiting for lock %q", resource), ctx.Err())
	}
}

func (m *lockMgrImpl) Len() int {
	return m.locks.Size()
}

// ref returns the entry for resource, creating it if needed, and registers
// the caller as holder or waiter.
func (m *lockMgrImpl) ref(resource string) *entry {
	e, _ := m.locks.Compute(resource, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			old = &entry{sem: make(chan struct{}, 1)}
		}
		old.refs++
		return old, false
	})
	return e
}

// unref drops a reference and removes the entry once nobody holds or waits
// for it.
func (m *lockMgrImpl) unref(resource string, e *entry) {
	m.locks.Compute(resource, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded || old != e {
			return old, !loaded
		}
		old.refs--
		return old, old.refs == 0
	})
}

// --------------------------------------------------------------------------
// Held Lock
// --------------------------------------------------------------------------

type lockImpl struct {
	mgr      *lockMgrImpl
	resource string
	entry    *entry
	once     sync.Once
}

func (l *lockImpl) Resource() string {
	return l.resource
}

// Release releases the lock. Calls after the first are no-ops.
func (l *lockImpl) Release() {
	l.once.Do(func() {
		<-l.entry.sem
		l.mgr.unref(l.resource, l.entry)
	})
}
