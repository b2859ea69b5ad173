// Package txn implements the multi-version concurrency control layer on
// top of the txnbase commit pipeline. One protocol is chosen per process:
// timestamp ordering, optimistic or pessimistic.
package txn

import (
	"context"
	"fmt"
	"sync"
	"tiledb/pkg/epoch"
	"tiledb/pkg/gc"
	"tiledb/pkg/iface/txnif"
	"tiledb/pkg/txn/txnbase"
	"time"
)

type LockWaitPolicy int8

const (
	LockWaitBlock LockWaitPolicy = iota
	LockWaitNoWait
)

const (
	DefaultLockTimeout = time.Second
	// NoLockTimeout makes a blocked writer wait until the owner terminates.
	// Cycles of waiters then only break through the caller's context.
	NoLockTimeout time.Duration = -1
)

type Options struct {
	Protocol txnif.Protocol
	// LockWait and LockTimeout only apply to the pessimistic protocol. A
	// zero LockTimeout uses DefaultLockTimeout.
	LockWait    LockWaitPolicy
	LockTimeout time.Duration
}

// Retirer receives versions that became garbage.
type Retirer interface {
	Retire(items ...*gc.Item)
}

type noopRetirer struct{}

func (noopRetirer) Retire(items ...*gc.Item) {}

var _ txnif.TxnManager = (*Manager)(nil)

type Manager struct {
	*txnbase.TxnManager
	opts    Options
	retirer Retirer

	obMu      sync.RWMutex
	observers []txnif.CommitObserver
}

func NewManager(epochs *epoch.Manager, retirer Retirer, opts Options) *Manager {
	if opts.LockTimeout == 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if retirer == nil {
		retirer = noopRetirer{}
	}
	mgr := &Manager{
		opts:    opts,
		retirer: retirer,
	}
	mgr.TxnManager = txnbase.NewTxnManager(epochs, mgr.newTxnStore, nil)
	if opts.Protocol == txnif.TimestampOrdering {
		// A txn is serialized at its start ts.
		mgr.CommitTSPolicy = func(txn txnif.AsyncTxn, _ uint64) uint64 {
			return txn.GetStartTS()
		}
	}
	return mgr
}

func (mgr *Manager) Protocol() txnif.Protocol { return mgr.opts.Protocol }

// Begin starts a txn without info.
func (mgr *Manager) Begin() txnif.AsyncTxn { return mgr.StartTxn(nil) }

func (mgr *Manager) AddObserver(ob txnif.CommitObserver) {
	mgr.obMu.Lock()
	defer mgr.obMu.Unlock()
	mgr.observers = append(mgr.observers, ob)
}

func (mgr *Manager) notify(txn txnif.TxnReader, records []txnif.WriteRecord) {
	mgr.obMu.RLock()
	defer mgr.obMu.RUnlock()
	for _, ob := range mgr.observers {
		ob.OnCommit(txn, records)
	}
}

func (mgr *Manager) Commit(txn txnif.AsyncTxn) error {
	return txn.Commit()
}

func (mgr *Manager) Abort(txn txnif.AsyncTxn) error {
	return txn.Rollback()
}

func (mgr *Manager) storeOf(txn txnif.AsyncTxn) *txnStore {
	return txn.GetStore().(*txnStore)
}

// waitTerminated blocks until other commits or rolls back, the lock
// timeout expires or ctx is done.
func (mgr *Manager) waitTerminated(ctx context.Context, other txnif.AsyncTxn) error {
	var timeout <-chan time.Time
	if mgr.opts.LockTimeout > 0 {
		timer := time.NewTimer(mgr.opts.LockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-other.Terminated():
		return nil
	case <-timeout:
		return fmt.Errorf("%w: waiting for txn %d", txnif.ErrLockTimeout, other.GetID())
	case <-ctx.Done():
		return ctx.Err()
	}
}
