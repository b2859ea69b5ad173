package txnbase

import (
	"fmt"
	"sync"
	"sync/atomic"
	"tiledb/pkg/iface/txnif"

	"github.com/sirupsen/logrus"
)

type OpType int8

const (
	OpCommit = iota
	OpRollback
)

type OpTxn struct {
	Txn txnif.AsyncTxn
	Op  OpType
}

func (txn *OpTxn) Repr() string {
	if txn.Op == OpCommit {
		return fmt.Sprintf("[Commit][Txn-%d]", txn.Txn.GetID())
	} else {
		return fmt.Sprintf("[Rollback][Txn-%d]", txn.Txn.GetID())
	}
}

var DefaultTxnFactory = func(mgr *TxnManager, store txnif.TxnStore, id, startTS, epoch uint64, info []byte) txnif.AsyncTxn {
	return NewTxn(mgr, store, id, startTS, epoch, info)
}

type Txn struct {
	sync.RWMutex
	sync.WaitGroup
	*TxnCtx
	Mgr             *TxnManager
	Store           txnif.TxnStore
	Err             error
	DoneCond        *sync.Cond
	PrepareCommitFn func(interface{}) error

	readTS      uint64
	doneC       chan struct{}
	rollbackFns []func()
}

func NewTxn(mgr *TxnManager, store txnif.TxnStore, txnId, start, epoch uint64, info []byte) *Txn {
	txn := &Txn{
		Mgr:    mgr,
		Store:  store,
		readTS: start,
		doneC:  make(chan struct{}),
	}
	txn.TxnCtx = NewTxnCtx(&txn.RWMutex, txnId, start, epoch, info)
	txn.DoneCond = sync.NewCond(txn)
	return txn
}

func (txn *Txn) SetError(err error) { txn.Err = err }
func (txn *Txn) GetError() error    { return txn.Err }

func (txn *Txn) SetPrepareCommitFn(fn func(interface{}) error) { txn.PrepareCommitFn = fn }

func (txn *Txn) RegisterRollbackFn(fn func()) {
	txn.rollbackFns = append(txn.rollbackFns, fn)
}

// GetReadTS returns the snapshot the txn reads at.
func (txn *Txn) GetReadTS() uint64 { return atomic.LoadUint64(&txn.readTS) }

func (txn *Txn) Commit() error {
	if !txn.IsActive() {
		if txn.GetTxnState(false) == txnif.TxnStateCommitted {
			return txnif.ErrTxnAlreadyCommitted
		}
		return txnif.ErrTxnNotActive
	}
	txn.Add(1)
	txn.Mgr.OnOpTxn(&OpTxn{
		Txn: txn,
		Op:  OpCommit,
	})
	txn.Wait()
	return txn.Err
}

func (txn *Txn) GetStore() txnif.TxnStore {
	return txn.Store
}

func (txn *Txn) Rollback() error {
	switch txn.GetTxnState(true) {
	case txnif.TxnStateRollbacked:
		return nil
	case txnif.TxnStateCommitted:
		return txnif.ErrTxnAlreadyCommitted
	case txnif.TxnStateActive:
	default:
		return txnif.ErrTxnNotActive
	}
	txn.Add(1)
	txn.Mgr.OnOpTxn(&OpTxn{
		Txn: txn,
		Op:  OpRollback,
	})
	txn.Wait()
	return nil
}

func (txn *Txn) Done() {
	txn.DoneCond.L.Lock()
	if txn.State == txnif.TxnStateCommitting {
		txn.ToCommittedLocked()
	} else {
		txn.ToRollbackedLocked()
	}
	close(txn.doneC)
	txn.WaitGroup.Done()
	txn.DoneCond.Broadcast()
	txn.DoneCond.L.Unlock()
}

func (txn *Txn) Terminated() <-chan struct{} { return txn.doneC }

func (txn *Txn) IsTerminated(waitIfcommitting bool) bool {
	state := txn.GetTxnState(waitIfcommitting)
	return state == txnif.TxnStateCommitted || state == txnif.TxnStateRollbacked
}

func (txn *Txn) GetTxnState(waitIfcommitting bool) int32 {
	txn.RLock()
	state := txn.State
	if !waitIfcommitting {
		txn.RUnlock()
		return state
	}
	if state != txnif.TxnStateCommitting {
		txn.RUnlock()
		return state
	}
	txn.RUnlock()
	txn.DoneCond.L.Lock()
	for txn.State == txnif.TxnStateCommitting {
		txn.DoneCond.Wait()
	}
	state = txn.State
	txn.DoneCond.L.Unlock()
	return state
}

func (txn *Txn) PrepareCommit() error {
	logrus.Debugf("Prepare Committing %d", txn.ID)
	var err error
	if txn.PrepareCommitFn != nil {
		err = txn.PrepareCommitFn(txn)
	}
	if err != nil {
		return err
	}
	return txn.Store.PrepareCommit()
}

func (txn *Txn) PrepareRollback() error {
	logrus.Debugf("Prepare Rollbacking %d", txn.ID)
	err := txn.Store.PrepareRollback()
	for i := len(txn.rollbackFns) - 1; i >= 0; i-- {
		txn.rollbackFns[i]()
	}
	txn.rollbackFns = nil
	return err
}

func (txn *Txn) ApplyCommit() error {
	return txn.Store.ApplyCommit()
}

func (txn *Txn) ApplyRollback() error {
	return txn.Store.ApplyRollback()
}

func (txn *Txn) WaitDone() error {
	txn.Done()
	return txn.Err
}
