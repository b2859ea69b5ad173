package txnbase

import (
	"sync"
	"sync/atomic"
	"tiledb/pkg/epoch"
	"tiledb/pkg/iface/txnif"
	"time"

	"github.com/matrixorigin/matrixone/pkg/vm/engine/aoe/storage/common"
	"github.com/matrixorigin/matrixone/pkg/vm/engine/aoe/storage/logstore/sm"
	"github.com/sirupsen/logrus"
)

type TxnStoreFactory = func() txnif.TxnStore
type TxnFactory = func(*TxnManager, txnif.TxnStore, uint64, uint64, uint64, []byte) txnif.AsyncTxn

// CommitTSPolicy picks the commit ts from a freshly allocated ts. The
// default keeps the allocated one.
type CommitTSPolicy = func(txn txnif.AsyncTxn, allocated uint64) uint64

type retireEpochSetter interface {
	SetRetireEpoch(uint64)
}

type TxnManager struct {
	sync.RWMutex
	sm.ClosedState
	sm.StateMachine
	Active           map[uint64]txnif.AsyncTxn
	IdAlloc, TsAlloc *common.IdAlloctor
	Epochs           *epoch.Manager
	TxnStoreFactory  TxnStoreFactory
	TxnFactory       TxnFactory
	CommitTSPolicy   CommitTSPolicy

	// committed is the highest commit ts applied so far.
	committed uint64
}

func NewTxnManager(epochs *epoch.Manager, txnStoreFactory TxnStoreFactory, txnFactory TxnFactory) *TxnManager {
	if txnFactory == nil {
		txnFactory = DefaultTxnFactory
	}
	if txnStoreFactory == nil {
		txnStoreFactory = NoopStoreFactory
	}
	if epochs == nil {
		epochs = epoch.NewManager(epoch.DefaultInterval, false)
	}
	mgr := &TxnManager{
		Active:          make(map[uint64]txnif.AsyncTxn),
		IdAlloc:         common.NewIdAlloctor(1),
		TsAlloc:         common.NewIdAlloctor(1),
		Epochs:          epochs,
		TxnStoreFactory: txnStoreFactory,
		TxnFactory:      txnFactory,
	}
	pqueue := sm.NewSafeQueue(10000, 200, mgr.onPreparing)
	cqueue := sm.NewSafeQueue(10000, 200, mgr.onCommit)
	mgr.StateMachine = sm.NewStateMachine(new(sync.WaitGroup), mgr, pqueue, cqueue)
	return mgr
}

func (mgr *TxnManager) Init(prevTxnId uint64, prevTs uint64) error {
	mgr.IdAlloc.SetStart(prevTxnId)
	mgr.TsAlloc.SetStart(prevTs)
	atomic.StoreUint64(&mgr.committed, prevTs)
	return nil
}

// StartTxn pins the new txn to the current epoch before its start ts is
// allocated. Both happen under the manager lock.
func (mgr *TxnManager) StartTxn(info []byte) txnif.AsyncTxn {
	mgr.Lock()
	defer mgr.Unlock()
	txnId := mgr.IdAlloc.Alloc()
	e := mgr.Epochs.EnterEpoch()
	startTs := mgr.TsAlloc.Alloc()

	store := mgr.TxnStoreFactory()
	txn := mgr.TxnFactory(mgr, store, txnId, startTs, e, info)
	store.BindTxn(txn)
	mgr.Active[txnId] = txn
	return txn
}

func (mgr *TxnManager) GetTxn(id uint64) txnif.AsyncTxn {
	mgr.RLock()
	defer mgr.RUnlock()
	return mgr.Active[id]
}

func (mgr *TxnManager) ActiveCount() int {
	mgr.RLock()
	defer mgr.RUnlock()
	return len(mgr.Active)
}

// CommittedTS returns the highest commit ts whose txn has been applied.
func (mgr *TxnManager) CommittedTS() uint64 {
	return atomic.LoadUint64(&mgr.committed)
}

func (mgr *TxnManager) OnOpTxn(op *OpTxn) {
	mgr.EnqueueRecevied(op)
}

func (mgr *TxnManager) onPreparCommit(txn txnif.AsyncTxn) {
	txn.SetError(txn.PrepareCommit())
}

func (mgr *TxnManager) onPreparRollback(txn txnif.AsyncTxn) {
	if err := txn.PrepareRollback(); err != nil {
		logrus.Errorf("%s PrepareRollback: %v", txn.Repr(), err)
	}
}

func (mgr *TxnManager) onPreparing(items ...interface{}) {
	now := time.Now()
	for _, item := range items {
		op := item.(*OpTxn)
		mgr.Lock()
		ts := mgr.TsAlloc.Alloc()
		if op.Op == OpCommit && mgr.CommitTSPolicy != nil {
			ts = mgr.CommitTSPolicy(op.Txn, ts)
		}
		retire := mgr.Epochs.Current()
		op.Txn.Lock()
		if op.Op == OpCommit {
			op.Txn.ToCommittingLocked(ts)
		} else if op.Op == OpRollback {
			op.Txn.ToRollbackingLocked(ts)
		}
		if r, ok := op.Txn.(retireEpochSetter); ok {
			r.SetRetireEpoch(retire)
		}
		op.Txn.Unlock()
		mgr.Unlock()
		if op.Op == OpCommit {
			mgr.onPreparCommit(op.Txn)
			if op.Txn.GetError() != nil {
				op.Op = OpRollback
				op.Txn.Lock()
				op.Txn.ToRollbackingLocked(ts)
				op.Txn.Unlock()
				mgr.onPreparRollback(op.Txn)
			}
		} else {
			mgr.onPreparRollback(op.Txn)
		}
		mgr.EnqueueCheckpoint(op)
	}
	logrus.Debugf("Prepare %d txns takes: %s", len(items), time.Since(now))
}

func (mgr *TxnManager) onCommit(items ...interface{}) {
	for _, item := range items {
		op := item.(*OpTxn)
		switch op.Op {
		case OpCommit:
			if err := op.Txn.ApplyCommit(); err != nil {
				panic(err)
			}
			mgr.advanceCommitted(op.Txn.GetCommitTS())
		case OpRollback:
			if err := op.Txn.ApplyRollback(); err != nil {
				panic(err)
			}
		}
		if err := mgr.Epochs.ExitEpoch(op.Txn.GetEpoch()); err != nil {
			logrus.Errorf("%s: %v", op.Repr(), err)
		}
		mgr.Lock()
		delete(mgr.Active, op.Txn.GetID())
		mgr.Unlock()
		op.Txn.WaitDone()
		logrus.Debugf("%s Done", op.Repr())
	}
}

func (mgr *TxnManager) advanceCommitted(ts uint64) {
	for {
		curr := atomic.LoadUint64(&mgr.committed)
		if ts <= curr || atomic.CompareAndSwapUint64(&mgr.committed, curr, ts) {
			return
		}
	}
}
