package txnbase

import (
	"fmt"
	"sync"
	"sync/atomic"
	"tiledb/pkg/iface/txnif"
)

type TxnCtx struct {
	*sync.RWMutex
	ID                uint64
	StartTS, CommitTS uint64
	// Epoch is the epoch the txn is pinned to until it terminates.
	Epoch uint64
	// RetireEpoch is read at commit ts allocation and stamps every garbage
	// item the txn produces.
	RetireEpoch uint64
	Info        []byte
	State       int32
}

func NewTxnCtx(rwlocker *sync.RWMutex, id, start, epoch uint64, info []byte) *TxnCtx {
	if rwlocker == nil {
		rwlocker = new(sync.RWMutex)
	}
	return &TxnCtx{
		ID:       id,
		RWMutex:  rwlocker,
		StartTS:  start,
		CommitTS: txnif.UncommitTS,
		Epoch:    epoch,
		Info:     info,
	}
}

func (ctx *TxnCtx) Repr() string {
	return fmt.Sprintf("Txn[%d][%d->%s][%s]", ctx.ID, ctx.StartTS, tsString(ctx.GetCommitTS()), txnif.TxnStateNames[ctx.getState()])
}

func (ctx *TxnCtx) String() string { return ctx.Repr() }

func (ctx *TxnCtx) GetID() uint64       { return ctx.ID }
func (ctx *TxnCtx) GetInfo() []byte     { return ctx.Info }
func (ctx *TxnCtx) GetStartTS() uint64  { return ctx.StartTS }
func (ctx *TxnCtx) GetEpoch() uint64    { return ctx.Epoch }
func (ctx *TxnCtx) GetCommitTS() uint64 { return atomic.LoadUint64(&ctx.CommitTS) }

func (ctx *TxnCtx) GetRetireEpoch() uint64 { return atomic.LoadUint64(&ctx.RetireEpoch) }
func (ctx *TxnCtx) SetRetireEpoch(e uint64) {
	atomic.StoreUint64(&ctx.RetireEpoch, e)
}

func (ctx *TxnCtx) getState() int32 { return atomic.LoadInt32(&ctx.State) }

func (ctx *TxnCtx) IsActive() bool {
	return ctx.getState() == txnif.TxnStateActive
}

func (ctx *TxnCtx) IsActiveLocked() bool {
	return ctx.State == txnif.TxnStateActive
}

func (ctx *TxnCtx) ToCommittingLocked(ts uint64) error {
	if ts < ctx.StartTS {
		panic(fmt.Sprintf("start ts %d should not be greater than commit ts %d", ctx.StartTS, ts))
	}
	if ctx.State != txnif.TxnStateActive {
		return txnif.ErrTxnNotActive
	}
	atomic.StoreUint64(&ctx.CommitTS, ts)
	atomic.StoreInt32(&ctx.State, txnif.TxnStateCommitting)
	return nil
}

func (ctx *TxnCtx) ToCommittedLocked() error {
	if ctx.State != txnif.TxnStateCommitting {
		return txnif.ErrTxnNotCommitting
	}
	atomic.StoreInt32(&ctx.State, txnif.TxnStateCommitted)
	return nil
}

func (ctx *TxnCtx) ToRollbackingLocked(ts uint64) error {
	if ctx.State != txnif.TxnStateActive && ctx.State != txnif.TxnStateCommitting {
		return txnif.ErrTxnNotActive
	}
	atomic.StoreUint64(&ctx.CommitTS, ts)
	atomic.StoreInt32(&ctx.State, txnif.TxnStateRollbacking)
	return nil
}

func (ctx *TxnCtx) ToRollbackedLocked() error {
	if ctx.State != txnif.TxnStateRollbacking {
		return txnif.ErrTxnNotRollbacking
	}
	atomic.StoreInt32(&ctx.State, txnif.TxnStateRollbacked)
	return nil
}

func tsString(ts uint64) string {
	if ts == txnif.UncommitTS {
		return "inf"
	}
	return fmt.Sprintf("%d", ts)
}
