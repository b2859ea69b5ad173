package txnif

import (
	"context"
	"io"
	"sync"
	"tiledb/pkg/common"
	"tiledb/pkg/storage/indirection"
	"tiledb/pkg/storage/tilegroup"
)

type TxnReader interface {
	GetID() uint64
	GetStartTS() uint64
	GetCommitTS() uint64
	GetReadTS() uint64
	GetEpoch() uint64
	GetInfo() []byte
	IsActive() bool
	IsTerminated(bool) bool
	GetTxnState(waitIfcommitting bool) int32
	GetError() error
	Repr() string
	String() string
}

type TxnChanger interface {
	sync.Locker
	RLock()
	RUnlock()
	ToCommittedLocked() error
	ToCommittingLocked(ts uint64) error
	ToRollbackedLocked() error
	ToRollbackingLocked(ts uint64) error
	Commit() error
	Rollback() error
	PrepareCommit() error
	PrepareRollback() error
	ApplyCommit() error
	ApplyRollback() error
	SetError(error)
	SetPrepareCommitFn(func(interface{}) error)
	// RegisterRollbackFn runs fn during rollback, most recent first.
	RegisterRollbackFn(fn func())
}

type TxnAsyncer interface {
	WaitDone() error
	// Terminated is closed once the txn is committed or rollbacked.
	Terminated() <-chan struct{}
}

type AsyncTxn interface {
	TxnAsyncer
	TxnReader
	TxnChanger
	GetStore() TxnStore
}

type TxnStore interface {
	io.Closer
	BindTxn(AsyncTxn)
	PrepareCommit() error
	PrepareRollback() error
	ApplyCommit() error
	ApplyRollback() error
}

// Relation is a versioned table as seen by the concurrency control layer.
type Relation interface {
	GetID() uint64
	GetStore() *tilegroup.Store
	GetIndirection() *indirection.Array
	// OnRowReclaimed is called once a deleted row is unreachable for every
	// active and future txn.
	OnRowReclaimed(id common.LogicalID, data common.RawTuple)
}

type WriteRecord struct {
	RelationID uint64
	LogicalID  common.LogicalID
	OldSlot    common.SlotID
	NewSlot    common.SlotID
	CommitTS   uint64
	Type       RWType
}

type CommitObserver interface {
	OnCommit(txn TxnReader, records []WriteRecord)
}

type TxnManager interface {
	StartTxn(info []byte) AsyncTxn
	IsVisible(txn AsyncTxn, rel Relation, slot common.SlotID) bool
	Read(txn AsyncTxn, rel Relation, id common.LogicalID) (common.RawTuple, common.SlotID, error)
	Insert(txn AsyncTxn, rel Relation, data common.RawTuple) (common.LogicalID, common.SlotID, error)
	// DiscardInsert undoes an insert made by txn before it becomes visible
	// to anyone.
	DiscardInsert(txn AsyncTxn, rel Relation, id common.LogicalID) error
	AcquireForWrite(ctx context.Context, txn AsyncTxn, rel Relation, id common.LogicalID, data common.RawTuple, op WriteOp) (common.SlotID, error)
	Commit(txn AsyncTxn) error
	Abort(txn AsyncTxn) error
}
