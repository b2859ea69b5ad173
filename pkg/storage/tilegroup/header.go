package tilegroup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"tiledb/pkg/common"
)

// InfinityTS marks an open validity bound. It has the same value as
// txnif.UncommitTS.
const InfinityTS = ^uint64(0)

// TupleHeader is the per-slot version metadata. All fields are accessed
// atomically; latch only pairs lastReader updates with owner checks.
type TupleHeader struct {
	latch      sync.Mutex
	owner      atomic.Uint64
	begin      atomic.Uint64
	end        atomic.Uint64
	next       atomic.Uint64
	prev       atomic.Uint64
	lastReader atomic.Uint64
	deleted    atomic.Bool
}

func (h *TupleHeader) init(owner uint64, next common.SlotID, deleted bool) {
	h.begin.Store(InfinityTS)
	h.end.Store(InfinityTS)
	h.next.Store(next)
	h.prev.Store(common.InvalidSlot)
	h.lastReader.Store(0)
	h.deleted.Store(deleted)
	h.owner.Store(owner)
}

func (h *TupleHeader) reset() {
	h.owner.Store(0)
	h.begin.Store(InfinityTS)
	h.end.Store(InfinityTS)
	h.next.Store(common.InvalidSlot)
	h.prev.Store(common.InvalidSlot)
	h.lastReader.Store(0)
	h.deleted.Store(false)
}

func (h *TupleHeader) GetOwner() uint64               { return h.owner.Load() }
func (h *TupleHeader) SetOwner(id uint64)             { h.owner.Store(id) }
func (h *TupleHeader) CASOwner(old, new uint64) bool  { return h.owner.CompareAndSwap(old, new) }
func (h *TupleHeader) GetBeginTS() uint64             { return h.begin.Load() }
func (h *TupleHeader) SetBeginTS(ts uint64)           { h.begin.Store(ts) }
func (h *TupleHeader) GetEndTS() uint64               { return h.end.Load() }
func (h *TupleHeader) SetEndTS(ts uint64)             { h.end.Store(ts) }
func (h *TupleHeader) GetNext() common.SlotID         { return h.next.Load() }
func (h *TupleHeader) SetNext(id common.SlotID)       { h.next.Store(id) }
func (h *TupleHeader) CASNext(old, new uint64) bool   { return h.next.CompareAndSwap(old, new) }
func (h *TupleHeader) GetPrev() common.SlotID         { return h.prev.Load() }
func (h *TupleHeader) SetPrev(id common.SlotID)       { h.prev.Store(id) }
func (h *TupleHeader) CASPrev(old, new uint64) bool   { return h.prev.CompareAndSwap(old, new) }
func (h *TupleHeader) IsDeleted() bool                { return h.deleted.Load() }
func (h *TupleHeader) SetDeleted(deleted bool)        { h.deleted.Store(deleted) }
func (h *TupleHeader) GetLastReader() uint64          { return h.lastReader.Load() }
func (h *TupleHeader) IsCommitted() bool              { return h.begin.Load() != InfinityTS }
func (h *TupleHeader) IsOwnedBy(id uint64) bool       { return h.owner.Load() == id }
func (h *TupleHeader) IsVisibleAt(ts uint64) bool     { return h.begin.Load() <= ts && ts < h.end.Load() }
func (h *TupleHeader) Latch()                         { h.latch.Lock() }
func (h *TupleHeader) Unlatch()                       { h.latch.Unlock() }

// RaiseLastReaderLocked raises the read watermark, owned or not. Caller
// holds the latch.
func (h *TupleHeader) RaiseLastReaderLocked(ts uint64) {
	if h.lastReader.Load() < ts {
		h.lastReader.Store(ts)
	}
}

func (h *TupleHeader) String() string {
	return fmt.Sprintf("[owner=%d][%s,%s)[next=%s][prev=%s][del=%v]",
		h.owner.Load(), tsString(h.begin.Load()), tsString(h.end.Load()),
		common.SlotString(h.next.Load()), common.SlotString(h.prev.Load()),
		h.deleted.Load())
}

func tsString(ts uint64) string {
	if ts == InfinityTS {
		return "inf"
	}
	return fmt.Sprintf("%d", ts)
}
