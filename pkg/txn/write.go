package txn

import (
	"context"
	"fmt"
	"runtime"
	"tiledb/pkg/common"
	"tiledb/pkg/gc"
	"tiledb/pkg/iface/txnif"
	"tiledb/pkg/storage/tilegroup"
)

// Insert stores data as the only version of a new row owned by txn.
func (mgr *Manager) Insert(txn txnif.AsyncTxn, rel txnif.Relation, data common.RawTuple) (common.LogicalID, common.SlotID, error) {
	if !txn.IsActive() {
		return common.InvalidLogicalID, common.InvalidSlot, txnif.ErrTxnNotActive
	}
	st := rel.GetStore()
	slot, err := st.Allocate()
	if err != nil {
		return common.InvalidLogicalID, common.InvalidSlot, err
	}
	if err = st.InitSlot(slot, data, txn.GetID()); err != nil {
		st.Reclaim(slot)
		return common.InvalidLogicalID, common.InvalidSlot, err
	}
	id := rel.GetIndirection().Allocate(slot)
	mgr.storeOf(txn).addWrite(&writeEntry{
		rel:    rel,
		lid:    id,
		old:    common.InvalidSlot,
		new:    slot,
		rwType: txnif.RWInsert,
	})
	return id, slot, nil
}

func (mgr *Manager) DiscardInsert(txn txnif.AsyncTxn, rel txnif.Relation, id common.LogicalID) error {
	store := mgr.storeOf(txn)
	w := store.getWrite(rel, id)
	if w == nil || w.old != common.InvalidSlot {
		return txnif.ErrNotFound
	}
	rel.GetIndirection().Redirect(id, w.new, common.InvalidSlot)
	rel.GetStore().Header(w.new).SetOwner(0)
	store.discard(w)
	mgr.retirer.Retire(&gc.Item{
		Kind:    gc.KindDead,
		Rel:     rel,
		LID:     id,
		Slot:    w.new,
		FreeLID: true,
		Epoch:   mgr.Epochs.Current(),
	})
	return nil
}

// AcquireForWrite takes ownership of the head of id and installs data as a
// new uncommitted version in front of it. Nil data copies the head. A row
// already written by txn is rewritten in place.
func (mgr *Manager) AcquireForWrite(
	ctx context.Context,
	txn txnif.AsyncTxn,
	rel txnif.Relation,
	id common.LogicalID,
	data common.RawTuple,
	op txnif.WriteOp) (common.SlotID, error) {
	if !txn.IsActive() {
		return common.InvalidSlot, txnif.ErrTxnNotActive
	}
	store := mgr.storeOf(txn)
	if w := store.getWrite(rel, id); w != nil {
		return mgr.rewriteOwned(txn, w, data, op)
	}
	st := rel.GetStore()
	ind := rel.GetIndirection()
	for {
		if err := ctx.Err(); err != nil {
			return common.InvalidSlot, err
		}
		head := ind.Resolve(id)
		if head == common.InvalidSlot {
			return common.InvalidSlot, txnif.ErrNotFound
		}
		h := st.Header(head)
		owner := h.GetOwner()
		switch owner {
		case 0:
		case txnif.GCOwner:
			if ind.Resolve(id) == head {
				return common.InvalidSlot, txnif.ErrNotFound
			}
			continue
		case txn.GetID():
			return common.InvalidSlot, fmt.Errorf("%w: head of row %d owned without write entry",
				txnif.ErrWriteConflict, id)
		default:
			if err := mgr.waitOwner(ctx, txn, owner); err != nil {
				return common.InvalidSlot, err
			}
			continue
		}
		if !h.IsCommitted() {
			// Aborted head not reverted yet.
			runtime.Gosched()
			continue
		}
		if err := mgr.checkWritable(txn, h, op); err != nil {
			return common.InvalidSlot, err
		}
		ok, err := mgr.claim(txn, h)
		if err != nil {
			return common.InvalidSlot, err
		}
		if !ok {
			continue
		}
		if ind.Resolve(id) != head {
			h.SetOwner(0)
			continue
		}
		if err = mgr.checkWritable(txn, h, op); err != nil {
			h.SetOwner(0)
			return common.InvalidSlot, err
		}
		if data == nil {
			data = st.Read(head)
		}
		slot, err := st.InstallVersion(head, data, txn.GetID(), op == txnif.OpDelete)
		if err == tilegroup.ErrConcurrentChainUpdate {
			h.SetOwner(0)
			continue
		}
		if err != nil {
			h.SetOwner(0)
			return common.InvalidSlot, err
		}
		if !ind.Redirect(id, head, slot) {
			h.CASPrev(slot, common.InvalidSlot)
			st.Reclaim(slot)
			h.SetOwner(0)
			continue
		}
		rwType := txnif.RWUpdate
		if op == txnif.OpDelete {
			rwType = txnif.RWDelete
		}
		store.addWrite(&writeEntry{
			rel:    rel,
			lid:    id,
			old:    head,
			new:    slot,
			rwType: rwType,
		})
		return slot, nil
	}
}

// checkWritable applies the snapshot rule to the committed head h and
// checks op against the row's liveness. A pessimistic writer holds the row
// after waiting, so it may write on top of a head newer than its snapshot;
// its snapshot for every other read stays at its start ts.
func (mgr *Manager) checkWritable(txn txnif.AsyncTxn, h *tilegroup.TupleHeader, op txnif.WriteOp) error {
	readTS := txn.GetReadTS()
	if begin := h.GetBeginTS(); begin > readTS && mgr.opts.Protocol != txnif.Pessimistic {
		return fmt.Errorf("%w: head committed at %d after snapshot %d",
			txnif.ErrSerializationFailure, begin, readTS)
	}
	deleted := h.IsDeleted()
	switch op {
	case txnif.OpUpdate, txnif.OpDelete:
		if deleted {
			return txnif.ErrNotFound
		}
	case txnif.OpReinsert:
		if !deleted {
			return txnif.ErrDuplicate
		}
	}
	return nil
}

func (mgr *Manager) claim(txn txnif.AsyncTxn, h *tilegroup.TupleHeader) (bool, error) {
	if mgr.opts.Protocol == txnif.TimestampOrdering {
		h.Latch()
		defer h.Unlatch()
		if reader := h.GetLastReader(); reader > txn.GetStartTS() {
			return false, fmt.Errorf("%w: read by younger txn at %d", txnif.ErrSerializationFailure, reader)
		}
	}
	return h.CASOwner(0, txn.GetID()), nil
}

// waitOwner resolves a head owned by another txn. Active owners are a
// conflict unless the pessimistic protocol waits for them; terminating
// owners are always waited for.
func (mgr *Manager) waitOwner(ctx context.Context, txn txnif.AsyncTxn, owner uint64) error {
	other := mgr.GetTxn(owner)
	if other == nil {
		runtime.Gosched()
		return nil
	}
	if other.GetTxnState(false) == txnif.TxnStateActive {
		if mgr.opts.Protocol != txnif.Pessimistic || mgr.opts.LockWait == LockWaitNoWait {
			return fmt.Errorf("%w: row owned by txn %d", txnif.ErrWriteConflict, owner)
		}
	}
	return mgr.waitTerminated(ctx, other)
}

func (mgr *Manager) rewriteOwned(txn txnif.AsyncTxn, w *writeEntry, data common.RawTuple, op txnif.WriteOp) (common.SlotID, error) {
	st := w.rel.GetStore()
	h := st.Header(w.new)
	deleted := w.rwType == txnif.RWDelete || w.rwType == txnif.RWInsDel
	switch op {
	case txnif.OpUpdate:
		if deleted {
			return common.InvalidSlot, txnif.ErrNotFound
		}
	case txnif.OpDelete:
		if deleted {
			return common.InvalidSlot, txnif.ErrNotFound
		}
	case txnif.OpReinsert:
		if !deleted {
			return common.InvalidSlot, txnif.ErrDuplicate
		}
	}
	if data != nil {
		if err := st.Write(w.new, data); err != nil {
			return common.InvalidSlot, err
		}
	}
	switch op {
	case txnif.OpDelete:
		h.SetDeleted(true)
		if w.rwType == txnif.RWInsert {
			w.rwType = txnif.RWInsDel
		} else {
			w.rwType = txnif.RWDelete
		}
	case txnif.OpReinsert:
		h.SetDeleted(false)
		if w.rwType == txnif.RWInsDel {
			w.rwType = txnif.RWInsert
		} else {
			w.rwType = txnif.RWUpdate
		}
	}
	return w.new, nil
}
