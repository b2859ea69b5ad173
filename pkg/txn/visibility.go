package txn

import (
	"errors"
	"fmt"
	"tiledb/pkg/common"
	"tiledb/pkg/iface/txnif"
	"tiledb/pkg/storage/tilegroup"
)

var errRetryRead = errors.New("tiledb: retry read")

// checkVisibility classifies a version for txn. A non-nil txn is returned
// when the outcome depends on a txn still committing at or below the read
// ts; the caller waits for it and asks again.
func (mgr *Manager) checkVisibility(txn txnif.AsyncTxn, h *tilegroup.TupleHeader) (txnif.VisibilityType, txnif.AsyncTxn) {
	readTS := txn.GetReadTS()
	owner := h.GetOwner()
	if owner == txn.GetID() {
		if h.IsCommitted() {
			// Superseded by txn itself.
			return txnif.VisibilityInvisible, nil
		}
		if h.IsDeleted() {
			return txnif.VisibilityDeleted, nil
		}
		return txnif.VisibilityOK, nil
	}
	if owner != 0 && owner != txnif.GCOwner {
		if other := mgr.GetTxn(owner); other != nil {
			if other.GetTxnState(false) == txnif.TxnStateCommitting && other.GetCommitTS() <= readTS {
				return txnif.VisibilityInvisible, other
			}
		}
	}
	// Timestamps are loaded after the owner state so a commit that finished
	// meanwhile is seen with its final stamps.
	begin, end := h.GetBeginTS(), h.GetEndTS()
	if begin == txnif.UncommitTS || begin > readTS || readTS >= end {
		return txnif.VisibilityInvisible, nil
	}
	if h.IsDeleted() {
		return txnif.VisibilityDeleted, nil
	}
	return txnif.VisibilityOK, nil
}

func (mgr *Manager) IsVisible(txn txnif.AsyncTxn, rel txnif.Relation, slot common.SlotID) bool {
	h := rel.GetStore().Header(slot)
	for {
		vis, pending := mgr.checkVisibility(txn, h)
		if pending != nil {
			pending.GetTxnState(true)
			continue
		}
		return vis == txnif.VisibilityOK
	}
}

// Read walks the chain of id from newest to oldest and returns a copy of
// the first version visible to txn.
func (mgr *Manager) Read(txn txnif.AsyncTxn, rel txnif.Relation, id common.LogicalID) (common.RawTuple, common.SlotID, error) {
	if !txn.IsActive() {
		return nil, common.InvalidSlot, txnif.ErrTxnNotActive
	}
	st := rel.GetStore()
	ind := rel.GetIndirection()
retry:
	for {
		slot := ind.Resolve(id)
		for slot != common.InvalidSlot {
			h := st.Header(slot)
			vis, pending := mgr.checkVisibility(txn, h)
			if pending != nil {
				pending.GetTxnState(true)
				continue retry
			}
			if vis == txnif.VisibilityInvisible {
				slot = h.GetNext()
				continue
			}
			if err := mgr.trackRead(txn, rel, id, slot, h); err != nil {
				if err == errRetryRead {
					continue retry
				}
				return nil, common.InvalidSlot, err
			}
			if vis == txnif.VisibilityDeleted {
				return nil, slot, txnif.ErrNotFound
			}
			return common.CloneTuple(st.Read(slot)), slot, nil
		}
		return nil, common.InvalidSlot, txnif.ErrNotFound
	}
}

// trackRead applies the protocol read rule to a visible version.
func (mgr *Manager) trackRead(txn txnif.AsyncTxn, rel txnif.Relation, id common.LogicalID, slot common.SlotID, h *tilegroup.TupleHeader) error {
	if h.IsOwnedBy(txn.GetID()) {
		return nil
	}
	switch mgr.opts.Protocol {
	case txnif.TimestampOrdering:
		// Raised under a younger owner too: an older writer must still fail
		// after that owner aborts.
		h.Latch()
		h.RaiseLastReaderLocked(txn.GetStartTS())
		owner := h.GetOwner()
		h.Unlatch()
		if owner == 0 || owner == txnif.GCOwner {
			return nil
		}
		other := mgr.GetTxn(owner)
		if other == nil {
			return errRetryRead
		}
		if other.GetTxnState(false) != txnif.TxnStateActive {
			<-other.Terminated()
			return errRetryRead
		}
		if other.GetStartTS() < txn.GetStartTS() {
			return fmt.Errorf("%w: row %d is being written by older txn %d",
				txnif.ErrSerializationFailure, id, owner)
		}
		// A younger writer is serialized after txn.
		return nil
	case txnif.Optimistic:
		mgr.storeOf(txn).addRead(rel, id, slot)
	}
	return nil
}
