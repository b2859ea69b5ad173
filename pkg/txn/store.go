package txn

import (
	"fmt"
	"tiledb/pkg/common"
	"tiledb/pkg/gc"
	"tiledb/pkg/iface/txnif"
	"tiledb/pkg/txn/txnbase"

	"github.com/sirupsen/logrus"
)

type rowKey struct {
	rel uint64
	lid common.LogicalID
}

type writeEntry struct {
	rel       txnif.Relation
	lid       common.LogicalID
	old       common.SlotID
	new       common.SlotID
	rwType    txnif.RWType
	discarded bool
}

func (w *writeEntry) String() string {
	return fmt.Sprintf("[%s][rel=%d][lid=%d][%s->%s]", txnif.RWTypeNames[w.rwType],
		w.rel.GetID(), w.lid, common.SlotString(w.old), common.SlotString(w.new))
}

type readEntry struct {
	rel  txnif.Relation
	lid  common.LogicalID
	slot common.SlotID
}

// txnStore is the read/write set of one txn. Only the owning worker
// touches it until Commit hands it over to the pipeline.
type txnStore struct {
	txnbase.NoopTxnStore
	mgr    *Manager
	txn    txnif.AsyncTxn
	writes []*writeEntry
	index  map[rowKey]*writeEntry
	reads  []readEntry
}

func (mgr *Manager) newTxnStore() txnif.TxnStore {
	return &txnStore{
		mgr:   mgr,
		index: make(map[rowKey]*writeEntry),
	}
}

func (store *txnStore) BindTxn(txn txnif.AsyncTxn) {
	store.txn = txn
}

func (store *txnStore) addWrite(w *writeEntry) {
	store.writes = append(store.writes, w)
	store.index[rowKey{w.rel.GetID(), w.lid}] = w
}

func (store *txnStore) getWrite(rel txnif.Relation, lid common.LogicalID) *writeEntry {
	return store.index[rowKey{rel.GetID(), lid}]
}

func (store *txnStore) discard(w *writeEntry) {
	w.discarded = true
	delete(store.index, rowKey{w.rel.GetID(), w.lid})
}

func (store *txnStore) addRead(rel txnif.Relation, lid common.LogicalID, slot common.SlotID) {
	store.reads = append(store.reads, readEntry{rel: rel, lid: lid, slot: slot})
}

func (store *txnStore) WriteCount() int { return len(store.index) }

// validate checks that every version read is still the newest committed
// one, unless the txn itself supersedes it.
func (store *txnStore) validate() error {
	for _, r := range store.reads {
		if w := store.getWrite(r.rel, r.lid); w != nil && w.old == r.slot {
			continue
		}
		h := r.rel.GetStore().Header(r.slot)
		if end := h.GetEndTS(); end != txnif.UncommitTS {
			return fmt.Errorf("%w: row %d of rel %d changed at %d", txnif.ErrSerializationFailure,
				r.lid, r.rel.GetID(), end)
		}
	}
	return nil
}

func (store *txnStore) PrepareCommit() error {
	if store.mgr.opts.Protocol == txnif.Optimistic {
		if err := store.validate(); err != nil {
			return err
		}
	}
	cts := store.txn.GetCommitTS()
	for _, w := range store.writes {
		if w.discarded {
			continue
		}
		st := w.rel.GetStore()
		nh := st.Header(w.new)
		switch w.rwType {
		case txnif.RWInsert:
			nh.SetBeginTS(cts)
		case txnif.RWUpdate, txnif.RWDelete:
			nh.SetBeginTS(cts)
			st.Header(w.old).SetEndTS(cts)
		case txnif.RWInsDel:
			// Never visible to anyone.
			w.rel.GetIndirection().Redirect(w.lid, w.new, common.InvalidSlot)
		}
	}
	return nil
}

// PrepareRollback restores every chain head to the version it had before
// the txn wrote it.
func (store *txnStore) PrepareRollback() error {
	var err error
	for i := len(store.writes) - 1; i >= 0; i-- {
		w := store.writes[i]
		if w.discarded {
			continue
		}
		st := w.rel.GetStore()
		ind := w.rel.GetIndirection()
		nh := st.Header(w.new)
		nh.SetBeginTS(txnif.UncommitTS)
		nh.SetEndTS(txnif.UncommitTS)
		if w.old == common.InvalidSlot {
			ind.Redirect(w.lid, w.new, common.InvalidSlot)
			continue
		}
		if !ind.Redirect(w.lid, w.new, w.old) {
			err = fmt.Errorf("revert %s: head moved to %s", w.String(), common.SlotString(ind.Resolve(w.lid)))
			logrus.Error(err)
		}
		st.Header(w.old).CASPrev(w.new, common.InvalidSlot)
	}
	return err
}

type retireEpochGetter interface {
	GetRetireEpoch() uint64
}

func (store *txnStore) retireEpoch() uint64 {
	if g, ok := store.txn.(retireEpochGetter); ok {
		return g.GetRetireEpoch()
	}
	return store.mgr.Epochs.Current()
}

func (store *txnStore) releaseOwnership(w *writeEntry) {
	st := w.rel.GetStore()
	st.Header(w.new).SetOwner(0)
	if w.old != common.InvalidSlot {
		st.Header(w.old).SetOwner(0)
	}
}

func (store *txnStore) ApplyCommit() error {
	cts := store.txn.GetCommitTS()
	retire := store.retireEpoch()
	items := make([]*gc.Item, 0, len(store.writes))
	records := make([]txnif.WriteRecord, 0, len(store.writes))
	for _, w := range store.writes {
		if w.discarded {
			continue
		}
		store.releaseOwnership(w)
		switch w.rwType {
		case txnif.RWUpdate:
			items = append(items, &gc.Item{Kind: gc.KindVersion, Rel: w.rel, LID: w.lid, Slot: w.old, Epoch: retire})
		case txnif.RWDelete:
			items = append(items,
				&gc.Item{Kind: gc.KindVersion, Rel: w.rel, LID: w.lid, Slot: w.old, Epoch: retire},
				&gc.Item{Kind: gc.KindRow, Rel: w.rel, LID: w.lid, Slot: w.new, Epoch: retire})
		case txnif.RWInsDel:
			w.rel.OnRowReclaimed(w.lid, w.rel.GetStore().Read(w.new))
			items = append(items, &gc.Item{
				Kind:    gc.KindDead,
				Rel:     w.rel,
				LID:     w.lid,
				Slot:    w.new,
				FreeLID: true,
				Epoch:   store.mgr.Epochs.Current(),
			})
		}
		records = append(records, txnif.WriteRecord{
			RelationID: w.rel.GetID(),
			LogicalID:  w.lid,
			OldSlot:    w.old,
			NewSlot:    w.new,
			CommitTS:   cts,
			Type:       w.rwType,
		})
	}
	store.mgr.retirer.Retire(items...)
	store.mgr.notify(store.txn, records)
	return nil
}

func (store *txnStore) ApplyRollback() error {
	current := store.mgr.Epochs.Current()
	items := make([]*gc.Item, 0, len(store.writes))
	for _, w := range store.writes {
		if w.discarded {
			continue
		}
		store.releaseOwnership(w)
		items = append(items, &gc.Item{
			Kind:    gc.KindDead,
			Rel:     w.rel,
			LID:     w.lid,
			Slot:    w.new,
			FreeLID: w.old == common.InvalidSlot,
			Epoch:   current,
		})
	}
	store.mgr.retirer.Retire(items...)
	return nil
}

func (store *txnStore) Close() error {
	store.writes = nil
	store.reads = nil
	store.index = nil
	return nil
}
