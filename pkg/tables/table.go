package tables

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"tiledb/pkg/catalog"
	"tiledb/pkg/common"
	"tiledb/pkg/iface/txnif"
	"tiledb/pkg/storage/indirection"
	"tiledb/pkg/storage/tilegroup"

	"github.com/sirupsen/logrus"
)

var _ txnif.Relation = (*Table)(nil)

// Table is the executor-facing surface of one relation. Rows are addressed
// by primary key; the index resolves keys to logical ids and the txn
// manager resolves logical ids to visible versions.
type Table struct {
	meta  *catalog.TableEntry
	mgr   txnif.TxnManager
	store *tilegroup.Store
	ind   *indirection.Array
	pk    *PrimaryIndex
}

func newTable(meta *catalog.TableEntry, mgr txnif.TxnManager, opts tilegroup.Options) *Table {
	schema := meta.GetSchema()
	if schema.BlockMaxRows > 0 {
		opts.BlockCapacity = schema.BlockMaxRows
	}
	return &Table{
		meta:  meta,
		mgr:   mgr,
		store: tilegroup.NewStore(schema.ColCnt(), opts),
		ind:   indirection.NewArray(),
		pk:    NewPrimaryIndex(),
	}
}

func (table *Table) GetID() uint64 { return table.meta.GetID() }
func (table *Table) GetMeta() *catalog.TableEntry { return table.meta }
func (table *Table) GetSchema() *catalog.Schema { return table.meta.GetSchema() }
func (table *Table) GetStore() *tilegroup.Store { return table.store }
func (table *Table) GetIndirection() *indirection.Array { return table.ind }
func (table *Table) GetPrimaryIndex() *PrimaryIndex { return table.pk }

func (table *Table) OnRowReclaimed(id common.LogicalID, data common.RawTuple) {
	key, err := decodeKey(table.GetSchema(), data)
	if err != nil {
		logrus.Warnf("table %d: reclaimed row %d: %v", table.GetID(), id, err)
		return
	}
	table.pk.DeleteIf(key, id)
}

func (table *Table) encode(row Row) (common.RawTuple, interface{}, error) {
	data, err := EncodeRow(table.GetSchema(), row)
	if err != nil {
		return nil, nil, err
	}
	return data, normalizeKey(row[table.GetSchema().PrimaryKey]), nil
}

// Insert adds row under its primary key. A key whose row is a committed
// tombstone is reinserted on top of it; a live key fails with
// ErrDuplicate.
func (table *Table) Insert(ctx context.Context, txn txnif.AsyncTxn, row Row) (common.LogicalID, error) {
	data, key, err := table.encode(row)
	if err != nil {
		return common.InvalidLogicalID, err
	}
	for {
		if err = ctx.Err(); err != nil {
			return common.InvalidLogicalID, err
		}
		if id, ok := table.pk.Get(key); ok {
			_, err = table.mgr.AcquireForWrite(ctx, txn, table, id, data, txnif.OpReinsert)
			if errors.Is(err, txnif.ErrNotFound) {
				// Row is being reclaimed; its index entry goes away next.
				runtime.Gosched()
				continue
			}
			if errors.Is(err, txnif.ErrDuplicate) {
				return common.InvalidLogicalID, fmt.Errorf("%w: key %v", txnif.ErrDuplicate, key)
			}
			if err != nil {
				return common.InvalidLogicalID, err
			}
			return id, nil
		}
		id, _, err := table.mgr.Insert(txn, table, data)
		if err != nil {
			return common.InvalidLogicalID, err
		}
		if _, ok := table.pk.InsertIfAbsent(key, id); !ok {
			if err = table.mgr.DiscardInsert(txn, table, id); err != nil {
				return common.InvalidLogicalID, err
			}
			continue
		}
		txn.RegisterRollbackFn(func() {
			table.pk.DeleteIf(key, id)
		})
		return id, nil
	}
}

// Update replaces the row holding the primary key of row.
func (table *Table) Update(ctx context.Context, txn txnif.AsyncTxn, row Row) error {
	data, key, err := table.encode(row)
	if err != nil {
		return err
	}
	id, ok := table.pk.Get(key)
	if !ok {
		return fmt.Errorf("%w: key %v", txnif.ErrNotFound, key)
	}
	_, err = table.mgr.AcquireForWrite(ctx, txn, table, id, data, txnif.OpUpdate)
	return err
}

func (table *Table) Delete(ctx context.Context, txn txnif.AsyncTxn, key interface{}) error {
	id, ok := table.pk.Get(normalizeKey(key))
	if !ok {
		return fmt.Errorf("%w: key %v", txnif.ErrNotFound, key)
	}
	_, err := table.mgr.AcquireForWrite(ctx, txn, table, id, nil, txnif.OpDelete)
	return err
}

// Lock takes the write ownership of the row under key without changing it.
func (table *Table) Lock(ctx context.Context, txn txnif.AsyncTxn, key interface{}) error {
	id, ok := table.pk.Get(normalizeKey(key))
	if !ok {
		return fmt.Errorf("%w: key %v", txnif.ErrNotFound, key)
	}
	_, err := table.mgr.AcquireForWrite(ctx, txn, table, id, nil, txnif.OpUpdate)
	return err
}

func (table *Table) Get(txn txnif.AsyncTxn, key interface{}) (Row, error) {
	id, ok := table.pk.Get(normalizeKey(key))
	if !ok {
		return nil, fmt.Errorf("%w: key %v", txnif.ErrNotFound, key)
	}
	return table.GetByID(txn, id)
}

func (table *Table) GetByID(txn txnif.AsyncTxn, id common.LogicalID) (Row, error) {
	data, _, err := table.mgr.Read(txn, table, id)
	if err != nil {
		return nil, err
	}
	return DecodeRow(table.GetSchema(), data)
}

// Scan calls fn with every row visible to txn, in logical id order, until
// fn returns false.
func (table *Table) Scan(txn txnif.AsyncTxn, fn func(id common.LogicalID, row Row) bool) (err error) {
	table.ind.Range(func(id common.LogicalID, _ common.SlotID) bool {
		var row Row
		row, err = table.GetByID(txn, id)
		if errors.Is(err, txnif.ErrNotFound) {
			err = nil
			return true
		}
		if err != nil {
			return false
		}
		return fn(id, row)
	})
	return
}

func (table *Table) Rows(txn txnif.AsyncTxn) (int, error) {
	cnt := 0
	err := table.Scan(txn, func(common.LogicalID, Row) bool {
		cnt++
		return true
	})
	return cnt, err
}

func (table *Table) String() string {
	stats := table.store.Stats()
	return fmt.Sprintf("%s[keys=%d][blocks=%d][slots=%d]", table.meta.String(),
		table.pk.Len(), stats.Blocks, stats.Allocated)
}
