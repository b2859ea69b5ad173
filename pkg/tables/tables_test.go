package tables

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"tiledb/pkg/catalog"
	"tiledb/pkg/common"
	"tiledb/pkg/epoch"
	"tiledb/pkg/gc"
	"tiledb/pkg/iface/txnif"
	"tiledb/pkg/storage/tilegroup"
	"tiledb/pkg/txn"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allProtocols = []txnif.Protocol{
	txnif.TimestampOrdering,
	txnif.Optimistic,
	txnif.Pessimistic,
}

type testEnv struct {
	epochs *epoch.Manager
	gc     *gc.Collector
	mgr    *txn.Manager
	table  *Table
}

func mockSchema() *catalog.Schema {
	schema := catalog.NewEmptySchema("accounts")
	_ = schema.AppendPKCol("id", catalog.TInt64)
	_ = schema.AppendCol("name", catalog.TString)
	_ = schema.AppendCol("balance", catalog.TInt64)
	schema.BlockMaxRows = 16
	return schema
}

func newTestEnv(t *testing.T, protocol txnif.Protocol) *testEnv {
	epochs := epoch.NewManager(time.Hour, true)
	collector, err := gc.NewCollector(epochs, gc.Options{Workers: 2})
	require.Nil(t, err)
	mgr := txn.NewManager(epochs, collector, txn.Options{Protocol: protocol})
	mgr.Start()
	t.Cleanup(func() {
		mgr.Stop()
		collector.Stop()
	})
	cat := catalog.NewCatalog()
	meta, err := cat.CreateTable(mockSchema())
	require.Nil(t, err)
	factory := NewDataFactory(mgr, tilegroup.Options{})
	return &testEnv{
		epochs: epochs,
		gc:     collector,
		mgr:    mgr,
		table:  factory.MakeTableFactory()(meta),
	}
}

func (env *testEnv) collect(t *testing.T) {
	for i := 0; i < 10 && env.gc.Pending() > 0; i++ {
		env.epochs.Advance()
		env.gc.RunOnce()
	}
	assert.Equal(t, 0, env.gc.Pending())
}

func (env *testEnv) mustInsert(t *testing.T, rows ...Row) {
	ctx := context.Background()
	tx := env.mgr.StartTxn(nil)
	for _, row := range rows {
		_, err := env.table.Insert(ctx, tx, row)
		require.Nil(t, err)
	}
	require.Nil(t, env.mgr.Commit(tx))
}

func (env *testEnv) get(t *testing.T, key interface{}) (Row, error) {
	tx := env.mgr.StartTxn(nil)
	defer env.mgr.Commit(tx)
	return env.table.Get(tx, key)
}

func TestRowCodec(t *testing.T) {
	schema := mockSchema()
	data, err := EncodeRow(schema, Row{int64(7), "alice", nil})
	assert.Nil(t, err)
	row, err := DecodeRow(schema, data)
	assert.Nil(t, err)
	assert.Equal(t, Row{int64(7), "alice", nil}, row)
	key, err := decodeKey(schema, data)
	assert.Nil(t, err)
	assert.Equal(t, int64(7), key)

	long := strings.Repeat("a", 70000)
	data, err = EncodeRow(schema, Row{int64(8), long, int64(1)})
	assert.Nil(t, err)
	row, err = DecodeRow(schema, data)
	assert.Nil(t, err)
	assert.Equal(t, long, row[1])

	_, err = EncodeRow(schema, Row{"7", "alice", int64(1)})
	assert.ErrorIs(t, err, catalog.ErrTypeMismatch)
	_, err = DecodeRow(schema, data[:2])
	assert.ErrorIs(t, err, catalog.ErrTypeMismatch)
}

func TestPrimaryIndex(t *testing.T) {
	idx := NewPrimaryIndex()
	id, ok := idx.InsertIfAbsent(int64(3), 30)
	assert.True(t, ok)
	assert.Equal(t, common.LogicalID(30), id)
	id, ok = idx.InsertIfAbsent(3, 31)
	assert.False(t, ok)
	assert.Equal(t, common.LogicalID(30), id)
	_, _ = idx.InsertIfAbsent(int64(1), 10)
	_, _ = idx.InsertIfAbsent(int64(2), 20)

	id, ok = idx.Get(2)
	assert.True(t, ok)
	assert.Equal(t, common.LogicalID(20), id)
	_, ok = idx.Get(int64(4))
	assert.False(t, ok)

	keys := make([]interface{}, 0)
	idx.Ascend(func(key interface{}, _ common.LogicalID) bool {
		keys = append(keys, key)
		return true
	})
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, keys)

	assert.False(t, idx.DeleteIf(int64(3), 31))
	assert.True(t, idx.DeleteIf(int64(3), 30))
	assert.Equal(t, 2, idx.Len())

	strIdx := NewPrimaryIndex()
	_, _ = strIdx.InsertIfAbsent("b", 2)
	_, _ = strIdx.InsertIfAbsent("a", 1)
	id, ok = strIdx.Get("a")
	assert.True(t, ok)
	assert.Equal(t, common.LogicalID(1), id)
}

func TestInsertGet(t *testing.T) {
	for _, protocol := range allProtocols {
		t.Run(protocol.String(), func(t *testing.T) {
			env := newTestEnv(t, protocol)
			env.mustInsert(t, Row{int64(1), "a", int64(10)}, Row{int64(2), "b", int64(20)})

			row, err := env.get(t, int64(1))
			assert.Nil(t, err)
			assert.Equal(t, Row{int64(1), "a", int64(10)}, row)
			_, err = env.get(t, int64(3))
			assert.ErrorIs(t, err, txnif.ErrNotFound)

			tx := env.mgr.StartTxn(nil)
			_, err = env.table.Insert(context.Background(), tx, Row{int64(2), "dup", nil})
			assert.ErrorIs(t, err, txnif.ErrDuplicate)
			assert.Nil(t, env.mgr.Abort(tx))

			tx = env.mgr.StartTxn(nil)
			_, err = env.table.Insert(context.Background(), tx, Row{nil, "null", nil})
			assert.ErrorIs(t, err, catalog.ErrTypeMismatch)
			assert.Nil(t, env.mgr.Abort(tx))
			assert.Equal(t, 2, env.table.GetPrimaryIndex().Len())
			t.Log(env.table.String())
		})
	}
}

func TestInsertAbortRemovesKey(t *testing.T) {
	for _, protocol := range allProtocols {
		t.Run(protocol.String(), func(t *testing.T) {
			env := newTestEnv(t, protocol)
			tx := env.mgr.StartTxn(nil)
			_, err := env.table.Insert(context.Background(), tx, Row{int64(1), "a", nil})
			assert.Nil(t, err)
			row, err := env.table.Get(tx, int64(1))
			assert.Nil(t, err)
			assert.Equal(t, "a", row[1])
			assert.Nil(t, env.mgr.Abort(tx))

			assert.Equal(t, 0, env.table.GetPrimaryIndex().Len())
			_, err = env.get(t, int64(1))
			assert.ErrorIs(t, err, txnif.ErrNotFound)
			env.collect(t)
			env.mustInsert(t, Row{int64(1), "b", nil})
			row, err = env.get(t, int64(1))
			assert.Nil(t, err)
			assert.Equal(t, "b", row[1])
		})
	}
}

func TestUpdateDelete(t *testing.T) {
	ctx := context.Background()
	for _, protocol := range allProtocols {
		t.Run(protocol.String(), func(t *testing.T) {
			env := newTestEnv(t, protocol)
			env.mustInsert(t, Row{int64(1), "a", int64(10)})
			id, _ := env.table.GetPrimaryIndex().Get(int64(1))

			tx := env.mgr.StartTxn(nil)
			assert.Nil(t, env.table.Update(ctx, tx, Row{int64(1), "a", int64(11)}))
			assert.Nil(t, env.table.Update(ctx, tx, Row{int64(1), "a", int64(12)}))
			assert.ErrorIs(t, env.table.Update(ctx, tx, Row{int64(9), "x", nil}), txnif.ErrNotFound)
			assert.Nil(t, env.mgr.Commit(tx))
			row, err := env.get(t, int64(1))
			assert.Nil(t, err)
			assert.Equal(t, int64(12), row[2])

			tx = env.mgr.StartTxn(nil)
			assert.Nil(t, env.table.Delete(ctx, tx, int64(1)))
			assert.ErrorIs(t, env.table.Delete(ctx, tx, int64(1)), txnif.ErrNotFound)
			_, err = env.table.Get(tx, int64(1))
			assert.ErrorIs(t, err, txnif.ErrNotFound)
			assert.Nil(t, env.mgr.Commit(tx))
			_, err = env.get(t, int64(1))
			assert.ErrorIs(t, err, txnif.ErrNotFound)

			// Reinsert over the committed tombstone keeps the logical id.
			tx = env.mgr.StartTxn(nil)
			reid, err := env.table.Insert(ctx, tx, Row{int64(1), "again", nil})
			assert.Nil(t, err)
			assert.Equal(t, id, reid)
			assert.Nil(t, env.mgr.Commit(tx))
			row, err = env.get(t, int64(1))
			assert.Nil(t, err)
			assert.Equal(t, "again", row[1])
		})
	}
}

func TestDeleteReclaimsKey(t *testing.T) {
	ctx := context.Background()
	for _, protocol := range allProtocols {
		t.Run(protocol.String(), func(t *testing.T) {
			env := newTestEnv(t, protocol)
			env.mustInsert(t, Row{int64(1), "a", nil}, Row{int64(2), "b", nil})
			tx := env.mgr.StartTxn(nil)
			assert.Nil(t, env.table.Delete(ctx, tx, int64(1)))
			assert.Nil(t, env.mgr.Commit(tx))
			env.collect(t)

			assert.Equal(t, 1, env.table.GetPrimaryIndex().Len())
			_, ok := env.table.GetPrimaryIndex().Get(int64(1))
			assert.False(t, ok)
			assert.Equal(t, 1, env.table.GetIndirection().FreeCount())

			env.mustInsert(t, Row{int64(1), "c", nil})
			row, err := env.get(t, int64(1))
			assert.Nil(t, err)
			assert.Equal(t, "c", row[1])
		})
	}
}

func TestInsertDeleteSameTxn(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, txnif.Optimistic)
	tx := env.mgr.StartTxn(nil)
	_, err := env.table.Insert(ctx, tx, Row{int64(1), "a", nil})
	assert.Nil(t, err)
	assert.Nil(t, env.table.Delete(ctx, tx, int64(1)))
	_, err = env.table.Insert(ctx, tx, Row{int64(1), "b", nil})
	assert.Nil(t, err)
	assert.Nil(t, env.table.Delete(ctx, tx, int64(1)))
	assert.Nil(t, env.mgr.Commit(tx))

	assert.Equal(t, 0, env.table.GetPrimaryIndex().Len())
	_, err = env.get(t, int64(1))
	assert.ErrorIs(t, err, txnif.ErrNotFound)
	env.collect(t)
	env.mustInsert(t, Row{int64(1), "c", nil})
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, txnif.Pessimistic)
	rows := make([]Row, 0, 40)
	for i := 0; i < 40; i++ {
		rows = append(rows, Row{int64(i), "r", int64(i * 10)})
	}
	env.mustInsert(t, rows...)
	assert.True(t, env.table.GetStore().Stats().Blocks > 1)

	tx := env.mgr.StartTxn(nil)
	for i := 0; i < 40; i += 4 {
		assert.Nil(t, env.table.Delete(ctx, tx, int64(i)))
	}
	assert.Nil(t, env.mgr.Commit(tx))

	tx = env.mgr.StartTxn(nil)
	prev := int64(-1)
	cnt := 0
	err := env.table.Scan(tx, func(id common.LogicalID, row Row) bool {
		key := row[0].(int64)
		assert.True(t, key > prev)
		assert.NotEqual(t, int64(0), key%4)
		prev = key
		cnt++
		return true
	})
	assert.Nil(t, err)
	assert.Equal(t, 30, cnt)
	n, err := env.table.Rows(tx)
	assert.Nil(t, err)
	assert.Equal(t, 30, n)

	cnt = 0
	err = env.table.Scan(tx, func(common.LogicalID, Row) bool {
		cnt++
		return cnt < 5
	})
	assert.Nil(t, err)
	assert.Equal(t, 5, cnt)
	assert.Nil(t, env.mgr.Commit(tx))
}

func TestConcurrentInsertSameKey(t *testing.T) {
	for _, protocol := range allProtocols {
		t.Run(protocol.String(), func(t *testing.T) {
			env := newTestEnv(t, protocol)
			p, _ := ants.NewPool(8)
			defer p.Release()
			var wg sync.WaitGroup
			var committed atomic.Int32
			for i := 0; i < 32; i++ {
				wg.Add(1)
				_ = p.Submit(func() {
					defer wg.Done()
					tx := env.mgr.StartTxn(nil)
					if _, err := env.table.Insert(context.Background(), tx, Row{int64(1), "x", nil}); err != nil {
						if !txnif.IsRetryable(err) {
							assert.ErrorIs(t, err, txnif.ErrDuplicate)
						}
						assert.Nil(t, env.mgr.Abort(tx))
						return
					}
					if env.mgr.Commit(tx) == nil {
						committed.Add(1)
					}
				})
			}
			wg.Wait()
			assert.Equal(t, int32(1), committed.Load())
			assert.Equal(t, 1, env.table.GetPrimaryIndex().Len())
			n, err := func() (int, error) {
				tx := env.mgr.StartTxn(nil)
				defer env.mgr.Commit(tx)
				return env.table.Rows(tx)
			}()
			assert.Nil(t, err)
			assert.Equal(t, 1, n)
		})
	}
}
