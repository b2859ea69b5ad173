package txn

import (
	"sync"
	"testing"
	"tiledb/pkg/common"
	"tiledb/pkg/epoch"
	"tiledb/pkg/gc"
	"tiledb/pkg/iface/txnif"
	"tiledb/pkg/storage/indirection"
	"tiledb/pkg/storage/tilegroup"
	"time"

	"github.com/stretchr/testify/assert"
)

var allProtocols = []txnif.Protocol{
	txnif.TimestampOrdering,
	txnif.Optimistic,
	txnif.Pessimistic,
}

type testRelation struct {
	sync.Mutex
	id        uint64
	store     *tilegroup.Store
	ind       *indirection.Array
	reclaimed map[common.LogicalID]bool
}

func newTestRelation() *testRelation {
	return &testRelation{
		id:        1,
		store:     tilegroup.NewStore(1, tilegroup.Options{BlockCapacity: 64}),
		ind:       indirection.NewArray(),
		reclaimed: make(map[common.LogicalID]bool),
	}
}

func (rel *testRelation) GetID() uint64 { return rel.id }
func (rel *testRelation) GetStore() *tilegroup.Store { return rel.store }
func (rel *testRelation) GetIndirection() *indirection.Array { return rel.ind }
func (rel *testRelation) OnRowReclaimed(id common.LogicalID, _ common.RawTuple) {
	rel.Lock()
	defer rel.Unlock()
	rel.reclaimed[id] = true
}

func (rel *testRelation) chainLen(id common.LogicalID) int {
	n := 0
	for slot := rel.ind.Resolve(id); slot != common.InvalidSlot; slot = rel.store.Header(slot).GetNext() {
		n++
	}
	return n
}

type testEnv struct {
	epochs *epoch.Manager
	gc     *gc.Collector
	mgr    *Manager
	rel    *testRelation
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	epochs := epoch.NewManager(time.Hour, true)
	collector, err := gc.NewCollector(epochs, gc.Options{Workers: 2})
	assert.Nil(t, err)
	mgr := NewManager(epochs, collector, opts)
	mgr.Start()
	t.Cleanup(func() {
		mgr.Stop()
		collector.Stop()
	})
	return &testEnv{
		epochs: epochs,
		gc:     collector,
		mgr:    mgr,
		rel:    newTestRelation(),
	}
}

func intRow(t *testing.T, v int64) common.RawTuple {
	buf, err := common.EncodeValue(v)
	assert.Nil(t, err)
	return common.RawTuple{buf}
}

func rowInt(t *testing.T, row common.RawTuple) int64 {
	v, err := common.DecodeValue(row[0])
	assert.Nil(t, err)
	return v.(int64)
}

// mustInsert commits a new row holding v.
func (env *testEnv) mustInsert(t *testing.T, v int64) common.LogicalID {
	txn := env.mgr.StartTxn(nil)
	id, _, err := env.mgr.Insert(txn, env.rel, intRow(t, v))
	assert.Nil(t, err)
	assert.Nil(t, env.mgr.Commit(txn))
	return id
}

// readInt reads id in a fresh txn.
func (env *testEnv) readInt(t *testing.T, id common.LogicalID) (int64, error) {
	txn := env.mgr.StartTxn(nil)
	defer env.mgr.Commit(txn)
	data, _, err := env.mgr.Read(txn, env.rel, id)
	if err != nil {
		return 0, err
	}
	return rowInt(t, data), nil
}

// collect runs the collector until nothing is pending.
func (env *testEnv) collect(t *testing.T) {
	for i := 0; i < 10 && env.gc.Pending() > 0; i++ {
		env.epochs.Advance()
		env.gc.RunOnce()
	}
	assert.Equal(t, 0, env.gc.Pending())
}
