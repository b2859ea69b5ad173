package txnbase

import (
	"errors"
	"sync"
	"testing"
	"tiledb/pkg/epoch"
	"tiledb/pkg/iface/txnif"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
)

func TestCommitPipeline(t *testing.T) {
	epochs := epoch.NewManager(time.Hour, true)
	mgr := NewTxnManager(epochs, nil, nil)
	mgr.Start()
	defer mgr.Stop()

	txn1 := mgr.StartTxn(nil)
	txn2 := mgr.StartTxn([]byte("txn2"))
	assert.Equal(t, 2, mgr.ActiveCount())
	assert.Equal(t, int64(2), epochs.Pinned(txn1.GetEpoch()))
	assert.True(t, txn1.GetStartTS() < txn2.GetStartTS())
	assert.Equal(t, txn1.GetStartTS(), txn1.GetReadTS())
	assert.Equal(t, txnif.UncommitTS, txn1.GetCommitTS())
	assert.Equal(t, []byte("txn2"), txn2.GetInfo())

	assert.Nil(t, txn1.Commit())
	assert.Equal(t, txnif.TxnStateCommitted, txn1.GetTxnState(true))
	assert.True(t, txn1.IsTerminated(false))
	assert.True(t, txn1.GetCommitTS() > txn2.GetStartTS())
	assert.Equal(t, txn1.GetCommitTS(), mgr.CommittedTS())
	assert.Nil(t, mgr.GetTxn(txn1.GetID()))
	select {
	case <-txn1.Terminated():
	default:
		t.Fatal("terminated channel not closed")
	}

	assert.Nil(t, txn2.Rollback())
	assert.Equal(t, txnif.TxnStateRollbacked, txn2.GetTxnState(false))
	assert.Nil(t, txn2.Rollback())
	assert.ErrorIs(t, txn2.Commit(), txnif.ErrTxnNotActive)
	assert.Equal(t, 0, mgr.ActiveCount())
	assert.Equal(t, int64(0), epochs.Pinned(txn1.GetEpoch()))
	t.Log(txn1.String())
}

func TestPrepareCommitFailure(t *testing.T) {
	mgr := NewTxnManager(epoch.NewManager(time.Hour, true), nil, nil)
	mgr.Start()
	defer mgr.Stop()

	errInjected := errors.New("injected")
	txn := mgr.StartTxn(nil)
	rolledback := false
	txn.RegisterRollbackFn(func() { rolledback = true })
	txn.SetPrepareCommitFn(func(interface{}) error { return errInjected })
	assert.ErrorIs(t, txn.Commit(), errInjected)
	assert.Equal(t, txnif.TxnStateRollbacked, txn.GetTxnState(false))
	assert.True(t, rolledback)
}

func TestCommitTSPolicy(t *testing.T) {
	mgr := NewTxnManager(epoch.NewManager(time.Hour, true), nil, nil)
	mgr.CommitTSPolicy = func(txn txnif.AsyncTxn, _ uint64) uint64 {
		return txn.GetStartTS()
	}
	mgr.Start()
	defer mgr.Stop()

	txn := mgr.StartTxn(nil)
	assert.Nil(t, txn.Commit())
	assert.Equal(t, txn.GetStartTS(), txn.GetCommitTS())
}

func TestConcurrentCommit(t *testing.T) {
	epochs := epoch.NewManager(time.Hour, true)
	mgr := NewTxnManager(epochs, nil, nil)
	mgr.Start()
	defer mgr.Stop()

	p, _ := ants.NewPool(10)
	defer p.Release()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		commit := i%3 != 0
		_ = p.Submit(func() {
			defer wg.Done()
			txn := mgr.StartTxn(nil)
			if commit {
				assert.Nil(t, txn.Commit())
			} else {
				assert.Nil(t, txn.Rollback())
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 0, mgr.ActiveCount())
	assert.Equal(t, epochs.Current(), epochs.GetSafeReclaimEpoch())
}
