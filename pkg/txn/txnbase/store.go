package txnbase

import (
	"tiledb/pkg/iface/txnif"
)

var NoopStoreFactory = func() txnif.TxnStore { return new(NoopTxnStore) }

type NoopTxnStore struct{}

func (store *NoopTxnStore) BindTxn(txn txnif.AsyncTxn) {}
func (store *NoopTxnStore) Close() error                 { return nil }
func (store *NoopTxnStore) PrepareCommit() error         { return nil }
func (store *NoopTxnStore) PrepareRollback() error       { return nil }
func (store *NoopTxnStore) ApplyCommit() error           { return nil }
func (store *NoopTxnStore) ApplyRollback() error         { return nil }
