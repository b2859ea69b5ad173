// Package db wires the epoch manager, garbage collector, transaction
// manager and catalog of one tiledb instance.
package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"tiledb/pkg/catalog"
	"tiledb/pkg/config"
	"tiledb/pkg/epoch"
	"tiledb/pkg/gc"
	"tiledb/pkg/iface/txnif"
	"tiledb/pkg/storage/tilegroup"
	"tiledb/pkg/tables"
	"tiledb/pkg/txn"

	"github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("tiledb: db closed")

type DB struct {
	Opts    *config.Config
	Epochs  *epoch.Manager
	GC      *gc.Collector
	TxnMgr  *txn.Manager
	Catalog *catalog.Catalog

	mu      sync.RWMutex
	tables  map[uint64]*tables.Table
	factory tables.TableFactory

	cancel context.CancelFunc
	closed atomic.Bool
}

// Open starts every background worker of a new instance. A nil cfg uses
// config.Default().
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	protocol, _ := cfg.ParseProtocol()
	logrus.SetLevel(cfg.LogLevel())

	ctx, cancel := context.WithCancel(context.Background())
	db := &DB{
		Opts:    cfg,
		Catalog: catalog.NewCatalog(),
		tables:  make(map[uint64]*tables.Table),
		cancel:  cancel,
	}
	db.Epochs = epoch.NewManager(cfg.Epoch.Interval.Duration, cfg.Epoch.Strict)

	var retirer txn.Retirer
	if cfg.GC.Enabled {
		collector, err := gc.NewCollector(db.Epochs, gc.Options{
			Workers:   cfg.GC.Workers,
			Interval:  cfg.GC.Interval.Duration,
			QueueSize: cfg.GC.QueueSize,
		})
		if err != nil {
			cancel()
			return nil, err
		}
		db.GC = collector
		retirer = collector
	}

	lockWait := txn.LockWaitBlock
	if cfg.Txn.LockWait == "nowait" {
		lockWait = txn.LockWaitNoWait
	}
	lockTimeout := cfg.Txn.LockTimeout.Duration
	if lockTimeout == 0 {
		lockTimeout = txn.NoLockTimeout
	}
	db.TxnMgr = txn.NewManager(db.Epochs, retirer, txn.Options{
		Protocol:    protocol,
		LockWait:    lockWait,
		LockTimeout: lockTimeout,
	})
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		db.TxnMgr.AddObserver(txn.NewLogObserver(logrus.DebugLevel))
	}
	db.factory = tables.NewDataFactory(db.TxnMgr, tilegroup.Options{
		BlockCapacity: cfg.Storage.BlockCapacity,
		MaxBlocks:     cfg.Storage.MaxBlocks,
	}).MakeTableFactory()

	db.Epochs.Start(ctx)
	if db.GC != nil {
		db.GC.Start(ctx)
	}
	db.TxnMgr.Start()
	logrus.Infof("tiledb opened: protocol=%s gc=%v", protocol, cfg.GC.Enabled)
	return db, nil
}

func (db *DB) StartTxn(info []byte) (txnif.AsyncTxn, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	return db.TxnMgr.StartTxn(info), nil
}

func (db *DB) Commit(txn txnif.AsyncTxn) error {
	return db.TxnMgr.Commit(txn)
}

func (db *DB) Rollback(txn txnif.AsyncTxn) error {
	return db.TxnMgr.Abort(txn)
}

func (db *DB) CreateTable(schema *catalog.Schema) (*tables.Table, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	meta, err := db.Catalog.CreateTable(schema)
	if err != nil {
		return nil, err
	}
	table := db.factory(meta)
	db.mu.Lock()
	db.tables[meta.GetID()] = table
	db.mu.Unlock()
	return table, nil
}

func (db *DB) GetTable(name string) (*tables.Table, error) {
	meta, err := db.Catalog.GetTableByName(name)
	if err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	table := db.tables[meta.GetID()]
	if table == nil {
		return nil, catalog.ErrNotFound
	}
	return table, nil
}

// DropTable unregisters name. Transactions already holding the table keep
// using it.
func (db *DB) DropTable(name string) error {
	meta, err := db.Catalog.DropTableByName(name)
	if err != nil {
		return err
	}
	db.mu.Lock()
	delete(db.tables, meta.GetID())
	db.mu.Unlock()
	return nil
}

// Close stops the commit pipeline first so no txn retires versions into a
// stopped collector.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if n := db.TxnMgr.ActiveCount(); n > 0 {
		logrus.Warnf("tiledb closing with %d active txns", n)
	}
	db.TxnMgr.Stop()
	if db.GC != nil {
		db.GC.Stop()
	}
	db.Epochs.Stop()
	db.cancel()
	logrus.Info("tiledb closed")
	return nil
}
