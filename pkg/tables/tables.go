package tables

import (
	"tiledb/pkg/catalog"
	"tiledb/pkg/iface/txnif"
	"tiledb/pkg/storage/tilegroup"
)

type TableFactory = func(meta *catalog.TableEntry) *Table

type DataFactory struct {
	mgr       txnif.TxnManager
	storeOpts tilegroup.Options
}

func NewDataFactory(mgr txnif.TxnManager, storeOpts tilegroup.Options) *DataFactory {
	return &DataFactory{
		mgr:       mgr,
		storeOpts: storeOpts,
	}
}

func (factory *DataFactory) MakeTableFactory() TableFactory {
	return func(meta *catalog.TableEntry) *Table {
		return newTable(meta, factory.mgr, factory.storeOpts)
	}
}
