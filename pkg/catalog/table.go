package catalog

import (
	"fmt"
	"sync/atomic"
)

type TableEntry struct {
	ID       uint64
	CreateAt uint64
	schema   *Schema
	catalog  *Catalog
	dropped  atomic.Bool
}

func NewTableEntry(catalog *Catalog, schema *Schema) *TableEntry {
	return &TableEntry{
		ID:      catalog.NextTable(),
		schema:  schema,
		catalog: catalog,
	}
}

func MockStaloneTableEntry(id uint64, schema *Schema) *TableEntry {
	return &TableEntry{
		ID:     id,
		schema: schema,
	}
}

func (entry *TableEntry) GetID() uint64 { return entry.ID }
func (entry *TableEntry) GetSchema() *Schema { return entry.schema }
func (entry *TableEntry) GetCatalog() *Catalog { return entry.catalog }
func (entry *TableEntry) HasDropped() bool { return entry.dropped.Load() }
func (entry *TableEntry) markDropped() bool { return entry.dropped.CompareAndSwap(false, true) }

func (entry *TableEntry) String() string {
	s := fmt.Sprintf("TABLE<%d>[\"%s\"]", entry.ID, entry.schema.Name)
	if entry.HasDropped() {
		s += "[D]"
	}
	return s
}
