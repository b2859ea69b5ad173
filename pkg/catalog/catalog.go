package catalog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/matrixorigin/matrixone/pkg/vm/engine/aoe/storage/common"
	"github.com/sirupsen/logrus"
)

var (
	ErrDuplicate = errors.New("tiledb: duplicate table")
	ErrNotFound  = errors.New("tiledb: table not found")
)

// +--------+---------+----------+---------+
// |   ID   |  Name   | CreateAt | Columns |
// +--------+---------+----------+---------+
// |(uint64)|(varchar)| (uint64) |  (...)  |
// +--------+---------+----------+---------+
type Catalog struct {
	*sync.RWMutex
	tableAlloc *common.IdAlloctor
	seq        uint64

	entries   map[uint64]*TableEntry
	nameNodes *btree.BTree
}

func NewCatalog() *Catalog {
	return &Catalog{
		RWMutex:    new(sync.RWMutex),
		tableAlloc: common.NewIdAlloctor(1),
		entries:    make(map[uint64]*TableEntry),
		nameNodes:  btree.New(8),
	}
}

func (catalog *Catalog) NextTable() uint64 { return catalog.tableAlloc.Alloc() }

func (catalog *Catalog) CreateTable(schema *Schema) (*TableEntry, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	catalog.Lock()
	defer catalog.Unlock()
	if catalog.nameNodes.Has(&nameNode{name: schema.Name}) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, schema.Name)
	}
	entry := NewTableEntry(catalog, schema)
	catalog.seq++
	entry.CreateAt = catalog.seq
	catalog.entries[entry.ID] = entry
	catalog.nameNodes.ReplaceOrInsert(&nameNode{name: schema.Name, entry: entry})
	logrus.Debugf("catalog: create %s", entry.String())
	return entry, nil
}

func (catalog *Catalog) GetTableByName(name string) (*TableEntry, error) {
	catalog.RLock()
	defer catalog.RUnlock()
	item := catalog.nameNodes.Get(&nameNode{name: name})
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return item.(*nameNode).entry, nil
}

func (catalog *Catalog) GetTableByID(id uint64) (*TableEntry, error) {
	catalog.RLock()
	defer catalog.RUnlock()
	entry := catalog.entries[id]
	if entry == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return entry, nil
}

func (catalog *Catalog) DropTableByName(name string) (*TableEntry, error) {
	catalog.Lock()
	defer catalog.Unlock()
	item := catalog.nameNodes.Delete(&nameNode{name: name})
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	entry := item.(*nameNode).entry
	delete(catalog.entries, entry.ID)
	entry.markDropped()
	logrus.Debugf("catalog: drop %s", entry.String())
	return entry, nil
}

func (catalog *Catalog) TableCnt() int {
	catalog.RLock()
	defer catalog.RUnlock()
	return catalog.nameNodes.Len()
}

// ForEachTable visits tables in name order until fn returns false.
func (catalog *Catalog) ForEachTable(fn func(*TableEntry) bool) {
	catalog.RLock()
	entries := make([]*TableEntry, 0, catalog.nameNodes.Len())
	catalog.nameNodes.Ascend(func(item btree.Item) bool {
		entries = append(entries, item.(*nameNode).entry)
		return true
	})
	catalog.RUnlock()
	for _, entry := range entries {
		if !fn(entry) {
			return
		}
	}
}

func (catalog *Catalog) String() string {
	s := fmt.Sprintf("CATALOG[tables=%d]", catalog.TableCnt())
	catalog.ForEachTable(func(entry *TableEntry) bool {
		s = fmt.Sprintf("%s\n\t%s", s, entry.String())
		return true
	})
	return s
}
