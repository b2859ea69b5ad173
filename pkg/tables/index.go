package tables

import (
	"fmt"
	"sync"
	"tiledb/pkg/common"

	"github.com/google/btree"
)

// compareKey orders primary key values of the same column type.
func compareKey(a, b interface{}) int {
	switch av := a.(type) {
	case int64:
		bv := b.(int64)
		if av < bv {
			return -1
		} else if av > bv {
			return 1
		}
	case float64:
		bv := b.(float64)
		if av < bv {
			return -1
		} else if av > bv {
			return 1
		}
	case string:
		bv := b.(string)
		if av < bv {
			return -1
		} else if av > bv {
			return 1
		}
	case bool:
		bv := b.(bool)
		if !av && bv {
			return -1
		} else if av && !bv {
			return 1
		}
	default:
		panic(fmt.Sprintf("unsupported key type %T", a))
	}
	return 0
}

func normalizeKey(key interface{}) interface{} {
	if v, ok := key.(int); ok {
		return int64(v)
	}
	return key
}

type keyItem struct {
	key interface{}
	id  common.LogicalID
}

func (item *keyItem) Less(than btree.Item) bool {
	return compareKey(item.key, than.(*keyItem).key) < 0
}

// PrimaryIndex maps primary key values to logical ids. It never stores
// physical slots, so version installs and reclamation leave it untouched.
type PrimaryIndex struct {
	sync.RWMutex
	tree *btree.BTree
}

func NewPrimaryIndex() *PrimaryIndex {
	return &PrimaryIndex{
		tree: btree.New(16),
	}
}

func (idx *PrimaryIndex) Get(key interface{}) (common.LogicalID, bool) {
	idx.RLock()
	defer idx.RUnlock()
	item := idx.tree.Get(&keyItem{key: normalizeKey(key)})
	if item == nil {
		return common.InvalidLogicalID, false
	}
	return item.(*keyItem).id, true
}

// InsertIfAbsent maps key to id unless key is already mapped, in which case
// the existing id is returned with false.
func (idx *PrimaryIndex) InsertIfAbsent(key interface{}, id common.LogicalID) (common.LogicalID, bool) {
	idx.Lock()
	defer idx.Unlock()
	probe := &keyItem{key: normalizeKey(key), id: id}
	if item := idx.tree.Get(probe); item != nil {
		return item.(*keyItem).id, false
	}
	idx.tree.ReplaceOrInsert(probe)
	return id, true
}

// DeleteIf removes key only while it still maps to id.
func (idx *PrimaryIndex) DeleteIf(key interface{}, id common.LogicalID) bool {
	idx.Lock()
	defer idx.Unlock()
	probe := &keyItem{key: normalizeKey(key)}
	item := idx.tree.Get(probe)
	if item == nil || item.(*keyItem).id != id {
		return false
	}
	idx.tree.Delete(probe)
	return true
}

func (idx *PrimaryIndex) Len() int {
	idx.RLock()
	defer idx.RUnlock()
	return idx.tree.Len()
}

// Ascend visits entries in key order on a snapshot of the index.
func (idx *PrimaryIndex) Ascend(fn func(key interface{}, id common.LogicalID) bool) {
	idx.RLock()
	items := make([]*keyItem, 0, idx.tree.Len())
	idx.tree.Ascend(func(item btree.Item) bool {
		items = append(items, item.(*keyItem))
		return true
	})
	idx.RUnlock()
	for _, item := range items {
		if !fn(item.key, item.id) {
			return
		}
	}
}
