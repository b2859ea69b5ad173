package catalog

import "github.com/google/btree"

// nameNode keys a table entry by name in the catalog's btree.
type nameNode struct {
	name  string
	entry *TableEntry
}

func (n *nameNode) Less(item btree.Item) bool {
	return n.name < item.(*nameNode).name
}
