package gc

import (
	"fmt"
	"tiledb/pkg/common"
	"tiledb/pkg/epoch"
	"tiledb/pkg/iface/txnif"
)

type Kind int8

const (
	// KindVersion is a committed version superseded by a newer one. It is
	// unlinked from its chain, then freed one epoch later.
	KindVersion Kind = iota
	// KindRow is the committed tombstone heading a deleted row. The row is
	// detached from its logical id, then the slot and id are freed.
	KindRow
	// KindDead is a slot no txn can reach anymore.
	KindDead
)

var kindNames = map[Kind]string{
	KindVersion: "Version",
	KindRow:     "Row",
	KindDead:    "Dead",
}

func (k Kind) String() string { return kindNames[k] }

type Item struct {
	Kind Kind
	Rel  txnif.Relation
	LID  common.LogicalID
	Slot common.SlotID
	// FreeLID also returns LID to the indirection array.
	FreeLID bool
	// Epoch is the epoch the item retired in. It is processed once every
	// txn pinned to Epoch or earlier has exited.
	Epoch epoch.EpochID
}

func (item *Item) String() string {
	return fmt.Sprintf("GC[%s][rel=%d][lid=%d][%s][e=%d]",
		item.Kind, item.Rel.GetID(), item.LID, common.SlotString(item.Slot), item.Epoch)
}
