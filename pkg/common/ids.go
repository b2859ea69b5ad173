package common

import "fmt"

// SlotID addresses one physical tuple slot: (block id << 32) | offset.
type SlotID = uint64

// LogicalID is the stable row handle resolved through the indirection layer.
type LogicalID = uint64

const (
	InvalidSlot      SlotID    = ^uint64(0)
	InvalidLogicalID LogicalID = ^uint64(0)
)

// RawTuple holds one encoded value per column.
type RawTuple = [][]byte

func MakeSlotID(block, offset uint32) SlotID {
	return uint64(block)<<32 | uint64(offset)
}

func SplitSlotID(id SlotID) (block, offset uint32) {
	return uint32(id >> 32), uint32(id)
}

func SlotString(id SlotID) string {
	if id == InvalidSlot {
		return "<nil>"
	}
	block, offset := SplitSlotID(id)
	return fmt.Sprintf("(%d,%d)", block, offset)
}

func CloneTuple(src RawTuple) RawTuple {
	if src == nil {
		return nil
	}
	dst := make(RawTuple, len(src))
	for i, col := range src {
		if col == nil {
			continue
		}
		dst[i] = append(make([]byte, 0, len(col)), col...)
	}
	return dst
}
