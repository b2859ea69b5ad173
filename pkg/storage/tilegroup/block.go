package tilegroup

import (
	"fmt"
	"sync/atomic"
	"tiledb/pkg/common"

	"github.com/RoaringBitmap/roaring"
)

// Block is one tile group: a fixed number of slots laid out column by
// column. Offsets are stable for the life of the block.
type Block struct {
	id       uint32
	capacity uint32
	hwm      atomic.Uint64
	headers  []TupleHeader
	columns  [][][]byte
	// free is guarded by the owning Store's freeMu.
	free *roaring.Bitmap
}

func NewBlock(id, capacity uint32, colCnt int) *Block {
	blk := &Block{
		id:       id,
		capacity: capacity,
		headers:  make([]TupleHeader, capacity),
		columns:  make([][][]byte, colCnt),
		free:     roaring.NewBitmap(),
	}
	for i := range blk.columns {
		blk.columns[i] = make([][]byte, capacity)
	}
	for i := range blk.headers {
		blk.headers[i].reset()
	}
	return blk
}

func (blk *Block) GetID() uint32       { return blk.id }
func (blk *Block) Capacity() uint32    { return blk.capacity }
func (blk *Block) ColumnCount() int    { return len(blk.columns) }
func (blk *Block) IsAppendable() bool  { return blk.hwm.Load() < uint64(blk.capacity) }
func (blk *Block) HighWaterMark() uint32 {
	hwm := blk.hwm.Load()
	if hwm > uint64(blk.capacity) {
		return blk.capacity
	}
	return uint32(hwm)
}

// PrepareAppend reserves the next never-used offset.
func (blk *Block) PrepareAppend() (offset uint32, ok bool) {
	if !blk.IsAppendable() {
		return
	}
	n := blk.hwm.Add(1)
	if n > uint64(blk.capacity) {
		return
	}
	return uint32(n - 1), true
}

func (blk *Block) header(offset uint32) *TupleHeader {
	return &blk.headers[offset]
}

func (blk *Block) read(offset uint32) common.RawTuple {
	tuple := make(common.RawTuple, len(blk.columns))
	for i, col := range blk.columns {
		tuple[i] = col[offset]
	}
	return tuple
}

func (blk *Block) write(offset uint32, data common.RawTuple) {
	for i, col := range blk.columns {
		if data[i] == nil {
			col[offset] = nil
			continue
		}
		col[offset] = append(make([]byte, 0, len(data[i])), data[i]...)
	}
}

func (blk *Block) clear(offset uint32) {
	for _, col := range blk.columns {
		col[offset] = nil
	}
	blk.headers[offset].reset()
}

func (blk *Block) String() string {
	return fmt.Sprintf("BLOCK[%d](hwm=%d,cap=%d)", blk.id, blk.HighWaterMark(), blk.capacity)
}
