package tilegroup

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"tiledb/pkg/common"

	"github.com/RoaringBitmap/roaring"
	"github.com/sirupsen/logrus"
)

var (
	ErrOutOfCapacity         = errors.New("tiledb: tuple store out of capacity")
	ErrConcurrentChainUpdate = errors.New("tiledb: concurrent chain update")
	ErrColumnMismatch        = errors.New("tiledb: column count mismatch")
	ErrSlotAlreadyFree       = errors.New("tiledb: slot already reclaimed")
)

const DefaultBlockCapacity uint32 = 1024

type Options struct {
	BlockCapacity uint32
	// MaxBlocks bounds the number of tile groups. 0 means unlimited.
	MaxBlocks uint32
}

type Stats struct {
	Blocks    int
	Allocated uint64
	Free      uint64
}

// Store owns the tile groups of one table. Slot allocation is lock-free on
// the append path; recycled slots are handed out under freeMu.
type Store struct {
	growMu    sync.Mutex
	freeMu    sync.Mutex
	opts      Options
	colCnt    int
	blocks    atomic.Pointer[[]*Block]
	active    atomic.Pointer[Block]
	reusable  *roaring.Bitmap
	freeSlots atomic.Int64
}

func NewStore(colCnt int, opts Options) *Store {
	if opts.BlockCapacity == 0 {
		opts.BlockCapacity = DefaultBlockCapacity
	}
	store := &Store{
		opts:     opts,
		colCnt:   colCnt,
		reusable: roaring.NewBitmap(),
	}
	blk := NewBlock(0, opts.BlockCapacity, colCnt)
	blocks := []*Block{blk}
	store.blocks.Store(&blocks)
	store.active.Store(blk)
	return store
}

func (store *Store) ColumnCount() int { return store.colCnt }

func (store *Store) Blocks() []*Block {
	return *store.blocks.Load()
}

func (store *Store) GetBlock(id uint32) *Block {
	blocks := *store.blocks.Load()
	if int(id) >= len(blocks) {
		return nil
	}
	return blocks[id]
}

func (store *Store) locate(slot common.SlotID) (*Block, uint32) {
	blkID, offset := common.SplitSlotID(slot)
	blk := store.GetBlock(blkID)
	if blk == nil || offset >= blk.capacity {
		panic(fmt.Sprintf("tiledb: bad slot %s", common.SlotString(slot)))
	}
	return blk, offset
}

func (store *Store) Contains(slot common.SlotID) bool {
	if slot == common.InvalidSlot {
		return false
	}
	blkID, offset := common.SplitSlotID(slot)
	blk := store.GetBlock(blkID)
	return blk != nil && offset < blk.HighWaterMark()
}

func (store *Store) Header(slot common.SlotID) *TupleHeader {
	blk, offset := store.locate(slot)
	return blk.header(offset)
}

// Allocate reserves an empty slot. Recycled slots are preferred; otherwise
// the active block is bumped and a new block is added when it is full.
func (store *Store) Allocate() (common.SlotID, error) {
	if store.freeSlots.Load() > 0 {
		if slot, ok := store.allocRecycled(); ok {
			return slot, nil
		}
	}
	for {
		blk := store.active.Load()
		if offset, ok := blk.PrepareAppend(); ok {
			return common.MakeSlotID(blk.id, offset), nil
		}
		if err := store.grow(blk); err != nil {
			return common.InvalidSlot, err
		}
	}
}

func (store *Store) allocRecycled() (common.SlotID, bool) {
	store.freeMu.Lock()
	defer store.freeMu.Unlock()
	for !store.reusable.IsEmpty() {
		blkID := store.reusable.Minimum()
		blk := store.GetBlock(blkID)
		if blk.free.IsEmpty() {
			store.reusable.Remove(blkID)
			continue
		}
		offset := blk.free.Minimum()
		blk.free.Remove(offset)
		if blk.free.IsEmpty() {
			store.reusable.Remove(blkID)
		}
		store.freeSlots.Add(-1)
		return common.MakeSlotID(blkID, offset), true
	}
	return common.InvalidSlot, false
}

func (store *Store) grow(full *Block) error {
	store.growMu.Lock()
	defer store.growMu.Unlock()
	if store.active.Load() != full {
		return nil
	}
	blocks := *store.blocks.Load()
	if store.opts.MaxBlocks != 0 && uint32(len(blocks)) >= store.opts.MaxBlocks {
		return ErrOutOfCapacity
	}
	blk := NewBlock(uint32(len(blocks)), store.opts.BlockCapacity, store.colCnt)
	grown := make([]*Block, len(blocks), len(blocks)+1)
	copy(grown, blocks)
	grown = append(grown, blk)
	store.blocks.Store(&grown)
	store.active.Store(blk)
	logrus.Debugf("%s Added", blk.String())
	return nil
}

// Read returns the raw column bytes of a slot without any visibility check.
func (store *Store) Read(slot common.SlotID) common.RawTuple {
	blk, offset := store.locate(slot)
	return blk.read(offset)
}

// Write overwrites the column data of a slot owned by the caller.
func (store *Store) Write(slot common.SlotID, data common.RawTuple) error {
	if len(data) != store.colCnt {
		return ErrColumnMismatch
	}
	blk, offset := store.locate(slot)
	blk.write(offset, data)
	return nil
}

// InitSlot prepares a freshly allocated slot as the only version of a new
// row owned by txnID.
func (store *Store) InitSlot(slot common.SlotID, data common.RawTuple, txnID uint64) error {
	if err := store.Write(slot, data); err != nil {
		return err
	}
	store.Header(slot).init(txnID, common.InvalidSlot, false)
	return nil
}

// InstallVersion copies data into a new slot and links it in front of old.
// The link is published with a CAS on old's newer-version pointer.
func (store *Store) InstallVersion(old common.SlotID, data common.RawTuple, txnID uint64, deleted bool) (common.SlotID, error) {
	if len(data) != store.colCnt {
		return common.InvalidSlot, ErrColumnMismatch
	}
	slot, err := store.Allocate()
	if err != nil {
		return common.InvalidSlot, err
	}
	blk, offset := store.locate(slot)
	blk.write(offset, data)
	blk.header(offset).init(txnID, old, deleted)
	if old != common.InvalidSlot {
		if !store.Header(old).CASPrev(common.InvalidSlot, slot) {
			store.release(blk, offset)
			return common.InvalidSlot, ErrConcurrentChainUpdate
		}
	}
	return slot, nil
}

// Reclaim returns a slot to its block's free list. Only the garbage
// collector calls it, once no transaction can reach the slot.
func (store *Store) Reclaim(slot common.SlotID) error {
	blk, offset := store.locate(slot)
	return store.release(blk, offset)
}

func (store *Store) release(blk *Block, offset uint32) error {
	store.freeMu.Lock()
	defer store.freeMu.Unlock()
	if blk.free.Contains(offset) {
		return ErrSlotAlreadyFree
	}
	blk.clear(offset)
	blk.free.Add(offset)
	store.reusable.Add(blk.id)
	store.freeSlots.Add(1)
	return nil
}

func (store *Store) Stats() Stats {
	blocks := store.Blocks()
	stats := Stats{Blocks: len(blocks)}
	store.freeMu.Lock()
	defer store.freeMu.Unlock()
	for _, blk := range blocks {
		free := blk.free.GetCardinality()
		stats.Free += free
		stats.Allocated += uint64(blk.HighWaterMark()) - free
	}
	return stats
}

func (store *Store) String() string {
	stats := store.Stats()
	return fmt.Sprintf("STORE(blocks=%d,allocated=%d,free=%d)", stats.Blocks, stats.Allocated, stats.Free)
}
