package indirection

import (
	"sync"
	"sync/atomic"
	"tiledb/pkg/common"
)

const (
	chunkShift = 12
	ChunkSize  = 1 << chunkShift
	chunkMask  = ChunkSize - 1
)

type chunk [ChunkSize]atomic.Uint64

// Array maps logical ids to the head slot of their version chain. Resolve
// and Redirect never lock; the chunk directory is copy-on-write and only
// grows.
type Array struct {
	mu     sync.Mutex
	chunks atomic.Pointer[[]*chunk]
	next   atomic.Uint64
	freed  []common.LogicalID
}

func NewArray() *Array {
	arr := new(Array)
	chunks := make([]*chunk, 0)
	arr.chunks.Store(&chunks)
	return arr
}

func (arr *Array) entry(id common.LogicalID) *atomic.Uint64 {
	chunks := *arr.chunks.Load()
	idx := id >> chunkShift
	if idx >= uint64(len(chunks)) {
		return nil
	}
	return &chunks[idx][id&chunkMask]
}

// Allocate publishes head under a new or recycled logical id.
func (arr *Array) Allocate(head common.SlotID) common.LogicalID {
	arr.mu.Lock()
	if n := len(arr.freed); n > 0 {
		id := arr.freed[n-1]
		arr.freed = arr.freed[:n-1]
		arr.mu.Unlock()
		arr.entry(id).Store(head)
		return id
	}
	id := arr.next.Load()
	chunks := *arr.chunks.Load()
	if id>>chunkShift >= uint64(len(chunks)) {
		c := new(chunk)
		for i := range c {
			c[i].Store(common.InvalidSlot)
		}
		grown := make([]*chunk, len(chunks), len(chunks)+1)
		copy(grown, chunks)
		grown = append(grown, c)
		arr.chunks.Store(&grown)
	}
	arr.entry(id).Store(head)
	arr.next.Store(id + 1)
	arr.mu.Unlock()
	return id
}

// Resolve returns the current head or InvalidSlot.
func (arr *Array) Resolve(id common.LogicalID) common.SlotID {
	if id >= arr.next.Load() {
		return common.InvalidSlot
	}
	e := arr.entry(id)
	if e == nil {
		return common.InvalidSlot
	}
	return e.Load()
}

// Redirect swings the head from oldHead to newHead. A false return means
// another writer raced; the caller re-resolves.
func (arr *Array) Redirect(id common.LogicalID, oldHead, newHead common.SlotID) bool {
	if id >= arr.next.Load() {
		return false
	}
	e := arr.entry(id)
	if e == nil {
		return false
	}
	return e.CompareAndSwap(oldHead, newHead)
}

// Free makes id reusable. The entry must already point at InvalidSlot and
// no transaction may still hold id.
func (arr *Array) Free(id common.LogicalID) {
	e := arr.entry(id)
	if e == nil {
		return
	}
	e.Store(common.InvalidSlot)
	arr.mu.Lock()
	arr.freed = append(arr.freed, id)
	arr.mu.Unlock()
}

// Len is the logical id high-water mark.
func (arr *Array) Len() uint64 { return arr.next.Load() }

func (arr *Array) FreeCount() int {
	arr.mu.Lock()
	defer arr.mu.Unlock()
	return len(arr.freed)
}

// Range calls fn for every id with a valid head until fn returns false.
func (arr *Array) Range(fn func(id common.LogicalID, head common.SlotID) bool) {
	n := arr.next.Load()
	for id := uint64(0); id < n; id++ {
		head := arr.Resolve(id)
		if head == common.InvalidSlot {
			continue
		}
		if !fn(id, head) {
			return
		}
	}
}
