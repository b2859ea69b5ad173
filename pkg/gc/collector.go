// Package gc reclaims versions that no active or future transaction can
// reach. Retired items wait until their epoch is older than every pinned
// epoch, then go through two stages: unlink from the version chain, and one
// epoch later, return the slot to storage.
package gc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"tiledb/pkg/common"
	"tiledb/pkg/epoch"
	"tiledb/pkg/iface/txnif"
	"tiledb/pkg/storage/tilegroup"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
	queue "github.com/yireyun/go-queue"
)

const (
	DefaultWorkers   = 4
	DefaultInterval  = 100 * time.Millisecond
	DefaultQueueSize = uint32(1 << 16)
)

type Options struct {
	Workers   int
	Interval  time.Duration
	QueueSize uint32
}

func (opts *Options) fillDefaults() {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = DefaultQueueSize
	}
}

type Stats struct {
	Retired   uint64
	Unlinked  uint64
	Reclaimed uint64
	Requeued  uint64
	Pending   int
}

type Collector struct {
	opts   Options
	epochs *epoch.Manager
	queue  *queue.EsQueue
	pool   *ants.Pool

	overflowMu sync.Mutex
	overflow   []*Item

	// mu serializes rounds; pending is only touched under it.
	mu      sync.Mutex
	pending []*Item

	retired, unlinked, reclaimed, requeued atomic.Uint64

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewCollector(epochs *epoch.Manager, opts Options) (*Collector, error) {
	opts.fillDefaults()
	pool, err := ants.NewPool(opts.Workers, ants.WithPanicHandler(func(p interface{}) {
		logrus.Errorf("GC worker panic: %v", p)
	}))
	if err != nil {
		return nil, err
	}
	return &Collector{
		opts:   opts,
		epochs: epochs,
		queue:  queue.NewQueue(opts.QueueSize),
		pool:   pool,
	}, nil
}

// Retire hands items over to the collector. It never blocks.
func (c *Collector) Retire(items ...*Item) {
	for _, item := range items {
		c.retired.Add(1)
		if ok, _ := c.queue.Put(item); ok {
			continue
		}
		c.overflowMu.Lock()
		c.overflow = append(c.overflow, item)
		c.overflowMu.Unlock()
	}
}

func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunOnce()
			}
		}
	}()
	logrus.Infof("GC started with %d workers, interval %s", c.opts.Workers, c.opts.Interval)
}

func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		c.pool.Release()
		logrus.Infof("GC stopped: %s", c.String())
	})
}

func (c *Collector) drain() {
	for {
		val, ok, _ := c.queue.Get()
		if !ok {
			break
		}
		c.pending = append(c.pending, val.(*Item))
	}
	c.overflowMu.Lock()
	c.pending = append(c.pending, c.overflow...)
	c.overflow = nil
	c.overflowMu.Unlock()
}

// RunOnce processes every pending item whose epoch is older than the safe
// reclaim epoch and returns how many were processed.
func (c *Collector) RunOnce() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drain()
	if len(c.pending) == 0 {
		return 0
	}
	safe := c.epochs.GetSafeReclaimEpoch()
	workers := c.opts.Workers
	shards := make([][]*Item, workers)
	waiting := make([]*Item, 0, len(c.pending))
	ready := 0
	for _, item := range c.pending {
		if item.Epoch >= safe {
			waiting = append(waiting, item)
			continue
		}
		// Items of one logical id stay on one worker so chain unlinks on
		// the same row never race.
		shard := int(item.LID % uint64(workers))
		shards[shard] = append(shards[shard], item)
		ready++
	}

	results := make([][]*Item, workers)
	var wg sync.WaitGroup
	for i := range shards {
		if len(shards[i]) == 0 {
			continue
		}
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = c.process(shards[i])
		}
		if err := c.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
	for _, next := range results {
		waiting = append(waiting, next...)
	}
	c.pending = waiting
	if ready > 0 {
		logrus.Debugf("GC round safe=%d processed=%d pending=%d", safe, ready, len(waiting))
	}
	return ready
}

var kindRank = map[Kind]int{
	KindRow:     0,
	KindVersion: 1,
	KindDead:    2,
}

func (c *Collector) process(batch []*Item) (next []*Item) {
	// A row must be detached before any slot of the same batch is freed.
	sort.SliceStable(batch, func(i, j int) bool {
		return kindRank[batch[i].Kind] < kindRank[batch[j].Kind]
	})
	for _, item := range batch {
		var out *Item
		switch item.Kind {
		case KindVersion:
			out = c.unlinkVersion(item)
		case KindRow:
			out = c.detachRow(item)
		case KindDead:
			c.free(item)
		}
		if out != nil {
			next = append(next, out)
		}
	}
	return
}

func (c *Collector) unlinkVersion(item *Item) *Item {
	store := item.Rel.GetStore()
	h := store.Header(item.Slot)
	newer, older := h.GetPrev(), h.GetNext()
	if newer != common.InvalidSlot {
		store.Header(newer).CASNext(item.Slot, older)
	}
	if older != common.InvalidSlot {
		store.Header(older).CASPrev(item.Slot, newer)
	}
	c.unlinked.Add(1)
	return &Item{
		Kind:  KindDead,
		Rel:   item.Rel,
		LID:   item.LID,
		Slot:  item.Slot,
		Epoch: c.epochs.Current(),
	}
}

func (c *Collector) detachRow(item *Item) *Item {
	store := item.Rel.GetStore()
	ind := item.Rel.GetIndirection()
	h := store.Header(item.Slot)
	if !h.CASOwner(0, txnif.GCOwner) {
		// A writer holds the tombstone. Check again next round.
		c.requeued.Add(1)
		return item
	}
	if ind.Resolve(item.LID) != item.Slot || !h.IsDeleted() {
		// Row was reinserted.
		h.SetOwner(0)
		return nil
	}
	if !ind.Redirect(item.LID, item.Slot, common.InvalidSlot) {
		h.SetOwner(0)
		return nil
	}
	item.Rel.OnRowReclaimed(item.LID, common.CloneTuple(store.Read(item.Slot)))
	if older := h.GetNext(); older != common.InvalidSlot {
		store.Header(older).CASPrev(item.Slot, common.InvalidSlot)
	}
	c.unlinked.Add(1)
	return &Item{
		Kind:    KindDead,
		Rel:     item.Rel,
		LID:     item.LID,
		Slot:    item.Slot,
		FreeLID: true,
		Epoch:   c.epochs.Current(),
	}
}

func (c *Collector) free(item *Item) {
	if err := item.Rel.GetStore().Reclaim(item.Slot); err != nil {
		if err == tilegroup.ErrSlotAlreadyFree {
			logrus.Warnf("%s: %v", item.String(), err)
		} else {
			logrus.Errorf("%s: %v", item.String(), err)
		}
		return
	}
	if item.FreeLID {
		item.Rel.GetIndirection().Free(item.LID)
	}
	c.reclaimed.Add(1)
}

func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drain()
	return len(c.pending)
}

func (c *Collector) Stats() Stats {
	return Stats{
		Retired:   c.retired.Load(),
		Unlinked:  c.unlinked.Load(),
		Reclaimed: c.reclaimed.Load(),
		Requeued:  c.requeued.Load(),
		Pending:   c.Pending(),
	}
}

func (c *Collector) String() string {
	s := c.Stats()
	return fmt.Sprintf("GC(retired=%d,unlinked=%d,reclaimed=%d,requeued=%d,pending=%d)",
		s.Retired, s.Unlinked, s.Reclaimed, s.Requeued, s.Pending)
}
