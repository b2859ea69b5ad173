// Package epoch partitions transaction lifetimes into coarse logical time
// buckets. Each epoch counts the transactions pinned to it; the oldest epoch
// with live pins bounds what the garbage collector may reclaim.
package epoch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrEpochUnderflow = errors.New("tiledb: epoch exit without matching enter")

type EpochID = uint64

const DefaultInterval = 40 * time.Millisecond

type node struct {
	id    EpochID
	count atomic.Int64
	next  atomic.Pointer[node]
}

type Manager struct {
	mu       sync.Mutex
	head     atomic.Pointer[node]
	current  atomic.Pointer[node]
	interval time.Duration
	strict   bool

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager starts the clock at epoch 1. In strict mode contract
// violations such as an unmatched exit panic.
func NewManager(interval time.Duration, strict bool) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	mgr := &Manager{
		interval: interval,
		strict:   strict,
	}
	n := &node{id: 1}
	mgr.head.Store(n)
	mgr.current.Store(n)
	return mgr
}

// Start advances the epoch on every tick until ctx is done or Stop is called.
func (mgr *Manager) Start(ctx context.Context) {
	ctx, mgr.cancel = context.WithCancel(ctx)
	mgr.wg.Add(1)
	go func() {
		defer mgr.wg.Done()
		ticker := time.NewTicker(mgr.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mgr.Advance()
			}
		}
	}()
	logrus.Infof("Epoch manager started, interval %s", mgr.interval)
}

func (mgr *Manager) Stop() {
	mgr.stopOnce.Do(func() {
		if mgr.cancel != nil {
			mgr.cancel()
		}
		mgr.wg.Wait()
		logrus.Infof("Epoch manager stopped at epoch %d", mgr.Current())
	})
}

func (mgr *Manager) Current() EpochID {
	return mgr.current.Load().id
}

// Advance opens a new current epoch and returns its id.
func (mgr *Manager) Advance() EpochID {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	curr := mgr.current.Load()
	n := &node{id: curr.id + 1}
	curr.next.Store(n)
	mgr.current.Store(n)
	return n.id
}

// EnterEpoch pins the caller to the current epoch.
func (mgr *Manager) EnterEpoch() EpochID {
	for {
		curr := mgr.current.Load()
		curr.count.Add(1)
		if mgr.current.Load() == curr {
			return curr.id
		}
		// Advanced meanwhile; retry on the new current epoch.
		curr.count.Add(-1)
	}
}

func (mgr *Manager) find(id EpochID) *node {
	for n := mgr.head.Load(); n != nil; n = n.next.Load() {
		if n.id == id {
			return n
		}
		if n.id > id {
			break
		}
	}
	return nil
}

// ExitEpoch releases one pin taken by EnterEpoch.
func (mgr *Manager) ExitEpoch(id EpochID) error {
	n := mgr.find(id)
	if n == nil {
		return mgr.underflow(id)
	}
	if n.count.Add(-1) < 0 {
		n.count.Add(1)
		return mgr.underflow(id)
	}
	return nil
}

func (mgr *Manager) underflow(id EpochID) error {
	err := fmt.Errorf("%w: epoch %d", ErrEpochUnderflow, id)
	if mgr.strict {
		panic(err)
	}
	logrus.Error(err)
	return err
}

// GetSafeReclaimEpoch returns the highest epoch E such that every epoch
// older than E has no pinned transactions. Drained epochs are unlinked.
func (mgr *Manager) GetSafeReclaimEpoch() EpochID {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	curr := mgr.current.Load()
	n := mgr.head.Load()
	for n != curr && n.count.Load() == 0 {
		n = n.next.Load()
	}
	mgr.head.Store(n)
	return n.id
}

// Pinned reports the number of transactions pinned to id.
func (mgr *Manager) Pinned(id EpochID) int64 {
	n := mgr.find(id)
	if n == nil {
		return 0
	}
	return n.count.Load()
}

func (mgr *Manager) String() string {
	return fmt.Sprintf("EPOCH(current=%d,safe=%d)", mgr.Current(), mgr.GetSafeReclaimEpoch())
}
