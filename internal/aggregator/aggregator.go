// Package aggregator merges media-group items that arrive as separate updates
// into one batch, finalized after a quiet period.
package aggregator

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"relaybot/internal/models"
)

// DefaultWindow is the quiet period after the last item before a batch is finalized.
const DefaultWindow = 2 * time.Second

// finalizedMemory bounds how many flushed group ids are remembered for late-item detection.
const finalizedMemory = 4096

// FlushFunc receives a finalized batch in arrival order. It runs on the timer goroutine.
type FlushFunc func(groupID string, items []models.Inbound)

// Aggregator owns the table of pending batches. Each entry owns its timer;
// the entry is removed under the lock before its items are flushed, so a
// batch is flushed exactly once.
type Aggregator struct {
	window time.Duration
	flush  FlushFunc
	logger *zap.Logger

	mu        sync.Mutex
	pending   map[string]*batch
	finalized *lru.Cache[string, struct{}]
	closed    bool
	wg        sync.WaitGroup
}

type batch struct {
	items []models.Inbound
	timer *time.Timer
	// gen is bumped on every re-arm; a timer whose generation is stale lost
	// the race with Stop and does nothing when it fires.
	gen uint64
}

func New(window time.Duration, flush FlushFunc, logger *zap.Logger) (*Aggregator, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	finalized, err := lru.New[string, struct{}](finalizedMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to create finalized group cache: %w", err)
	}
	return &Aggregator{
		window:    window,
		flush:     flush,
		logger:    logger,
		pending:   make(map[string]*batch),
		finalized: finalized,
	}, nil
}

// Observe appends item to the batch for groupID and restarts its timer.
// It reports false when the item was dropped because the group was already
// flushed or the aggregator is closed.
func (a *Aggregator) Observe(groupID string, item models.Inbound) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.logger.Warn("Dropping media group item after shutdown", zap.String("media_group_id", groupID), zap.Int("message_id", item.MessageID))
		lateItems.Inc()
		return false
	}
	if a.finalized.Contains(groupID) {
		a.logger.Warn("Dropping late media group item", zap.String("media_group_id", groupID), zap.Int("message_id", item.MessageID))
		lateItems.Inc()
		return false
	}

	b, ok := a.pending[groupID]
	if !ok {
		b = &batch{}
		a.pending[groupID] = b
		pendingBatches.Inc()
	}
	b.items = append(b.items, item)

	if b.timer != nil {
		// Stop may lose to an already fired timer; the generation check in fire covers that.
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(a.window, func() {
		a.fire(groupID, gen)
	})
	return true
}

func (a *Aggregator) fire(groupID string, gen uint64) {
	a.mu.Lock()
	b, ok := a.pending[groupID]
	if !ok || b.gen != gen {
		a.mu.Unlock()
		return
	}
	delete(a.pending, groupID)
	a.finalized.Add(groupID, struct{}{})
	a.wg.Add(1)
	a.mu.Unlock()

	defer a.wg.Done()
	a.dispatch(groupID, b.items)
}

func (a *Aggregator) dispatch(groupID string, items []models.Inbound) {
	pendingBatches.Dec()
	batchesFlushed.Inc()
	batchSize.Observe(float64(len(items)))

	a.logger.Debug("Media group finalized", zap.String("media_group_id", groupID), zap.Int("items", len(items)))
	a.flush(groupID, items)
}

// Pending returns the number of batches waiting for their quiet period.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Drain stops accepting items, flushes every pending batch immediately and
// waits for flushes already started by timers.
func (a *Aggregator) Drain() {
	a.mu.Lock()
	a.closed = true
	drained := make(map[string][]models.Inbound, len(a.pending))
	for id, b := range a.pending {
		b.timer.Stop()
		drained[id] = b.items
		a.finalized.Add(id, struct{}{})
		delete(a.pending, id)
	}
	a.mu.Unlock()

	for id, items := range drained {
		a.dispatch(id, items)
	}
	a.Wait()
}

// Wait blocks until every flush started by a timer has returned.
func (a *Aggregator) Wait() {
	a.wg.Wait()
}
