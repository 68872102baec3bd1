// Package momentum keeps per-asset day state and derives momentum signals
// (tick price change, volume ratio, relative volume, spike factor and new
// daily highs) from batches of market snapshots.
package momentum

import (
	"context"
	"sync"
	"time"

	"github.com/rewired-gh/pulsewatch/internal/logger"
	"github.com/rewired-gh/pulsewatch/internal/models"
	"github.com/rewired-gh/pulsewatch/internal/retry"
)

// DayStateStore is the durable projection of the engine's day state.
type DayStateStore interface {
	LoadDayStates(ctx context.Context) (map[string]*models.DayState, error)
	UpsertDayHigh(ctx context.Context, symbol string, highOfDay float64, ts time.Time, initialPrice float64) error
	UpsertLastAlert(ctx context.Context, symbol string, ts time.Time) error
	ClearDayStates(ctx context.Context) error
}

// VolumeHistory returns recent per-period volumes for a symbol, oldest first.
type VolumeHistory interface {
	FetchRecentVolumes(ctx context.Context, symbol string, periods int) ([]float64, error)
}

// Config tunes new-high detection, volume history lookups and store writes.
type Config struct {
	NewHighPct      float64
	NewHighCooldown time.Duration
	HistoryPeriods  int
	HistoryTimeout  time.Duration
	HistoryWorkers  int
	StoreTimeout    time.Duration
	StoreQueueSize  int
	Retry           retry.Policy
}

// DefaultConfig returns the production thresholds and timeouts.
func DefaultConfig() Config {
	return Config{
		NewHighPct:      2.0,
		NewHighCooldown: 5 * time.Minute,
		HistoryPeriods:  12,
		HistoryTimeout:  5 * time.Second,
		HistoryWorkers:  8,
		StoreTimeout:    3 * time.Second,
		StoreQueueSize:  1024,
		Retry:           retry.DefaultPolicy(),
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now; the engine converts every reading to UTC.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the stateful snapshot transform. Process calls are serialized;
// the day-state map is only touched while holding mu.
type Engine struct {
	mu      sync.Mutex
	states  map[string]*models.DayState
	dayKey  time.Time
	closed  bool
	config  Config
	now     func() time.Time
	history VolumeHistory
	persist *persister
}

// New builds an engine and loads persisted day state from store. store and
// history may be nil. A load failure is logged and the engine starts empty.
func New(ctx context.Context, store DayStateStore, history VolumeHistory, config Config, opts ...Option) *Engine {
	e := &Engine{
		states:  make(map[string]*models.DayState),
		config:  config,
		now:     time.Now,
		history: history,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dayKey = utcDay(e.clock())

	if store == nil {
		return e
	}
	e.persist = newPersister(store, config.StoreQueueSize, config.StoreTimeout, config.Retry)

	loadCtx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()
	persisted, err := store.LoadDayStates(loadCtx)
	if err != nil {
		logger.Warn("Failed to load persisted day states: %v", err)
		return e
	}

	stale := 0
	for symbol, st := range persisted {
		if !utcDay(st.UpdatedAt).Equal(e.dayKey) {
			stale++
			continue
		}
		e.states[symbol] = st
	}
	if stale > 0 {
		// Rows from an earlier day mean a rollover clear never reached the store.
		logger.Info("Discarding %d day states from a previous UTC day", stale)
		e.persist.enqueue(storeOp{kind: opClearAll})
		for _, st := range e.states {
			e.persist.enqueue(storeOp{kind: opUpsertHigh, symbol: st.Symbol, highOfDay: st.HighOfDay, initialPrice: st.InitialPrice, at: st.UpdatedAt})
			if !st.LastAlertAt.IsZero() {
				e.persist.enqueue(storeOp{kind: opUpsertLastAlert, symbol: st.Symbol, at: st.LastAlertAt})
			}
		}
	}
	logger.Info("Loaded %d persisted day states", len(e.states))
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

type volumeSignal struct {
	relativeVolume float64
	spikeFactor    float64
}

// Process enriches a batch. Malformed snapshots are skipped without touching
// state; history failures degrade relative volume and spike factor to 1.
func (e *Engine) Process(ctx context.Context, batch []models.AssetSnapshot) []models.EnrichedSnapshot {
	valid := make([]models.AssetSnapshot, 0, len(batch))
	for _, snap := range batch {
		if err := snap.Validate(); err != nil {
			logger.Warn("Skipping snapshot: %v", err)
			continue
		}
		valid = append(valid, snap)
	}
	if len(valid) == 0 {
		return nil
	}

	signals := e.fetchVolumeSignals(ctx, valid)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	e.rolloverLocked(now)

	out := make([]models.EnrichedSnapshot, 0, len(valid))
	for i, snap := range valid {
		enriched := e.applyLocked(snap, now)
		enriched.RelativeVolume = signals[i].relativeVolume
		enriched.SpikeFactor = signals[i].spikeFactor
		out = append(out, enriched)
	}
	return out
}

// rolloverLocked clears all day state when now falls on a later UTC day.
// Caller holds mu, so no tick observes a partially cleared map.
func (e *Engine) rolloverLocked(now time.Time) {
	day := utcDay(now)
	if !day.After(e.dayKey) {
		return
	}
	logger.Info("UTC day rollover %s -> %s, clearing %d day states",
		e.dayKey.Format("2006-01-02"), day.Format("2006-01-02"), len(e.states))
	e.states = make(map[string]*models.DayState)
	e.dayKey = day
	e.enqueue(storeOp{kind: opClearAll})
}

func (e *Engine) applyLocked(snap models.AssetSnapshot, now time.Time) models.EnrichedSnapshot {
	enriched := models.EnrichedSnapshot{AssetSnapshot: snap}

	st, ok := e.states[snap.Symbol]
	if !ok {
		st = &models.DayState{
			Symbol:       snap.Symbol,
			HighOfDay:    snap.Price,
			InitialPrice: snap.Price,
			UpdatedAt:    now,
		}
		e.states[snap.Symbol] = st
		e.enqueue(storeOp{kind: opUpsertHigh, symbol: st.Symbol, highOfDay: st.HighOfDay, initialPrice: st.InitialPrice, at: now})
	} else if snap.Price > st.HighOfDay {
		increase := st.PriceIncreasePct(snap.Price)
		cooled := st.LastAlertAt.IsZero() || now.Sub(st.LastAlertAt) >= e.config.NewHighCooldown
		if increase >= e.config.NewHighPct && cooled {
			enriched.IsNewHigh = true
			st.LastAlertAt = now
			e.enqueue(storeOp{kind: opUpsertLastAlert, symbol: st.Symbol, at: now})
		}
		st.HighOfDay = snap.Price
		st.UpdatedAt = now
		e.enqueue(storeOp{kind: opUpsertHigh, symbol: st.Symbol, highOfDay: st.HighOfDay, initialPrice: st.InitialPrice, at: now})
	}

	enriched.PriceChange5m, enriched.VolumeRatio = 0, 1
	if prev := st.Previous; prev != nil {
		enriched.PreviousPrice = prev.Price
		enriched.PriceChange5m, enriched.VolumeRatio = tickChange(prev.Price, prev.Volume, snap.Price, snap.Volume)
	}
	prev := snap
	st.Previous = &prev

	enriched.DayHigh = st.HighOfDay
	enriched.InitialPrice = st.InitialPrice
	return enriched
}

func (e *Engine) enqueue(op storeOp) {
	if e.persist == nil || e.closed {
		return
	}
	e.persist.enqueue(op)
}

// fetchVolumeSignals queries the history collaborator for every snapshot
// with a bounded number of concurrent requests. It runs before the state
// lock is taken so slow fetches never hold up other batches' state updates.
func (e *Engine) fetchVolumeSignals(ctx context.Context, batch []models.AssetSnapshot) []volumeSignal {
	signals := make([]volumeSignal, len(batch))
	for i := range signals {
		signals[i] = volumeSignal{relativeVolume: 1, spikeFactor: 1}
	}
	if e.history == nil || e.config.HistoryPeriods <= 0 {
		return signals
	}

	workers := e.config.HistoryWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, snap := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, e.config.HistoryTimeout)
			defer cancel()
			volumes, err := e.history.FetchRecentVolumes(fetchCtx, symbol, e.config.HistoryPeriods)
			if err != nil {
				logger.Warn("Volume history unavailable for %s: %v", symbol, err)
				return
			}
			rv, sf := VolumeMetrics(volumes, e.config.HistoryPeriods)
			signals[i] = volumeSignal{relativeVolume: rv, spikeFactor: sf}
		}(i, snap.Symbol)
	}
	wg.Wait()
	return signals
}

// DayState returns a copy of the state for symbol.
func (e *Engine) DayState(symbol string) (models.DayState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[symbol]
	if !ok {
		return models.DayState{}, false
	}
	return *st, true
}

// Len returns the number of assets with day state.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

// Flush waits until every store write issued so far has been attempted.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.persist == nil || e.closed {
		e.mu.Unlock()
		return nil
	}
	done, err := e.persist.barrier(ctx)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending store writes and stops the writer.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.persist != nil {
		e.persist.close()
	}
}
