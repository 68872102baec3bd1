// Package monitor drives batches from a market data source through the
// momentum engine and alert aggregator, and tracks source health.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/pulsewatch/internal/logger"
	"github.com/rewired-gh/pulsewatch/internal/models"
)

// Sort keys accepted by SortSnapshots.
const (
	SortSymbol         = "symbol"
	SortPrice          = "price"
	SortChange5m       = "change_5m"
	SortVolume         = "volume"
	SortMarketCap      = "market_cap"
	SortRelativeVolume = "relative_volume"
)

// SortKeys lists every supported sort key.
var SortKeys = []string{SortSymbol, SortPrice, SortChange5m, SortVolume, SortMarketCap, SortRelativeVolume}

// Source fetches one batch of snapshots for the watchlist.
type Source interface {
	FetchSnapshots(ctx context.Context, symbols []string) ([]models.AssetSnapshot, error)
}

// Processor enriches a batch against per-asset day state.
type Processor interface {
	Process(ctx context.Context, batch []models.AssetSnapshot) []models.EnrichedSnapshot
}

// Classifier turns enriched snapshots into new alerts and keeps the history.
type Classifier interface {
	Classify(ctx context.Context, snapshots []models.EnrichedSnapshot) []models.Alert
	History() []models.Alert
}

// Notifier pushes alerts and source health changes to an operator.
type Notifier interface {
	SendAlerts(ctx context.Context, alerts []models.Alert) error
	SendError(ctx context.Context, err error) error
	SendRecovery(ctx context.Context, failureCount int) error
}

// Status describes the health of the data source.
type Status struct {
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Batches             int64     `json:"batches"`
	Symbols             int       `json:"symbols"`
}

type Option func(*Monitor)

// WithNotifier attaches an operator notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithSort sets the order used by Snapshots.
func WithSort(key string, descending bool) Option {
	return func(m *Monitor) {
		m.sortBy = key
		m.descending = descending
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor owns the latest enriched snapshot per symbol. Symbols missing from
// a batch keep their previous snapshot.
type Monitor struct {
	mu     sync.RWMutex
	latest map[string]models.EnrichedSnapshot
	status Status

	engine     Processor
	alerts     Classifier
	notifier   Notifier
	sortBy     string
	descending bool
	now        func() time.Time
}

func New(engine Processor, alerts Classifier, opts ...Option) *Monitor {
	m := &Monitor{
		latest: make(map[string]models.EnrichedSnapshot),
		engine: engine,
		alerts: alerts,
		sortBy: SortSymbol,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProcessBatch runs one batch through the engine and aggregator, notifies
// about new alerts, and returns them.
func (m *Monitor) ProcessBatch(ctx context.Context, batch []models.AssetSnapshot) []models.Alert {
	enriched := m.engine.Process(ctx, batch)

	m.mu.Lock()
	for _, s := range enriched {
		m.latest[s.Symbol] = s
	}
	m.status.Batches++
	m.status.Symbols = len(m.latest)
	m.mu.Unlock()

	added := m.alerts.Classify(ctx, enriched)
	logger.Debug("Processed batch: %d snapshots, %d enriched, %d new alerts", len(batch), len(enriched), len(added))
	if len(added) > 0 && m.notifier != nil {
		if err := m.notifier.SendAlerts(ctx, added); err != nil {
			logger.Error("Failed to send alert notification: %v", err)
		}
	}
	return added
}

// RunCycle fetches one batch from source and processes it.
func (m *Monitor) RunCycle(ctx context.Context, source Source, symbols []string) error {
	start := time.Now()
	batch, err := source.FetchSnapshots(ctx, symbols)
	if err != nil {
		err = fmt.Errorf("failed to fetch snapshots: %w", err)
		m.recordFailure(ctx, err)
		return err
	}
	if len(batch) == 0 && len(symbols) > 0 {
		err = errors.New("source returned no snapshots")
		m.recordFailure(ctx, err)
		return err
	}
	m.recordSuccess(ctx)
	alerts := m.ProcessBatch(ctx, batch)
	logger.Info("Cycle completed in %v: %d snapshots, %d new alerts", time.Since(start).Round(time.Millisecond), len(batch), len(alerts))
	return nil
}

// RunPolling runs a cycle immediately and then every interval until ctx is
// cancelled. After a failed cycle the next one waits twice the interval.
func (m *Monitor) RunPolling(ctx context.Context, source Source, symbols []string, interval time.Duration) {
	logger.Info("Starting polling loop (interval: %v, symbols: %d)", interval, len(symbols))
	for {
		wait := interval
		if err := m.RunCycle(ctx, source, symbols); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Monitoring cycle failed: %v", err)
			wait = 2 * interval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Polling stopped")
			return
		case <-timer.C:
		}
	}
}

// RunStream processes batches from a streaming source until the channel
// closes or ctx is cancelled.
func (m *Monitor) RunStream(ctx context.Context, batches <-chan []models.AssetSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			m.recordSuccess(ctx)
			m.ProcessBatch(ctx, batch)
		}
	}
}

// ReportError records a source failure that happened outside RunCycle, such
// as a dropped stream connection.
func (m *Monitor) ReportError(ctx context.Context, err error) {
	m.recordFailure(ctx, err)
}

func (m *Monitor) recordFailure(ctx context.Context, err error) {
	m.mu.Lock()
	m.status.ConsecutiveFailures++
	m.status.LastError = err.Error()
	m.status.LastErrorAt = m.now()
	first := m.status.ConsecutiveFailures == 1
	m.mu.Unlock()

	if first && m.notifier != nil {
		if sendErr := m.notifier.SendError(ctx, err); sendErr != nil {
			logger.Warn("Failed to send error notification: %v", sendErr)
		}
	}
}

func (m *Monitor) recordSuccess(ctx context.Context) {
	m.mu.Lock()
	failures := m.status.ConsecutiveFailures
	m.status.ConsecutiveFailures = 0
	m.status.LastSuccess = m.now()
	m.mu.Unlock()

	if failures > 0 {
		logger.Info("Source recovered after %d consecutive failures", failures)
		if m.notifier != nil {
			if err := m.notifier.SendRecovery(ctx, failures); err != nil {
				logger.Warn("Failed to send recovery notification: %v", err)
			}
		}
	}
}

// Status returns a copy of the source health.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Latest returns the newest enriched snapshot of every symbol seen, ordered
// by key.
func (m *Monitor) Latest(key string, descending bool) []models.EnrichedSnapshot {
	m.mu.RLock()
	out := make([]models.EnrichedSnapshot, 0, len(m.latest))
	for _, s := range m.latest {
		out = append(out, s)
	}
	m.mu.RUnlock()
	SortSnapshots(out, key, descending)
	return out
}

// Snapshots returns Latest in the configured display order.
func (m *Monitor) Snapshots() []models.EnrichedSnapshot {
	return m.Latest(m.sortBy, m.descending)
}

// Alerts returns the aggregator's history, newest first.
func (m *Monitor) Alerts() []models.Alert {
	return m.alerts.History()
}

// ValidSortKey reports whether key is accepted by SortSnapshots.
func ValidSortKey(key string) bool {
	for _, k := range SortKeys {
		if k == key {
			return true
		}
	}
	return false
}

// SortSnapshots orders snapshots in place by key; unknown keys sort by
// symbol. Ties fall back to symbol ascending.
func SortSnapshots(snapshots []models.EnrichedSnapshot, key string, descending bool) {
	value := func(s models.EnrichedSnapshot) float64 {
		switch strings.ToLower(key) {
		case SortPrice:
			return s.Price
		case SortChange5m:
			return s.PriceChange5m
		case SortVolume:
			return s.Volume
		case SortMarketCap:
			return s.MarketCap
		case SortRelativeVolume:
			return s.RelativeVolume
		}
		return 0
	}
	bySymbol := !ValidSortKey(strings.ToLower(key)) || strings.ToLower(key) == SortSymbol

	sort.SliceStable(snapshots, func(i, j int) bool {
		a, b := snapshots[i], snapshots[j]
		if !bySymbol {
			va, vb := value(a), value(b)
			if va != vb {
				if descending {
					return va > vb
				}
				return va < vb
			}
			return a.Symbol < b.Symbol
		}
		if descending {
			return a.Symbol > b.Symbol
		}
		return a.Symbol < b.Symbol
	})
}
