// Package alerts turns enriched snapshots into a deduplicated, bounded,
// newest-first alert history and fires the side effects of new alerts.
package alerts

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/pulsewatch/internal/logger"
	"github.com/rewired-gh/pulsewatch/internal/models"
	"github.com/rewired-gh/pulsewatch/internal/retry"
)

// MuteSettingKey is the settings key holding the persisted mute flag.
const MuteSettingKey = "alert_sound_muted"

// Sounder plays the audible cue for new alerts.
type Sounder interface {
	Play() error
}

// RunningUpStore receives durable running-up records.
type RunningUpStore interface {
	InsertRunningUp(ctx context.Context, rec models.RunningUpRecord) (int64, error)
}

// SettingsStore persists the mute flag across sessions.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Config holds the classification thresholds and history limits.
type Config struct {
	Thresholds    Thresholds
	DedupWindow   time.Duration
	HistoryCap    int
	MaxAge        time.Duration
	SweepInterval time.Duration
	SoundEnabled  bool
	StoreTimeout  time.Duration
	Retry         retry.Policy
}

// DefaultConfig returns a 5 minute dedup window and a 100 alert history.
func DefaultConfig() Config {
	return Config{
		Thresholds:    DefaultThresholds(),
		DedupWindow:   5 * time.Minute,
		HistoryCap:    100,
		MaxAge:        24 * time.Hour,
		SweepInterval: time.Minute,
		SoundEnabled:  true,
		StoreTimeout:  3 * time.Second,
		Retry:         retry.DefaultPolicy(),
	}
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now for alert timestamps and sweeps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithIDGenerator replaces the UUID alert ID source.
func WithIDGenerator(gen func() string) Option {
	return func(a *Aggregator) { a.newID = gen }
}

// WithSounder sets the cue played when a batch adds alerts.
func WithSounder(s Sounder) Option {
	return func(a *Aggregator) { a.sounder = s }
}

// WithRunningUpStore sets where running-up records are written.
func WithRunningUpStore(s RunningUpStore) Option {
	return func(a *Aggregator) { a.records = s }
}

// WithSettings sets the store backing the mute flag.
func WithSettings(s SettingsStore) Option {
	return func(a *Aggregator) { a.settings = s }
}

// Aggregator owns the alert history. All methods are safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	history []models.Alert
	muted   bool

	config   Config
	now      func() time.Time
	newID    func() string
	sounder  Sounder
	records  RunningUpStore
	settings SettingsStore

	pending sync.WaitGroup
}

// New builds an aggregator and restores the mute flag from settings.
func New(ctx context.Context, config Config, opts ...Option) *Aggregator {
	a := &Aggregator{
		config: config,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.settings != nil {
		loadCtx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
		defer cancel()
		raw, err := a.settings.GetSetting(loadCtx, MuteSettingKey)
		switch {
		case err == nil:
			if muted, perr := strconv.ParseBool(raw); perr == nil {
				a.muted = muted
			}
		case !errors.Is(err, models.ErrNotFound):
			logger.Warn("Failed to load mute setting: %v", err)
		}
	}
	return a
}

// Classify converts qualifying snapshots into new alerts, drops those whose
// symbol already alerted within the dedup window, and records the rest.
// It returns only the alerts added by this call.
func (a *Aggregator) Classify(ctx context.Context, snapshots []models.EnrichedSnapshot) []models.Alert {
	a.mu.Lock()
	now := a.now()
	var added []models.Alert
	sources := make(map[string]models.EnrichedSnapshot)
	for _, s := range snapshots {
		category, ok := Classify(s, a.config.Thresholds)
		if !ok {
			continue
		}
		if a.recentlyAlertedLocked(s.Symbol, now) {
			logger.Debug("Suppressing %s alert for %s inside dedup window", category, s.Symbol)
			continue
		}
		alert := models.Alert{
			ID:             a.newID(),
			Symbol:         s.Symbol,
			Price:          s.Price,
			Volume:         s.Volume,
			Category:       category,
			Timestamp:      now,
			PriceChange5m:  s.PriceChange5m,
			VolumeRatio:    s.VolumeRatio,
			RelativeVolume: s.RelativeVolume,
			SpikeFactor:    s.SpikeFactor,
			ChangePct24h:   s.ChangePct24h,
		}
		a.history = append(a.history, alert)
		added = append(added, alert)
		sources[alert.ID] = s
	}
	if len(added) > 0 {
		a.normalizeLocked()
	}
	muted := a.muted
	a.mu.Unlock()

	if len(added) == 0 {
		return nil
	}
	logger.Info("Recorded %d new alerts", len(added))

	if a.config.SoundEnabled && !muted && a.sounder != nil {
		if err := a.sounder.Play(); err != nil {
			logger.Warn("Failed to play alert sound: %v", err)
		}
	}
	for _, alert := range added {
		source := sources[alert.ID]
		if !a.config.Thresholds.RecordsRunningUp(source) {
			continue
		}
		a.recordRunningUp(ctx, alert, source)
	}
	return added
}

func (a *Aggregator) recentlyAlertedLocked(symbol string, now time.Time) bool {
	cutoff := now.Add(-a.config.DedupWindow)
	for _, existing := range a.history {
		if existing.Symbol == symbol && existing.Timestamp.After(cutoff) {
			return true
		}
	}
	return false
}

// normalizeLocked keeps history newest-first and within the cap.
func (a *Aggregator) normalizeLocked() {
	sort.SliceStable(a.history, func(i, j int) bool {
		return a.history[i].Timestamp.After(a.history[j].Timestamp)
	})
	if a.config.HistoryCap > 0 && len(a.history) > a.config.HistoryCap {
		a.history = a.history[:a.config.HistoryCap]
	}
}

// recordRunningUp writes the record on a background goroutine; failures are
// logged after the retry policy gives up.
func (a *Aggregator) recordRunningUp(ctx context.Context, alert models.Alert, s models.EnrichedSnapshot) {
	if a.records == nil {
		return
	}
	rec := models.RunningUpRecord{
		Symbol:    alert.Symbol,
		Price:     s.Price,
		Volume:    s.Volume,
		Timestamp: alert.Timestamp,
	}
	// Detached from the caller's cancellation; the retry policy bounds it.
	bg := context.WithoutCancel(ctx)
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		err := a.config.Retry.Do(bg, "insert running-up "+rec.Symbol, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, a.config.StoreTimeout)
			defer cancel()
			_, err := a.records.InsertRunningUp(ctx, rec)
			return err
		})
		if err != nil {
			logger.Error("Failed to record running-up alert: %v", err)
		}
	}()
}

// History returns a copy of the alert history, newest first.
func (a *Aggregator) History() []models.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Alert, len(a.history))
	copy(out, a.history)
	return out
}

// Dismiss removes one alert by id. It does not suppress future alerts for
// the symbol.
func (a *Aggregator) Dismiss(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, alert := range a.history {
		if alert.ID == id {
			a.history = append(a.history[:i], a.history[i+1:]...)
			return true
		}
	}
	return false
}

// Sweep drops alerts older than MaxAge and returns how many were removed.
func (a *Aggregator) Sweep() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-a.config.MaxAge)
	kept := a.history[:0]
	for _, alert := range a.history {
		if alert.Timestamp.After(cutoff) {
			kept = append(kept, alert)
		}
	}
	removed := len(a.history) - len(kept)
	a.history = kept
	return removed
}

// Run sweeps on SweepInterval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	interval := a.config.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Sweep(); n > 0 {
				logger.Debug("Swept %d expired alerts", n)
			}
		}
	}
}

// Muted reports the current mute flag.
func (a *Aggregator) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

// ToggleMute flips the mute flag, persists it best-effort, and returns the
// new value.
func (a *Aggregator) ToggleMute(ctx context.Context) bool {
	a.mu.Lock()
	a.muted = !a.muted
	muted := a.muted
	a.mu.Unlock()

	if a.settings != nil {
		err := a.config.Retry.Do(ctx, "persist mute setting", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, a.config.StoreTimeout)
			defer cancel()
			return a.settings.SetSetting(ctx, MuteSettingKey, strconv.FormatBool(muted))
		})
		if err != nil {
			logger.Warn("Failed to persist mute setting: %v", err)
		}
	}
	return muted
}

// Wait blocks until background record writes finish.
func (a *Aggregator) Wait() {
	a.pending.Wait()
}
