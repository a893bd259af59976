package settings

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
)

const (
	// DefaultPollInterval is how often the watcher re-reads the source.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive fetch errors.
	maxBackoff = 5 * time.Minute

	// fetchTimeout bounds a single read of the source.
	fetchTimeout = 10 * time.Second
)

// ReloadResult describes what one reload did.
type ReloadResult int

const (
	ReloadUnchanged  ReloadResult = iota // document hash matches the active snapshot
	ReloadSwapped                        // new document parsed and swapped in
	ReloadFetchError                     // source could not be read
	ReloadParseError                     // document could not be decoded
)

func (r ReloadResult) String() string {
	switch r {
	case ReloadUnchanged:
		return "unchanged"
	case ReloadSwapped:
		return "swapped"
	case ReloadFetchError:
		return "fetch_error"
	case ReloadParseError:
		return "parse_error"
	}
	return fmt.Sprintf("ReloadResult(%d)", int(r))
}

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncSettingsPolls()
	IncSettingsSwaps()
	IncSettingsError(errType string)
	SetSettingsLastSuccess(unixSeconds float64)
	SetSettingsStale(stale bool)
	SetSettingsInfo(hash, source string)
}

// WatcherOptions configures the settings watcher.
type WatcherOptions struct {
	Logger       log.Logger
	Source       Source
	Manager      *Manager
	PollInterval time.Duration
	Metrics      WatcherMetrics

	// StaleThreshold is how long without a successful fetch before the
	// watcher reports itself stale. Zero defaults to 30 minutes.
	StaleThreshold time.Duration

	// OnSwap is called synchronously after a new snapshot is active.
	OnSwap func(*Snapshot)
}

// Watcher keeps the Manager in sync with the Source.
type Watcher struct {
	source   Source
	manager  *Manager
	logger   log.Logger
	interval time.Duration
	metrics  WatcherMetrics
	onSwap   func(*Snapshot)

	// reloads from the poll loop and the admin endpoint share one fetch
	group singleflight.Group

	mu              sync.Mutex
	currentHash     string
	consecutiveErrs int
	staleThreshold  time.Duration
	lastSuccessAt   time.Time
	staleLogged     bool
	pollCount       int64
	swapCount       int64
}

// NewWatcher creates a watcher. Call Reload once at startup, then Run.
func NewWatcher(opts *WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	stale := opts.StaleThreshold
	if stale <= 0 {
		stale = 30 * time.Minute
	}
	w := &Watcher{
		source:         opts.Source,
		manager:        opts.Manager,
		logger:         opts.Logger,
		interval:       interval,
		metrics:        opts.Metrics,
		onSwap:         opts.OnSwap,
		staleThreshold: stale,
		lastSuccessAt:  time.Now(),
	}
	if snap, ok := opts.Manager.Get(); ok {
		w.currentHash = snap.Hash
	}
	return w
}

// Reload fetches the source once and swaps the snapshot if it changed.
// Concurrent callers share a single fetch.
func (w *Watcher) Reload(ctx context.Context) (ReloadResult, error) {
	ch := w.group.DoChan("reload", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		res, err := w.reloadOnce(fctx)
		return res, err
	})
	select {
	case <-ctx.Done():
		return ReloadFetchError, ctx.Err()
	case r := <-ch:
		res, _ := r.Val.(ReloadResult)
		return res, r.Err
	}
}

func (w *Watcher) reloadOnce(ctx context.Context) (ReloadResult, error) {
	w.mu.Lock()
	w.pollCount++
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.IncSettingsPolls()
	}

	data, err := w.source.Fetch(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "settings: fetch failed", "source", w.source.String())
		if w.metrics != nil {
			w.metrics.IncSettingsError("fetch")
		}
		return ReloadFetchError, err
	}

	now := time.Now()
	hash := hashBytes(data)

	w.mu.Lock()
	w.lastSuccessAt = now
	unchanged := hash == w.currentHash
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.SetSettingsLastSuccess(float64(now.Unix()))
	}
	if unchanged {
		return ReloadUnchanged, nil
	}

	parsed, warnings, err := Parse(data)
	if err != nil {
		w.logger.Error(ctx, err, "settings: document rejected, keeping current settings",
			"source", w.source.String(),
			"rejected_hash", truncHash(hash),
		)
		if w.metrics != nil {
			w.metrics.IncSettingsError("parse")
		}
		return ReloadParseError, err
	}
	for _, msg := range warnings {
		w.logger.Warn(ctx, "settings: "+msg, "source", w.source.String())
	}

	snap := Snapshot{
		Settings: parsed,
		Hash:     hash,
		Source:   w.source.String(),
		LoadedAt: now.UTC(),
		Warnings: warnings,
	}
	w.manager.Set(snap)

	w.mu.Lock()
	oldHash := w.currentHash
	w.currentHash = hash
	w.swapCount++
	swaps := w.swapCount
	w.mu.Unlock()

	w.logger.Info(ctx, "settings: loaded",
		"source", snap.Source,
		"old_hash", truncHash(oldHash),
		"new_hash", truncHash(hash),
		"content_types", parsed.ContentTypes(),
		"warnings", len(warnings),
		"total_swaps", swaps,
	)
	if w.metrics != nil {
		w.metrics.IncSettingsSwaps()
		w.metrics.SetSettingsInfo(hash, snap.Source)
	}

	if w.onSwap != nil {
		active, _ := w.manager.Get()
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r),
						"settings: OnSwap callback panicked, continuing")
				}
			}()
			w.onSwap(active)
		}()
	}

	return ReloadSwapped, nil
}

// Run polls until ctx is cancelled. Intended to be launched as go w.Run(ctx).
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "settings watcher starting",
		"source", w.source.String(),
		"poll_interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			polls, swaps := w.pollCount, w.swapCount
			w.mu.Unlock()
			w.logger.Info(ctx, "settings watcher stopping",
				"reason", ctx.Err(),
				"polls", polls,
				"swaps", swaps,
			)
			return ctx.Err()
		case <-ticker.C:
			res, _ := w.Reload(ctx)
			if next, changed := w.afterPoll(ctx, res); changed {
				ticker.Reset(next)
			}
		}
	}
}

// afterPoll updates backoff and staleness state; it returns the next poll
// interval and whether the ticker needs resetting.
func (w *Watcher) afterPoll(ctx context.Context, res ReloadResult) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var next time.Duration
	reset := false

	if res == ReloadFetchError {
		w.consecutiveErrs++
		next = w.backoffDuration()
		reset = true
		w.logger.Warn(ctx, "settings watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", next.String(),
		)
		if since := time.Since(w.lastSuccessAt); since > w.staleThreshold && !w.staleLogged {
			w.logger.Error(ctx, fmt.Errorf("last successful settings fetch was %s ago", since.Truncate(time.Second)),
				"settings watcher: settings are stale")
			w.staleLogged = true
			if w.metrics != nil {
				w.metrics.SetSettingsStale(true)
			}
		}
		return next, reset
	}

	if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "settings watcher: recovered, resuming normal interval",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
		next = w.interval
		reset = true
	}
	if w.staleLogged {
		w.logger.Info(ctx, "settings watcher: staleness recovered")
		w.staleLogged = false
		if w.metrics != nil {
			w.metrics.SetSettingsStale(false)
		}
	}
	return next, reset
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, and so on. Caller holds mu.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}
