// Package watcher polls a working tree and re-runs a sync once edits settle.
package watcher

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	ckerrors "squint/internal/errors"
)

// Minimum and maximum poll intervals
const (
	MinPollInterval = 500 * time.Millisecond
	MaxPollInterval = 5 * time.Minute
)

// Config tunes polling
type Config struct {
	PollInterval time.Duration `json:"pollInterval"`
	// Debounce is how long the pending change set must stay the same
	// before the handler runs
	Debounce time.Duration `json:"debounce"`
}

// DefaultConfig returns the default watch configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		Debounce:     time.Second,
	}
}

// clamp bounds the poll interval
func (c Config) clamp() Config {
	if c.PollInterval < MinPollInterval {
		c.PollInterval = MinPollInterval
	}
	if c.PollInterval > MaxPollInterval {
		c.PollInterval = MaxPollInterval
	}
	if c.Debounce < 0 {
		c.Debounce = 0
	}
	return c
}

// Probe lists the pending changes, one key per changed file. An empty list
// means the tree matches the index.
type Probe func() ([]string, error)

// Handler applies the pending changes
type Handler func(ctx context.Context) error

// Watcher drives a probe and handler loop
type Watcher struct {
	config  Config
	probe   Probe
	handler Handler
	logger  *slog.Logger
	runs    int
}

// New creates a watcher. The poll interval is clamped to
// [MinPollInterval, MaxPollInterval].
func New(config Config, probe Probe, handler Handler, logger *slog.Logger) *Watcher {
	return &Watcher{
		config:  config.clamp(),
		probe:   probe,
		handler: handler,
		logger:  logger,
	}
}

// Runs returns how many times the handler completed
func (w *Watcher) Runs() int {
	return w.runs
}

// Run polls until ctx is done and returns nil on cancellation. The handler
// runs on the polling goroutine, so runs never overlap. Probe errors and
// retryable handler errors are logged and watching continues; any other
// handler error stops the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()
	debouncer := NewDebouncer(w.config.Debounce)
	defer debouncer.Cancel()

	ready := make(chan struct{}, 1)
	settle := func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	w.logger.Info("Watching for changes", "interval", w.config.PollInterval, "debounce", w.config.Debounce)
	var last string
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			keys, err := w.probe()
			if err != nil {
				w.logger.Warn("Change probe failed", "error", err.Error())
				continue
			}
			sort.Strings(keys)
			sig := strings.Join(keys, "\n")
			if sig == last {
				continue
			}
			last = sig
			if sig == "" {
				debouncer.Cancel()
				continue
			}
			w.logger.Debug("Changes pending", "files", len(keys))
			debouncer.Trigger(settle)

		case <-ready:
			if err := w.handler(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if !ckerrors.IsRetryable(err) {
					return err
				}
				w.logger.Warn("Sync deferred", "error", err.Error())
				// forget the change set so the next poll triggers again
				last = ""
				continue
			}
			w.runs++
		}
	}
}
