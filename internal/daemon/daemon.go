// Package daemon drives watch mode: it observes the data directory for
// new conversation exports, debounces bursts of file events into single
// sync passes and runs a jittered periodic resync in between.
package daemon

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/convoflow/convosync/internal/httpapi"
	"github.com/convoflow/convosync/internal/syncer"
)

// RunFunc executes one sync pass and reports its summary.
type RunFunc func(ctx context.Context) (syncer.RunSummary, error)

type Config struct {
	DataDir        string
	Interval       time.Duration // periodic full resync, default 5m
	IntervalJitter float64       // spread ratio 0..1, default 0.2
	Debounce       time.Duration // quiet window after file events, default 2s
	Status         *httpapi.Server
	Logger         zerolog.Logger
}

// Daemon serializes sync passes: startup, debounced file changes and the
// periodic interval all funnel through one loop, so a pass never runs
// concurrently with itself.
type Daemon struct {
	cfg     Config
	run     RunFunc
	watcher *fsnotify.Watcher
	trigger chan struct{}
	rng     *rand.Rand

	pendingMu sync.Mutex
	pending   map[string]struct{}

	wg sync.WaitGroup
}

func New(run RunFunc, cfg Config) (*Daemon, error) {
	if run == nil {
		return nil, fmt.Errorf("run function is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.IntervalJitter <= 0 {
		cfg.IntervalJitter = 0.2
	}
	cfg.IntervalJitter = clampJitterRatio(cfg.IntervalJitter)
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Daemon{
		cfg:     cfg,
		run:     run,
		watcher: watcher,
		trigger: make(chan struct{}, 1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		pending: map[string]struct{}{},
	}, nil
}

// Run blocks until ctx is cancelled. It syncs once at startup, then on
// every debounced burst of data-directory changes and on each interval
// tick.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.watcher.Add(d.cfg.DataDir); err != nil {
		_ = d.watcher.Close()
		return fmt.Errorf("watch %s: %w", d.cfg.DataDir, err)
	}
	d.cfg.Logger.Info().
		Str("dir", d.cfg.DataDir).
		Dur("interval", d.cfg.Interval).
		Dur("debounce", d.cfg.Debounce).
		Msg("watching for conversation exports")

	d.wg.Add(1)
	go d.watchFileEvents(ctx)

	d.runOnce(ctx, "startup")

	interval := time.NewTimer(d.nextInterval())
	defer interval.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	resetTimer := func(t *time.Timer, delay time.Duration) {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(delay)
	}

	for {
		select {
		case <-ctx.Done():
			_ = d.watcher.Close()
			d.wg.Wait()
			d.cfg.Logger.Info().Msg("watch daemon stopped")
			return nil

		case <-d.trigger:
			if debounce == nil {
				debounce = time.NewTimer(d.cfg.Debounce)
				debounceC = debounce.C
			} else {
				resetTimer(debounce, d.cfg.Debounce)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			changed := d.takePending()
			d.cfg.Logger.Info().Strs("files", changed).Msg("data directory changed")
			if d.cfg.Status != nil {
				d.cfg.Status.Broadcast(httpapi.NewEvent(httpapi.EventFilesChanged, map[string]any{"files": changed}))
			}
			d.runOnce(ctx, "files_changed")
			resetTimer(interval, d.nextInterval())

		case <-interval.C:
			d.runOnce(ctx, "interval")
			interval.Reset(d.nextInterval())
		}
	}
}

func (d *Daemon) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	logger := d.cfg.Logger.With().Str("reason", reason).Logger()
	if d.cfg.Status != nil {
		d.cfg.Status.Broadcast(httpapi.NewEvent(httpapi.EventRunStarted, map[string]any{"reason": reason}))
	}
	started := time.Now()
	sum, err := d.run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("sync pass failed")
		return
	}
	if d.cfg.Status != nil {
		d.cfg.Status.ObserveRun(sum)
	}
	logger.Info().
		Int("created", sum.Created).
		Int("updated", sum.Updated).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Dur("took", time.Since(started)).
		Msg("sync pass finished")
}

func (d *Daemon) watchFileEvents(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !watchable(event) {
				continue
			}
			d.cfg.Logger.Debug().Str("op", event.Op.String()).Str("file", event.Name).Msg("file event")
			d.addPending(event.Name)
			select {
			case d.trigger <- struct{}{}:
			default:
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.cfg.Logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// watchable keeps visible JSON documents only; the state file and editor
// temp files live as dotfiles in the same directory.
func watchable(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return filepath.Ext(name) == ".json"
}

func (d *Daemon) addPending(path string) {
	d.pendingMu.Lock()
	d.pending[filepath.Base(path)] = struct{}{}
	d.pendingMu.Unlock()
}

func (d *Daemon) takePending() []string {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	files := make([]string, 0, len(d.pending))
	for name := range d.pending {
		files = append(files, name)
	}
	d.pending = map[string]struct{}{}
	sort.Strings(files)
	return files
}

func (d *Daemon) nextInterval() time.Duration {
	return jitteredIntervalWithSample(d.cfg.Interval, d.cfg.IntervalJitter, d.rng.Float64())
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
