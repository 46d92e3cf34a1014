// Package exchange converges plans across processes through a shared
// directory. Each node publishes its snapshots as <planID>.<nodeID>.json and
// watches the directory; foreign-node files are loaded and merged through the
// plan service. fsnotify drives reaction, with a poll fallback when the
// watcher cannot start.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jaakkos/meshwork/internal/plansync"
)

const (
	defaultDebounceMs   = 200
	defaultPollInterval = 10 * time.Second
)

// Exchanger publishes local snapshots and absorbs foreign ones.
type Exchanger struct {
	dir          string
	svc          *plansync.Service
	logger       *log.Logger
	debounceMs   int
	pollInterval time.Duration

	mu            sync.Mutex
	lastPublished map[string]string // planID -> version+clock key
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
	started       bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	syncMu        sync.Mutex // serializes SyncOnce against the debounce timer
}

// Option configures the exchanger.
type Option func(*Exchanger)

// WithPollInterval sets the fallback poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Exchanger) { e.pollInterval = d }
}

// New returns an Exchanger over dir for the given plan service.
func New(dir string, svc *plansync.Service, logger *log.Logger, opts ...Option) *Exchanger {
	e := &Exchanger{
		dir:           dir,
		svc:           svc,
		logger:        logger,
		debounceMs:    defaultDebounceMs,
		pollInterval:  defaultPollInterval,
		lastPublished: make(map[string]string),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start watches the exchange directory until ctx is cancelled. Falls back to
// poll-only mode when fsnotify cannot initialize.
func (e *Exchanger) Start(ctx context.Context) {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	defer close(e.doneCh)

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		e.logger.Printf("exchange: mkdir %s failed: %v", e.dir, err)
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		e.logger.Printf("exchange: fsnotify init failed (%v), using poll-only", err)
	} else if err := watcher.Add(e.dir); err != nil {
		e.logger.Printf("exchange: fsnotify add %s failed (%v), using poll-only", e.dir, err)
		_ = watcher.Close()
	} else {
		e.watcher = watcher
		e.useFsnotify = true
	}

	if e.useFsnotify {
		defer e.watcher.Close()
		go e.watchLoop(ctx)
	}

	e.pollLoop(ctx)
}

// Stop signals the exchanger to stop. Call after cancelling Start's context.
// Safe to call more than once.
func (e *Exchanger) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	e.mu.Lock()
	started := e.started
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	e.mu.Unlock()
	if started {
		<-e.doneCh
	}
}

func (e *Exchanger) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, node, ok := parseSnapshotName(filepath.Base(event.Name)); !ok || node == e.svc.Node() {
				continue
			}
			e.triggerDebounced()
		case _, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (e *Exchanger) triggerDebounced() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	e.debounceTimer = time.AfterFunc(time.Duration(e.debounceMs)*time.Millisecond, func() {
		if err := e.SyncOnce(); err != nil {
			e.logger.Printf("exchange: sync failed: %v", err)
		}
	})
}

func (e *Exchanger) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.SyncOnce(); err != nil {
				e.logger.Printf("exchange: sync failed: %v", err)
			}
		}
	}
}

// SyncOnce absorbs every foreign snapshot file, then publishes every local
// plan whose state changed since the last publish. Safe to call directly in
// tests for deterministic convergence.
func (e *Exchanger) SyncOnce() error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read exchange dir: %w", err)
	}
	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		_, node, ok := parseSnapshotName(entry.Name())
		if !ok || node == e.svc.Node() {
			continue
		}
		if err := e.absorbFile(filepath.Join(e.dir, entry.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.PublishAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (e *Exchanger) absorbFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var snap plansync.PlanSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A concurrent writer may leave a torn file briefly; skip and let the
		// next sync pick it up.
		e.logger.Printf("exchange: skipping unreadable %s: %v", filepath.Base(path), err)
		return nil
	}
	return e.svc.ApplySnapshot(&snap)
}

// PublishPlan writes the plan's snapshot file when its state changed since
// the last publish. The write is atomic (temp file + rename) so watchers
// never see a torn snapshot.
func (e *Exchanger) PublishPlan(planID string) error {
	snap, err := e.svc.Snapshot(planID)
	if err != nil {
		return err
	}
	key := publishKey(snap)
	e.mu.Lock()
	if e.lastPublished[planID] == key {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", planID, err)
	}
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return fmt.Errorf("create exchange dir: %w", err)
	}
	final := filepath.Join(e.dir, snapshotName(planID, e.svc.Node()))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", planID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish snapshot %s: %w", planID, err)
	}
	e.mu.Lock()
	e.lastPublished[planID] = key
	e.mu.Unlock()
	return nil
}

// PublishAll publishes every local plan.
func (e *Exchanger) PublishAll() error {
	var firstErr error
	for _, planID := range e.svc.Plans() {
		if err := e.PublishPlan(planID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// publishKey identifies a snapshot's causal state; republishing the same
// state is skipped to keep watchers on other nodes from ping-ponging.
func publishKey(snap *plansync.PlanSnapshot) string {
	clock, _ := json.Marshal(snap.VectorClock)
	return fmt.Sprintf("%d|%s", snap.Version, clock)
}

func snapshotName(planID, node string) string {
	return planID + "." + node + ".json"
}

// parseSnapshotName splits "<planID>.<node>.json" into its parts.
func parseSnapshotName(name string) (planID, node string, ok bool) {
	base := strings.TrimSuffix(name, ".json")
	if base == name {
		return "", "", false
	}
	i := strings.LastIndex(base, ".")
	if i <= 0 || i == len(base)-1 {
		return "", "", false
	}
	return base[:i], base[i+1:], true
}
