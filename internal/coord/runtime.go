// Package coord wires the coordination components into one runtime: registry,
// bus, distributor, tracker, and plan service share a policy, logger, and
// event sink, with optional snapshot persistence and cross-process exchange.
package coord

import (
	"context"
	"log"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/jaakkos/meshwork/internal/bus"
	"github.com/jaakkos/meshwork/internal/events"
	"github.com/jaakkos/meshwork/internal/exchange"
	"github.com/jaakkos/meshwork/internal/plansync"
	"github.com/jaakkos/meshwork/internal/policy"
	"github.com/jaakkos/meshwork/internal/progress"
	"github.com/jaakkos/meshwork/internal/registry"
	"github.com/jaakkos/meshwork/internal/repository"
	"github.com/jaakkos/meshwork/internal/work"
)

// Runtime is the assembled coordination stack for one node.
type Runtime struct {
	Policy      *policy.Policy
	Logger      *log.Logger
	Registry    *registry.Registry
	Bus         *bus.Bus
	Distributor *work.Distributor
	Tracker     *progress.Tracker
	Plans       *plansync.Service

	sink     events.Sink
	store    repository.SnapshotStore
	exchange *exchange.Exchanger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// Option configures the runtime.
type Option func(*runtimeConfig)

type runtimeConfig struct {
	sink        events.Sink
	store       repository.SnapshotStore
	exchangeDir string
}

// WithSink routes component events to s.
func WithSink(s events.Sink) Option {
	return func(c *runtimeConfig) { c.sink = s }
}

// WithStore persists plan snapshots and operation logs through store; stored
// plans are restored during construction.
func WithStore(store repository.SnapshotStore) Option {
	return func(c *runtimeConfig) { c.store = store }
}

// WithExchangeDir enables cross-process plan convergence through dir.
func WithExchangeDir(dir string) Option {
	return func(c *runtimeConfig) { c.exchangeDir = dir }
}

// New builds a runtime. A missing node id is generated and pinned into the
// policy so plan operations stay attributable across the process lifetime.
func New(pol *policy.Policy, logger *log.Logger, opts ...Option) (*Runtime, error) {
	cfg := runtimeConfig{sink: events.NopSink{}}
	for _, o := range opts {
		o(&cfg)
	}
	node := pol.NodeID()
	if node == "" {
		node = "node-" + uuid.NewString()
		pol.SetNodeID(node)
	}

	reg := registry.New(pol, logger, registry.WithSink(cfg.sink))
	b := bus.New(pol, reg, logger, bus.WithSink(cfg.sink))
	dist := work.New(pol, reg, logger, work.WithSink(cfg.sink), work.WithBus(b))
	tracker := progress.New(pol, logger, progress.WithSink(cfg.sink), progress.WithBus(b))
	plans := plansync.New(pol, logger, node, plansync.WithSink(cfg.sink))

	// Heartbeat responses piggyback pending counts from the bus and
	// distributor.
	reg.SetPendingProviders(b.PendingCount, dist.PendingFor)

	rt := &Runtime{
		Policy:      pol,
		Logger:      logger,
		Registry:    reg,
		Bus:         b,
		Distributor: dist,
		Tracker:     tracker,
		Plans:       plans,
		sink:        cfg.sink,
		store:       cfg.store,
	}
	if cfg.exchangeDir != "" {
		rt.exchange = exchange.New(cfg.exchangeDir, plans, logger)
	}
	if cfg.store != nil {
		if err := rt.restorePlans(); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func (rt *Runtime) restorePlans() error {
	ids, err := rt.store.ListPlans()
	if err != nil {
		return err
	}
	for _, id := range ids {
		snap, err := rt.store.LoadPlan(id)
		if err != nil {
			return err
		}
		if err := rt.Plans.Restore(snap); err != nil {
			return err
		}
		rt.Logger.Printf("plan %s restored from store", id)
		events.Emit(rt.sink, events.PlanRestored, map[string]any{"planId": id})
	}
	return nil
}

// Start launches the background loops: heartbeat monitor, message processing,
// and (when configured) the snapshot exchange.
func (rt *Runtime) Start(ctx context.Context) {
	rt.mu.Lock()
	if rt.started {
		rt.mu.Unlock()
		return
	}
	rt.started = true
	ctx, rt.cancel = context.WithCancel(ctx)
	rt.mu.Unlock()

	go rt.Registry.Start(ctx)
	go rt.Bus.Start(ctx)
	if rt.exchange != nil {
		go rt.exchange.Start(ctx)
	}
}

// Stop cancels the loops, flushes plan state, and closes the store.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	started := rt.started
	cancel := rt.cancel
	rt.started = false
	rt.mu.Unlock()

	if started {
		cancel()
		rt.Registry.Stop()
		rt.Bus.Stop()
		if rt.exchange != nil {
			rt.exchange.Stop()
		}
	}
	if err := rt.FlushState(); err != nil {
		rt.Logger.Printf("flush on stop failed: %v", err)
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.Logger.Printf("store close failed: %v", err)
		}
	}
}

// FlushState drains pending plan operations into the store, saves snapshots,
// and publishes them to the exchange. Call after plan mutations; Stop calls
// it as well.
func (rt *Runtime) FlushState() error {
	var firstErr error
	ops := rt.Plans.FlushOperations()
	if rt.store != nil {
		if err := rt.store.AppendOperations(ops); err != nil {
			firstErr = err
		}
		for _, id := range rt.Plans.Plans() {
			snap, err := rt.Plans.Snapshot(id)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if err := rt.store.SavePlan(snap); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if rt.exchange != nil {
		if err := rt.exchange.PublishAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	globalMu sync.Mutex
	global   *Runtime
)

// Global returns the process-wide runtime, constructing it on first use from
// the default config location.
func Global(logger *log.Logger) (*Runtime, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return global, nil
	}
	cfg, err := policy.Load(filepath.Join(policy.GlobalStateDir(), "config.yaml"))
	if err != nil {
		return nil, err
	}
	rt, err := New(policy.New(cfg), logger, WithSink(events.LogSink{Logger: logger}))
	if err != nil {
		return nil, err
	}
	global = rt
	return global, nil
}

// Reset stops and discards the global runtime. Tests use it to start clean.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		global.Stop()
		global = nil
	}
}
