// Package orchestrator wires one complete runtime — storage pools,
// mapper, batch loggers, scheduler, observer bus, registries and archiver
// — from a single config.RuntimeConfig (the transport bridges are wired
// by cmd/statekeepd, not here),
// replacing the global-singleton wiring spec.md §9 flags against
// ("single RuntimeContext-equivalent instead of global singletons").
// Grounded on the teacher's pkg/runtime.Runtime — a single struct owning
// every component's lifecycle (Deploy/Start/Stop/Status) — generalized
// from its actor-model bus/reactor/worker components onto this domain's
// registry/scheduler/storage/batchlog stack. Named orchestrator rather
// than runtime to avoid colliding with the teacher's own (unrelated,
// unwired) pkg/runtime actor-model package.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quadgate/statekeep/pkg/archival"
	"github.com/quadgate/statekeep/pkg/batchlog"
	"github.com/quadgate/statekeep/pkg/config"
	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/fsm"
	"github.com/quadgate/statekeep/pkg/graph"
	"github.com/quadgate/statekeep/pkg/observerbus"
	"github.com/quadgate/statekeep/pkg/playback"
	"github.com/quadgate/statekeep/pkg/registry"
	"github.com/quadgate/statekeep/pkg/scheduler"
	"github.com/quadgate/statekeep/pkg/startup"
	"github.com/quadgate/statekeep/pkg/storage"
)

const (
	stateIdle uint32 = iota
	stateStarted
	stateStopped
)

// MachineConfig is one machine type's wiring: its fsm.Definition, entity
// type name, and table/column names for archival and the graph mapper.
type MachineConfig struct {
	MachineType string
	Definition  *fsm.Definition
	EntityType  string
	Table       string
	PKColumn    string
	FinalStates []string

	// EntityFromRow rebuilds the domain entity (e.g. *callfsm.Call) from
	// the raw column map graph.Mapper.LoadGraph returns, for rehydration.
	// Without it a rehydrated machine's entity is the column map itself,
	// which the registered graph.Mapper extractor does not know how to
	// read back (it expects the domain type), so the persisted row stalls
	// on whatever the row held at eviction time (spec.md §3.2 #4).
	EntityFromRow func(row map[string]interface{}) interface{}
}

// Orchestrator owns every live component of one deployment.
type Orchestrator struct {
	cfg    *config.RuntimeConfig
	logger corelog.Logger

	active   *storage.Pool
	history  *storage.Pool
	mapper   *graph.Mapper
	bus      *observerbus.Bus
	sched    *scheduler.Scheduler
	archiver *archival.Archiver

	transitionLog *batchlog.Logger[fsm.TransitionRecord]
	registryLog   *batchlog.Logger[storage.RegistryEventRow]

	mu         sync.RWMutex
	registries map[string]*registry.Registry
	machines   map[string]MachineConfig

	playbackMu    sync.Mutex
	playbackRings map[string]*playback.Ring

	state uint32
	stop  chan struct{}
}

// New constructs an Orchestrator from cfg. It opens the active/history
// pools and replicates the transition-log schema but does not yet start
// the scheduler, batch loggers, or registries — call Start for that.
func New(cfg *config.RuntimeConfig, mapper *graph.Mapper, logger corelog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = corelog.NewDefault()
	}
	if err := cfg.Validate(nil); err != nil {
		return nil, fmt.Errorf("invalid runtime config: %w", err)
	}

	active, err := storage.NewPool(storage.DefaultPoolConfig(cfg.ActiveDSN, cfg.ActiveDriver), logger)
	if err != nil {
		return nil, fmt.Errorf("open active pool: %w", err)
	}
	history, err := storage.NewPool(storage.DefaultPoolConfig(cfg.HistoryDSN, cfg.HistoryDriver), logger)
	if err != nil {
		return nil, fmt.Errorf("open history pool: %w", err)
	}

	if err := active.ReplicateSchema(context.Background(), storage.CreateTransitionLogDDL()); err != nil {
		return nil, fmt.Errorf("replicate active transition log schema: %w", err)
	}
	if err := history.ReplicateSchema(context.Background(), storage.CreateTransitionLogDDL()); err != nil {
		return nil, fmt.Errorf("replicate history transition log schema: %w", err)
	}

	o := &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		active:     active,
		history:    history,
		mapper:     mapper,
		bus:        observerbus.New(256, logger),
		registries:    make(map[string]*registry.Registry),
		machines:      make(map[string]MachineConfig),
		playbackRings: make(map[string]*playback.Ring),
		stop:          make(chan struct{}),
	}

	transitionStore := storage.NewTransitionStore(active)
	o.transitionLog = batchlog.New("transition-log", batchlog.Config{
		BatchSize:     cfg.HistoryBatchSize,
		FlushInterval: time.Duration(cfg.HistoryFlushIntervalMs) * time.Millisecond,
	}, transitionStore.InsertBatch, logger)

	o.registryLog = batchlog.New("registry-log", batchlog.Config{
		BatchSize:     cfg.RegistryBatchSize,
		FlushInterval: time.Duration(cfg.HistoryFlushIntervalMs) * time.Millisecond,
	}, transitionStore.InsertRegistryEvents, logger)

	o.sched = scheduler.New(o.fireTimeout, logger)

	o.archiver = archival.New(archival.Config{
		Active:        active,
		History:       history,
		Mapper:        mapper,
		RetentionDays: cfg.RetentionDays,
		Logger:        logger,
	})

	return o, nil
}

// RegisterMachine wires a machine type's definition into a new Registry,
// replicating its entity table schema into both pools.
func (o *Orchestrator) RegisterMachine(mc MachineConfig, ddl []string) error {
	if err := o.active.ReplicateSchema(context.Background(), ddl); err != nil {
		return fmt.Errorf("replicate %s schema (active): %w", mc.MachineType, err)
	}
	if err := o.history.ReplicateSchema(context.Background(), ddl); err != nil {
		return fmt.Errorf("replicate %s schema (history): %w", mc.MachineType, err)
	}

	reg := registry.New(registry.Config{
		RegistryID:       o.cfg.RegistryID + "-" + mc.MachineType,
		Definition:       mc.Definition,
		Loader:           o.loaderFor(mc),
		Persister:        o.persisterFor(mc),
		LogHistory:       o.logHistory,
		RecordPlayback:   o.recordPlayback,
		LogRegistryEvent: o.logRegistryEvent,
		Bus:              o.bus,
		Scheduler:        o.sched,
		AutoEvictTTL:     time.Duration(o.cfg.AutoEvictTTLMs) * time.Millisecond,
	})

	o.mu.Lock()
	o.registries[mc.MachineType] = reg
	o.machines[mc.MachineType] = mc
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) loaderFor(mc MachineConfig) registry.Loader {
	return func(ctx context.Context, id string) (*fsm.RestoreState, bool, error) {
		row, err := o.mapper.LoadGraph(ctx, o.active, mc.EntityType, id)
		if err != nil {
			return nil, false, nil
		}
		state, _ := row["current_state"].(string)
		if state == "" {
			return nil, false, nil
		}
		var entity interface{} = row
		if mc.EntityFromRow != nil {
			entity = mc.EntityFromRow(row)
		}
		return &fsm.RestoreState{
			State:           fsm.StateName(state),
			Entity:          entity,
			LastStateChange: time.Now(),
		}, true, nil
	}
}

func (o *Orchestrator) persisterFor(mc MachineConfig) registry.Persister {
	return func(ctx context.Context, m *fsm.Machine) error {
		snapshot := graph.Snapshot{Entity: m.Entity(), State: string(m.CurrentState())}
		return o.mapper.PersistGraph(ctx, o.active, graph.Graph{
			MachineID: m.ID(),
			Root:      graph.Node{EntityType: mc.EntityType, Entity: snapshot},
		})
	}
}

func (o *Orchestrator) logHistory(ctx context.Context, rec fsm.TransitionRecord) {
	if err := o.transitionLog.Enqueue(rec); err != nil {
		o.logger.Warnf("orchestrator: transition log backpressure for %s: %v", rec.MachineID, err)
	}
}

// recordPlayback appends rec to its machine's bounded playback ring (C6),
// creating the ring on first use. A no-op when playback is disabled.
func (o *Orchestrator) recordPlayback(ctx context.Context, rec fsm.TransitionRecord) {
	if !o.cfg.PlaybackEnabled {
		return
	}
	o.playbackRingFor(rec.MachineID).Record(rec)
}

func (o *Orchestrator) playbackRingFor(machineID string) *playback.Ring {
	o.playbackMu.Lock()
	defer o.playbackMu.Unlock()
	ring, ok := o.playbackRings[machineID]
	if !ok {
		ring = playback.NewRing(o.cfg.PlaybackMaxSize)
		o.playbackRings[machineID] = ring
	}
	return ring
}

// Playback returns the bounded playback ring for machineID, if playback
// is enabled and the machine has recorded at least one transition.
func (o *Orchestrator) Playback(machineID string) (*playback.Ring, bool) {
	if !o.cfg.PlaybackEnabled {
		return nil, false
	}
	o.playbackMu.Lock()
	defer o.playbackMu.Unlock()
	ring, ok := o.playbackRings[machineID]
	return ring, ok
}

// logRegistryEvent feeds a machine lifecycle event into the registry
// event batch logger (C4), alongside the observer-bus publish the
// registry already does for the same event (spec.md §3.1).
func (o *Orchestrator) logRegistryEvent(ctx context.Context, evt registry.RegistryEvent) {
	if err := o.registryLog.Enqueue(storage.RegistryEventRow{
		MachineID: evt.MachineID,
		EventType: evt.EventType,
		Reason:    evt.Reason,
		Timestamp: evt.Timestamp.UnixMilli(),
	}); err != nil {
		o.logger.Warnf("orchestrator: registry event log backpressure for %s: %v", evt.MachineID, err)
	}
}

func (o *Orchestrator) fireTimeout(machineID string, evt fsm.Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, reg := range o.registries {
		if m, ok := reg.Get(machineID); ok {
			m.Enqueue(evt)
			return
		}
	}
}

// Registry returns the live registry for a machine type.
func (o *Orchestrator) Registry(machineType string) (*registry.Registry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.registries[machineType]
	return r, ok
}

// Start runs every background component: the scheduler loop, both batch
// loggers, and every registered registry's idle sweep.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&o.state, stateIdle, stateStarted) {
		return fmt.Errorf("orchestrator already started")
	}
	go o.sched.Run()
	go o.transitionLog.Run(ctx)
	go o.registryLog.Run(ctx)

	o.mu.RLock()
	for _, reg := range o.registries {
		go reg.Run(ctx)
	}
	o.mu.RUnlock()

	if err := o.scanAndArchiveFinals(ctx); err != nil {
		o.logger.Errorf("orchestrator: startup archival scan failed: %v", err)
	}
	return nil
}

func (o *Orchestrator) scanAndArchiveFinals(ctx context.Context) error {
	o.mu.RLock()
	machines := make([]MachineConfig, 0, len(o.machines))
	for _, mc := range o.machines {
		machines = append(machines, mc)
	}
	o.mu.RUnlock()

	for _, mc := range machines {
		if len(mc.FinalStates) == 0 {
			continue
		}
		archiver := archival.New(archival.Config{
			Active:        o.active,
			History:       o.history,
			Mapper:        o.mapper,
			FinalStates:   mc.FinalStates,
			RetentionDays: o.cfg.RetentionDays,
			Logger:        o.logger,
		})
		moved, err := archiver.ScanAndArchiveFinals(ctx, mc.EntityType, mc.Table, mc.PKColumn)
		if err != nil {
			return fmt.Errorf("scan and archive finals for %s: %w", mc.MachineType, err)
		}
		if moved > 0 {
			o.logger.Infof("orchestrator: archived %d already-final %s machines on startup", moved, mc.MachineType)
		}
	}
	return nil
}

// Stop halts every background component and closes the storage pools.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&o.state, stateStarted, stateStopped) {
		return fmt.Errorf("orchestrator not started")
	}
	o.sched.Stop()
	o.transitionLog.Stop()
	o.registryLog.Stop()

	o.mu.RLock()
	for _, reg := range o.registries {
		reg.Stop()
	}
	o.mu.RUnlock()

	o.active.Close()
	o.history.Close()
	return nil
}

// Bus returns the process-wide observer bus, for wiring wsbridge.
func (o *Orchestrator) Bus() *observerbus.Bus { return o.bus }

// Probe runs the startup reachability/schema-shape gate (spec.md §6) over
// every pool and table this Orchestrator owns, for a CLI wrapper to turn
// into an exit code before Start begins accepting events.
func (o *Orchestrator) Probe(ctx context.Context) startup.Result {
	o.mu.RLock()
	tables := []string{storage.TransitionLogTable, storage.RegistryEventTable}
	for _, mc := range o.machines {
		tables = append(tables, mc.Table)
	}
	o.mu.RUnlock()
	return startup.Check(ctx, o.active, o.history, tables)
}
