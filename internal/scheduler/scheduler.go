// Package scheduler implements the Indexing Scheduler (spec §4.3, §5): a
// per-indexing-function task pipeline that loads decoded events from the
// Sync Store in batches, dispatches them to a bounded worker pool under
// read/write dependency constraints, rewinds on reorg, and periodically
// flushes progress.
//
// Grounded on the teacher's internal/syncer.Syncer: processBatch's
// worker-split-by-range pattern generalizes into a bounded semaphore over a
// dynamic task queue, and runRealtime's poll ticker generalizes into the
// 120-second flush timer.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/internal/entitystore"
	"github.com/0xkanth/evmindex/internal/gateway"
	"github.com/0xkanth/evmindex/internal/retry"
	"github.com/0xkanth/evmindex/internal/rpc"
	"github.com/0xkanth/evmindex/internal/syncstore"
	"github.com/0xkanth/evmindex/pkg/contracts"
	"github.com/0xkanth/evmindex/pkg/models"
)

const (
	// maxBatchSize bounds the total number of tasks loaded across all
	// unfinished keys in a single load pass (spec §4.3).
	maxBatchSize = 10000
	// workerPoolSize is the concurrency bound on in-flight tasks (spec §5).
	workerPoolSize = 10
	// flushInterval is how often functionMetadata is persisted (spec §4.3).
	flushInterval = 120 * time.Second
	// getLogEventsPageLimit bounds one Sync Store getLogEvents call within
	// a key's per-pass budget.
	getLogEventsPageLimit = 1000
)

// Scheduler is the Indexing Scheduler.
type Scheduler struct {
	logger      zerolog.Logger
	store       syncstore.Store
	entityStore entitystore.Store
	gateway     *gateway.Gateway
	contracts   *contracts.Registry
	clients     map[uint64]*rpc.Client
	networks    map[uint64]string

	mu             sync.Mutex
	functionStates map[string]*functionState
	setupStates    map[string]*setupFunctionState
	isPaused       bool
	lastErr        error
	minState       checkpoint.Checkpoint

	loadingMutex *cancelableMutex

	sem chan struct{}
	wg  sync.WaitGroup

	flushStop chan struct{}
	flushDone chan struct{}

	snapshot *stateSnapshotStore

	eventsProcessedCh chan checkpoint.Checkpoint
	errCh             chan error
}

// New builds a Scheduler. snapshotPath may be empty to disable the bbolt
// function-state cache (tests, ephemeral runs).
func New(store syncstore.Store, entityStore entitystore.Store, gw *gateway.Gateway, registry *contracts.Registry, clients map[uint64]*rpc.Client, networks map[uint64]string, snapshotPath string, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		logger:            logger.With().Str("component", "scheduler").Logger(),
		store:             store,
		entityStore:       entityStore,
		gateway:           gw,
		contracts:         registry,
		clients:           clients,
		networks:          networks,
		functionStates:    make(map[string]*functionState),
		setupStates:       make(map[string]*setupFunctionState),
		loadingMutex:      newCancelableMutex(),
		sem:               make(chan struct{}, workerPoolSize),
		eventsProcessedCh: make(chan checkpoint.Checkpoint, 64),
		errCh:             make(chan error, 1),
	}
	if snapshotPath != "" {
		snap, err := newStateSnapshotStore(snapshotPath)
		if err != nil {
			return nil, err
		}
		s.snapshot = snap
	}
	return s, nil
}

// EventsProcessed is consumed by whatever publishes `{prefix}.progress`.
func (s *Scheduler) EventsProcessed() <-chan checkpoint.Checkpoint { return s.eventsProcessedCh }

// Errors is consumed by the top-level supervisor; a value here means the
// scheduler has halted per spec §4.3's terminal failure branch.
func (s *Scheduler) Errors() <-chan error { return s.errCh }

// Reset rebuilds per-function state: pauses the queue, drains in-flight
// work, cancels any pending load, then recomputes parents/isSelfDependent
// and seeds checkpoints from persisted functionMetadata (or zeroCheckpoint).
// It also (re)starts the 120s flush timer, per spec §4.3.
func (s *Scheduler) Reset(ctx context.Context, cfg ResetConfig) error {
	s.mu.Lock()
	s.isPaused = true
	s.mu.Unlock()

	s.loadingMutex.cancel()
	s.wg.Wait()
	s.stopFlush()

	persisted, err := s.store.ListFunctionMetadata(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: reset: list function metadata: %w", err)
	}
	persistedByKey := make(map[string]models.FunctionMetadata, len(persisted))
	for _, m := range persisted {
		persistedByKey[m.FunctionID] = m
	}

	parents, selfDependent := buildParents(cfg.Functions)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.functionStates = make(map[string]*functionState, len(cfg.Functions))
	for _, f := range cfg.Functions {
		seed := checkpoint.Zero()
		if m, ok := persistedByKey[f.Key]; ok {
			seed = functionMetadataToCheckpoint(m)
		}
		s.functionStates[f.Key] = &functionState{
			key:                        f.Key,
			contract:                   f.Contract,
			event:                      f.Event,
			abiEvent:                   f.ABIEvent,
			handler:                    f.Handler,
			logFilters:                 f.LogFilters,
			factories:                  f.Factories,
			readTables:                 toSet(f.ReadTables),
			writeTables:                toSet(f.WriteTables),
			parents:                    parents[f.Key],
			isSelfDependent:            selfDependent[f.Key],
			tasksProcessedToCheckpoint: seed,
			tasksLoadedFromCheckpoint:  seed,
			tasksLoadedToCheckpoint:    seed,
		}
	}

	s.setupStates = make(map[string]*setupFunctionState, len(cfg.Setups))
	for _, sp := range cfg.Setups {
		chains := make(map[uint64]SetupChain, len(sp.Chains))
		done := make(map[uint64]bool, len(sp.Chains))
		for _, c := range sp.Chains {
			chains[c.ChainID] = c
			if m, ok := persistedByKey[setupMetadataID(sp.Key, c.ChainID)]; ok && m.EventCount > 0 {
				done[c.ChainID] = true
			}
		}
		s.setupStates[sp.Key] = &setupFunctionState{
			key:      sp.Key,
			contract: sp.Contract,
			handler:  sp.Handler,
			chains:   chains,
			done:     done,
		}
	}

	s.isPaused = false
	s.lastErr = nil
	hasError.Set(0)
	s.minState = checkpoint.Zero()

	s.startFlush()
	s.dispatchSetupTasksLocked()
	s.dispatchAllLocked()

	return nil
}

// setupMetadataID is the functionMetadata row id a completed per-chain
// setup function flushes as its sentinel row.
func setupMetadataID(key string, chainID uint64) string {
	return fmt.Sprintf("%s:%d", key, chainID)
}

func functionMetadataToCheckpoint(m models.FunctionMetadata) checkpoint.Checkpoint {
	if m.ToCheckpointLog == nil {
		return checkpoint.EndOfBlock(m.ToCheckpointTS, m.ToCheckpointChain, m.ToCheckpointBlock)
	}
	return checkpoint.New(m.ToCheckpointTS, m.ToCheckpointChain, m.ToCheckpointBlock, *m.ToCheckpointLog)
}

func checkpointToFunctionMetadata(key, name string, c checkpoint.Checkpoint, eventCount uint64) models.FunctionMetadata {
	m := models.FunctionMetadata{
		FunctionID:        key,
		FunctionName:      name,
		ToCheckpointTS:    c.BlockTimestamp,
		ToCheckpointChain: c.ChainID,
		ToCheckpointBlock: c.BlockNumber,
		EventCount:        eventCount,
	}
	if c.LogIndex != nil {
		v := *c.LogIndex
		m.ToCheckpointLog = &v
	}
	return m
}

// Kill implements spec §5's cancellation semantics: pause, clear the
// worker queue, cancel the loading mutex, stop the flush timer, then
// perform one final flush.
func (s *Scheduler) Kill(ctx context.Context) error {
	s.mu.Lock()
	s.isPaused = true
	for _, fs := range s.functionStates {
		fs.loadedTasks = nil
	}
	s.mu.Unlock()

	s.loadingMutex.cancel()
	s.wg.Wait()
	s.stopFlush()

	return s.Flush(ctx)
}

// LastError returns the error that halted the scheduler, if any.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Status returns each function's last-flushed processed checkpoint from the
// bbolt snapshot, without a Sync Store round trip. Returns an empty map if
// snapshotting is disabled.
func (s *Scheduler) Status() (map[string]checkpoint.Checkpoint, error) {
	if s.snapshot == nil {
		return map[string]checkpoint.Checkpoint{}, nil
	}
	return s.snapshot.status()
}

// Close releases the bbolt snapshot store, if any.
func (s *Scheduler) Close() error {
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.close()
}

func (s *Scheduler) haltLocked(err error) {
	if s.isPaused {
		return
	}
	s.isPaused = true
	s.lastErr = err
	for _, fs := range s.functionStates {
		fs.loadedTasks = nil
	}
	hasError.Set(1)
	s.logger.Error().Err(err).Msg("scheduler halted on unrecoverable task error")
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Scheduler) invokeLog(ctx context.Context, key string, task Task) error {
	fs, ok := s.functionStatesSnapshot(key)
	if !ok {
		return retry.NonRetryable(fmt.Errorf("scheduler: unknown function key %q", key))
	}
	ictx := s.indexingContext(task.ChainID, task.Checkpoint)
	start := time.Now()
	err := fs.handler.Invoke(ctx, ictx, task.Event)
	taskDuration.WithLabelValues(key, "log").Observe(time.Since(start).Seconds())
	return err
}

func (s *Scheduler) invokeSetup(ctx context.Context, key string, task Task) error {
	s.mu.Lock()
	ss, ok := s.setupStates[key]
	s.mu.Unlock()
	if !ok {
		return retry.NonRetryable(fmt.Errorf("scheduler: unknown setup key %q", key))
	}
	ictx := s.indexingContext(task.ChainID, task.Checkpoint)
	start := time.Now()
	err := ss.handler.Invoke(ctx, ictx)
	taskDuration.WithLabelValues(key, "setup").Observe(time.Since(start).Seconds())
	return err
}

// functionStatesSnapshot reads the fields of a functionState needed to
// invoke its handler without holding s.mu across the call.
func (s *Scheduler) functionStatesSnapshot(key string) (*functionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.functionStates[key]
	return fs, ok
}

func (s *Scheduler) indexingContext(chainID uint64, at checkpoint.Checkpoint) IndexingContext {
	var client *rpc.Client
	if s.clients != nil {
		client = s.clients[chainID]
	}
	name := s.networks[chainID]
	if name == "" {
		// A chain missing from the networks map passed to New is
		// reported as "mainnet".
		name = "mainnet"
	}
	return IndexingContext{
		ChainID:     chainID,
		NetworkName: name,
		Checkpoint:  at,
		Client:      client,
		DB:          s.entityStore,
		Contracts:   s.contracts,
	}
}
