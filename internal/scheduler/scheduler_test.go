package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/internal/entitystore"
	"github.com/0xkanth/evmindex/pkg/models"
)

// fakeEntityStore is a minimal entitystore.Store recording Revert calls.
type fakeEntityStore struct {
	mu      sync.Mutex
	reverts []checkpoint.Checkpoint
}

func (f *fakeEntityStore) FindUnique(ctx context.Context, entityType, id string) (entitystore.Entity, bool, error) {
	return entitystore.Entity{}, false, nil
}
func (f *fakeEntityStore) FindMany(ctx context.Context, entityType string, ids []string) ([]entitystore.Entity, error) {
	return nil, nil
}
func (f *fakeEntityStore) Create(ctx context.Context, e entitystore.Entity, at checkpoint.Checkpoint) error {
	return nil
}
func (f *fakeEntityStore) Update(ctx context.Context, e entitystore.Entity, at checkpoint.Checkpoint) error {
	return nil
}
func (f *fakeEntityStore) Upsert(ctx context.Context, e entitystore.Entity, at checkpoint.Checkpoint) error {
	return nil
}
func (f *fakeEntityStore) Delete(ctx context.Context, entityType, id string, at checkpoint.Checkpoint) error {
	return nil
}
func (f *fakeEntityStore) CreateMany(ctx context.Context, es []entitystore.Entity, at checkpoint.Checkpoint) error {
	return nil
}
func (f *fakeEntityStore) UpdateMany(ctx context.Context, es []entitystore.Entity, at checkpoint.Checkpoint) error {
	return nil
}
func (f *fakeEntityStore) UpsertMany(ctx context.Context, es []entitystore.Entity, at checkpoint.Checkpoint) error {
	return nil
}
func (f *fakeEntityStore) DeleteMany(ctx context.Context, entityType string, ids []string, at checkpoint.Checkpoint) error {
	return nil
}
func (f *fakeEntityStore) Revert(ctx context.Context, at checkpoint.Checkpoint) error {
	f.mu.Lock()
	f.reverts = append(f.reverts, at)
	f.mu.Unlock()
	return nil
}
func (f *fakeEntityStore) Close() error { return nil }

func (f *fakeEntityStore) revertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reverts)
}

// blockingHandler blocks every Invoke until release is closed, so a test can
// observe dispatch decisions made while a task is still in flight.
type blockingHandler struct {
	release chan struct{}
	calls   int32
}

func (h *blockingHandler) Invoke(ctx context.Context, ictx IndexingContext, ev models.DecodedEvent) error {
	atomic.AddInt32(&h.calls, 1)
	<-h.release
	return nil
}

// flakyHandler fails its first N calls, then succeeds.
type flakyHandler struct {
	failures int32
	calls    int32
}

func (h *flakyHandler) Invoke(ctx context.Context, ictx IndexingContext, ev models.DecodedEvent) error {
	n := atomic.AddInt32(&h.calls, 1)
	if n <= h.failures {
		return errFlaky
	}
	return nil
}

var errFlaky = errors.New("flaky")

func newTestScheduler(entityStore entitystore.Store) *Scheduler {
	return &Scheduler{
		logger:            zerolog.Nop(),
		entityStore:       entityStore,
		functionStates:    make(map[string]*functionState),
		setupStates:       make(map[string]*setupFunctionState),
		loadingMutex:      newCancelableMutex(),
		sem:               make(chan struct{}, workerPoolSize),
		eventsProcessedCh: make(chan checkpoint.Checkpoint, 64),
		errCh:             make(chan error, 1),
	}
}

func slotAt(key string, chainID uint64, cp checkpoint.Checkpoint) *taskSlot {
	return &taskSlot{task: Task{Kind: TaskKindLog, FunctionKey: key, ChainID: chainID, Checkpoint: cp}}
}

// --- buildParents -----------------------------------------------------

func TestBuildParentsNoSharedTables(t *testing.T) {
	funcs := []FunctionSpec{
		{Key: "A:Event1", ReadTables: []string{"x"}, WriteTables: []string{"y"}},
		{Key: "B:Event2", ReadTables: []string{"z"}, WriteTables: []string{"w"}},
	}
	parents, selfDep := buildParents(funcs)
	require.Empty(t, parents["A:Event1"])
	require.Empty(t, parents["B:Event2"])
	require.False(t, selfDep["A:Event1"])
	require.False(t, selfDep["B:Event2"])
}

func TestBuildParentsSelfDependent(t *testing.T) {
	funcs := []FunctionSpec{
		{Key: "A:Event1", ReadTables: []string{"positions"}, WriteTables: []string{"positions"}},
	}
	_, selfDep := buildParents(funcs)
	require.True(t, selfDep["A:Event1"])
}

// Scenario 6 setup: B reads a table A writes, neither self-dependent, so B
// depends on A.
func TestBuildParentsCrossFunctionDependency(t *testing.T) {
	funcs := []FunctionSpec{
		{Key: "A:Event1", ReadTables: nil, WriteTables: []string{"orders"}},
		{Key: "B:Event2", ReadTables: []string{"orders"}, WriteTables: []string{"fills"}},
	}
	parents, selfDep := buildParents(funcs)
	require.Equal(t, []string{"A:Event1"}, parents["B:Event2"])
	require.Empty(t, parents["A:Event1"])
	require.False(t, selfDep["A:Event1"])
	require.False(t, selfDep["B:Event2"])
}

func TestBuildParentsExcludesSelf(t *testing.T) {
	// A table A itself both reads and writes must not list A as its own parent.
	funcs := []FunctionSpec{
		{Key: "A:Event1", ReadTables: []string{"positions"}, WriteTables: []string{"positions"}},
		{Key: "B:Event2", ReadTables: []string{"positions"}, WriteTables: []string{"fills"}},
	}
	parents, _ := buildParents(funcs)
	require.Equal(t, []string{"A:Event1"}, parents["B:Event2"])
	require.NotContains(t, parents["A:Event1"], "A:Event1")
}

// --- calculateTaskBatchSize --------------------------------------------

func TestCalculateTaskBatchSize(t *testing.T) {
	require.Equal(t, 5000, calculateTaskBatchSize(2, 0))
	require.Equal(t, 3333, calculateTaskBatchSize(3, 0))
	require.Equal(t, 1, calculateTaskBatchSize(1, maxBatchSize))
	require.Equal(t, 1, calculateTaskBatchSize(1, maxBatchSize+500))
}

// --- dispatch cases ------------------------------------------------------

// Case 1: no parents, self-dependent — serial dispatch, one at a time.
func TestDispatchCase1SerialSelfDependent(t *testing.T) {
	es := &fakeEntityStore{}
	s := newTestScheduler(es)
	h := &blockingHandler{release: make(chan struct{})}

	fs := &functionState{key: "A:Event1", handler: h, isSelfDependent: true, writeTables: map[string]struct{}{"t": {}}}
	fs.loadedTasks = []*taskSlot{
		slotAt("A:Event1", 1, checkpoint.New(10, 1, 100, 0)),
		slotAt("A:Event1", 1, checkpoint.New(20, 1, 200, 0)),
	}
	fs.tasksLoadedFromCheckpoint = checkpoint.New(10, 1, 100, 0)
	s.functionStates["A:Event1"] = fs

	s.mu.Lock()
	s.dispatchKeyLocked("A:Event1")
	require.True(t, fs.loadedTasks[0].dispatched)
	require.False(t, fs.loadedTasks[1].dispatched)
	require.True(t, fs.inFlight)
	s.mu.Unlock()

	// Completing the first task dispatches the second in turn.
	close(h.release)
	s.wg.Wait()
	require.EqualValues(t, 2, atomic.LoadInt32(&h.calls))
}

// Case 2: no parents, not self-dependent — dispatch everything buffered.
func TestDispatchCase2ConcurrentNoParents(t *testing.T) {
	es := &fakeEntityStore{}
	s := newTestScheduler(es)
	h := &blockingHandler{release: make(chan struct{})}

	fs := &functionState{key: "A:Event1", handler: h, writeTables: map[string]struct{}{"t": {}}}
	fs.loadedTasks = []*taskSlot{
		slotAt("A:Event1", 1, checkpoint.New(10, 1, 100, 0)),
		slotAt("A:Event1", 1, checkpoint.New(20, 1, 200, 0)),
	}
	s.functionStates["A:Event1"] = fs

	s.mu.Lock()
	s.dispatchKeyLocked("A:Event1")
	require.True(t, fs.loadedTasks[0].dispatched)
	require.True(t, fs.loadedTasks[1].dispatched)
	s.mu.Unlock()

	close(h.release)
	s.wg.Wait()
	require.EqualValues(t, 2, atomic.LoadInt32(&h.calls))
}

// Case 4 (Scenario 6): B has a parent A and is not self-dependent. A has
// loaded from (50,1,500,0). B's buffered checkpoints are 30, 45, 60 — the
// contiguous prefix bounded by A's tasksLoadedFromCheckpoint is {30,45}; 60
// must be held back.
func TestDispatchCase4ContiguousPrefixBoundedByParent(t *testing.T) {
	es := &fakeEntityStore{}
	s := newTestScheduler(es)
	h := &blockingHandler{release: make(chan struct{})}
	close(h.release) // let dispatched tasks finish immediately

	a := &functionState{key: "A:Event1", writeTables: map[string]struct{}{"orders": {}}}
	a.tasksLoadedFromCheckpoint = checkpoint.New(50, 1, 500, 0)

	b := &functionState{
		key:         "B:Event2",
		handler:     h,
		readTables:  map[string]struct{}{"orders": {}},
		writeTables: map[string]struct{}{"fills": {}},
		parents:     []string{"A:Event1"},
	}
	b.loadedTasks = []*taskSlot{
		slotAt("B:Event2", 1, checkpoint.New(30, 1, 300, 0)),
		slotAt("B:Event2", 1, checkpoint.New(45, 1, 450, 0)),
		slotAt("B:Event2", 1, checkpoint.New(60, 1, 600, 0)),
	}
	s.functionStates["A:Event1"] = a
	s.functionStates["B:Event2"] = b

	s.mu.Lock()
	s.dispatchKeyLocked("B:Event2")
	require.True(t, b.loadedTasks[0].dispatched)
	require.True(t, b.loadedTasks[1].dispatched)
	require.False(t, b.loadedTasks[2].dispatched)
	s.mu.Unlock()

	s.wg.Wait()
}

// --- reorg (Scenario 5) --------------------------------------------------

func TestHandleReorgClampsCheckpointsAndRevertsOnce(t *testing.T) {
	es := &fakeEntityStore{}
	s := newTestScheduler(es)

	processed := checkpoint.New(100, 1, 1000, 5)
	mk := func(key string) *functionState {
		return &functionState{
			key:                        key,
			tasksProcessedToCheckpoint: processed,
			tasksLoadedFromCheckpoint:  processed,
			tasksLoadedToCheckpoint:    processed,
		}
	}
	s.functionStates["A:Event1"] = mk("A:Event1")
	s.functionStates["B:Event2"] = mk("B:Event2")

	safe := checkpoint.New(90, 1, 900, 0)
	require.NoError(t, s.handleReorgPass(context.Background(), safe))

	require.Equal(t, 1, es.revertCount())
	require.Equal(t, safe, es.reverts[0])
	for _, key := range []string{"A:Event1", "B:Event2"} {
		fs := s.functionStates[key]
		require.Equal(t, safe, fs.tasksProcessedToCheckpoint)
		require.Equal(t, safe, fs.tasksLoadedFromCheckpoint)
		require.Equal(t, safe, fs.tasksLoadedToCheckpoint)
	}
}

func TestHandleReorgNoopBelowSafeCheckpoint(t *testing.T) {
	es := &fakeEntityStore{}
	s := newTestScheduler(es)
	s.functionStates["A:Event1"] = &functionState{
		key:                        "A:Event1",
		tasksProcessedToCheckpoint: checkpoint.New(50, 1, 500, 0),
	}
	safe := checkpoint.New(90, 1, 900, 0)
	require.NoError(t, s.handleReorgPass(context.Background(), safe))
	require.Equal(t, 0, es.revertCount())
}

// --- executeWithRetry -----------------------------------------------------

func TestExecuteWithRetryRevertsBeforeEachRetry(t *testing.T) {
	es := &fakeEntityStore{}
	s := newTestScheduler(es)
	h := &flakyHandler{failures: 1}

	task := Task{FunctionKey: "A:Event1", Checkpoint: checkpoint.New(10, 1, 100, 0)}
	invoke := func(ctx context.Context, key string, t Task) error {
		return h.Invoke(ctx, IndexingContext{}, t.Event)
	}

	err := s.executeWithRetry(context.Background(), "A:Event1", task, invoke)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&h.calls))
	require.Equal(t, 1, es.revertCount())
	require.Equal(t, task.Checkpoint, es.reverts[0])
}
