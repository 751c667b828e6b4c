package scheduler

import (
	"context"

	"github.com/0xkanth/evmindex/internal/abidecode"
	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/internal/syncstore"
	"github.com/0xkanth/evmindex/pkg/models"
)

// LoadAndDispatch runs one load pass over every unfinished function key,
// then re-evaluates dispatch. Safe to call repeatedly (after every task
// completion, on a timer, or whenever the global checkpoint advances); a
// pass that finds nothing unfinished is a no-op. Runs under loadingMutex, so
// a concurrent Reset/Kill cancels it cleanly (ErrCanceled is swallowed, not
// an error).
func (s *Scheduler) LoadAndDispatch(ctx context.Context) error {
	err := s.loadingMutex.runExclusive(ctx, s.loadPass)
	if err == ErrCanceled {
		return nil
	}
	return err
}

type loadRequest struct {
	key    string
	params syncstore.GetLogEventsParams
}

func (s *Scheduler) loadPass(ctx context.Context) error {
	global := s.gateway.Checkpoint()

	s.mu.Lock()
	if s.isPaused {
		s.mu.Unlock()
		return nil
	}
	var fullyLoadedSum int
	var requests []loadRequest
	for key, fs := range s.functionStates {
		if fs.fullyLoaded(global) {
			fullyLoadedSum += len(fs.loadedTasks)
			continue
		}
		requests = append(requests, loadRequest{
			key: key,
			params: syncstore.GetLogEventsParams{
				FromCheckpoint: fs.tasksLoadedToCheckpoint,
				ToCheckpoint:   global,
				LogFilters:     fs.logFilters,
				Factories:      fs.factories,
			},
		})
	}
	unfinished := len(requests)
	s.mu.Unlock()

	if unfinished == 0 {
		return nil
	}
	budget := calculateTaskBatchSize(unfinished, fullyLoadedSum)
	if budget > getLogEventsPageLimit {
		budget = getLogEventsPageLimit
	}

	type loadResult struct {
		key        string
		page       models.EventPage
		toCheckpoint checkpoint.Checkpoint
	}
	var results []loadResult
	for _, req := range requests {
		req.params.Limit = budget
		page, err := s.store.GetLogEvents(ctx, req.params)
		if err != nil {
			return err
		}
		results = append(results, loadResult{key: req.key, page: page, toCheckpoint: req.params.ToCheckpoint})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		s.applyLoadResultLocked(r.key, r.page, r.toCheckpoint)
	}
	s.dispatchAllLocked()
	return nil
}

// calculateTaskBatchSize implements spec §4.3's
// budget_i = floor((MAX_BATCH_SIZE - Σ loaded_j over fully-loaded j) / unfinishedCount).
// Only ever called with unfinishedCount > 0: the caller filters to unfinished
// keys first, so the division is never by zero — per spec §9's noted
// reliance on that invariant.
func calculateTaskBatchSize(unfinishedCount, fullyLoadedSum int) int {
	budget := (maxBatchSize - fullyLoadedSum) / unfinishedCount
	if budget < 1 {
		budget = 1
	}
	return budget
}

// applyLoadResultLocked decodes page's events into Tasks and merges them
// into key's functionState per spec §4.3's "update rules after a load".
// Must be called with s.mu held.
func (s *Scheduler) applyLoadResultLocked(key string, page models.EventPage, toCheckpoint checkpoint.Checkpoint) {
	fs := s.functionStates[key]
	wasEmpty := len(fs.loadedTasks) == 0

	var newSlots []*taskSlot
	for _, ev := range page.Events {
		args, err := abidecode.Decode(fs.abiEvent, ev.Log)
		if err != nil {
			s.logger.Warn().Err(err).Str("function", key).
				Uint64("chainId", ev.ChainID).Str("txHash", ev.Log.TransactionHash).
				Msg("decode failure, skipping event")
			continue
		}
		ev.Args = args
		newSlots = append(newSlots, &taskSlot{task: Task{
			Kind:        TaskKindLog,
			FunctionKey: key,
			ChainID:     ev.ChainID,
			Checkpoint:  ev.Checkpoint,
			Event:       ev,
		}})
	}
	if len(newSlots) > 0 {
		newSlots[len(newSlots)-1].task.EventsProcessed = len(newSlots)
	}
	fs.loadedTasks = append(fs.loadedTasks, newSlots...)

	if page.HasNextPage {
		fs.tasksLoadedToCheckpoint = page.LastCheckpointInPage
	} else {
		fs.tasksLoadedToCheckpoint = toCheckpoint
	}

	if wasEmpty && len(fs.loadedTasks) > 0 {
		fs.tasksLoadedFromCheckpoint = fs.loadedTasks[0].task.Checkpoint
	}
	if fs.firstEventCheckpoint.IsZero() && len(newSlots) > 0 {
		fs.firstEventCheckpoint = newSlots[0].task.Checkpoint
	}
	if page.HasAny {
		fs.lastEventCheckpoint = checkpoint.Max2(fs.lastEventCheckpoint, page.LastCheckpoint)
	}
}
