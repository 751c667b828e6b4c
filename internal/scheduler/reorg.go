package scheduler

import (
	"context"
	"fmt"

	"github.com/0xkanth/evmindex/internal/checkpoint"
)

// HandleReorg implements spec §4.3's reorg handling, run under the loading
// lock so it can't race a concurrent load. A canceled loading mutex (a
// concurrent Reset/Kill) is reported as a no-op, not an error.
func (s *Scheduler) HandleReorg(ctx context.Context, safeCheckpoint checkpoint.Checkpoint) error {
	err := s.loadingMutex.runExclusive(ctx, func(ctx context.Context) error {
		return s.handleReorgPass(ctx, safeCheckpoint)
	})
	if err == ErrCanceled {
		return nil
	}
	return err
}

func (s *Scheduler) handleReorgPass(ctx context.Context, safe checkpoint.Checkpoint) error {
	s.mu.Lock()
	needsRevert := false
	for _, fs := range s.functionStates {
		if checkpoint.Greater(fs.tasksProcessedToCheckpoint, safe) {
			needsRevert = true
			break
		}
	}
	s.mu.Unlock()
	if !needsRevert {
		return nil
	}

	if err := s.entityStore.Revert(ctx, safe); err != nil {
		return fmt.Errorf("scheduler: reorg revert to %s: %w", safe, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fs := range s.functionStates {
		fs.tasksProcessedToCheckpoint = checkpoint.Min2(fs.tasksProcessedToCheckpoint, safe)
		fs.tasksLoadedFromCheckpoint = checkpoint.Min2(fs.tasksLoadedFromCheckpoint, safe)
		fs.tasksLoadedToCheckpoint = checkpoint.Min2(fs.tasksLoadedToCheckpoint, safe)

		// Drop undispatched buffered tasks past the rewound point; an
		// already-dispatched, not-yet-done task is left to finish its
		// current attempt (its writes were just reverted) rather than
		// yanked out from under a running worker.
		var kept []*taskSlot
		for _, slot := range fs.loadedTasks {
			if checkpoint.LessOrEqual(slot.task.Checkpoint, safe) || (slot.dispatched && !slot.done) {
				kept = append(kept, slot)
			}
		}
		fs.loadedTasks = kept
	}
	// Emitted eventsProcessed counters may be inflated post-reorg (spec
	// §9) — min tracking is reset so the next genuine advance re-emits.
	s.minState = checkpoint.Zero()
	s.dispatchAllLocked()
	return nil
}
