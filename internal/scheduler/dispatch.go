package scheduler

import (
	"context"

	"github.com/0xkanth/evmindex/internal/checkpoint"
)

// dispatchAllLocked evaluates the dispatch table (spec §4.3) for every
// function key with buffered work. Must be called with s.mu held.
func (s *Scheduler) dispatchAllLocked() {
	if s.isPaused {
		return
	}
	for key := range s.functionStates {
		s.dispatchKeyLocked(key)
	}
}

// dispatchKeyLocked classifies key into one of the four dispatch cases and
// dispatches whatever subset of its pending tasks that case allows.
func (s *Scheduler) dispatchKeyLocked(key string) {
	fs := s.functionStates[key]
	pending := fs.pendingSlots()
	if len(pending) == 0 {
		return
	}
	first := pending[0].task.Checkpoint

	switch {
	case len(fs.parents) == 0 && fs.isSelfDependent:
		// Case 1: no parents, self-dependent — dispatch one task, serially.
		if !fs.inFlight && checkpoint.GreaterOrEqual(fs.tasksLoadedFromCheckpoint, first) {
			fs.inFlight = true
			s.dispatchSlotLocked(key, pending[0])
		}

	case len(fs.parents) == 0:
		// Case 2: no parents, not self-dependent — dispatch everything
		// buffered; concurrent execution is safe since nothing this
		// function reads is written by itself.
		for _, slot := range pending {
			s.dispatchSlotLocked(key, slot)
		}

	case fs.isSelfDependent:
		// Case 3: has parents, self-dependent — dispatch one task once
		// every parent (and this key's own loaded-from, to preserve
		// read-your-own-writes) has loaded past its checkpoint.
		threshold := fs.tasksLoadedFromCheckpoint
		for _, p := range fs.parents {
			if ps, ok := s.functionStates[p]; ok {
				threshold = checkpoint.Min2(threshold, ps.tasksLoadedFromCheckpoint)
			}
		}
		if !fs.inFlight && checkpoint.GreaterOrEqual(threshold, first) {
			fs.inFlight = true
			s.dispatchSlotLocked(key, pending[0])
		}

	default:
		// Case 4: has parents, not self-dependent — dispatch the
		// contiguous prefix whose checkpoints are covered by every
		// parent's loaded-from checkpoint.
		threshold := checkpoint.Max()
		for _, p := range fs.parents {
			if ps, ok := s.functionStates[p]; ok {
				threshold = checkpoint.Min2(threshold, ps.tasksLoadedFromCheckpoint)
			}
		}
		for _, slot := range pending {
			if checkpoint.Greater(slot.task.Checkpoint, threshold) {
				break
			}
			s.dispatchSlotLocked(key, slot)
		}
	}
}

// dispatchSlotLocked marks slot dispatched and launches its worker. Must be
// called with s.mu held; the worker itself runs outside the lock.
func (s *Scheduler) dispatchSlotLocked(key string, slot *taskSlot) {
	slot.dispatched = true
	s.wg.Add(1)
	go s.runLogTask(key, slot)
}

// dispatchSetupTasksLocked enqueues one worker per not-yet-done (key,chain)
// setup task. Setup tasks have no read/write dependencies on each other, so
// every chain of every contract may run concurrently.
func (s *Scheduler) dispatchSetupTasksLocked() {
	if s.isPaused {
		return
	}
	for key, ss := range s.setupStates {
		for chainID, sc := range ss.chains {
			if ss.done[chainID] {
				continue
			}
			task := Task{
				Kind:        TaskKindSetup,
				FunctionKey: key,
				ChainID:     chainID,
				NetworkName: sc.NetworkName,
				Checkpoint:  checkpoint.New(0, chainID, sc.StartBlock, 0),
			}
			s.wg.Add(1)
			go s.runSetupTask(key, chainID, task)
		}
	}
}

// runLogTask executes a LOG task's retry loop in the background, then
// applies its outcome under s.mu.
func (s *Scheduler) runLogTask(key string, slot *taskSlot) {
	defer s.wg.Done()
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	err := s.executeWithRetry(context.Background(), key, slot.task, s.invokeLog)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.haltLocked(err)
		return
	}
	slot.done = true
	s.onLogTaskDoneLocked(key)
	s.dispatchAllLocked()
}

// runSetupTask executes a SETUP task's retry loop, then records completion.
func (s *Scheduler) runSetupTask(key string, chainID uint64, task Task) {
	defer s.wg.Done()
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	err := s.executeWithRetry(context.Background(), key, task, s.invokeSetup)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.haltLocked(err)
		return
	}
	if ss, ok := s.setupStates[key]; ok {
		ss.done[chainID] = true
	}
}

// onLogTaskDoneLocked pops the now-complete contiguous prefix of key's
// loadedTasks, updating tasksProcessedToCheckpoint/tasksLoadedFromCheckpoint
// and eventCount per spec §4.3's "on successful task completion" rules.
// Completions can arrive out of order under cases 2/4; only a completed
// prefix is ever popped, so tasksLoadedFromCheckpoint never advances past
// an in-flight task.
func (s *Scheduler) onLogTaskDoneLocked(key string) {
	fs := s.functionStates[key]
	popped := 0
	for len(fs.loadedTasks) > 0 && fs.loadedTasks[0].done {
		slot := fs.loadedTasks[0]
		fs.loadedTasks = fs.loadedTasks[1:]
		fs.tasksProcessedToCheckpoint = checkpoint.Max2(fs.tasksProcessedToCheckpoint, slot.task.Checkpoint)
		fs.eventCount++
		if slot.task.EventsProcessed > 0 {
			tasksCompleted.WithLabelValues(key).Add(float64(slot.task.EventsProcessed))
			s.logger.Debug().Str("function", key).Int("events", slot.task.EventsProcessed).Msg("batch processed")
		}
		popped++
	}
	if popped == 0 {
		return
	}
	if fs.isSelfDependent {
		fs.inFlight = false
	}
	if len(fs.loadedTasks) == 0 {
		fs.tasksLoadedFromCheckpoint = fs.tasksLoadedToCheckpoint
	} else {
		fs.tasksLoadedFromCheckpoint = fs.loadedTasks[0].task.Checkpoint
	}
	s.maybeEmitEventsProcessedLocked()
}

// stateCheckpointLocked is spec §4.3's Flush formula, reused by the
// eventsProcessed-emission rule: the checkpoint this key has durably
// reached.
func stateCheckpointLocked(fs *functionState) checkpoint.Checkpoint {
	if len(fs.loadedTasks) == 0 {
		return fs.tasksLoadedToCheckpoint
	}
	return fs.tasksProcessedToCheckpoint
}

// maybeEmitEventsProcessedLocked emits {toCheckpoint} and advances the
// completed-timestamp metric whenever the min over all keys of
// stateCheckpoint(key) moves forward, per spec §4.3.
func (s *Scheduler) maybeEmitEventsProcessedLocked() {
	if len(s.functionStates) == 0 {
		return
	}
	min := checkpoint.Max()
	for _, fs := range s.functionStates {
		min = checkpoint.Min2(min, stateCheckpointLocked(fs))
	}
	if checkpoint.Greater(min, s.minState) {
		s.minState = min
		completedCheckpointTimestamp.WithLabelValues().Set(float64(min.BlockTimestamp))
		select {
		case s.eventsProcessedCh <- min:
		default:
			s.logger.Warn().Msg("eventsProcessed channel full, dropping emission")
		}
	}
}
