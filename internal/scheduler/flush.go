package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/pkg/models"
)

// startFlush schedules the 120-second periodic flush (spec §4.3), grounded
// on the teacher's runRealtime poll ticker. Only touches flush bookkeeping
// fields (not s.mu-guarded state), so callers may hold s.mu when calling it.
func (s *Scheduler) startFlush() {
	s.flushStop = make(chan struct{})
	s.flushDone = make(chan struct{})
	stop, done := s.flushStop, s.flushDone
	go func() {
		defer close(done)
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.Flush(context.Background()); err != nil {
					s.logger.Warn().Err(err).Msg("periodic flush failed")
				}
			}
		}
	}()
}

func (s *Scheduler) stopFlush() {
	if s.flushStop == nil {
		return
	}
	close(s.flushStop)
	<-s.flushDone
	s.flushStop, s.flushDone = nil, nil
}

// Flush persists functionMetadata rows per spec §4.3: toCheckpoint =
// min(stateCheckpoint, gateway.finalityCheckpoint); rows whose toCheckpoint
// is the zero checkpoint are omitted entirely. Completed setup functions
// flush a sentinel row. Also snapshots progress to bbolt, if enabled, so
// GetStatus-style introspection doesn't need a DB round trip.
func (s *Scheduler) Flush(ctx context.Context) error {
	finality := s.gateway.FinalityCheckpoint()

	s.mu.Lock()
	type row struct {
		m models.FunctionMetadata
	}
	var rows []row
	for key, fs := range s.functionStates {
		stateCp := stateCheckpointLocked(fs)
		toCp := checkpoint.Min2(stateCp, finality)
		if toCp.IsZero() {
			continue
		}
		rows = append(rows, row{m: checkpointToFunctionMetadata(key, key, toCp, fs.eventCount)})
	}
	for key, ss := range s.setupStates {
		for chainID, done := range ss.done {
			if !done {
				continue
			}
			sc := ss.chains[chainID]
			cp := checkpoint.New(0, chainID, sc.StartBlock, 0)
			rows = append(rows, row{m: checkpointToFunctionMetadata(setupMetadataID(key, chainID), key, cp, 1)})
		}
	}
	s.mu.Unlock()

	for _, r := range rows {
		if err := s.store.UpsertFunctionMetadata(ctx, r.m); err != nil {
			return fmt.Errorf("scheduler: flush %s: %w", r.m.FunctionID, err)
		}
	}

	if s.snapshot != nil {
		if err := s.snapshotLocked(); err != nil {
			s.logger.Warn().Err(err).Msg("flush snapshot failed")
		}
	}
	return nil
}

func (s *Scheduler) snapshotLocked() error {
	s.mu.Lock()
	progress := make(map[string]checkpoint.Checkpoint, len(s.functionStates))
	for key, fs := range s.functionStates {
		progress[key] = fs.tasksProcessedToCheckpoint
	}
	s.mu.Unlock()

	return s.snapshot.putAll(progress)
}
