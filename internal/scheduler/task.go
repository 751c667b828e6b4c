package scheduler

import (
	"context"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/pkg/models"
)

// TaskKind distinguishes a decoded-log task from a once-per-chain setup
// task, per spec §4.3's "a worker executes either SETUP or LOG".
type TaskKind int

const (
	TaskKindLog TaskKind = iota
	TaskKindSetup
)

func (k TaskKind) String() string {
	if k == TaskKindSetup {
		return "setup"
	}
	return "log"
}

// Task is one unit of scheduler work. EventsProcessed is nonzero only on
// the final task of a loaded batch, carrying the batch size so the
// executor can emit a single progress log/metric for the whole batch
// instead of one per event.
type Task struct {
	Kind            TaskKind
	FunctionKey     string
	ChainID         uint64
	NetworkName     string
	Checkpoint      checkpoint.Checkpoint
	Event           models.DecodedEvent
	EventsProcessed int
}

// IndexingFunction is the dynamic-dispatch target for a LOG task: one
// `invoke(context, event)` operation per spec §9's Design Note, looked up
// from a table built at Reset.
type IndexingFunction interface {
	Invoke(ctx context.Context, ictx IndexingContext, event models.DecodedEvent) error
}

// SetupFunction is the dynamic-dispatch target for a SETUP task, run once
// per chain at the source's configured start block.
type SetupFunction interface {
	Invoke(ctx context.Context, ictx IndexingContext) error
}

// IndexingFunctionFunc adapts a plain function to IndexingFunction.
type IndexingFunctionFunc func(ctx context.Context, ictx IndexingContext, event models.DecodedEvent) error

func (f IndexingFunctionFunc) Invoke(ctx context.Context, ictx IndexingContext, event models.DecodedEvent) error {
	return f(ctx, ictx, event)
}

// SetupFunctionFunc adapts a plain function to SetupFunction.
type SetupFunctionFunc func(ctx context.Context, ictx IndexingContext) error

func (f SetupFunctionFunc) Invoke(ctx context.Context, ictx IndexingContext) error {
	return f(ctx, ictx)
}
