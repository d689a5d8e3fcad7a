package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// PruneSessionsArgs is the periodic job payload for clearing refresh tokens
// whose signed lifetime has passed. Expired rows are already unusable at the
// auth layer; pruning keeps the table from growing without bound.
type PruneSessionsArgs struct{}

func (PruneSessionsArgs) Kind() string { return "prune_sessions" }

// SessionPruner is the storage surface the job runs against.
type SessionPruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PruneSessionsWorker runs the session sweep.
type PruneSessionsWorker struct {
	river.WorkerDefaults[PruneSessionsArgs]
	pruner SessionPruner
	log    *slog.Logger
}

func NewPruneSessionsWorker(pruner SessionPruner, log *slog.Logger) *PruneSessionsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PruneSessionsWorker{pruner: pruner, log: log}
}

func (w *PruneSessionsWorker) Work(ctx context.Context, _ *river.Job[PruneSessionsArgs]) error {
	deleted, err := w.pruner.DeleteExpired(ctx, time.Now())
	if err != nil {
		// Returning the error lets river retry with backoff.
		return fmt.Errorf("prune expired sessions: %w", err)
	}
	w.log.Info("expired sessions pruned", "deleted", deleted)
	return nil
}
