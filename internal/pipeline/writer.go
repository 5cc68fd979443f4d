package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/wegman-software/osmload/internal/errs"
	"github.com/wegman-software/osmload/internal/logger"
	"github.com/wegman-software/osmload/internal/schema"
)

// DefaultBatchSize is the number of top-level entities per checkpoint commit
const DefaultBatchSize = 10000

// Beginner opens transactions; *pgx.Conn satisfies it
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WriterOptions configures a Writer
type WriterOptions struct {
	BatchSize int
	Progress  *ProgressReporter
	// EntitySavepoints wraps each entity in a savepoint so a constraint
	// violation discards only that entity instead of aborting the run.
	EntitySavepoints bool
}

// WriterStats holds checkpoint statistics
type WriterStats struct {
	Entities int64 // top-level entities processed, including skipped ones
	Rows     int64 // rows inserted, including rows later rolled back by a skip
	Commits  int64 // checkpoint and final commits
	Skipped  int64 // entities discarded by a savepoint rollback
}

// Writer owns the single open transaction of an import run and commits it
// every BatchSize entities
type Writer struct {
	db     Beginner
	opts   WriterOptions
	tx     pgx.Tx
	entity pgx.Tx // savepoint of the entity in flight, if enabled
	stats  WriterStats
	log    *zap.Logger
}

// NewWriter creates a checkpointed writer over db
func NewWriter(db Beginner, opts WriterOptions) *Writer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Writer{
		db:   db,
		opts: opts,
		log:  logger.Get(),
	}
}

// Stats returns the current statistics
func (w *Writer) Stats() WriterStats {
	return w.stats
}

// Start opens the first transaction
func (w *Writer) Start(ctx context.Context) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	w.tx = tx
	return nil
}

// BeginEntity marks the start of a top-level entity's inserts
func (w *Writer) BeginEntity(ctx context.Context) error {
	if !w.opts.EntitySavepoints {
		return nil
	}
	if w.tx == nil {
		return errors.New("writer not started")
	}
	sp, err := w.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open entity savepoint: %w", err)
	}
	w.entity = sp
	return nil
}

// Insert executes one row insert in the open transaction
func (w *Writer) Insert(ctx context.Context, stmt schema.Statement, args ...any) error {
	target := w.tx
	if w.entity != nil {
		target = w.entity
	}
	if target == nil {
		return errors.New("writer not started")
	}
	if _, err := target.Exec(ctx, stmt.SQL, args...); err != nil {
		return storeError("insert into "+stmt.Table, err)
	}
	w.stats.Rows++
	return nil
}

// EntityFailed decides the fate of an entity whose processing returned err.
// With savepoints enabled a constraint violation rolls back just that entity
// and nil is returned; every other case returns err unchanged.
func (w *Writer) EntityFailed(ctx context.Context, err error) error {
	if w.entity == nil || !errors.Is(err, errs.ErrConstraintViolation) {
		return err
	}
	sp := w.entity
	w.entity = nil
	if rbErr := sp.Rollback(ctx); rbErr != nil {
		return fmt.Errorf("failed to roll back entity savepoint: %w (after %w)", rbErr, err)
	}
	w.stats.Skipped++
	w.log.Warn("Skipped entity", zap.Error(err))
	return nil
}

// EntityDone counts a finished top-level entity and commits at every
// multiple of the batch size
func (w *Writer) EntityDone(ctx context.Context) error {
	if w.entity != nil {
		sp := w.entity
		w.entity = nil
		if err := sp.Commit(ctx); err != nil {
			return storeError("release entity savepoint", err)
		}
	}

	w.stats.Entities++
	if w.stats.Entities%int64(w.opts.BatchSize) != 0 {
		return nil
	}
	return w.checkpoint(ctx)
}

// checkpoint commits the open transaction and starts the next one
func (w *Writer) checkpoint(ctx context.Context) error {
	tx := w.tx
	w.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return storeError("checkpoint commit", err)
	}
	w.stats.Commits++

	w.log.Debug("Checkpoint committed",
		zap.Int64("entities", w.stats.Entities),
		zap.Int64("rows", w.stats.Rows))

	if w.opts.Progress != nil {
		w.opts.Progress.MaybeReport(time.Now())
	}

	return w.Start(ctx)
}

// Finish commits whatever remains after the last checkpoint
func (w *Writer) Finish(ctx context.Context) error {
	if w.tx == nil {
		return errors.New("writer not started")
	}
	tx := w.tx
	w.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return storeError("final commit", err)
	}
	w.stats.Commits++
	return nil
}

// Abort rolls back everything written since the last checkpoint
func (w *Writer) Abort(ctx context.Context) {
	w.entity = nil
	if w.tx == nil {
		return
	}
	tx := w.tx
	w.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		w.log.Warn("Rollback failed", zap.Error(err))
	}
}

// storeError tags integrity violations so callers can classify them
func storeError(op string, err error) error {
	if schema.IsConstraintViolation(err) {
		return fmt.Errorf("%w: %s: %w", errs.ErrConstraintViolation, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
