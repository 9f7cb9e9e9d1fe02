// Package migrator plans and applies changesets against a database and keeps
// the applied changelog.
package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mirajehossain/gochangelog/internal/changelog"
	"github.com/mirajehossain/gochangelog/internal/db"
	"github.com/mirajehossain/gochangelog/internal/lock"
)

// Progress stages reported to Runner.Progress.
const (
	StageStart   = "start"
	StageSuccess = "success"
	StageSkipped = "skipped"
	StageError   = "error"
)

type Runner struct {
	DB           *sql.DB
	Storage      *Storage
	Executor     *Executor
	Locker       lock.Locker // nil disables locking
	LockTimeout  time.Duration
	Retry        RetryPolicy
	AppliedBy    string
	DeploymentID string
	Log          *slog.Logger

	// Progress, when set, is called around every changeset of ApplyUp.
	Progress func(stage string, cs changelog.ChangeSet, rec *Record, err error)
}

func NewRunner(database *sql.DB, dialect db.Dialect, table, appliedBy string) *Runner {
	st := &Storage{DB: database, Dialect: dialect, Table: table}
	return &Runner{
		DB:           database,
		Storage:      st,
		Executor:     &Executor{Dialect: dialect, Storage: st},
		LockTimeout:  30 * time.Second,
		Retry:        DefaultRetryPolicy(),
		AppliedBy:    appliedBy,
		DeploymentID: uuid.NewString(),
		Log:          slog.Default(),
	}
}

// DefaultAppliedBy names the current OS user, used when no applied_by is set.
func DefaultAppliedBy() string {
	u, err := user.Current()
	if err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// Ensure creates the applied changelog table when needed. Connectivity
// failures are retried.
func (r *Runner) Ensure(ctx context.Context) error {
	err := r.Retry.Do(ctx, r.Log, func(uint) error { return classify(r.Storage.Ensure(ctx)) })
	if err != nil {
		return fmt.Errorf("ensure changelog table: %w", err)
	}
	if strings.TrimSpace(r.AppliedBy) == "" {
		r.AppliedBy = DefaultAppliedBy()
	}
	return nil
}

// Plan discovers the changesets of reg and compares them with the log.
func (r *Runner) Plan(ctx context.Context, reg *changelog.Registry) (*Plan, error) {
	return DiscoverAndPlan(ctx, reg, r.Storage)
}

// Up applies every pending changeset of reg in order while holding the lock.
// It stops at the first failure; changesets applied before it stay applied.
func (r *Runner) Up(ctx context.Context, reg *changelog.Registry, dryRun bool) ([]Record, error) {
	var applied []Record
	err := r.withLock(ctx, func() error {
		plan, err := r.Plan(ctx, reg)
		if err != nil {
			return err
		}
		r.logSkipped(plan)
		if len(plan.Pending) == 0 {
			r.Log.Info("no pending changesets", "known", len(plan.All))
			return nil
		}
		applied, err = r.ApplyUp(ctx, plan.Pending, dryRun)
		return err
	})
	return applied, err
}

// ApplyUp applies pending in order. A changeset recorded concurrently by
// another runner is skipped. With dryRun the statements are only rendered.
func (r *Runner) ApplyUp(ctx context.Context, pending []changelog.ChangeSet, dryRun bool) ([]Record, error) {
	applied := make([]Record, 0, len(pending))
	maxOrder, err := r.Storage.MaxExecutionOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("read execution order: %w", err)
	}
	for _, cs := range pending {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		rec := Record{
			ID:             cs.ID,
			Author:         cs.Author,
			Filename:       cs.Source,
			Checksum:       cs.Checksum,
			AppliedBy:      r.AppliedBy,
			DeploymentID:   r.DeploymentID,
			ExecutionOrder: maxOrder + 1,
		}
		log := r.Log.With("changeset", cs.ID, "author", cs.Author)
		r.progress(StageStart, cs, &rec, nil)

		if dryRun {
			stmts, err := r.Executor.Render(cs)
			if err != nil {
				r.progress(StageError, cs, &rec, err)
				return applied, err
			}
			for i, s := range stmts {
				log.Info("dry run", "statement", i, "sql", s)
			}
			r.progress(StageSuccess, cs, &rec, nil)
			applied = append(applied, rec)
			maxOrder++
			continue
		}

		err := r.Retry.Do(ctx, log, func(attempt uint) error {
			if attempt > 1 {
				// the previous attempt may have committed before the connection broke
				ok, err := r.Storage.Contains(ctx, cs.ID)
				if err != nil {
					return classify(err)
				}
				if ok {
					return fmt.Errorf("%w: %s", ErrDuplicateApplication, cs.ID)
				}
			}
			var err error
			rec, err = r.Executor.Apply(ctx, r.DB, cs, rec)
			return err
		})
		switch {
		case errors.Is(err, ErrDuplicateApplication):
			log.Warn("changeset applied by another runner, skipping")
			r.progress(StageSkipped, cs, &rec, err)
			if maxOrder, err = r.Storage.MaxExecutionOrder(ctx); err != nil {
				return applied, fmt.Errorf("read execution order: %w", err)
			}
			continue
		case err != nil:
			log.Error("changeset failed", "error", err)
			r.progress(StageError, cs, &rec, err)
			return applied, err
		}

		log.Info("changeset applied", "duration_ms", rec.DurationMS, "execution_order", rec.ExecutionOrder)
		r.progress(StageSuccess, cs, &rec, nil)
		applied = append(applied, rec)
		maxOrder = rec.ExecutionOrder
	}
	return applied, nil
}

// Validate parses reg, checks it against the log for drift and renders every
// pending changeset without executing anything.
func (r *Runner) Validate(ctx context.Context, reg *changelog.Registry) (*Plan, error) {
	plan, err := r.Plan(ctx, reg)
	if err != nil {
		return nil, err
	}
	r.logSkipped(plan)
	for _, cs := range plan.Pending {
		if _, err := r.Executor.Render(cs); err != nil {
			return plan, err
		}
	}
	return plan, nil
}

// Sync records pending changesets up to and including toID as applied
// without executing them. An empty toID syncs everything. Existing records
// are left untouched.
func (r *Runner) Sync(ctx context.Context, reg *changelog.Registry, toID string) ([]Record, error) {
	var synced []Record
	err := r.withLock(ctx, func() error {
		plan, err := r.Plan(ctx, reg)
		if err != nil {
			return err
		}
		if toID != "" && !containsID(plan.All, toID) {
			return fmt.Errorf("%w: %s", ErrNoSuchChangeSet, toID)
		}
		maxOrder, err := r.Storage.MaxExecutionOrder(ctx)
		if err != nil {
			return fmt.Errorf("read execution order: %w", err)
		}
		for _, cs := range plan.Pending {
			if toID != "" && changelog.Compare(cs.ID, toID) > 0 {
				break
			}
			rec := Record{
				ID: cs.ID, Author: cs.Author, Filename: cs.Source, Checksum: cs.Checksum,
				AppliedAt: time.Now().UTC(), AppliedBy: r.AppliedBy, DeploymentID: r.DeploymentID,
				ExecutionOrder: maxOrder + 1,
			}
			if err := r.Storage.Record(ctx, nil, rec); err != nil {
				if db.IsDuplicate(err) {
					r.Log.Warn("changeset already recorded, skipping", "changeset", cs.ID)
					continue
				}
				return fmt.Errorf("record changeset %s: %w", cs.ID, err)
			}
			r.Log.Info("changeset marked as applied", "changeset", cs.ID)
			synced = append(synced, rec)
			maxOrder++
		}
		return nil
	})
	return synced, err
}

func (r *Runner) withLock(ctx context.Context, fn func() error) error {
	if r.Locker == nil {
		return fn()
	}
	if err := r.Locker.Acquire(ctx, r.LockTimeout); err != nil {
		return fmt.Errorf("lock %s: %w", r.Locker.Key(), err)
	}
	defer func() {
		if err := r.Locker.Release(context.WithoutCancel(ctx)); err != nil {
			r.Log.Warn("failed to release lock", "key", r.Locker.Key(), "error", err)
		}
	}()
	return fn()
}

func (r *Runner) logSkipped(plan *Plan) {
	for _, merr := range plan.Skipped {
		r.Log.Warn("skipped malformed changelog", "file", merr.File, "error", merr)
	}
}

func (r *Runner) progress(stage string, cs changelog.ChangeSet, rec *Record, err error) {
	if r.Progress != nil {
		r.Progress(stage, cs, rec, err)
	}
}

func containsID(sets []changelog.ChangeSet, id string) bool {
	for _, cs := range sets {
		if cs.ID == id {
			return true
		}
	}
	return false
}
