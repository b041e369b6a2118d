// Package retention runs the scheduled janitor: it prunes
// conversations left empty by deletions and drops session-index
// entries whose conversation no longer exists. Everything goes through
// the store's operations; the janitor never touches the files
// directly.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/session"
	"chatrelay/pkg/store"
)

// Janitor holds the stores the sweep operates on.
type Janitor struct {
	cfg      config.RetentionConfig
	store    *store.Store
	sessions *session.Index
}

func New(cfg config.RetentionConfig, st *store.Store, ix *session.Index) *Janitor {
	return &Janitor{cfg: cfg, store: st, sessions: ix}
}

// Start launches the scheduler when retention is enabled. The returned
// cancel func stops it; when disabled it is a no-op.
func (j *Janitor) Start(ctx context.Context) (context.CancelFunc, error) {
	if !j.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := j.cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", j.cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", j.cfg.Cron)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go j.runScheduler(ctx2, cronExpr)
	logger.Info("retention_scheduler_started", "cron", cronExpr, "dry_run", j.cfg.DryRun)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// it, repeating until cancelled.
func (j *Janitor) runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "err", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := j.RunOnce(); err != nil {
				logger.Error("retention_run_error", "err", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single sweep. Exposed so tests and admin tooling
// can trigger it without waiting for the schedule.
func (j *Janitor) RunOnce() error {
	start := time.Now()

	if j.cfg.DryRun {
		candidates, err := j.countEmptyConversations()
		if err != nil {
			return fmt.Errorf("retention dry run: %w", err)
		}
		logger.Info("retention_dry_run", "empty_conversations", candidates)
		return nil
	}

	pruned, err := j.store.PruneEmptyConversations()
	if err != nil {
		return fmt.Errorf("prune conversations: %w", err)
	}

	orphans := 0
	if j.sessions != nil {
		orphans, err = j.sessions.PruneOrphans(func(userID, sessionID string) bool {
			return j.store.ConversationExists(userID, sessionID)
		})
		if err != nil {
			return fmt.Errorf("prune sessions: %w", err)
		}
	}

	logger.Info("retention_run_complete",
		"pruned_conversations", pruned,
		"pruned_sessions", orphans,
		"elapsed", time.Since(start).String())
	return nil
}

func (j *Janitor) countEmptyConversations() (int, error) {
	users, err := j.store.Users()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, uid := range users {
		convs, err := j.store.ListConversations(uid)
		if err != nil {
			return 0, err
		}
		for _, c := range convs {
			if c.MessageCount == 0 {
				n++
			}
		}
	}
	return n, nil
}
