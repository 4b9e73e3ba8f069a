package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/geomon/internal/logger"
	"github.com/yairfalse/geomon/internal/store"
)

const (
	defaultSnapshotRetention  = 90 * 24 * time.Hour
	defaultExecutionRetention = 30 * 24 * time.Hour
	defaultBatchSize          = 500
)

// Cleaner prunes aged snapshots and execution history. Snapshots pinned
// by an unresolved alert are never deleted.
type Cleaner struct {
	repo store.Repo
	log  logger.Logger

	SnapshotRetention  time.Duration
	ExecutionRetention time.Duration
	BatchSize          int
}

func NewCleaner(repo store.Repo, log logger.Logger) *Cleaner {
	if log == nil {
		log = logger.Nop()
	}
	return &Cleaner{
		repo:               repo,
		log:                log,
		SnapshotRetention:  defaultSnapshotRetention,
		ExecutionRetention: defaultExecutionRetention,
		BatchSize:          defaultBatchSize,
	}
}

// Result summarizes one cleanup pass.
type Result struct {
	SnapshotsDeleted    int
	DuplicatesReclaimed int
	ExecutionsDeleted   int
}

// Run performs one cleanup pass and returns what it removed.
func (c *Cleaner) Run(ctx context.Context) (*Result, error) {
	now := time.Now().UTC()
	res := &Result{}

	snapCutoff := now.Add(-c.SnapshotRetention)
	n, err := c.repo.DeleteSnapshotsOlderThan(ctx, snapCutoff, c.BatchSize)
	if err != nil {
		return res, fmt.Errorf("pruning snapshots: %w", err)
	}
	res.SnapshotsDeleted = n

	n, err = c.repo.ReclaimDuplicateSnapshots(ctx)
	if err != nil {
		return res, fmt.Errorf("reclaiming duplicate snapshots: %w", err)
	}
	res.DuplicatesReclaimed = n

	execCutoff := now.Add(-c.ExecutionRetention)
	n, err = c.repo.DeleteExecutionsOlderThan(ctx, execCutoff)
	if err != nil {
		return res, fmt.Errorf("pruning executions: %w", err)
	}
	res.ExecutionsDeleted = n

	c.log.WithFields(map[string]any{
		"snapshots":  res.SnapshotsDeleted,
		"duplicates": res.DuplicatesReclaimed,
		"executions": res.ExecutionsDeleted,
	}).Info("retention cleanup finished")
	return res, nil
}
