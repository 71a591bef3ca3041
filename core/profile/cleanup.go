package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

type (
	// CleanupResult reports one sweep of the orphaned-avatar cleanup job.
	CleanupResult struct {
		Deleted int
		Kept    int
		Total   int
		Cutoff  time.Time
	}

	// Cleaner periodically deletes avatar blobs that are no longer referenced
	// by any profile and are older than the retention window. Blobs uploaded
	// but never (or no longer) referenced get a grace period of one full
	// retention window before they are swept; referenced blobs are never
	// deleted.
	Cleaner struct {
		Interval  time.Duration
		Retention time.Duration

		repo     Repository
		store    core.BlobStore
		logger   core.Logger
		testMode bool
	}
)

func NewCleaner(repo Repository, store core.BlobStore, logger core.Logger, conf *core.Config) *Cleaner {
	return &Cleaner{
		Interval:  conf.Media.CleanupInterval,
		Retention: time.Duration(conf.Media.RetentionDays) * 24 * time.Hour,
		repo:      repo,
		store:     store,
		logger:    logger,
		testMode:  conf.TestMode,
	}
}

// Start runs a sweep immediately, then on every tick until ctx is cancelled.
// It is a no-op in test mode.
func (c *Cleaner) Start(ctx context.Context) {
	if c.testMode {
		return
	}

	runOnce := func() {
		res, err := c.RunOnce(ctx)
		if err != nil {
			if errors.Cause(err) == context.Canceled {
				// interrupted by shutdown, not a failure
				return
			}
			c.logger.Error(fmt.Sprintf("avatar cleanup failed: %v", err), err)
			return
		}
		c.logger.Info(fmt.Sprintf(
			"avatar cleanup: deleted=%d kept=%d total=%d cutoff=%s",
			res.Deleted, res.Kept, res.Total, res.Cutoff.Format(time.RFC3339),
		))
	}

	go func() {
		runOnce()

		ticker := time.NewTicker(c.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()
}

// RunOnce performs a single sweep over the blob store. A failure to delete
// one candidate blob is logged and the sweep continues; the next run
// retries.
func (c *Cleaner) RunOnce(ctx context.Context) (CleanupResult, error) {
	activeIDs, err := c.repo.ListActiveBlobIDs(ctx)
	if err != nil {
		return CleanupResult{}, errors.Wrap(err, "listing active avatar blobs")
	}

	cutoff := time.Now().UTC().Add(-c.Retention)
	res := CleanupResult{Cutoff: cutoff}

	err = c.store.Walk(ctx, func(info core.BlobInfo) error {
		res.Total++

		isActive := activeIDs[info.ID]
		isStale := info.LastTouched().Before(cutoff)
		if isActive || !isStale {
			res.Kept++
			return nil
		}

		if err := c.store.Delete(ctx, info.ID); err != nil && errors.Cause(err) != core.ErrBlobNotFound {
			c.logger.Error(fmt.Sprintf("avatar cleanup: deleting blob %s: %v", info.ID, err), err)
			res.Kept++
			return nil
		}
		res.Deleted++
		return nil
	})
	if err != nil {
		return res, errors.Wrap(err, "walking blob store")
	}
	return res, nil
}
