package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/academia/core/profile"
)

// cleanupMedia runs a single orphaned-avatar sweep, regardless of the
// configured interval.
func (cli *commandLine) cleanupMedia() error {
	cleaner := profile.NewCleaner(cli.profRepo, cli.store, cli.logger, cli.conf)
	res, err := cleaner.RunOnce(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf(
		"media cleanup: deleted=%d kept=%d total=%d cutoff=%s\n",
		res.Deleted, res.Kept, res.Total, res.Cutoff.Format(time.RFC3339),
	)
	return nil
}
