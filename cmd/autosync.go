package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/telaman/tsync/internal/syncconfig"
)

// autoSyncAfterMutation runs a quick drain after a mutating command
// completes. Runs synchronously with a short timeout. Errors are
// logged, not returned; kept entries simply wait for the next pass.
func autoSyncAfterMutation(svc *cliService) {
	if !syncconfig.GetAutoSyncEnabled() {
		return
	}
	if !syncconfig.IsAuthenticated() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if svc.Tasks.Pending(ctx) == 0 {
		return
	}

	report := svc.Proc.Drain(ctx)
	slog.Debug("autosync: drained", "succeeded", report.Succeeded, "failed", report.Failed)
}
