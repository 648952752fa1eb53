package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telaman/tsync/internal/syncer"
	"github.com/telaman/tsync/internal/tui/monitor"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Short:   "Live TUI dashboard for sync state",
	GroupID: "sync",
	Long: `Launch a live-updating dashboard showing connectivity, the offline
queue, drain history, and the cached task list.

Key bindings:
  r   Force refresh
  s   Trigger a sync pass
  q   Quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		interval := monitorInterval
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		fetch := func(ctx context.Context) (monitor.Snapshot, error) {
			snap := monitor.Snapshot{
				Items:     svc.Tasks.List(ctx),
				Pending:   svc.Tasks.Pending(ctx),
				Timestamp: time.Now(),
			}
			if st, err := fetchDaemonStatus(); err == nil {
				snap.Online = st.Online
				snap.Pending = st.Pending
				if d := st.LastDrain; d != nil {
					at, _ := time.Parse(time.RFC3339, d.At)
					snap.LastDrain = &syncer.Report{
						Attempted: d.Attempted,
						Succeeded: d.Succeeded,
						Failed:    d.Failed,
						At:        at,
					}
				}
			} else {
				snap.Online = svc.Monitor.Online()
			}
			return snap, nil
		}

		drain := func(ctx context.Context) error {
			_, _, err := svc.Tasks.Reconnect(ctx)
			return err
		}

		if err := monitor.Run(fetch, drain, interval); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 2*time.Second, "refresh interval")
	rootCmd.AddCommand(monitorCmd)
}
