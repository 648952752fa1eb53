package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telaman/tsync/internal/output"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Drain the offline queue, then refresh the mirror",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		report, items, err := svc.Tasks.Reconnect(cmd.Context())
		if err != nil {
			output.Error("sync: %v", err)
			return err
		}

		if report.Attempted == 0 {
			fmt.Println("Queue empty.")
		} else {
			output.Success("Synced %d/%d queued mutations", report.Succeeded, report.Attempted)
			if report.Failed > 0 {
				output.Warning("%d kept for retry", report.Failed)
			}
		}
		fmt.Printf("Mirror: %d tasks\n", len(items))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
