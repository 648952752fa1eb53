package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telaman/tsync/internal/output"
)

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	Aliases: []string{"toggle"},
	Short:   "Toggle a task's completion state",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		it, err := svc.Tasks.Toggle(cmd.Context(), args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if it.Completed {
			output.Success("Completed %q", it.Text)
		} else {
			output.Success("Reopened %q", it.Text)
		}
		autoSyncAfterMutation(svc)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doneCmd)
}
