package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telaman/tsync/internal/output"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a task",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.Tasks.Delete(cmd.Context(), args[0]); err != nil {
			output.Error("%v", err)
			return err
		}

		output.Success("Deleted %s", args[0])
		autoSyncAfterMutation(svc)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
