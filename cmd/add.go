package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/telaman/tsync/internal/output"
)

var addCmd = &cobra.Command{
	Use:     "add <text>",
	Aliases: []string{"a"},
	Short:   "Add a task",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		it, err := svc.Tasks.Add(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if it.IsPlaceholder() {
			output.Warning("Offline: queued %q for sync", it.Text)
		} else {
			output.Success("Added %q", it.Text)
		}
		autoSyncAfterMutation(svc)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
}
