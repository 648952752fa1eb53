package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telaman/tsync/internal/output"
)

var listRefresh bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks from the local mirror",
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx := cmd.Context()
		if listRefresh {
			if _, err := svc.Tasks.Refresh(ctx); err != nil {
				output.Warning("Refresh failed, showing cached tasks: %v", err)
			}
		}

		items := svc.Tasks.List(ctx)
		if len(items) == 0 {
			fmt.Println("No tasks.")
			return nil
		}
		for _, it := range items {
			fmt.Println(output.ItemWithID(it))
		}
		if n := svc.Tasks.Pending(ctx); n > 0 {
			fmt.Println(output.PendingSummary(n))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listRefresh, "refresh", "r", false, "fetch from the server before listing")
	rootCmd.AddCommand(listCmd)
}
