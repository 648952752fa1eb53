package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telaman/tsync/internal/output"
	"github.com/telaman/tsync/internal/store"
	"github.com/telaman/tsync/internal/syncconfig"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Create the config directory and local store",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := syncconfig.ConfigDir()
		if err != nil {
			return fmt.Errorf("config dir: %w", err)
		}

		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := syncconfig.SaveConfig(cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		st, err := store.Open(dir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		if _, err := syncconfig.GetDeviceID(); err != nil {
			return fmt.Errorf("device id: %w", err)
		}

		output.Success("Initialized %s", dir)
		output.Info("Server: %s", syncconfig.GetServerURL())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
