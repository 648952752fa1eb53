package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/telaman/tsync/internal/output"
	"github.com/telaman/tsync/internal/syncconfig"
)

// daemonStatus mirrors the serve command's status endpoint payload.
type daemonStatus struct {
	Online     bool   `json:"online"`
	Pending    int    `json:"pending"`
	Generation string `json:"generation"`
	LastDrain  *struct {
		Attempted int    `json:"attempted"`
		Succeeded int    `json:"succeeded"`
		Failed    int    `json:"failed"`
		At        string `json:"at"`
	} `json:"last_drain"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show connectivity, queue depth, and auth state",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		if st, err := fetchDaemonStatus(); err == nil {
			fmt.Println(output.OnlineIndicator(st.Online))
			fmt.Printf("Proxy:      running (cache generation %s)\n", st.Generation)
			printPending(st.Pending)
			if d := st.LastDrain; d != nil {
				fmt.Printf("Last drain: %d/%d applied, %d kept (%s)\n",
					d.Succeeded, d.Attempted, d.Failed, d.At)
			}
		} else {
			fmt.Println("Proxy:      not running")
			printPending(svc.Tasks.Pending(cmd.Context()))
		}

		if syncconfig.IsAuthenticated() {
			output.Success("Authenticated against %s", syncconfig.GetServerURL())
		} else {
			output.Warning("Not authenticated (run: tsync auth token <token>)")
		}
		return nil
	},
}

func printPending(n int) {
	if n == 0 {
		fmt.Println("Queue:      empty")
		return
	}
	fmt.Println(output.PendingSummary(n))
}

// fetchDaemonStatus asks a running serve process for its view of the
// world. Failure just means no daemon is listening.
func fetchDaemonStatus() (*daemonStatus, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + syncconfig.GetProxyListen() + "/_tsync/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status: http %d", resp.StatusCode)
	}
	var st daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
