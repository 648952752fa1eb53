package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/telaman/tsync/internal/output"
	"github.com/telaman/tsync/internal/syncconfig"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage server authentication",
	GroupID: "system",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store credentials interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Print("Email: ")
		email, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(email)

		fmt.Print("Token: ")
		var token string
		if term.IsTerminal(int(os.Stdin.Fd())) {
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read token: %w", err)
			}
			token = string(raw)
		} else {
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read token: %w", err)
			}
			token = strings.TrimSpace(line)
		}
		if token == "" {
			return fmt.Errorf("token required")
		}

		return saveToken(token, email)
	},
}

var authTokenCmd = &cobra.Command{
	Use:   "token <token>",
	Short: "Store a bearer token non-interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return saveToken(args[0], "")
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			output.Error("logout: %v", err)
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil || creds == nil || creds.Token == "" {
			fmt.Println("Not authenticated.")
			return nil
		}
		output.Success("Authenticated against %s", syncconfig.GetServerURL())
		if creds.Email != "" {
			fmt.Printf("Email:  %s\n", creds.Email)
		}
		if creds.UserID != "" {
			fmt.Printf("User:   %s\n", creds.UserID)
		}
		fmt.Printf("Device: %s\n", creds.DeviceID)
		return nil
	},
}

func saveToken(token, email string) error {
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return fmt.Errorf("device id: %w", err)
	}

	creds := &syncconfig.AuthCredentials{
		Token:     token,
		Email:     email,
		ServerURL: syncconfig.GetServerURL(),
		DeviceID:  deviceID,
	}
	if err := syncconfig.SaveAuth(creds); err != nil {
		output.Error("save credentials: %v", err)
		return err
	}
	output.Success("Credentials saved. A running proxy picks them up automatically.")
	return nil
}

func init() {
	authCmd.AddCommand(authLoginCmd, authTokenCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
