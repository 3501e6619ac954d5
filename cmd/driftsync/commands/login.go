package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/cli/prompt"
	"github.com/driftsync/driftsync/pkg/client"
)

var (
	loginUsername string
	loginServer   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to a DriftSync server",
	Long: `Authenticate against a DriftSync server and store the session.

The access and refresh tokens are written to client.properties; the client
id is derived from the username so a reinstall resumes the same sync
history.

Examples:
  # Interactive login
  driftsync login

  # Non-interactive username, prompted password
  driftsync login --username alice --server https://sync.example.com/api`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Username")
	loginCmd.Flags().StringVar(&loginServer, "server", "", "Server API URL (e.g. https://sync.example.com/api)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if loginServer != "" {
		cfg.ServerURL = loginServer
	}

	username := loginUsername
	if username == "" {
		username, err = prompt.InputRequired("Username")
		if err != nil {
			return err
		}
	}
	password, err := prompt.Password("Password")
	if err != nil {
		return err
	}

	api := client.NewAPI(cfg.ServerURL, "", "")
	pair, err := api.Login(cmd.Context(), username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cfg.ApplyLogin(username, pair.AccessToken, pair.RefreshToken)
	if err := client.SaveConfig(cfg, configPath()); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s\n", username)
	fmt.Printf("Sync directory: %s\n", cfg.SyncPath)
	fmt.Println("\nRun 'driftsync start' to begin syncing")
	return nil
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and discard the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Username == "" {
			fmt.Println("Not logged in")
			return nil
		}

		ok, err := prompt.Confirm(fmt.Sprintf("Log out %s", cfg.Username), false)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		cfg.ClearLogin()
		if err := client.SaveConfig(cfg, configPath()); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a new account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if loginServer != "" {
			cfg.ServerURL = loginServer
		}

		username, err := prompt.InputRequired("Username")
		if err != nil {
			return err
		}
		email, err := prompt.Input("Email", "")
		if err != nil {
			return err
		}
		password, err := prompt.PasswordWithValidation("Password", 8)
		if err != nil {
			return err
		}
		confirm, err := prompt.Password("Confirm password")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}

		api := client.NewAPI(cfg.ServerURL, "", "")
		if err := api.Register(cmd.Context(), username, email, password); err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		fmt.Printf("Account %s created\n", username)
		fmt.Println("Run 'driftsync login' to start a session")
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&loginServer, "server", "", "Server API URL")
}
