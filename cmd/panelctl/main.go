package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"colegio/panel/internal/backend"
	"colegio/panel/internal/config"
	"github.com/spf13/cobra"
)

var cfg = config.Load()

var (
	backendURL string
	token      string
	username   string
	password   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "panelctl <command>",
	Short:         "Command-line tools for the college admin panel",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", cfg.BackendURL, "backend base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("PANEL_TOKEN"), "bearer token for the backend")
	rootCmd.PersistentFlags().StringVar(&username, "user", os.Getenv("PANEL_USER"), "username to log in with when no token is given")
	rootCmd.PersistentFlags().StringVar(&password, "password", os.Getenv("PANEL_PASSWORD"), "password for --user")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Data
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(rankingCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(periodCmd)

	// System
	rootCmd.AddCommand(sessionCmd)
}

// newClient builds a backend client from --token, or logs in with --user.
func newClient(ctx context.Context) (*backend.Client, error) {
	client, err := backend.New(backend.Options{
		BaseURL:    backendURL,
		CSRFCookie: cfg.CSRFCookie,
		CSRFHeader: cfg.CSRFHeader,
		Timeout:    cfg.RequestTimeout,
	}, backend.NewCredentials(strings.TrimSpace(token), nil))
	if err != nil {
		return nil, err
	}
	if token == "" && username != "" {
		if _, err := client.Login(ctx, username, password); err != nil {
			return nil, fmt.Errorf("login as %s: %s", username, backend.UserMessage(err))
		}
	}
	return client, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
