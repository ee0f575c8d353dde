package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Short:   "Check whether the configured credentials resolve to a session",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		user, ok := client.Bootstrap(ctx)
		if !ok {
			if jsonOutput {
				printJSON(map[string]any{"authenticated": false})
				return nil
			}
			return fmt.Errorf("no session")
		}
		if jsonOutput {
			printJSON(map[string]any{"authenticated": true, "user": user})
			return nil
		}
		fmt.Printf("ID:      %s\n", user.ID)
		if user.DisplayID != "" {
			fmt.Printf("Display: %s\n", user.DisplayID)
		}
		fmt.Printf("Name:    %s\n", user.Name)
		fmt.Printf("Role:    %s\n", user.Role)
		if len(user.Scopes) > 0 {
			fmt.Printf("Scopes:  %v\n", user.Scopes)
		}
		return nil
	},
}
