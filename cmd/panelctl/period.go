package main

import (
	"context"
	"fmt"
	"time"

	"colegio/panel/internal/backend"
	"github.com/spf13/cobra"
)

var periodCmd = &cobra.Command{
	Use:     "period",
	Short:   "Manage liquidation periods",
	GroupID: "data",
}

var periodCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a period, or show it if it already exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		year, _ := cmd.Flags().GetInt("year")
		month, _ := cmd.Flags().GetInt("month")

		ctx := context.Background()
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		period, created, err := client.CreatePeriod(ctx, year, month)
		if err != nil {
			return fmt.Errorf("creating period: %s", backend.UserMessage(err))
		}

		if jsonOutput {
			printJSON(map[string]any{"period": period, "created": created})
			return nil
		}
		if created {
			fmt.Printf("Created period %04d-%02d\n", period.Year, period.Month)
		} else {
			fmt.Printf("Period %04d-%02d already exists\n", period.Year, period.Month)
		}
		printPeriod(period)
		return nil
	},
}

var periodActionCmd = &cobra.Command{
	Use:       "action <id> <close|reopen|reinvoice>",
	Short:     "Apply a state transition to a period",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"close", "reopen", "reinvoice"},
	RunE: func(cmd *cobra.Command, args []string) error {
		action, ok := backend.ParsePeriodAction(args[1])
		if !ok {
			return fmt.Errorf("unknown action %q", args[1])
		}
		ctx := context.Background()
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		period, err := client.ApplyPeriodAction(ctx, args[0], action)
		if err != nil {
			return fmt.Errorf("applying %s: %s", args[1], backend.UserMessage(err))
		}
		if jsonOutput {
			printJSON(period)
			return nil
		}
		printPeriod(period)
		return nil
	},
}

func init() {
	now := time.Now()
	periodCreateCmd.Flags().Int("year", now.Year(), "period year")
	periodCreateCmd.Flags().Int("month", int(now.Month()), "period month (1-12)")

	periodCmd.AddCommand(periodCreateCmd)
	periodCmd.AddCommand(periodActionCmd)
}
