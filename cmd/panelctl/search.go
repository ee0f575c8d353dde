package main

import (
	"context"
	"fmt"
	"strings"

	"colegio/panel/internal/backend"
	"colegio/panel/internal/search"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	Short:   "Search rows from a JSON file or a backend resource",
	GroupID: "data",
	Args:    cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		input, _ := cmd.Flags().GetString("input")
		resource, _ := cmd.Flags().GetString("resource")
		status, _ := cmd.Flags().GetString("status")
		columns, _ := cmd.Flags().GetStringSlice("columns")

		ctx := context.Background()
		rows, err := loadRows(ctx, input, resource, backend.ListParams{Status: status})
		if err != nil {
			return err
		}

		worker := search.NewWorker()
		defer worker.Close()
		if _, err := worker.SetData(ctx, rows); err != nil {
			return err
		}
		match, err := worker.Search(ctx, query)
		if err != nil {
			return fmt.Errorf("searching rows: %w", err)
		}

		if jsonOutput {
			printJSON(match)
			return nil
		}
		printRowsTable(match.Rows, columns, nil)
		fmt.Printf("\n%d of %d rows match\n", len(match.Indices), len(rows))
		return nil
	},
}

func init() {
	searchCmd.Flags().String("input", "", "JSON file holding an array of rows")
	searchCmd.Flags().String("resource", "", "backend resource to fetch rows from")
	searchCmd.Flags().String("status", "", "status filter for --resource")
	searchCmd.Flags().StringSlice("columns", nil, "columns to print (default: all)")
}
