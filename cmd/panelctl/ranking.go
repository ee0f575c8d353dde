package main

import (
	"fmt"
	"os"

	"colegio/panel/internal/ranking"
	"github.com/spf13/cobra"
)

var rankingCmd = &cobra.Command{
	Use:     "ranking <file>",
	Short:   "Parse a ranking document (.docx, .xlsx, .pdf) and print its entries",
	GroupID: "data",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		result, err := ranking.Parse(args[0], data)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(result)
			return nil
		}
		if result.Warning != "" {
			fmt.Fprintln(os.Stderr, result.Warning)
			return nil
		}
		printRankingTable(result.Entries)
		return nil
	},
}
