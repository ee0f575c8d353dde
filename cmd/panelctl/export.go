package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"colegio/panel/internal/assets"
	"colegio/panel/internal/backend"
	"colegio/panel/internal/export"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export rows to CSV, XLSX or a PDF bulletin",
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		title, _ := cmd.Flags().GetString("title")
		columns, _ := cmd.Flags().GetStringSlice("columns")
		input, _ := cmd.Flags().GetString("input")
		resource, _ := cmd.Flags().GetString("resource")
		status, _ := cmd.Flags().GetString("status")
		query, _ := cmd.Flags().GetString("q")
		specialtiesFile, _ := cmd.Flags().GetString("specialties")
		logoPath, _ := cmd.Flags().GetString("logo")
		outDir, _ := cmd.Flags().GetString("out")

		ctx := context.Background()
		rows, err := loadRows(ctx, input, resource, backend.ListParams{Status: status, Query: query})
		if err != nil {
			return err
		}
		specialties, err := loadSpecialties(specialtiesFile)
		if err != nil {
			return err
		}

		var logo export.LogoSource
		if logoPath != "" {
			logo = assets.LocalSource{Path: logoPath}
		}
		svc := export.NewService(logo, cfg.BulletinSource, export.ChromiumRenderer(cfg.ChromiumTimeout))
		result, err := svc.Export(ctx, export.Request{
			Format:      export.Format(format),
			Title:       title,
			Columns:     columns,
			Rows:        rows,
			Specialties: specialties,
			IncludeLogo: logo != nil,
		})
		if err != nil {
			return fmt.Errorf("exporting: %w", err)
		}

		path := filepath.Join(outDir, result.Filename)
		if err := os.WriteFile(path, result.Data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if jsonOutput {
			printJSON(map[string]any{"path": path, "bytes": len(result.Data), "rows": len(rows)})
			return nil
		}
		fmt.Printf("Wrote %s (%d rows)\n", path, len(rows))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "xlsx", "output format: csv, xlsx or pdf")
	exportCmd.Flags().StringP("title", "t", "Exportación", "report title")
	exportCmd.Flags().StringSliceP("columns", "c", nil, "columns to export, in order")
	exportCmd.Flags().String("input", "", "JSON file holding an array of rows")
	exportCmd.Flags().String("resource", "", "backend resource to fetch rows from")
	exportCmd.Flags().String("status", "", "status filter for --resource")
	exportCmd.Flags().String("q", "", "text filter for --resource")
	exportCmd.Flags().String("specialties", "", "JSON file mapping specialty ids to names")
	exportCmd.Flags().String("logo", cfg.LogoPath, "logo image to embed")
	exportCmd.Flags().StringP("out", "o", ".", "output directory")
	_ = exportCmd.MarkFlagRequired("columns")
}
