package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"colegio/panel/internal/backend"
	"colegio/panel/internal/export"
	"colegio/panel/internal/ranking"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printPeriod(p backend.Period) {
	fmt.Printf("ID:          %s\n", p.ID)
	fmt.Printf("Period:      %04d-%02d\n", p.Year, p.Month)
	fmt.Printf("Status:      %s\n", p.Status)
	fmt.Printf("Gross:       %s\n", p.Gross.StringFixed(2))
	fmt.Printf("Deductions:  %s\n", p.Deductions.StringFixed(2))
	fmt.Printf("Net:         %s\n", p.Net.StringFixed(2))
}

func printRankingTable(entries []ranking.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tAMOUNT")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, e.Name, e.Amount.StringFixed(2))
	}
	w.Flush()
	fmt.Printf("\n%d entries\n", len(entries))
}

func printRowsTable(rows []map[string]any, columns []string, specialties map[string]string) {
	if len(columns) == 0 {
		columns = rowColumns(rows)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(export.Labels(columns), "\t")))
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, key := range columns {
			cell := export.CellText(row, key, specialties)
			if len(cell) > 40 {
				cell = cell[:37] + "..."
			}
			cells[i] = cell
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
}

// rowColumns is the sorted union of keys across rows.
func rowColumns(rows []map[string]any) []string {
	seen := map[string]bool{}
	var columns []string
	for _, row := range rows {
		for key := range row {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

// loadRows reads rows from a JSON file, or from a backend resource.
func loadRows(ctx context.Context, input, resource string, params backend.ListParams) ([]map[string]any, error) {
	switch {
	case input != "" && resource != "":
		return nil, errors.New("use either --input or --resource, not both")
	case input != "":
		return readRowsFile(input)
	case resource != "":
		client, err := newClient(ctx)
		if err != nil {
			return nil, err
		}
		rows, err := client.ListAll(ctx, resource, params)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %s", resource, backend.UserMessage(err))
		}
		return rows, nil
	default:
		return nil, errors.New("one of --input or --resource is required")
	}
}

// readRowsFile accepts a bare array of rows or an {items: [...]} envelope.
func readRowsFile(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	rows, err := decodeRows(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rows, nil
}

func decodeRows(data []byte) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(data))
	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.UseNumber()
	if strings.HasPrefix(trimmed, "[") {
		var rows []map[string]any
		if err := decoder.Decode(&rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	var envelope struct {
		Items []map[string]any `json:"items"`
	}
	if err := decoder.Decode(&envelope); err != nil {
		return nil, err
	}
	return envelope.Items, nil
}

func loadSpecialties(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var specialties map[string]string
	if err := json.Unmarshal(data, &specialties); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return specialties, nil
}
