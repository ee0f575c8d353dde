package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"colegio/panel/internal/backend"
	"github.com/google/go-cmp/cmp"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadRowsFile(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []map[string]any
	}{
		{
			name:    "bare array",
			content: `[{"id": 1, "nombre": "Ana"}, {"id": 2, "nombre": null}]`,
			want: []map[string]any{
				{"id": json.Number("1"), "nombre": "Ana"},
				{"id": json.Number("2"), "nombre": nil},
			},
		},
		{
			name:    "items envelope",
			content: ` {"items": [{"id": 7}], "total": 1}`,
			want:    []map[string]any{{"id": json.Number("7")}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := readRowsFile(writeTemp(t, "rows.json", tc.content))
			if err != nil {
				t.Fatalf("readRowsFile() error = %v", err)
			}
			if diff := cmp.Diff(tc.want, rows); diff != "" {
				t.Fatalf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := readRowsFile(writeTemp(t, "bad.json", `{"items": [`)); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestRowColumns(t *testing.T) {
	rows := []map[string]any{{"b": 1, "a": 2}, {"c": 3, "a": 4}}
	if diff := cmp.Diff([]string{"a", "b", "c"}, rowColumns(rows)); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRowsRequiresOneSource(t *testing.T) {
	if _, err := loadRows(t.Context(), "", "", backend.ListParams{}); err == nil {
		t.Fatal("expected an error without a source")
	}
	if _, err := loadRows(t.Context(), "rows.json", "socios", backend.ListParams{}); err == nil {
		t.Fatal("expected an error with two sources")
	}
}

func TestLoadSpecialties(t *testing.T) {
	got, err := loadSpecialties(writeTemp(t, "esp.json", `{"1": "Cardiología", "2": "Médico"}`))
	if err != nil {
		t.Fatalf("loadSpecialties() error = %v", err)
	}
	if got["1"] != "Cardiología" || len(got) != 2 {
		t.Fatalf("unexpected specialties %v", got)
	}
	if got, err := loadSpecialties(""); err != nil || got != nil {
		t.Fatalf("empty path should yield nil, got %v %v", got, err)
	}
}
