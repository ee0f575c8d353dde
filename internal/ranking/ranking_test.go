package ranking

import (
	"archive/zip"
	"bytes"
	"errors"
	"encoding/binary"
	"html"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ledongthuc/pdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// entriesEqual compares entries by name and decimal value.
var entriesEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func buildDOCX(t *testing.T, paragraphs []string) []byte {
	t.Helper()
	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
		body.WriteString(html.EscapeString(p))
		body.WriteString(`</w:t></w:r></w:p>`)
	}
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var sampleLines = []string{
	"Colegio Médico - Liquidación julio 2025",
	"1 - PEREZ JUAN",
	"Especialidad: Cardiología",
	"Consulta ambulatoria ........ $ 12.345,67",
	"2 – GOMEZ ANA",
	"Consulta $ 9.800",
	"3 - SIN IMPORTE",
	"Observaciones varias",
}

func TestParseLinesStateMachine(t *testing.T) {
	got := ParseLines(sampleLines)
	want := []Entry{
		{Name: "PEREZ JUAN", Amount: dec("12345.67")},
		{Name: "GOMEZ ANA", Amount: dec("9800")},
	}
	if diff := cmp.Diff(want, got, entriesEqual); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLinesHeadingWithoutName(t *testing.T) {
	got := ParseLines([]string{"4 -", "LOPEZ MARIA", "Consulta $ 500"})
	if len(got) != 1 || got[0].Name != "LOPEZ MARIA" {
		t.Fatalf("got %+v", got)
	}
}

func TestParseLinesCurrencyWithoutHeadingIgnored(t *testing.T) {
	if got := ParseLines([]string{"Consulta $ 500", "texto"}); len(got) != 0 {
		t.Fatalf("expected nothing, got %+v", got)
	}
}

func TestBannedPhraseNeverProducesEntry(t *testing.T) {
	noise := []string{
		"RANKING POR IMPORTE - Periodo 07/2025",
		"5 - Ranking por importe",
		"Consulta ranking por importe $ 999",
	}
	base := Clean(ParseLines(sampleLines))

	for _, line := range noise {
		for pos := 0; pos <= len(sampleLines); pos++ {
			lines := append(append(append([]string{}, sampleLines[:pos]...), line), sampleLines[pos:]...)

			fromLines := Clean(ParseLines(lines))
			if diff := cmp.Diff(base, fromLines, entriesEqual); diff != "" {
				t.Fatalf("noise %q at %d changed output (-want +got):\n%s", line, pos, diff)
			}

			res, err := Parse("ranking.docx", buildDOCX(t, lines))
			if err != nil {
				t.Fatalf("Parse docx: %v", err)
			}
			for _, e := range res.Entries {
				if strings.Contains(strings.ToLower(e.Name), "ranking por importe") {
					t.Fatalf("banned phrase leaked into %+v", e)
				}
			}
			if diff := cmp.Diff(base, res.Entries, entriesEqual); diff != "" {
				t.Fatalf("docx noise %q at %d changed output (-want +got):\n%s", line, pos, diff)
			}
		}
	}
}

func TestCleanDedupKeepsMax(t *testing.T) {
	orders := [][]Entry{
		{{Name: "Pérez  Juan", Amount: dec("100")}, {Name: "PEREZ JUAN", Amount: dec("250")}},
		{{Name: "PEREZ JUAN", Amount: dec("250")}, {Name: "perez juan", Amount: dec("100")}},
	}
	for i, entries := range orders {
		got := Clean(entries)
		if len(got) != 1 {
			t.Fatalf("order %d: expected one entry, got %+v", i, got)
		}
		if !got[0].Amount.Equal(dec("250")) {
			t.Fatalf("order %d: amount = %s, want 250", i, got[0].Amount)
		}
	}
}

func TestCleanDropsInvalid(t *testing.T) {
	got := Clean([]Entry{
		{Name: "Total", Amount: dec("1000")},
		{Name: "", Amount: dec("10")},
		{Name: "Cero", Amount: dec("0")},
		{Name: "Negativo", Amount: dec("-5")},
		{Name: " - Válido: ", Amount: dec("1")},
	})
	want := []Entry{{Name: "Válido", Amount: dec("1")}}
	if diff := cmp.Diff(want, got, entriesEqual); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"$ 12.345,67", "12345.67", true},
		{"12,345.67", "12345.67", true},
		{"1.234.567", "1234567", true},
		{"1.500", "1500", true},
		{"1500.5", "1500.5", true},
		{"1500,5", "1500.5", true},
		{"1,500", "1500", true},
		{"$-200,00", "-200", true},
		{"$", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseAmount(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(dec(tt.want)) {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"Ranking por importe"},
		{"#", "Prestador", "Consultas", "Importe"},
		{1, "Pérez Juan", 12, 1500.5},
		{2, "Gómez Ana", 3, "$ 2.300,00"},
		{3, "Sin importe", 0, ""},
		{4, "PEREZ JUAN", 1, 2000},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	res, err := Parse("Ranking.XLSX", buf.Bytes())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []Entry{
		{Name: "Pérez Juan", Amount: dec("2000")},
		{Name: "Gómez Ana", Amount: dec("2300")},
	}
	if diff := cmp.Diff(want, res.Entries, entriesEqual); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if res.Warning != "" || res.Format != "xlsx" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTextLinesGroupsByBaseline(t *testing.T) {
	items := []pdf.Text{
		{S: "Consulta", X: 72, Y: 680, W: 40, FontSize: 10},
		{S: "1", X: 72, Y: 700, W: 5, FontSize: 10},
		{S: "-", X: 80, Y: 700.5, W: 4, FontSize: 10},
		{S: "PEREZ", X: 88, Y: 700, W: 30, FontSize: 10},
		{S: "JUAN", X: 121, Y: 699.4, W: 24, FontSize: 10},
		{S: "$", X: 200, Y: 680, W: 5, FontSize: 10},
		{S: "1.000,50", X: 210, Y: 680, W: 40, FontSize: 10},
	}
	want := []string{"1 - PEREZ JUAN", "Consulta $ 1.000,50"}
	if diff := cmp.Diff(want, TextLines(items)); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}

	glyphs := []pdf.Text{
		{S: "A", X: 10, Y: 100, W: 6, FontSize: 10},
		{S: "n", X: 16, Y: 100, W: 5, FontSize: 10},
		{S: "a", X: 21, Y: 100, W: 5, FontSize: 10},
	}
	if got := TextLines(glyphs); len(got) != 1 || got[0] != "Ana" {
		t.Fatalf("adjacent glyphs should join without spaces, got %q", got)
	}

	entries := ParseLines(TextLines(items))
	if len(entries) != 1 || entries[0].Name != "PEREZ JUAN" || !entries[0].Amount.Equal(dec("1000.50")) {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestParseUnsupportedFormat(t *testing.T) {
	_, err := Parse("ranking.txt", []byte("x"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if !strings.Contains(err.Error(), ".txt") {
		t.Fatalf("message should name the extension: %q", err.Error())
	}
}

func TestParseEmptyIsWarningNotError(t *testing.T) {
	res, err := Parse("vacio.docx", buildDOCX(t, []string{"Sin datos"}))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Entries) != 0 || res.Warning != NoEntriesWarning {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestParseCorruptFiles(t *testing.T) {
	for _, name := range []string{"x.docx", "x.xlsx", "x.xls", "x.pdf"} {
		if _, err := Parse(name, []byte("not a real file")); err == nil {
			t.Errorf("Parse(%s) expected error for corrupt input", name)
		}
	}
}

func TestParsePDFFixture(t *testing.T) {
	data, err := os.ReadFile("testdata/ranking.pdf")
	if err != nil {
		t.Fatal(err)
	}
	res, err := Parse("ranking.pdf", data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	// The header and page footers are skipped, RIOS PEDRO closes on the
	// second page, the repeated PEREZ JUAN keeps its larger amount and the
	// trailing heading without an amount is dropped.
	want := []Entry{
		{Name: "PEREZ JUAN", Amount: dec("12345.67")},
		{Name: "GOMEZ ANA", Amount: dec("9800")},
		{Name: "RIOS PEDRO", Amount: dec("1500.50")},
	}
	if diff := cmp.Diff(want, res.Entries, entriesEqual); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if res.Format != "pdf" || res.Warning != "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestParseXLSFixture(t *testing.T) {
	data, err := os.ReadFile("testdata/ranking.xls")
	if err != nil {
		t.Fatal(err)
	}
	res, err := Parse("Ranking.XLS", data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	// Shared strings split across a CONTINUE record, wide and 8-bit labels,
	// RK, MULRK, NUMBER and formula results all feed the same row rule.
	want := []Entry{
		{Name: "Pérez Juan", Amount: dec("2000")},
		{Name: "Gómez Ana", Amount: dec("2300")},
		{Name: "Ríos Pedro", Amount: dec("750.25")},
		{Name: "López María", Amount: dec("987.65")},
	}
	if diff := cmp.Diff(want, res.Entries, entriesEqual); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if res.Format != "xls" || res.Warning != "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestParseXLSWithOOXMLContent(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetRow("Sheet1", "A1", &[]any{"Pérez Juan", 1500.5}); err != nil {
		t.Fatal(err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	res, err := Parse("exportado.xls", buf.Bytes())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []Entry{{Name: "Pérez Juan", Amount: dec("1500.5")}}
	if diff := cmp.Diff(want, res.Entries, entriesEqual); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestParseXLSDamagedFiles(t *testing.T) {
	data, err := os.ReadFile("testdata/ranking.xls")
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string][]byte{
		"header only":   data[:512],
		"ole garbage":   append(append([]byte{}, data[:512]...), bytes.Repeat([]byte{0xAB}, 2048)...),
		"half a stream": data[:len(data)-2000],
	}
	// The shared string table starts 39 bytes into the workbook stream,
	// which begins at sector 2.
	huge := append([]byte{}, data...)
	binary.LittleEndian.PutUint32(huge[1536+39+4+4:], 0xFFFFFFFF)
	cases["oversized string table"] = huge
	noSheet := append([]byte{}, data...)
	binary.LittleEndian.PutUint32(noSheet[1536+20+4:], 1<<30)
	cases["sheet past stream"] = noSheet

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("ranking.xls", payload)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrUnsupportedFormat) {
				t.Fatalf("damaged file reported as unsupported: %v", err)
			}
		})
	}

	for n := 0; n < len(data); n += 101 {
		if _, err := Parse("ranking.xls", data[:n]); err == nil {
			t.Fatalf("truncated at %d bytes: expected error", n)
		}
	}
}

func TestRKValue(t *testing.T) {
	cases := []struct {
		rk   uint32
		want float64
	}{
		{rk: 1<<2 | 2, want: 1},
		{rk: 98765<<2 | 3, want: 987.65},
		{rk: 0x3FF80000, want: 1.5},
		{rk: 0xFFFFFFF6, want: -3},
	}
	for _, tc := range cases {
		if got := rkValue(tc.rk); got != tc.want {
			t.Errorf("rkValue(%#x) = %v, want %v", tc.rk, got, tc.want)
		}
	}
}
