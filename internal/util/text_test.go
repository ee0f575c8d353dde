package util

import (
	"strings"
	"testing"
)

func TestFoldKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Médico  Pérez", "medico perez"},
		{"  GÓMEZ,\tAna ", "gomez, ana"},
		{"Núñez", "nunez"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FoldKey(tt.in); got != tt.want {
			t.Errorf("FoldKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewID(t *testing.T) {
	id := NewID("sid")
	if !strings.HasPrefix(id, "sid_") || len(id) != len("sid_")+32 {
		t.Fatalf("NewID() = %q", id)
	}
	if NewID("") == NewID("") {
		t.Fatal("ids should not repeat")
	}
}
