package ranking

import (
	"strings"

	"colegio/panel/internal/util"
)

// bannedPhrases are headers and footers that leak into extracted text. A
// name containing one of them is never an entity.
var bannedPhrases = []string{
	"ranking por importe",
	"total general",
	"importe total",
	"pagina ",
}

// bannedNames are column headers that must not be taken as a name on their own.
var bannedNames = map[string]bool{
	"nombre":            true,
	"apellido y nombre": true,
	"prestador":         true,
	"profesional":       true,
	"importe":           true,
	"total":             true,
	"consulta":          true,
	"consultas":         true,
	"ranking":           true,
}

func containsBannedPhrase(s string) bool {
	folded := util.FoldKey(s) + " "
	for _, phrase := range bannedPhrases {
		if strings.Contains(folded, phrase) {
			return true
		}
	}
	return false
}

func isBannedName(s string) bool {
	return containsBannedPhrase(s) || bannedNames[util.FoldKey(s)]
}

// Clean normalizes names, drops banned and non-positive entries, and merges
// entries whose names differ only in case, accents or spacing, keeping the
// largest amount. First-appearance order is preserved.
func Clean(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	position := map[string]int{}
	for _, e := range entries {
		name := strings.Trim(util.CollapseSpace(e.Name), " -–:.")
		if name == "" || isBannedName(name) || !e.Amount.IsPositive() {
			continue
		}

		key := util.FoldKey(name)
		if i, ok := position[key]; ok {
			if e.Amount.GreaterThan(out[i].Amount) {
				out[i].Amount = e.Amount
			}
			continue
		}
		position[key] = len(out)
		out = append(out, Entry{Name: name, Amount: e.Amount})
	}
	return out
}
