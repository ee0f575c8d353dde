package export

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// columnLabels maps backend field keys to the headers shown in exports.
var columnLabels = map[string]string{
	"id":              "ID",
	"nombre":          "Nombre",
	"apellido":        "Apellido",
	"nombre_completo": "Nombre y apellido",
	"matricula":       "Matrícula",
	"matricula_prov":  "Matrícula provincial",
	"documento":       "DNI",
	"dni":             "DNI",
	"cuit":            "CUIT",
	"email":           "Email",
	"telefono":        "Teléfono",
	"celular":         "Celular",
	"domicilio":       "Domicilio",
	"localidad":       "Localidad",
	"provincia":       "Provincia",
	"especialidad_id": "Especialidad",
	"especialidades":  "Especialidades",
	"obra_social":     "Obra social",
	"obra_social_id":  "Obra social",
	"plan":            "Plan",
	"estado":          "Estado",
	"categoria":       "Categoría",
	"fecha_alta":      "Fecha de alta",
	"fecha_baja":      "Fecha de baja",
	"fecha_nac":       "Fecha de nacimiento",
	"anio":            "Año",
	"mes":             "Mes",
	"periodo":         "Período",
	"total_bruto":     "Total bruto",
	"total_debitos":   "Débitos",
	"total_neto":      "Total neto",
	"importe":         "Importe",
	"prestaciones":    "Prestaciones",
	"observaciones":   "Observaciones",
}

// Label returns the display header for a column key, or the key itself.
func Label(key string) string {
	if label, ok := columnLabels[key]; ok {
		return label
	}
	return key
}

// Labels resolves every column key.
func Labels(columns []string) []string {
	labels := make([]string, len(columns))
	for i, key := range columns {
		labels[i] = Label(key)
	}
	return labels
}

func isSpecialtyColumn(key string) bool {
	switch strings.ToLower(key) {
	case "especialidad_id", "especialidades":
		return true
	}
	return false
}

// lookup finds a field by key, then by its upper-cased variant.
func lookup(row map[string]any, key string) (any, bool) {
	if v, ok := row[key]; ok {
		return v, true
	}
	v, ok := row[strings.ToUpper(key)]
	return v, ok
}

// CellText renders one cell of an export.
func CellText(row map[string]any, key string, specialties map[string]string) string {
	value, ok := lookup(row, key)
	if !ok {
		return ""
	}
	if isSpecialtyColumn(key) {
		return specialtyNames(value, specialties)
	}
	return formatValue(value)
}

// specialtyNames resolves specialty ids through the side table, falling back
// to the raw id. When several specialties are present, "médico" is dropped
// unless that would leave none.
func specialtyNames(value any, table map[string]string) string {
	var names []string
	for _, item := range specialtyItems(value) {
		id := formatValue(item)
		if id == "" {
			continue
		}
		if name, ok := table[id]; ok && name != "" {
			names = append(names, name)
			continue
		}
		names = append(names, id)
	}

	if len(names) > 1 {
		kept := make([]string, 0, len(names))
		for _, name := range names {
			if !strings.EqualFold(strings.TrimSpace(name), "médico") {
				kept = append(kept, name)
			}
		}
		if len(kept) > 0 {
			names = kept
		}
	}
	return strings.Join(names, ", ")
}

func specialtyItems(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		items := make([]any, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				if name, ok := obj["nombre"]; ok {
					items = append(items, name)
					continue
				}
				item = obj["id"]
			}
			items = append(items, item)
		}
		return items
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items
	default:
		return []any{v}
	}
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		if v {
			return "Sí"
		}
		return "No"
	case fmt.Stringer:
		return v.String()
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := formatValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}

// numericValue reports whether a cell should be written as a number.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
