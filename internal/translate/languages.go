package translate

import (
	"maps"
	"slices"
)

// Languages maps language codes to the display names used in prompts.
type Languages map[string]string

// DefaultLanguages returns the built-in table.
func DefaultLanguages() Languages {
	return Languages{
		"ml": "Malayalam",
		"mr": "Marathi",
		"hi": "Hindi",
		"en": "English",
	}
}

// Merge returns a copy of l with overrides applied on top.
func (l Languages) Merge(overrides map[string]string) Languages {
	out := maps.Clone(l)
	if out == nil {
		out = Languages{}
	}
	for code, name := range overrides {
		out[code] = name
	}
	return out
}

// Name returns the display name for code. An unknown code is its own label.
func (l Languages) Name(code string) string {
	if name, ok := l[code]; ok {
		return name
	}
	return code
}

// Supported reports whether code has an explicit entry.
func (l Languages) Supported(code string) bool {
	_, ok := l[code]
	return ok
}

// Codes returns the known codes in sorted order.
func (l Languages) Codes() []string {
	return slices.Sorted(maps.Keys(l))
}
