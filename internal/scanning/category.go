package scanning

import "strings"

// Category is the coarse document taxonomy
type Category string

const (
	CategoryTransport Category = "Transport"
	CategoryStay      Category = "Stay"
	CategoryActivity  Category = "Activity"
	CategoryReceipt   Category = "Receipt"
	CategoryOther     Category = "Other"
)

// Categories lists every valid category in display order
var Categories = []Category{
	CategoryTransport,
	CategoryStay,
	CategoryActivity,
	CategoryReceipt,
	CategoryOther,
}

// legacyCategories folds the finer-grained kinds older prompts produced into the
// coarse set. The kind itself survives as the sub-category.
var legacyCategories = map[string]Category{
	"flight":  CategoryTransport,
	"train":   CategoryTransport,
	"bus":     CategoryTransport,
	"taxi":    CategoryTransport,
	"car":     CategoryTransport,
	"hotel":   CategoryStay,
	"event":   CategoryActivity,
	"concert": CategoryActivity,
	"tour":    CategoryActivity,
}

// Valid reports whether c is one of Categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory maps a model-supplied value onto the closed set. The second return
// value is the sub-category implied by a legacy kind ("Flight" -> Transport, "Flight").
// Unknown or empty values map to CategoryOther.
func ParseCategory(value string) (Category, string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return CategoryOther, ""
	}

	for _, known := range Categories {
		if strings.EqualFold(value, string(known)) {
			return known, ""
		}
	}

	if c, ok := legacyCategories[strings.ToLower(value)]; ok {
		return c, titleCase(value)
	}

	return CategoryOther, ""
}

func titleCase(s string) string {
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
