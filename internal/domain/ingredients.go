package domain

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxIngredientChars bounds the raw ingredient blob, counted in characters.
const MaxIngredientChars = 1000

// IngredientList is an ordered, immutable list of non-empty ingredient lines.
type IngredientList struct {
	items []string
}

// ParseIngredients splits raw on line breaks, trims every line and drops
// blank ones. The length limit applies to raw as typed, surrounding
// whitespace included. maxChars <= 0 falls back to MaxIngredientChars.
func ParseIngredients(raw string, maxChars int) (IngredientList, error) {
	if maxChars <= 0 {
		maxChars = MaxIngredientChars
	}
	if utf8.RuneCountInString(raw) > maxChars {
		return IngredientList{}, NewValidationError("ingredients", "ingredients exceed the maximum length")
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IngredientList{}, NewValidationError("ingredients", "ingredients are required")
	}
	normalized := norm.NFC.String(strings.ReplaceAll(trimmed, "\r\n", "\n"))
	lines := strings.FieldsFunc(normalized, func(r rune) bool { return r == '\n' || r == '\r' })
	items := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			items = append(items, line)
		}
	}
	if len(items) == 0 {
		return IngredientList{}, NewValidationError("ingredients", "no ingredients found")
	}
	return IngredientList{items: items}, nil
}

// Items returns a copy of the ingredient lines.
func (l IngredientList) Items() []string {
	out := make([]string, len(l.items))
	copy(out, l.items)
	return out
}

func (l IngredientList) Len() int { return len(l.items) }

// String joins the ingredients with line breaks.
func (l IngredientList) String() string { return strings.Join(l.items, "\n") }
