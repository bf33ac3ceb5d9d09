// Package naming derives storage identifiers from model and field names.
package naming

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// CamelToSnake converts a CamelCase or lowerCamel string to snake_case.
// Consecutive uppercase letters (acronyms) are kept together:
// "ID" → "id", "ownerID" → "owner_id", "firstName" → "first_name".
func CamelToSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				next := rune(0)
				if i+1 < len(runes) {
					next = runes[i+1]
				}
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && unicode.IsLower(next)) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TableName infers a table name from a model name: snake_case, pluralized.
// "Person" → "people", "PetOwner" → "pet_owners".
func TableName(model string) string {
	return inflection.Plural(CamelToSnake(model))
}

// LowerCamel converts snake_case to lowerCamel: "parent_id" → "parentId".
func LowerCamel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 || b.Len() == 0 {
			b.WriteString(p)
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}
