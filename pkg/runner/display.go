package runner

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// DisplayName renders a dotted aggregate or command type name (e.g.
// "ledger.account.opened") as a human-readable title for startup and
// health-check log lines (e.g. "Ledger Account Opened").
func DisplayName(typeName string) string {
	words := strings.FieldsFunc(typeName, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	return titleCaser.String(strings.Join(words, " "))
}
