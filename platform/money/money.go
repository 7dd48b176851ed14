// Package money formats integer minor-unit currency amounts.
package money

import (
	"fmt"
	"strings"
)

// FormatBRL renders an amount in cents as Brazilian currency, e.g.
// 125000 -> "R$ 1.250,00".
func FormatBRL(cents int64) string {
	negative := cents < 0
	if negative {
		cents = -cents
	}

	reais := cents / 100
	rest := cents % 100

	digits := fmt.Sprintf("%d", reais)
	var groups []string
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)

	formatted := fmt.Sprintf("R$ %s,%02d", strings.Join(groups, "."), rest)
	if negative {
		return "-" + formatted
	}
	return formatted
}
