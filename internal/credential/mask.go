package credential

import (
	"strings"
	"unicode"
)

// Last4 returns the last four digits of a card number, ignoring spaces
// and dashes. Short inputs return whatever digits exist.
func Last4(cardNumber string) string {
	var digits strings.Builder
	for _, r := range cardNumber {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) <= 4 {
		return d
	}
	return d[len(d)-4:]
}

// MaskCardNumber renders a card number as ****1234.
func MaskCardNumber(cardNumber string) string {
	last := Last4(cardNumber)
	if last == "" {
		return ""
	}
	return "****" + last
}
