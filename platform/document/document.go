// Package document provides Brazilian debtor identifier utilities.
// This is part of the platform layer and contains no business logic.
package document

import "strings"

// Kind classifies a debtor identifier.
type Kind string

const (
	KindCPF        Kind = "CPF"
	KindCNPJ       Kind = "CNPJ"
	KindClientCode Kind = "CLIENT_CODE"
)

const (
	cpfLength  = 11
	cnpjLength = 14

	// Opaque client codes are accepted as a fallback when check digits
	// fail but the identifier is numeric and of plausible length.
	clientCodeMinLength = 4
	clientCodeMaxLength = 20
)

// Normalize strips formatting punctuation, keeping digits only.
func Normalize(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Classify normalizes an identifier and determines its kind.
// A CPF or CNPJ must pass check-digit validation; anything else that is
// numeric and of plausible length is accepted as an opaque client code.
// Returns ok=false when the identifier is unusable.
func Classify(input string) (Kind, string, bool) {
	normalized := Normalize(input)
	if normalized == "" {
		return "", "", false
	}

	switch {
	case len(normalized) == cpfLength && ValidCPF(normalized):
		return KindCPF, normalized, true
	case len(normalized) == cnpjLength && ValidCNPJ(normalized):
		return KindCNPJ, normalized, true
	case len(normalized) >= clientCodeMinLength && len(normalized) <= clientCodeMaxLength:
		return KindClientCode, normalized, true
	default:
		return "", "", false
	}
}

// ValidCPF validates the two CPF check digits. Input must be digits only.
func ValidCPF(digits string) bool {
	if len(digits) != cpfLength || allSameDigit(digits) {
		return false
	}

	d1 := cpfCheckDigit(digits, 9, 10)
	if d1 != int(digits[9]-'0') {
		return false
	}
	d2 := cpfCheckDigit(digits, 10, 11)
	return d2 == int(digits[10]-'0')
}

func cpfCheckDigit(digits string, length, startWeight int) int {
	sum := 0
	for i := 0; i < length; i++ {
		sum += int(digits[i]-'0') * (startWeight - i)
	}
	rest := (sum * 10) % 11
	if rest == 10 {
		return 0
	}
	return rest
}

// ValidCNPJ validates the two CNPJ check digits. Input must be digits only.
func ValidCNPJ(digits string) bool {
	if len(digits) != cnpjLength || allSameDigit(digits) {
		return false
	}

	firstWeights := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	if cnpjCheckDigit(digits, firstWeights) != int(digits[12]-'0') {
		return false
	}
	secondWeights := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	return cnpjCheckDigit(digits, secondWeights) == int(digits[13]-'0')
}

func cnpjCheckDigit(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	rest := sum % 11
	if rest < 2 {
		return 0
	}
	return 11 - rest
}

func allSameDigit(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}
