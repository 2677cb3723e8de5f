package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	MaxSymbolLength      = 12
	MaxUsernameLength    = 50
	MaxDisplayNameLength = 100
	MaxRationaleLength   = 1024
)

// Ticker symbols: letters, digits, and the separators Yahoo uses (BRK-B, BTC-USD, ^GSPC).
var symbolRegex = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.\-=^]*$`)

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks if a string's UTF-8 character count is within max bounds.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

// ValidatePositiveNumber checks that a numeric field is strictly greater than zero.
func ValidatePositiveNumber(v float64, fieldName string) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be greater than zero", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateSymbol checks that an uppercase ticker symbol is well formed.
func ValidateSymbol(s string) error {
	if err := ValidateStringNotEmpty(s, "Symbol"); err != nil {
		return err
	}
	if err := ValidateStringMaxLength(s, MaxSymbolLength, "Symbol"); err != nil {
		return err
	}
	if !symbolRegex.MatchString(s) {
		return fmt.Errorf("%w: Symbol ('%s') is not a valid ticker symbol", ErrValidationFailed, s)
	}
	return nil
}
