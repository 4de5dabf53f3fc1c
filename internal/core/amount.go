// Package core provides the ledger domain types and rules.
//
// This file contains amount parsing for the command payload boundary, where
// amounts arrive as either a JSON number or a decimal string.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseCreditAmount converts a payload amount string to whole credits.
//
// Credits are integer units; fractional, signed, or empty input is rejected.
// The result is always >= 0. Zero is legal at the parse boundary because
// UPDATE_MONTHLY_CREDITS uses 0 as the "disable automation" sentinel and the
// per-operation positivity check happens afterwards.
//
// Examples:
//
//	ParseCreditAmount("40") -> 40, nil
//	ParseCreditAmount("0")  -> 0, nil
//	ParseCreditAmount("-5") -> 0, ErrInvalidAmount
//	ParseCreditAmount("1.5") -> 0, ErrInvalidAmount
func ParseCreditAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// RequirePositiveAmount enforces the precondition shared by every
// balance-mutating operation: amount > 0.
func RequirePositiveAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
