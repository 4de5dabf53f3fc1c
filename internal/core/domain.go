package core

import (
	"errors"
	"strings"
	"time"
)

// TransactionType tags a credit_transactions row with the operation that
// produced it. The logged amount is signed by operation, not inferred from
// the type: ADD +n, REMOVE -n, MANUAL +n, MONTHLY_SETUP +n, MONTHLY_CANCEL 0.
const (
	TransactionAdd           TransactionType = "ADD"
	TransactionRemove        TransactionType = "REMOVE"
	TransactionManual        TransactionType = "MANUAL"
	TransactionMonthlySetup  TransactionType = "MONTHLY_SETUP"
	TransactionMonthlyCancel TransactionType = "MONTHLY_CANCEL"
)

type (
	TransactionType string

	// MemberBalance is one user_credits row: the credit balance of a member
	// within a team plus the monthly automation state. Owned by the ledger
	// engine; mutated only through ledger operations.
	MemberBalance struct {
		MemberID               string
		TeamID                 string
		Credits                int64
		MonthlyCredits         int64
		MonthlyCreditManagerID string
		LastMonthlyCreditDate  *time.Time
		UserName               string
		UserPictureURL         string
		CreatedAt              time.Time
		UpdatedAt              time.Time
	}

	// CreditTransaction is one append-only credit_transactions row. Rows are
	// never updated or deleted; the log is the source of truth for whether a
	// retried operation actually applied.
	CreditTransaction struct {
		ID           int64
		FromMemberID string
		ToMemberID   string
		TeamID       string
		Amount       int64
		Type         TransactionType
		CreatedAt    time.Time
	}

	// RosterEntry is a MemberBalance annotated with the query-time
	// needs-monthly-credits flag. The flag is derived, never persisted.
	RosterEntry struct {
		MemberBalance
		NeedsMonthlyCredits bool
	}
)

var (
	ErrInvalidAction     = errors.New("invalid action")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient credits")
	ErrMemberNotFound    = errors.New("member not found")
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionAdd, TransactionRemove, TransactionManual,
		TransactionMonthlySetup, TransactionMonthlyCancel:
		return true
	}
	return false
}

// ValidateID checks a member or team identifier: non-empty after trimming.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidPayload
	}
	return nil
}

func (m MemberBalance) Validate() error {
	if err := ValidateID(m.MemberID); err != nil {
		return errors.New("member id cannot be empty")
	}
	if err := ValidateID(m.TeamID); err != nil {
		return errors.New("team id cannot be empty")
	}
	if m.Credits < 0 {
		return errors.New("credits cannot be negative")
	}
	if m.MonthlyCredits < 0 {
		return errors.New("monthly credits cannot be negative")
	}
	if len(m.UserName) > 200 {
		return errors.New("user name too long (max 200 characters)")
	}
	return nil
}

// HasMonthlyAutomation reports whether a monthly credit automation is active
// for this member. monthly_credits == 0 is the disabled state.
func (m MemberBalance) HasMonthlyAutomation() bool {
	return m.MonthlyCredits > 0 && m.MonthlyCreditManagerID != ""
}
