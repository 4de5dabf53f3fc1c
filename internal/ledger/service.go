// Package ledger implements the credit ledger engine: the balance-mutating
// operations and their preconditions. Each operation validates its inputs,
// delegates the atomic balance+log write to storage, and announces the
// committed transaction on the event stream.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/martinsvarc/creditmanagement/internal/amqp"
	"github.com/martinsvarc/creditmanagement/internal/core"
	"github.com/martinsvarc/creditmanagement/internal/storage"
)

// Service orchestrates ledger operations across storage and AMQP.
type Service struct {
	storage    *storage.LedgerRepository
	amqpClient *amqp.Client
}

func NewService(storage *storage.LedgerRepository, amqpClient *amqp.Client) *Service {
	return &Service{
		storage:    storage,
		amqpClient: amqpClient,
	}
}

// AddCredits mints amount credits onto a member's balance. Requires a
// positive amount; there is no source-of-funds check.
func (s *Service) AddCredits(ctx context.Context, memberID, teamID string, amount int64) error {
	if err := validateParties(teamID, memberID); err != nil {
		return err
	}
	if err := core.RequirePositiveAmount(amount); err != nil {
		return err
	}

	txID, err := s.storage.AddCredits(ctx, memberID, teamID, amount)
	if err != nil {
		return fmt.Errorf("add credits: %w", err)
	}

	s.publishEvent(ctx, txID, teamID, core.TransactionAdd, amount)
	return nil
}

// RemoveCredits withdraws amount credits, failing with ErrInsufficientFunds
// when the balance cannot cover it. No write happens on failure.
func (s *Service) RemoveCredits(ctx context.Context, memberID, teamID string, amount int64) error {
	if err := validateParties(teamID, memberID); err != nil {
		return err
	}
	if err := core.RequirePositiveAmount(amount); err != nil {
		return err
	}

	txID, err := s.storage.RemoveCredits(ctx, memberID, teamID, amount)
	if err != nil {
		return fmt.Errorf("remove credits: %w", err)
	}

	s.publishEvent(ctx, txID, teamID, core.TransactionRemove, -amount)
	return nil
}

// TransferCredits moves amount credits from one member to another within a
// team. The sender must cover the amount; self-transfers are rejected.
func (s *Service) TransferCredits(ctx context.Context, fromMemberID, toMemberID, teamID string, amount int64) error {
	if err := validateParties(teamID, fromMemberID, toMemberID); err != nil {
		return err
	}
	if fromMemberID == toMemberID {
		return fmt.Errorf("transfer to self: %w", core.ErrInvalidPayload)
	}
	if err := core.RequirePositiveAmount(amount); err != nil {
		return err
	}

	txID, err := s.storage.TransferCredits(ctx, fromMemberID, toMemberID, teamID, amount)
	if err != nil {
		return fmt.Errorf("transfer credits: %w", err)
	}

	s.publishEvent(ctx, txID, teamID, core.TransactionManual, amount)
	return nil
}

// SetupMonthlyAutomation enables monthly credits for a member, funded by the
// manager, and performs the first grant immediately.
func (s *Service) SetupMonthlyAutomation(ctx context.Context, managerID, memberID, teamID string, amount int64) error {
	if err := validateParties(teamID, managerID, memberID); err != nil {
		return err
	}
	if managerID == memberID {
		return fmt.Errorf("automation funded by its own member: %w", core.ErrInvalidPayload)
	}
	if err := core.RequirePositiveAmount(amount); err != nil {
		return err
	}

	txID, err := s.storage.SetupMonthlyAutomation(ctx, managerID, memberID, teamID, amount)
	if err != nil {
		return fmt.Errorf("setup monthly automation: %w", err)
	}

	s.publishEvent(ctx, txID, teamID, core.TransactionMonthlySetup, amount)
	return nil
}

// CancelMonthlyAutomation disables monthly credits for a member. Balances
// are unchanged; the zero-amount marker row records who cancelled.
func (s *Service) CancelMonthlyAutomation(ctx context.Context, managerID, memberID, teamID string) error {
	if err := validateParties(teamID, managerID, memberID); err != nil {
		return err
	}

	txID, err := s.storage.CancelMonthlyAutomation(ctx, managerID, memberID, teamID)
	if err != nil {
		return fmt.Errorf("cancel monthly automation: %w", err)
	}

	s.publishEvent(ctx, txID, teamID, core.TransactionMonthlyCancel, 0)
	return nil
}

// UpsertMember provisions a member or refreshes display fields; existing
// balances are never reset.
func (s *Service) UpsertMember(ctx context.Context, member core.MemberBalance) error {
	if err := member.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrInvalidPayload)
	}
	if err := s.storage.UpsertMember(ctx, member); err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

// RemoveMember deletes a member's balance row. Remaining credits are not
// refunded; redistribution is a caller-side policy, not a ledger rule.
func (s *Service) RemoveMember(ctx context.Context, memberID, teamID string) error {
	if err := validateParties(teamID, memberID); err != nil {
		return err
	}
	if err := s.storage.RemoveMember(ctx, memberID, teamID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *Service) publishEvent(ctx context.Context, txID int64, teamID string, typ core.TransactionType, amount int64) {
	if s.amqpClient == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping credit event",
			"transaction_id", txID)
		return
	}

	msg := amqp.NewCreditEventMessage(txID, teamID, typ, amount)
	if err := s.amqpClient.PublishCreditEvent(ctx, msg); err != nil {
		// The log row committed; the event stream is best-effort.
		slog.ErrorContext(ctx, "Failed to publish credit event",
			"transaction_id", txID, "error", err)
	}
}

// Close closes both storage and AMQP connections
func (s *Service) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}

	return nil
}

func validateParties(teamID string, memberIDs ...string) error {
	if err := core.ValidateID(teamID); err != nil {
		return fmt.Errorf("team id: %w", err)
	}
	for _, id := range memberIDs {
		if err := core.ValidateID(id); err != nil {
			return fmt.Errorf("member id: %w", err)
		}
	}
	return nil
}
