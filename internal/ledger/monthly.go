package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/martinsvarc/creditmanagement/internal/core"
	"github.com/martinsvarc/creditmanagement/internal/storage"
)

// MonthlyProcessor applies due monthly credit grants. A member is due when
// the automation is active and the last grant predates the start of the
// current calendar month, the same rule the roster projection reports.
type MonthlyProcessor struct {
	storage *storage.LedgerRepository
	service *Service
}

// NewMonthlyProcessor creates a new monthly grant processor
func NewMonthlyProcessor(storage *storage.LedgerRepository, service *Service) *MonthlyProcessor {
	return &MonthlyProcessor{
		storage: storage,
		service: service,
	}
}

// ProcessDueGrants applies every due grant and returns how many were made.
// A manager short on funds fails that member's grant only; processing
// continues with the rest.
func (p *MonthlyProcessor) ProcessDueGrants(ctx context.Context, now time.Time) (int, error) {
	if p.storage == nil || p.service == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	automations, err := p.storage.ListActiveAutomations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active automations: %w", err)
	}

	slog.InfoContext(ctx, "Processing monthly credit grants",
		"total_active", len(automations),
		"processing_date", now.Format("2006-01-02"))

	granted := 0
	for _, m := range automations {
		if !core.NeedsMonthlyCredit(m.LastMonthlyCreditDate, now) {
			continue
		}

		txID, err := p.storage.ApplyMonthlyGrant(ctx, m.MonthlyCreditManagerID, m.MemberID, m.TeamID, m.MonthlyCredits, now.UTC())
		if err != nil {
			slog.ErrorContext(ctx, "Monthly grant failed",
				"member_id", m.MemberID,
				"team_id", m.TeamID,
				"manager_id", m.MonthlyCreditManagerID,
				"amount", m.MonthlyCredits,
				"error", err)
			continue
		}

		p.service.publishEvent(ctx, txID, m.TeamID, core.TransactionManual, m.MonthlyCredits)

		granted++
		slog.InfoContext(ctx, "Monthly credits granted",
			"member_id", m.MemberID,
			"team_id", m.TeamID,
			"manager_id", m.MonthlyCreditManagerID,
			"amount", m.MonthlyCredits)
	}

	slog.InfoContext(ctx, "Monthly grant processing complete",
		"granted", granted,
		"total_checked", len(automations))

	return granted, nil
}
