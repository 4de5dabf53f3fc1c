package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/martinsvarc/creditmanagement/internal/core"
	"github.com/martinsvarc/creditmanagement/internal/storage"
)

// Queries serves the read-only projections. Reads bypass the command path
// entirely and have no side effects.
type Queries struct {
	storage *storage.LedgerRepository
	now     func() time.Time
}

func NewQueries(storage *storage.LedgerRepository) *Queries {
	return &Queries{
		storage: storage,
		now:     time.Now,
	}
}

// GetMemberBalance returns a member's current credits; an unprovisioned
// member reads as 0, never as an error.
func (q *Queries) GetMemberBalance(ctx context.Context, memberID, teamID string) (int64, error) {
	if err := validateParties(teamID, memberID); err != nil {
		return 0, err
	}
	credits, err := q.storage.GetMemberCredits(ctx, memberID, teamID)
	if err != nil {
		return 0, fmt.Errorf("member balance: %w", err)
	}
	return credits, nil
}

// ListTeamRoster returns the team's members ordered by display name, each
// annotated with the query-time needs-monthly-credits flag.
func (q *Queries) ListTeamRoster(ctx context.Context, teamID string) ([]core.RosterEntry, error) {
	if err := core.ValidateID(teamID); err != nil {
		return nil, fmt.Errorf("team id: %w", err)
	}
	roster, err := q.storage.ListTeamRoster(ctx, teamID, q.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("team roster: %w", err)
	}
	return roster, nil
}

// ListTeamTransactions returns the team's most recent audit log rows.
func (q *Queries) ListTeamTransactions(ctx context.Context, teamID string, limit int) ([]core.CreditTransaction, error) {
	if err := core.ValidateID(teamID); err != nil {
		return nil, fmt.Errorf("team id: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	txs, err := q.storage.ListTeamTransactions(ctx, teamID, limit)
	if err != nil {
		return nil, fmt.Errorf("team transactions: %w", err)
	}
	return txs, nil
}
