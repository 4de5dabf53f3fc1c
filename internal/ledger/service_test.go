package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/martinsvarc/creditmanagement/internal/core"
	"github.com/martinsvarc/creditmanagement/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.LedgerRepository) {
	t.Helper()
	repo, err := storage.NewLedgerRepository(filepath.Join(t.TempDir(), "credits.db"))
	if err != nil {
		t.Fatalf("NewLedgerRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewService(repo, nil), repo
}

func provision(t *testing.T, svc *Service, memberID, teamID string, credits int64) {
	t.Helper()
	ctx := context.Background()
	if err := svc.UpsertMember(ctx, core.MemberBalance{MemberID: memberID, TeamID: teamID, UserName: memberID}); err != nil {
		t.Fatalf("UpsertMember(%s): %v", memberID, err)
	}
	if credits > 0 {
		if err := svc.AddCredits(ctx, memberID, teamID, credits); err != nil {
			t.Fatalf("AddCredits(%s): %v", memberID, err)
		}
	}
}

func TestService_ValidationBeforeStore(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "m1", "team", 50)

	tests := []struct {
		name    string
		call    func() error
		wantErr error
	}{
		{
			name:    "add with zero amount",
			call:    func() error { return svc.AddCredits(ctx, "m1", "team", 0) },
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "add with negative amount",
			call:    func() error { return svc.AddCredits(ctx, "m1", "team", -5) },
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "remove with zero amount",
			call:    func() error { return svc.RemoveCredits(ctx, "m1", "team", 0) },
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "transfer with empty sender",
			call:    func() error { return svc.TransferCredits(ctx, "", "m1", "team", 10) },
			wantErr: core.ErrInvalidPayload,
		},
		{
			name:    "transfer to self",
			call:    func() error { return svc.TransferCredits(ctx, "m1", "m1", "team", 10) },
			wantErr: core.ErrInvalidPayload,
		},
		{
			name:    "setup funded by its own member",
			call:    func() error { return svc.SetupMonthlyAutomation(ctx, "m1", "m1", "team", 10) },
			wantErr: core.ErrInvalidPayload,
		},
		{
			name:    "empty team id",
			call:    func() error { return svc.RemoveCredits(ctx, "m1", "", 10) },
			wantErr: core.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Rejections never reach the store: balance and log untouched.
	if credits, _ := repo.GetMemberCredits(ctx, "m1", "team"); credits != 50 {
		t.Errorf("balance = %d, want untouched 50", credits)
	}
	txs, err := repo.ListTeamTransactions(ctx, "team", 100)
	if err != nil {
		t.Fatalf("ListTeamTransactions: %v", err)
	}
	if len(txs) != 1 { // the provisioning ADD
		t.Errorf("log rows = %d, want 1", len(txs))
	}
}

func TestService_MonthlySetupAndCancel(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "manager", "team", 100)
	provision(t, svc, "member", "team", 0)

	if err := svc.SetupMonthlyAutomation(ctx, "manager", "member", "team", 40); err != nil {
		t.Fatalf("SetupMonthlyAutomation: %v", err)
	}
	if credits, _ := repo.GetMemberCredits(ctx, "manager", "team"); credits != 60 {
		t.Errorf("manager balance = %d, want 60", credits)
	}
	if credits, _ := repo.GetMemberCredits(ctx, "member", "team"); credits != 40 {
		t.Errorf("member balance = %d, want 40", credits)
	}

	if err := svc.CancelMonthlyAutomation(ctx, "manager", "member", "team"); err != nil {
		t.Fatalf("CancelMonthlyAutomation: %v", err)
	}
	if credits, _ := repo.GetMemberCredits(ctx, "member", "team"); credits != 40 {
		t.Errorf("member balance after cancel = %d, want unchanged 40", credits)
	}

	txs, err := repo.ListTeamTransactions(ctx, "team", 10)
	if err != nil {
		t.Fatalf("ListTeamTransactions: %v", err)
	}
	if txs[0].Type != core.TransactionMonthlyCancel || txs[0].Amount != 0 {
		t.Errorf("latest log row = %+v, want MONTHLY_CANCEL 0", txs[0])
	}
}

func TestService_InsufficientFundsBubbleUp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "m1", "team", 10)
	provision(t, svc, "m2", "team", 0)

	if err := svc.RemoveCredits(ctx, "m1", "team", 30); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Errorf("RemoveCredits error = %v, want ErrInsufficientFunds", err)
	}
	if err := svc.TransferCredits(ctx, "m1", "m2", "team", 30); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Errorf("TransferCredits error = %v, want ErrInsufficientFunds", err)
	}
	if err := svc.SetupMonthlyAutomation(ctx, "m1", "m2", "team", 30); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Errorf("SetupMonthlyAutomation error = %v, want ErrInsufficientFunds", err)
	}
}

func TestService_NilAMQPClientIsFine(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "m1", "team", 0)

	// All operations succeed with the event stream disabled.
	if err := svc.AddCredits(ctx, "m1", "team", 5); err != nil {
		t.Fatalf("AddCredits without AMQP: %v", err)
	}
	if err := svc.RemoveMember(ctx, "m1", "team"); err != nil {
		t.Fatalf("RemoveMember without AMQP: %v", err)
	}
}

func TestService_Close(t *testing.T) {
	t.Run("nil components", func(t *testing.T) {
		svc := &Service{}
		if err := svc.Close(); err != nil {
			t.Fatalf("Close should not return error with nil components: %v", err)
		}
	})
}
