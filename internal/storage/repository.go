// Package storage implements the transactional ledger store on SQLite.
//
// Every balance-mutating operation runs as a single database transaction that
// pairs the balance update with exactly one credit_transactions row. The
// connection pool is capped at one connection, so the store is the only
// serialization point for concurrent callers: a conditional UPDATE either
// applies atomically or reports that its precondition failed.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/martinsvarc/creditmanagement/internal/core"

	_ "modernc.org/sqlite"
)

// ErrTransactionNotFound is returned when a credit_transactions row does not
// exist for the requested id.
var ErrTransactionNotFound = errors.New("transaction not found")

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(dbPath string) (*LedgerRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// Single writer; concurrent ledger operations queue here instead of
	// racing each other between check and write.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &LedgerRepository{db: db}, nil
}

func (r *LedgerRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *LedgerRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *LedgerRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// insertTransaction appends the log row inside the caller's transaction.
// Empty from/to member ids are stored as NULL.
func insertTransaction(ctx context.Context, tx *sql.Tx, t core.CreditTransaction, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions
			(from_member_id, to_member_id, team_id, amount, transaction_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nullableID(t.FromMemberID), nullableID(t.ToMemberID), t.TeamID, t.Amount, string(t.Type), at)
	if err != nil {
		return 0, fmt.Errorf("insert credit transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction id: %w", err)
	}
	return id, nil
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

// UpsertMember provisions a member's balance row with zero credits, or
// refreshes display fields when the row already exists. Credits are never
// touched on re-add, and no log row is written: provisioning is not a
// balance mutation.
func (r *LedgerRepository) UpsertMember(ctx context.Context, m core.MemberBalance) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_credits (member_id, team_id, credits, user_name, user_picture_url, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT (member_id, team_id) DO UPDATE SET
			user_name = excluded.user_name,
			user_picture_url = excluded.user_picture_url,
			updated_at = excluded.updated_at`,
		m.MemberID, m.TeamID, m.UserName, m.UserPictureURL, now, now)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}

	slog.InfoContext(ctx, "Member provisioned",
		"member_id", m.MemberID, "team_id", m.TeamID)
	return nil
}

// AddCredits mints credits onto a member's balance. No source of funds is
// checked; credits are created, not transferred.
func (r *LedgerRepository) AddCredits(ctx context.Context, memberID, teamID string, amount int64) (int64, error) {
	var txID int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE user_credits SET credits = credits + ?, updated_at = ?
			WHERE member_id = ? AND team_id = ?`,
			amount, now, memberID, teamID)
		if err != nil {
			return fmt.Errorf("add credits: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("add credits to %s: %w", memberID, core.ErrMemberNotFound)
		}

		txID, err = insertTransaction(ctx, tx, core.CreditTransaction{
			ToMemberID: memberID,
			TeamID:     teamID,
			Amount:     amount,
			Type:       core.TransactionAdd,
		}, now)
		return err
	})
	return txID, err
}

// RemoveCredits withdraws credits from a member's balance. The existence
// check and the decrement are one conditional UPDATE, so two concurrent
// withdrawals can never both pass the balance check. A member that was never
// provisioned is reported as insufficient funds, matching the conditional
// update's view of the world.
func (r *LedgerRepository) RemoveCredits(ctx context.Context, memberID, teamID string, amount int64) (int64, error) {
	var txID int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE user_credits SET credits = credits - ?, updated_at = ?
			WHERE member_id = ? AND team_id = ? AND credits >= ?`,
			amount, now, memberID, teamID, amount)
		if err != nil {
			return fmt.Errorf("remove credits: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("remove %d credits from %s: %w", amount, memberID, core.ErrInsufficientFunds)
		}

		txID, err = insertTransaction(ctx, tx, core.CreditTransaction{
			FromMemberID: memberID,
			TeamID:       teamID,
			Amount:       -amount,
			Type:         core.TransactionRemove,
		}, now)
		return err
	})
	return txID, err
}

// TransferCredits moves credits between two members of the same team. Both
// rows are updated inside one transaction, in lexicographic member-id order
// so concurrent transfers touching the same pair cannot deadlock. One MANUAL
// log row records the pair.
func (r *LedgerRepository) TransferCredits(ctx context.Context, fromMemberID, toMemberID, teamID string, amount int64) (int64, error) {
	var txID int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		debit := func() error {
			res, err := tx.ExecContext(ctx, `
				UPDATE user_credits SET credits = credits - ?, updated_at = ?
				WHERE member_id = ? AND team_id = ? AND credits >= ?`,
				amount, now, fromMemberID, teamID, amount)
			if err != nil {
				return fmt.Errorf("debit sender: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("transfer %d credits from %s: %w", amount, fromMemberID, core.ErrInsufficientFunds)
			}
			return nil
		}
		credit := func() error {
			res, err := tx.ExecContext(ctx, `
				UPDATE user_credits SET credits = credits + ?, updated_at = ?
				WHERE member_id = ? AND team_id = ?`,
				amount, now, toMemberID, teamID)
			if err != nil {
				return fmt.Errorf("credit receiver: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("transfer to %s: %w", toMemberID, core.ErrMemberNotFound)
			}
			return nil
		}

		if err := applyInOrder(fromMemberID, toMemberID, debit, credit); err != nil {
			return err
		}

		var err error
		txID, err = insertTransaction(ctx, tx, core.CreditTransaction{
			FromMemberID: fromMemberID,
			ToMemberID:   toMemberID,
			TeamID:       teamID,
			Amount:       amount,
			Type:         core.TransactionManual,
		}, now)
		return err
	})
	return txID, err
}

// SetupMonthlyAutomation enables the monthly credit automation for a member
// and performs the first grant immediately: the manager is debited, the
// member is credited and stamped with the grant date.
func (r *LedgerRepository) SetupMonthlyAutomation(ctx context.Context, managerID, memberID, teamID string, amount int64) (int64, error) {
	var txID int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		debitManager := func() error {
			res, err := tx.ExecContext(ctx, `
				UPDATE user_credits SET credits = credits - ?, updated_at = ?
				WHERE member_id = ? AND team_id = ? AND credits >= ?`,
				amount, now, managerID, teamID, amount)
			if err != nil {
				return fmt.Errorf("debit manager: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("monthly setup funded by %s: %w", managerID, core.ErrInsufficientFunds)
			}
			return nil
		}
		creditMember := func() error {
			res, err := tx.ExecContext(ctx, `
				UPDATE user_credits SET
					monthly_credits = ?,
					monthly_credit_manager_id = ?,
					credits = credits + ?,
					last_monthly_credit_date = ?,
					updated_at = ?
				WHERE member_id = ? AND team_id = ?`,
				amount, managerID, amount, now, now, memberID, teamID)
			if err != nil {
				return fmt.Errorf("enable automation: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("monthly setup for %s: %w", memberID, core.ErrMemberNotFound)
			}
			return nil
		}

		if err := applyInOrder(managerID, memberID, debitManager, creditMember); err != nil {
			return err
		}

		var err error
		txID, err = insertTransaction(ctx, tx, core.CreditTransaction{
			FromMemberID: managerID,
			ToMemberID:   memberID,
			TeamID:       teamID,
			Amount:       amount,
			Type:         core.TransactionMonthlySetup,
		}, now)
		return err
	})
	return txID, err
}

// CancelMonthlyAutomation clears the automation fields and appends the
// zero-amount MONTHLY_CANCEL marker row. Balances are untouched; the marker
// records intent, not a balance change.
func (r *LedgerRepository) CancelMonthlyAutomation(ctx context.Context, managerID, memberID, teamID string) (int64, error) {
	var txID int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE user_credits SET
				monthly_credits = 0,
				monthly_credit_manager_id = NULL,
				last_monthly_credit_date = NULL,
				updated_at = ?
			WHERE member_id = ? AND team_id = ?`,
			now, memberID, teamID)
		if err != nil {
			return fmt.Errorf("cancel automation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("monthly cancel for %s: %w", memberID, core.ErrMemberNotFound)
		}

		txID, err = insertTransaction(ctx, tx, core.CreditTransaction{
			FromMemberID: managerID,
			ToMemberID:   memberID,
			TeamID:       teamID,
			Amount:       0,
			Type:         core.TransactionMonthlyCancel,
		}, now)
		return err
	})
	return txID, err
}

// ApplyMonthlyGrant performs one due monthly grant: manager debited, member
// credited and stamped with the grant date, all in one transaction. The
// grant is a manager-funded transfer, so it is logged as a MANUAL row.
func (r *LedgerRepository) ApplyMonthlyGrant(ctx context.Context, managerID, memberID, teamID string, amount int64, now time.Time) (int64, error) {
	var txID int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		debitManager := func() error {
			res, err := tx.ExecContext(ctx, `
				UPDATE user_credits SET credits = credits - ?, updated_at = ?
				WHERE member_id = ? AND team_id = ? AND credits >= ?`,
				amount, now, managerID, teamID, amount)
			if err != nil {
				return fmt.Errorf("debit manager: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("monthly grant funded by %s: %w", managerID, core.ErrInsufficientFunds)
			}
			return nil
		}
		creditMember := func() error {
			res, err := tx.ExecContext(ctx, `
				UPDATE user_credits SET
					credits = credits + ?,
					last_monthly_credit_date = ?,
					updated_at = ?
				WHERE member_id = ? AND team_id = ?`,
				amount, now, now, memberID, teamID)
			if err != nil {
				return fmt.Errorf("credit member: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("monthly grant for %s: %w", memberID, core.ErrMemberNotFound)
			}
			return nil
		}

		if err := applyInOrder(managerID, memberID, debitManager, creditMember); err != nil {
			return err
		}

		var err error
		txID, err = insertTransaction(ctx, tx, core.CreditTransaction{
			FromMemberID: managerID,
			ToMemberID:   memberID,
			TeamID:       teamID,
			Amount:       amount,
			Type:         core.TransactionManual,
		}, now)
		return err
	})
	return txID, err
}

// RemoveMember deletes the balance row unconditionally. Remaining credits
// are not refunded; deleting an absent member succeeds. The transaction log
// keeps the member's history.
func (r *LedgerRepository) RemoveMember(ctx context.Context, memberID, teamID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM user_credits WHERE member_id = ? AND team_id = ?`,
		memberID, teamID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}

	slog.InfoContext(ctx, "Member removed",
		"member_id", memberID, "team_id", teamID)
	return nil
}

// GetMemberCredits returns the member's balance, or 0 when no row exists.
// Absence means "not yet provisioned", never an error.
func (r *LedgerRepository) GetMemberCredits(ctx context.Context, memberID, teamID string) (int64, error) {
	var credits int64
	err := r.db.QueryRowContext(ctx, `
		SELECT credits FROM user_credits WHERE member_id = ? AND team_id = ?`,
		memberID, teamID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get member credits: %w", err)
	}
	return credits, nil
}

// ListTeamRoster returns every member of a team ordered by display name,
// each annotated with the derived needs-monthly-credits flag for the given
// clock. The flag is computed here at query time and never persisted.
func (r *LedgerRepository) ListTeamRoster(ctx context.Context, teamID string, now time.Time) ([]core.RosterEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT member_id, team_id, credits, monthly_credits, monthly_credit_manager_id,
		       last_monthly_credit_date, user_name, user_picture_url, created_at, updated_at
		FROM user_credits
		WHERE team_id = ?
		ORDER BY user_name ASC, member_id ASC`,
		teamID)
	if err != nil {
		return nil, fmt.Errorf("list team roster: %w", err)
	}
	defer rows.Close()

	var roster []core.RosterEntry
	for rows.Next() {
		m, err := scanMemberBalance(rows)
		if err != nil {
			return nil, err
		}
		roster = append(roster, core.RosterEntry{
			MemberBalance:       m,
			NeedsMonthlyCredits: core.NeedsMonthlyCredit(m.LastMonthlyCreditDate, now),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team roster: %w", err)
	}
	return roster, nil
}

// ListActiveAutomations returns every member, across teams, with an active
// monthly credit automation. Used by the monthly worker.
func (r *LedgerRepository) ListActiveAutomations(ctx context.Context) ([]core.MemberBalance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT member_id, team_id, credits, monthly_credits, monthly_credit_manager_id,
		       last_monthly_credit_date, user_name, user_picture_url, created_at, updated_at
		FROM user_credits
		WHERE monthly_credits > 0 AND monthly_credit_manager_id IS NOT NULL
		ORDER BY team_id ASC, member_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active automations: %w", err)
	}
	defer rows.Close()

	var members []core.MemberBalance
	for rows.Next() {
		m, err := scanMemberBalance(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate automations: %w", err)
	}
	return members, nil
}

// GetTransaction loads one log row by id.
func (r *LedgerRepository) GetTransaction(ctx context.Context, id int64) (core.CreditTransaction, error) {
	var (
		t        core.CreditTransaction
		from, to sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, from_member_id, to_member_id, team_id, amount, transaction_type, created_at
		FROM credit_transactions WHERE id = ?`, id).
		Scan(&t.ID, &from, &to, &t.TeamID, &t.Amount, &t.Type, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CreditTransaction{}, fmt.Errorf("transaction %d: %w", id, ErrTransactionNotFound)
	}
	if err != nil {
		return core.CreditTransaction{}, fmt.Errorf("get transaction: %w", err)
	}
	t.FromMemberID = from.String
	t.ToMemberID = to.String
	return t, nil
}

// ListTeamTransactions returns a team's most recent log rows, newest first.
func (r *LedgerRepository) ListTeamTransactions(ctx context.Context, teamID string, limit int) ([]core.CreditTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, from_member_id, to_member_id, team_id, amount, transaction_type, created_at
		FROM credit_transactions
		WHERE team_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, teamID, limit)
	if err != nil {
		return nil, fmt.Errorf("list team transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.CreditTransaction
	for rows.Next() {
		var (
			t        core.CreditTransaction
			from, to sql.NullString
		)
		if err := rows.Scan(&t.ID, &from, &to, &t.TeamID, &t.Amount, &t.Type, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.FromMemberID = from.String
		t.ToMemberID = to.String
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// applyInOrder runs the two row updates of a two-party operation in
// lexicographic member-id order, keeping lock acquisition deterministic.
func applyInOrder(firstID, secondID string, first, second func() error) error {
	if secondID < firstID {
		if err := second(); err != nil {
			return err
		}
		return first()
	}
	if err := first(); err != nil {
		return err
	}
	return second()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemberBalance(row rowScanner) (core.MemberBalance, error) {
	var (
		m         core.MemberBalance
		managerID sql.NullString
		lastGrant sql.NullTime
	)
	err := row.Scan(&m.MemberID, &m.TeamID, &m.Credits, &m.MonthlyCredits, &managerID,
		&lastGrant, &m.UserName, &m.UserPictureURL, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return core.MemberBalance{}, fmt.Errorf("scan member balance: %w", err)
	}
	m.MonthlyCreditManagerID = managerID.String
	if lastGrant.Valid {
		t := lastGrant.Time
		m.LastMonthlyCreditDate = &t
	}
	return m, nil
}
