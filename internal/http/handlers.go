package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/martinsvarc/creditmanagement/internal/core"
	applog "github.com/martinsvarc/creditmanagement/internal/log"
)

// maxCommandBytes bounds a command payload; real payloads are tiny.
const maxCommandBytes = 1 << 16

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetCredits(w, r)
	case http.MethodPost:
		s.handleCommand(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleGetCredits serves a single member's balance when memberId is present,
// otherwise the whole team roster.
func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get("teamId")
	memberID := r.URL.Query().Get("memberId")
	if teamID == "" {
		writeError(w, http.StatusBadRequest, "teamId is required")
		return
	}

	if memberID != "" {
		credits, ok := s.balanceCache.Get(balanceKey(teamID, memberID))
		if !ok {
			var err error
			credits, err = s.queries.GetMemberBalance(r.Context(), memberID, teamID)
			if err != nil {
				s.logger.ErrorContext(r.Context(), "balance lookup failed",
					applog.FieldOperation, applog.OpBalanceLookup,
					applog.FieldTeamID, teamID,
					applog.FieldMemberID, memberID,
					applog.FieldError, err)
				writeError(w, http.StatusInternalServerError, "failed to fetch data")
				return
			}
			s.balanceCache.Set(balanceKey(teamID, memberID), credits)
		}
		writeJSON(w, http.StatusOK, map[string]int64{"credits": credits})
		return
	}

	roster, ok := s.rosterCache.Get(rosterKey(teamID))
	if !ok {
		var err error
		roster, err = s.queries.ListTeamRoster(r.Context(), teamID)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "roster lookup failed",
				applog.FieldOperation, applog.OpRosterLookup,
				applog.FieldTeamID, teamID,
				applog.FieldError, err)
			writeError(w, http.StatusInternalServerError, "failed to fetch data")
			return
		}
		s.rosterCache.Set(rosterKey(teamID), roster)
	}

	users := make([]rosterUser, 0, len(roster))
	for _, entry := range roster {
		users = append(users, newRosterUser(entry))
	}
	writeJSON(w, http.StatusOK, map[string][]rosterUser{"users": users})
}

// handleCommand runs one credit command and reports success or a mapped
// error. Validation and business rejections are 400s; store failures 500s.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req, err := s.dispatcher.Dispatch(r.Context(), body)
	if err != nil {
		status, msg := mapCommandError(err)
		logArgs := []any{applog.FieldError, err}
		if req != nil {
			logArgs = append(logArgs, applog.FieldAction, string(req.Action()), applog.FieldTeamID, req.Team())
		}
		if status >= http.StatusInternalServerError {
			s.logger.ErrorContext(r.Context(), "command failed", logArgs...)
		} else {
			s.logger.WarnContext(r.Context(), "command rejected", logArgs...)
		}
		writeError(w, status, msg)
		return
	}

	s.invalidateTeam(req.Team())
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleTransactions serves a team's most recent audit rows, newest first.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	teamID := r.URL.Query().Get("teamId")
	if teamID == "" {
		writeError(w, http.StatusBadRequest, "teamId is required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	transactions, err := s.queries.ListTeamTransactions(r.Context(), teamID, limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "transaction list failed",
			applog.FieldTeamID, teamID, applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch data")
		return
	}

	rows := make([]transactionRow, 0, len(transactions))
	for _, tx := range transactions {
		rows = append(rows, newTransactionRow(tx))
	}
	writeJSON(w, http.StatusOK, map[string][]transactionRow{"transactions": rows})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.ErrorContext(r.Context(), "readiness check failed", applog.FieldError, err)
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// mapCommandError translates dispatcher and ledger errors into a status code
// and a client-safe message. Unrecognized errors are store failures and stay
// opaque.
func mapCommandError(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidAction):
		return http.StatusBadRequest, "Invalid action"
	case errors.Is(err, core.ErrInsufficientFunds):
		return http.StatusBadRequest, "Insufficient credits"
	case errors.Is(err, core.ErrMemberNotFound):
		return http.StatusBadRequest, "Member not found"
	case errors.Is(err, core.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, core.ErrInvalidPayload):
		return http.StatusBadRequest, "Invalid payload"
	default:
		return http.StatusInternalServerError, "Operation failed"
	}
}

// rosterUser is the wire shape of one roster row. Field names follow the
// user_credits columns plus the derived needs_monthly_credits flag.
type rosterUser struct {
	MemberID               string     `json:"member_id"`
	TeamID                 string     `json:"team_id"`
	Credits                int64      `json:"credits"`
	MonthlyCredits         int64      `json:"monthly_credits"`
	MonthlyCreditManagerID string     `json:"monthly_credit_manager_id,omitempty"`
	LastMonthlyCreditDate  *time.Time `json:"last_monthly_credit_date"`
	UserName               string     `json:"user_name"`
	UserPictureURL         string     `json:"user_picture_url"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	NeedsMonthlyCredits    bool       `json:"needs_monthly_credits"`
}

func newRosterUser(entry core.RosterEntry) rosterUser {
	return rosterUser{
		MemberID:               entry.MemberID,
		TeamID:                 entry.TeamID,
		Credits:                entry.Credits,
		MonthlyCredits:         entry.MonthlyCredits,
		MonthlyCreditManagerID: entry.MonthlyCreditManagerID,
		LastMonthlyCreditDate:  entry.LastMonthlyCreditDate,
		UserName:               entry.UserName,
		UserPictureURL:         entry.UserPictureURL,
		CreatedAt:              entry.CreatedAt,
		UpdatedAt:              entry.UpdatedAt,
		NeedsMonthlyCredits:    entry.NeedsMonthlyCredits,
	}
}

type transactionRow struct {
	ID              int64     `json:"id"`
	FromMemberID    string    `json:"from_member_id,omitempty"`
	ToMemberID      string    `json:"to_member_id,omitempty"`
	TeamID          string    `json:"team_id"`
	Amount          int64     `json:"amount"`
	TransactionType string    `json:"transaction_type"`
	CreatedAt       time.Time `json:"created_at"`
}

func newTransactionRow(tx core.CreditTransaction) transactionRow {
	return transactionRow{
		ID:              tx.ID,
		FromMemberID:    tx.FromMemberID,
		ToMemberID:      tx.ToMemberID,
		TeamID:          tx.TeamID,
		Amount:          tx.Amount,
		TransactionType: string(tx.Type),
		CreatedAt:       tx.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
