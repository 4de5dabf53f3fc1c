package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/martinsvarc/creditmanagement/internal/command"
	"github.com/martinsvarc/creditmanagement/internal/config"
	"github.com/martinsvarc/creditmanagement/internal/ledger"
	"github.com/martinsvarc/creditmanagement/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo, err := storage.NewLedgerRepository(filepath.Join(t.TempDir(), "credits.db"))
	if err != nil {
		t.Fatalf("NewLedgerRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	service := ledger.NewService(repo, nil)
	dispatcher := command.NewDispatcher(service, config.AddCreditsTransfer)
	queries := ledger.NewQueries(repo)

	srv := NewServer(":0", dispatcher, queries, repo, 30*time.Second, nil)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func postCommand(t *testing.T, srv *Server, body string) {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/api/credits", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("command %s: status %d body %s", body, rr.Code, rr.Body.String())
	}
}

func addUser(t *testing.T, srv *Server, memberID, teamID, name string) {
	t.Helper()
	postCommand(t, srv, fmt.Sprintf(
		`{"action":"ADD_USER","memberId":%q,"teamId":%q,"userName":%q}`, memberID, teamID, name))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), into); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rr.Code)
		}
	}
}

func TestGetCredits_SingleMember(t *testing.T) {
	srv := newTestServer(t)
	addUser(t, srv, "mgr", "team-a", "Manager")
	addUser(t, srv, "m1", "team-a", "Ada")

	rr := do(t, srv, http.MethodGet, "/api/credits?teamId=team-a&memberId=m1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var out struct {
		Credits int64 `json:"credits"`
	}
	decodeBody(t, rr, &out)
	if out.Credits != 0 {
		t.Errorf("credits = %d, want 0", out.Credits)
	}

	// Unknown members read as zero, same as empty ones.
	rr = do(t, srv, http.MethodGet, "/api/credits?teamId=team-a&memberId=ghost", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	decodeBody(t, rr, &out)
	if out.Credits != 0 {
		t.Errorf("credits for absent member = %d, want 0", out.Credits)
	}
}

func TestGetCredits_MissingTeamID(t *testing.T) {
	srv := newTestServer(t)
	rr := do(t, srv, http.MethodGet, "/api/credits", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestGetCredits_Roster(t *testing.T) {
	srv := newTestServer(t)
	addUser(t, srv, "m2", "team-a", "Bob")
	addUser(t, srv, "m1", "team-a", "Ada")
	addUser(t, srv, "other", "team-b", "Eve")

	rr := do(t, srv, http.MethodGet, "/api/credits?teamId=team-a", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var out struct {
		Users []rosterUser `json:"users"`
	}
	decodeBody(t, rr, &out)
	if len(out.Users) != 2 {
		t.Fatalf("roster size = %d, want 2", len(out.Users))
	}
	// Ordered by user_name; fresh members are flagged for their first grant.
	if out.Users[0].UserName != "Ada" || out.Users[1].UserName != "Bob" {
		t.Errorf("roster order = %s, %s; want Ada, Bob", out.Users[0].UserName, out.Users[1].UserName)
	}
	for _, u := range out.Users {
		if !u.NeedsMonthlyCredits {
			t.Errorf("member %s should be flagged as needing monthly credits", u.MemberID)
		}
	}
}

func TestCommand_Transfer(t *testing.T) {
	srv := newTestServer(t)
	addUser(t, srv, "mgr", "team-a", "Manager")
	addUser(t, srv, "m1", "team-a", "Ada")
	fundMember(t, srv, "mgr", "team-a", 100)

	postCommand(t, srv,
		`{"action":"ADD_CREDITS","fromMemberId":"mgr","toMemberId":"m1","teamId":"team-a","amount":40}`)

	for member, want := range map[string]int64{"mgr": 60, "m1": 40} {
		rr := do(t, srv, http.MethodGet, "/api/credits?teamId=team-a&memberId="+member, "")
		var out struct {
			Credits int64 `json:"credits"`
		}
		decodeBody(t, rr, &out)
		if out.Credits != want {
			t.Errorf("%s balance = %d, want %d", member, out.Credits, want)
		}
	}

	// A transfer the sender cannot cover is rejected whole.
	rr := do(t, srv, http.MethodPost, "/api/credits",
		`{"action":"ADD_CREDITS","fromMemberId":"mgr","toMemberId":"m1","teamId":"team-a","amount":500}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("uncovered transfer: status = %d, want 400", rr.Code)
	}
	var errOut struct {
		Error string `json:"error"`
	}
	decodeBody(t, rr, &errOut)
	if errOut.Error != "Insufficient credits" {
		t.Errorf("error = %q, want %q", errOut.Error, "Insufficient credits")
	}
}

func TestCommand_RemoveUpdatesCachedBalance(t *testing.T) {
	srv := newTestServer(t)
	addUser(t, srv, "m1", "team-a", "Ada")
	fundMember(t, srv, "m1", "team-a", 50)

	// Prime the cache.
	rr := do(t, srv, http.MethodGet, "/api/credits?teamId=team-a&memberId=m1", "")
	var out struct {
		Credits int64 `json:"credits"`
	}
	decodeBody(t, rr, &out)
	if out.Credits != 50 {
		t.Fatalf("credits = %d, want 50", out.Credits)
	}

	postCommand(t, srv, `{"action":"REMOVE_CREDITS","memberId":"m1","teamId":"team-a","amount":30}`)

	// The successful command must have evicted the cached read.
	rr = do(t, srv, http.MethodGet, "/api/credits?teamId=team-a&memberId=m1", "")
	decodeBody(t, rr, &out)
	if out.Credits != 20 {
		t.Errorf("credits after remove = %d, want 20", out.Credits)
	}
}

// fundMember seeds a balance directly through the store; the public API only
// mints when ADD_CREDITS_MODE is "mint" and these tests run in transfer mode.
func fundMember(t *testing.T, srv *Server, memberID, teamID string, amount int64) {
	t.Helper()
	repo := srv.store.(*storage.LedgerRepository)
	if _, err := repo.AddCredits(context.Background(), memberID, teamID, amount); err != nil {
		t.Fatalf("fund %s: %v", memberID, err)
	}
	srv.invalidateTeam(teamID)
}

func TestCommand_ErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	addUser(t, srv, "m1", "team-a", "Ada")

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "unknown action",
			body:       `{"action":"NOPE","teamId":"team-a"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid action",
		},
		{
			name:       "malformed JSON",
			body:       `{"action":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid payload",
		},
		{
			name:       "invalid amount",
			body:       `{"action":"REMOVE_CREDITS","memberId":"m1","teamId":"team-a","amount":"-3"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid amount",
		},
		{
			name:       "insufficient funds",
			body:       `{"action":"REMOVE_CREDITS","memberId":"m1","teamId":"team-a","amount":999}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Insufficient credits",
		},
		{
			name:       "cancel for unknown member",
			body:       `{"action":"UPDATE_MONTHLY_CREDITS","managerId":"mgr","memberId":"ghost","teamId":"team-a","amount":0}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Member not found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/credits", tc.body)
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tc.wantStatus, rr.Body.String())
			}
			var out struct {
				Error string `json:"error"`
			}
			decodeBody(t, rr, &out)
			if out.Error != tc.wantError {
				t.Errorf("error = %q, want %q", out.Error, tc.wantError)
			}
		})
	}
}

func TestTransactions_Listing(t *testing.T) {
	srv := newTestServer(t)
	addUser(t, srv, "m1", "team-a", "Ada")
	fundMember(t, srv, "m1", "team-a", 50)
	postCommand(t, srv, `{"action":"REMOVE_CREDITS","memberId":"m1","teamId":"team-a","amount":10}`)

	rr := do(t, srv, http.MethodGet, "/api/credits/transactions?teamId=team-a", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var out struct {
		Transactions []transactionRow `json:"transactions"`
	}
	decodeBody(t, rr, &out)
	if len(out.Transactions) != 2 {
		t.Fatalf("transactions = %d, want 2", len(out.Transactions))
	}
	// Newest first: the withdrawal, logged negative.
	if out.Transactions[0].TransactionType != "REMOVE" || out.Transactions[0].Amount != -10 {
		t.Errorf("latest = %s %d, want REMOVE -10",
			out.Transactions[0].TransactionType, out.Transactions[0].Amount)
	}

	rr = do(t, srv, http.MethodGet, "/api/credits/transactions?teamId=team-a&limit=bad", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	rr := do(t, srv, http.MethodDelete, "/api/credits", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
	if allow := rr.Header().Get("Allow"); allow != "GET, POST" {
		t.Errorf("Allow = %q, want %q", allow, "GET, POST")
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)
	rr := do(t, srv, http.MethodGet, "/api/credits?teamId=team-a", "")
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}
