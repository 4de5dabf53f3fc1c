// Package command turns raw JSON credit command payloads into typed,
// validated requests and executes them against the ledger service. Payloads
// are parsed exactly once; everything past Decode works with checked values.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/martinsvarc/creditmanagement/internal/config"
	"github.com/martinsvarc/creditmanagement/internal/core"
	"github.com/martinsvarc/creditmanagement/internal/ledger"
)

// Action is the tag carried in a command payload's "action" field.
type Action string

const (
	ActionAddCredits           Action = "ADD_CREDITS"
	ActionRemoveCredits        Action = "REMOVE_CREDITS"
	ActionUpdateMonthlyCredits Action = "UPDATE_MONTHLY_CREDITS"
	ActionAddUser              Action = "ADD_USER"
	ActionRemoveUser           Action = "REMOVE_USER"
)

// Request is a decoded, validated command. Team reports the team the command
// mutates so callers can invalidate per-team read caches after execution.
type Request interface {
	Action() Action
	Team() string
}

// TransferCreditsRequest is ADD_CREDITS in transfer mode: the amount moves
// from one member's balance to another's.
type TransferCreditsRequest struct {
	FromMemberID string
	ToMemberID   string
	TeamID       string
	Amount       int64
}

func (TransferCreditsRequest) Action() Action { return ActionAddCredits }
func (r TransferCreditsRequest) Team() string { return r.TeamID }

// MintCreditsRequest is ADD_CREDITS in mint mode: the amount is credited
// without debiting anyone.
type MintCreditsRequest struct {
	MemberID string
	TeamID   string
	Amount   int64
}

func (MintCreditsRequest) Action() Action { return ActionAddCredits }
func (r MintCreditsRequest) Team() string { return r.TeamID }

// RemoveCreditsRequest withdraws credits from a member's balance.
type RemoveCreditsRequest struct {
	MemberID string
	TeamID   string
	Amount   int64
}

func (RemoveCreditsRequest) Action() Action { return ActionRemoveCredits }
func (r RemoveCreditsRequest) Team() string { return r.TeamID }

// SetupMonthlyRequest configures a monthly automation with an immediate
// manager-funded first grant.
type SetupMonthlyRequest struct {
	ManagerID string
	MemberID  string
	TeamID    string
	Amount    int64
}

func (SetupMonthlyRequest) Action() Action { return ActionUpdateMonthlyCredits }
func (r SetupMonthlyRequest) Team() string { return r.TeamID }

// CancelMonthlyRequest clears a member's monthly automation. It is the
// amount-zero form of UPDATE_MONTHLY_CREDITS.
type CancelMonthlyRequest struct {
	ManagerID string
	MemberID  string
	TeamID    string
}

func (CancelMonthlyRequest) Action() Action { return ActionUpdateMonthlyCredits }
func (r CancelMonthlyRequest) Team() string { return r.TeamID }

// AddUserRequest provisions a member row or refreshes its display fields.
type AddUserRequest struct {
	MemberID       string
	TeamID         string
	UserName       string
	UserPictureURL string
}

func (AddUserRequest) Action() Action { return ActionAddUser }
func (r AddUserRequest) Team() string { return r.TeamID }

// RemoveUserRequest deletes a member's balance row.
type RemoveUserRequest struct {
	MemberID string
	TeamID   string
}

func (RemoveUserRequest) Action() Action { return ActionRemoveUser }
func (r RemoveUserRequest) Team() string { return r.TeamID }

// envelope is the superset of fields a command payload may carry. Which ones
// are required depends on the action.
type envelope struct {
	Action         string      `json:"action"`
	MemberID       string      `json:"memberId"`
	FromMemberID   string      `json:"fromMemberId"`
	ToMemberID     string      `json:"toMemberId"`
	ManagerID      string      `json:"managerId"`
	TeamID         string      `json:"teamId"`
	Amount         *flexAmount `json:"amount"`
	UserName       string      `json:"userName"`
	UserPictureURL string      `json:"userPictureUrl"`
}

// amount returns the payload amount, defaulting to 0 when the field was
// absent or null. Actions that treat 0 as meaningful must check hasAmount
// first.
func (e envelope) amount() int64 {
	if e.Amount == nil {
		return 0
	}
	return int64(*e.Amount)
}

func (e envelope) hasAmount() bool { return e.Amount != nil }

// flexAmount accepts the amount as either a JSON number or a numeric string,
// matching what clients actually send.
type flexAmount int64

func (a *flexAmount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	n, err := core.ParseCreditAmount(s)
	if err != nil {
		return err
	}
	*a = flexAmount(n)
	return nil
}

// Dispatcher decodes command payloads and runs them on the ledger service.
type Dispatcher struct {
	service *ledger.Service
	addMode string
}

func NewDispatcher(service *ledger.Service, addCreditsMode string) *Dispatcher {
	if addCreditsMode == "" {
		addCreditsMode = config.AddCreditsTransfer
	}
	return &Dispatcher{service: service, addMode: addCreditsMode}
}

// Decode parses a raw payload into a typed request. It returns
// core.ErrInvalidAction for unknown tags, core.ErrInvalidAmount for malformed
// or out-of-range amounts and core.ErrInvalidPayload for everything else.
func (d *Dispatcher) Decode(raw []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: malformed JSON", core.ErrInvalidPayload)
		}
		return nil, err
	}

	switch Action(env.Action) {
	case ActionAddCredits:
		return d.decodeAddCredits(env)
	case ActionRemoveCredits:
		if err := requireIDs(env.TeamID, env.MemberID); err != nil {
			return nil, err
		}
		if err := core.RequirePositiveAmount(env.amount()); err != nil {
			return nil, err
		}
		return RemoveCreditsRequest{
			MemberID: env.MemberID,
			TeamID:   env.TeamID,
			Amount:   env.amount(),
		}, nil
	case ActionUpdateMonthlyCredits:
		if err := requireIDs(env.TeamID, env.ManagerID, env.MemberID); err != nil {
			return nil, err
		}
		// Only an explicit zero cancels the automation. An absent or null
		// amount is a malformed payload, not permission to tear down the
		// member's schedule.
		if !env.hasAmount() {
			return nil, fmt.Errorf("%w: missing amount", core.ErrInvalidPayload)
		}
		if env.amount() == 0 {
			return CancelMonthlyRequest{
				ManagerID: env.ManagerID,
				MemberID:  env.MemberID,
				TeamID:    env.TeamID,
			}, nil
		}
		return SetupMonthlyRequest{
			ManagerID: env.ManagerID,
			MemberID:  env.MemberID,
			TeamID:    env.TeamID,
			Amount:    env.amount(),
		}, nil
	case ActionAddUser:
		if err := requireIDs(env.TeamID, env.MemberID); err != nil {
			return nil, err
		}
		req := AddUserRequest{
			MemberID:       env.MemberID,
			TeamID:         env.TeamID,
			UserName:       env.UserName,
			UserPictureURL: env.UserPictureURL,
		}
		member := core.MemberBalance{
			MemberID:       req.MemberID,
			TeamID:         req.TeamID,
			UserName:       req.UserName,
			UserPictureURL: req.UserPictureURL,
		}
		if err := member.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
		}
		return req, nil
	case ActionRemoveUser:
		if err := requireIDs(env.TeamID, env.MemberID); err != nil {
			return nil, err
		}
		return RemoveUserRequest{MemberID: env.MemberID, TeamID: env.TeamID}, nil
	case "":
		return nil, fmt.Errorf("%w: missing action", core.ErrInvalidAction)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidAction, env.Action)
	}
}

func (d *Dispatcher) decodeAddCredits(env envelope) (Request, error) {
	if err := core.RequirePositiveAmount(env.amount()); err != nil {
		return nil, err
	}
	if d.addMode == config.AddCreditsMint {
		memberID := env.MemberID
		if memberID == "" {
			memberID = env.ToMemberID
		}
		if err := requireIDs(env.TeamID, memberID); err != nil {
			return nil, err
		}
		return MintCreditsRequest{
			MemberID: memberID,
			TeamID:   env.TeamID,
			Amount:   env.amount(),
		}, nil
	}
	if err := requireIDs(env.TeamID, env.FromMemberID, env.ToMemberID); err != nil {
		return nil, err
	}
	return TransferCreditsRequest{
		FromMemberID: env.FromMemberID,
		ToMemberID:   env.ToMemberID,
		TeamID:       env.TeamID,
		Amount:       env.amount(),
	}, nil
}

// Execute runs a decoded request against the ledger service.
func (d *Dispatcher) Execute(ctx context.Context, req Request) error {
	switch r := req.(type) {
	case TransferCreditsRequest:
		return d.service.TransferCredits(ctx, r.FromMemberID, r.ToMemberID, r.TeamID, r.Amount)
	case MintCreditsRequest:
		return d.service.AddCredits(ctx, r.MemberID, r.TeamID, r.Amount)
	case RemoveCreditsRequest:
		return d.service.RemoveCredits(ctx, r.MemberID, r.TeamID, r.Amount)
	case SetupMonthlyRequest:
		return d.service.SetupMonthlyAutomation(ctx, r.ManagerID, r.MemberID, r.TeamID, r.Amount)
	case CancelMonthlyRequest:
		return d.service.CancelMonthlyAutomation(ctx, r.ManagerID, r.MemberID, r.TeamID)
	case AddUserRequest:
		return d.service.UpsertMember(ctx, core.MemberBalance{
			MemberID:       r.MemberID,
			TeamID:         r.TeamID,
			UserName:       r.UserName,
			UserPictureURL: r.UserPictureURL,
		})
	case RemoveUserRequest:
		return d.service.RemoveMember(ctx, r.MemberID, r.TeamID)
	default:
		return fmt.Errorf("%w: unhandled request type %T", core.ErrInvalidAction, req)
	}
}

// Dispatch decodes and executes a raw payload in one step. The decoded
// request is returned even on execution failure so callers can still log the
// action and team.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (Request, error) {
	req, err := d.Decode(raw)
	if err != nil {
		return nil, err
	}
	return req, d.Execute(ctx, req)
}

func requireIDs(teamID string, memberIDs ...string) error {
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
