package core

import (
	"strings"
	"testing"
	"time"
)

func TestMemberBalance_Validate(t *testing.T) {
	valid := MemberBalance{
		MemberID: "m1",
		TeamID:   "t1",
		Credits:  50,
		UserName: "Alice",
	}

	tests := []struct {
		name    string
		mutate  func(*MemberBalance)
		wantErr bool
	}{
		{name: "valid", mutate: func(*MemberBalance) {}},
		{name: "empty member id", mutate: func(m *MemberBalance) { m.MemberID = "" }, wantErr: true},
		{name: "blank member id", mutate: func(m *MemberBalance) { m.MemberID = "   " }, wantErr: true},
		{name: "empty team id", mutate: func(m *MemberBalance) { m.TeamID = "" }, wantErr: true},
		{name: "negative credits", mutate: func(m *MemberBalance) { m.Credits = -1 }, wantErr: true},
		{name: "negative monthly credits", mutate: func(m *MemberBalance) { m.MonthlyCredits = -5 }, wantErr: true},
		{name: "oversized user name", mutate: func(m *MemberBalance) { m.UserName = strings.Repeat("a", 201) }, wantErr: true},
		{name: "empty user name is fine", mutate: func(m *MemberBalance) { m.UserName = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemberBalance_HasMonthlyAutomation(t *testing.T) {
	now := time.Now()
	m := MemberBalance{MemberID: "m1", TeamID: "t1"}
	if m.HasMonthlyAutomation() {
		t.Error("expected no automation on zero monthly credits")
	}

	m.MonthlyCredits = 40
	if m.HasMonthlyAutomation() {
		t.Error("expected no automation without a funding manager")
	}

	m.MonthlyCreditManagerID = "mgr"
	m.LastMonthlyCreditDate = &now
	if !m.HasMonthlyAutomation() {
		t.Error("expected automation to be active")
	}
}

func TestTransactionType_Valid(t *testing.T) {
	for _, typ := range []TransactionType{
		TransactionAdd, TransactionRemove, TransactionManual,
		TransactionMonthlySetup, TransactionMonthlyCancel,
	} {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if TransactionType("REFUND").Valid() {
		t.Error("unknown type should be invalid")
	}
}
