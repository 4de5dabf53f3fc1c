package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/martinsvarc/creditmanagement/internal/core"
)

// CreditEventMessage announces one committed ledger transaction. It carries
// only identifiers and the logged amount; consumers fetch the full row from
// the store, which stays the source of truth.
type CreditEventMessage struct {
	EventID       string    `json:"event_id"`
	TransactionID int64     `json:"transaction_id"`
	TeamID        string    `json:"team_id"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewCreditEventMessage creates an event for a committed transaction.
func NewCreditEventMessage(transactionID int64, teamID string, typ core.TransactionType, amount int64) *CreditEventMessage {
	return &CreditEventMessage{
		EventID:       uuid.NewString(),
		TransactionID: transactionID,
		TeamID:        teamID,
		Type:          string(typ),
		Amount:        amount,
		Timestamp:     time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *CreditEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CreditEventMessageFromJSON creates a message from JSON bytes
func CreditEventMessageFromJSON(data []byte) (*CreditEventMessage, error) {
	var msg CreditEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
