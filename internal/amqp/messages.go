package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"akiba/internal/core"
)

// Message types carried in Envelope.Type.
const (
	TypeTopUpStatus    = "topup.status"
	TypeSavingRecorded = "saving.recorded"
)

// MessageTypes lists every type published on the exchange.
func MessageTypes() []string {
	return []string{TypeTopUpStatus, TypeSavingRecorded}
}

// Envelope is the wire format of every message on the queue. Body holds one of
// the typed messages below, selected by Type.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Body      json.RawMessage `json:"body"`
}

// TopUpStatusMessage announces that a top-up reached a terminal status.
type TopUpStatusMessage struct {
	Reference     string `json:"reference"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PhoneNumber   string `json:"phone_number"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// SavingRecordedMessage announces a new ledger entry.
type SavingRecordedMessage struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	GoalID         string    `json:"goal_id,omitempty"`
	Amount         string    `json:"amount"`
	Source         string    `json:"source"`
	TopUpReference string    `json:"topup_reference,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewTopUpStatusMessage(t core.TopUpRequest) TopUpStatusMessage {
	return TopUpStatusMessage{
		Reference:     t.ReferenceID,
		UserID:        t.UserID,
		Status:        string(t.Status),
		Amount:        t.Amount.String(),
		Currency:      t.Currency,
		PhoneNumber:   t.PhoneNumber,
		TransactionID: t.TransactionID,
		Reason:        t.Reason,
	}
}

func NewSavingRecordedMessage(e core.LedgerEntry) SavingRecordedMessage {
	return SavingRecordedMessage{
		ID:             e.ID,
		UserID:         e.UserID,
		GoalID:         e.GoalID,
		Amount:         e.Amount.String(),
		Source:         string(e.Source),
		TopUpReference: e.TopUpReference,
		CreatedAt:      e.CreatedAt,
	}
}

// Encode wraps body in an Envelope of the given type.
func Encode(typ string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Timestamp: time.Now().UTC(), Body: raw})
}

// Decode parses an envelope without interpreting its body.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope has no type")
	}
	return env, nil
}
