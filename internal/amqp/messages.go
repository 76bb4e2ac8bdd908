package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"budget/internal/core"
)

// RunRequestMessage asks a worker to run one budget operation.
type RunRequestMessage struct {
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewRunRequestMessage creates a request for operation stamped with the current time.
func NewRunRequestMessage(operation string) *RunRequestMessage {
	now := time.Now().UTC()
	return &RunRequestMessage{
		ID:          fmt.Sprintf("%s-%d", operation, now.UnixNano()),
		Operation:   operation,
		RequestedAt: now,
	}
}

// ToJSON converts the message to JSON bytes
func (m *RunRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RunRequestMessageFromJSON creates a message from JSON bytes
func RunRequestMessageFromJSON(data []byte) (*RunRequestMessage, error) {
	var msg RunRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Operation == "" {
		return nil, fmt.Errorf("run request %q has no operation", msg.ID)
	}
	return &msg, nil
}

// ProgressMessage is the wire form of core.Progress.
type ProgressMessage struct {
	Stage        string    `json:"stage"`
	Operation    string    `json:"operation"`
	Dates        int       `json:"dates,omitempty"`
	Transactions int       `json:"transactions,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

func NewProgressMessage(p core.Progress) ProgressMessage {
	msg := ProgressMessage{
		Stage:        string(p.Stage),
		Operation:    p.Operation,
		Dates:        p.Dates,
		Transactions: p.Transactions,
		At:           p.At.UTC(),
	}
	if p.Err != nil {
		msg.Error = p.Err.Error()
	}
	return msg
}

func (m ProgressMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
