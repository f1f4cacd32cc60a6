package amqp

import (
	"encoding/json"
	"time"
)

// RunEventMessage announces a completed bookkeeping run so the journal
// worker can record it. It carries only the run's headline numbers; the
// amounts are fixed-point strings to keep the wire format exact.
type RunEventMessage struct {
	Type      string    `json:"type"`
	Month     int       `json:"month,omitempty"`
	Year      int       `json:"year"`
	Members   int       `json:"members"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRunEventMessage(runType string, month, year, members int, amount string) *RunEventMessage {
	return &RunEventMessage{
		Type:      runType,
		Month:     month,
		Year:      year,
		Members:   members,
		Amount:    amount,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RunEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RunEventMessageFromJSON creates a message from JSON bytes
func RunEventMessageFromJSON(data []byte) (*RunEventMessage, error) {
	var msg RunEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
