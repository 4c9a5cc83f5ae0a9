package amqp

import (
	"encoding/json"
	"time"
)

// BudgetAlertMessage is published when a budget category escalates to a
// higher alert level. Limit and Spent are decimal amounts.
type BudgetAlertMessage struct {
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Limit     float64   `json:"limit"`
	Spent     float64   `json:"spent"`
	Progress  float64   `json:"progress"`
	Threshold float64   `json:"threshold"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBudgetAlertMessage stamps the message with the current time
func NewBudgetAlertMessage(userID, category, level string, limit, spent, progress, threshold float64) *BudgetAlertMessage {
	return &BudgetAlertMessage{
		UserID:    userID,
		Category:  category,
		Limit:     limit,
		Spent:     spent,
		Progress:  progress,
		Threshold: threshold,
		Level:     level,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *BudgetAlertMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BudgetAlertMessageFromJSON creates a message from JSON bytes
func BudgetAlertMessageFromJSON(data []byte) (*BudgetAlertMessage, error) {
	var msg BudgetAlertMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
