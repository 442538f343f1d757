package models

import "time"

// Message is the messages-collection document (direct chat between two
// users).
type Message struct {
	ID        string    `json:"message_id"`
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}
