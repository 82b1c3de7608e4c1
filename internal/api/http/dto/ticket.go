package dto

import "time"

type SubmitTicketResponse struct {
	ID         string    `json:"id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Pending    int       `json:"pending"`
}

type QueueItem struct {
	ID         string         `json:"id"`
	Payload    map[string]any `json:"payload"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"last_error,omitempty"`
}

type QueueResponse struct {
	Items       []QueueItem `json:"items"`
	Count       int         `json:"count"`
	Corruptions int         `json:"corruptions"`
}

type RetryResponse struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Pending   int `json:"pending"`
}
