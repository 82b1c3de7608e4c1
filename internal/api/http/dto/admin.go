package dto

import "time"

type LoginRequest struct {
	PIN string `json:"pin" binding:"required"`
}

type LoginResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Permissions []string  `json:"permissions"`
	PinType     string    `json:"pin_type"`
	Offline     bool      `json:"offline"`
}
