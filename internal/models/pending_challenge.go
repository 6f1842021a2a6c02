package models

import (
	"time"

	"github.com/google/uuid"
)

// PendingChallenge pairs a desktop login request with the browser session
// that will satisfy it. At most one entry exists per exchange id; once
// consumed the row stays behind as a tombstone so the same id can never be
// registered or validated again before the sweep removes it.
type PendingChallenge struct {
	ExchangeID    string     `json:"exchange_id"`
	CodeChallenge string     `json:"-"`
	Method        string     `json:"method"`
	SatisfiedBy   *uuid.UUID `json:"satisfied_by,omitempty"`
	Consumed      bool       `json:"consumed"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

func (c *PendingChallenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
