package models

import (
	"time"

	"github.com/google/uuid"
)

type SupportStatus string

const (
	SupportOpen     SupportStatus = "open"
	SupportAssigned SupportStatus = "assigned"
	SupportResolved SupportStatus = "resolved"
)

func (s SupportStatus) Valid() bool {
	switch s {
	case SupportOpen, SupportAssigned, SupportResolved:
		return true
	}
	return false
}

type SenderRole string

const (
	SenderUser  SenderRole = "human"
	SenderStaff SenderRole = "admin"
)

type SupportMessage struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  uuid.UUID  `json:"session_id"`
	SenderRole SenderRole `json:"sender_role"`
	SenderID   *uuid.UUID `json:"sender_id,omitempty"`
	SenderName string     `json:"sender_name"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SupportSession is a conversation between a user and staff. Messages are
// ordered oldest first.
type SupportSession struct {
	ID         uuid.UUID        `json:"id"`
	UserID     uuid.UUID        `json:"user_id"`
	Subject    string           `json:"subject"`
	Distress   bool             `json:"distress"`
	Status     SupportStatus    `json:"status"`
	AssignedTo string           `json:"assigned_admin_name,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	ClosedAt   *time.Time       `json:"closed_at,omitempty"`
	Messages   []SupportMessage `json:"messages"`
}
