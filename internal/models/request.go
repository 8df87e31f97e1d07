package models

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestDraft            RequestStatus = "draft"
	RequestAwaitingApproval RequestStatus = "awaiting_approval"
	RequestApproved         RequestStatus = "approved"
	RequestRejected         RequestStatus = "rejected"
	RequestCompleted        RequestStatus = "completed"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestDraft, RequestAwaitingApproval, RequestApproved, RequestRejected, RequestCompleted:
		return true
	}
	return false
}

// Insurable reports whether a policy may be created against a request in this status.
func (s RequestStatus) Insurable() bool {
	return s == RequestApproved || s == RequestCompleted
}

type MiniaturizationRequest struct {
	ID                  uuid.UUID         `json:"id"`
	UserID              uuid.UUID         `json:"user_id"`
	Scale               float64           `json:"scale"`
	SafetyAnswers       map[string]string `json:"safety_answers"`
	CostUSD             float64           `json:"cost_usd"`
	Status              RequestStatus     `json:"status"`
	StaffHealthRating   *int              `json:"staff_health_rating,omitempty"`
	StaffHealthRatingAt *time.Time        `json:"staff_health_rating_at,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	ApprovedAt          *time.Time        `json:"approved_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
}

// MiniaturizationToken authorises the procedure for a request. Its status drives the request's.
type MiniaturizationToken struct {
	ID          uuid.UUID     `json:"id"`
	UserID      uuid.UUID     `json:"user_id"`
	RequestID   uuid.UUID     `json:"request_id"`
	DNATokenID  uuid.UUID     `json:"dna_token_id"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ApprovedAt  *time.Time    `json:"approved_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

type DNAToken struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	PayloadChecksum string    `json:"payload_checksum"`
	CreatedAt       time.Time `json:"created_at"`
}

type MemoryLog struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Text          string    `json:"memory_text"`
	Valence       float64   `json:"valence"`
	Strength      float64   `json:"strength"`
	Toxicity      float64   `json:"toxicity"`
	PointsAwarded float64   `json:"tokens_awarded"`
	CreatedAt     time.Time `json:"timestamp"`
}
