package models

import (
	"time"

	"gorm.io/gorm"
)

// Direction of a conversation turn.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Outcome of a conversation turn. Inbound turns are always "received";
// outbound turns record what actually happened to the message.
const (
	OutcomeReceived   = "received"
	OutcomeSent       = "sent"
	OutcomeSuppressed = "suppressed" // outbound disabled, gateway never called
	OutcomeFailed     = "failed"     // gateway rejected the send
	OutcomeRejected   = "rejected"
)

// ConversationTurn is one append-only audit entry: every inbound message and
// every outbound attempt, including suppressed and failed ones.
type ConversationTurn struct {
	gorm.Model

	ContactID uint `gorm:"index;not null" json:"contact_id"`

	// Phone is set only on contact-less rejection rows (ContactID 0): inbound
	// attempts rejected before any contact was resolved.
	Phone string `gorm:"index" json:"phone,omitempty"`

	Direction string `gorm:"not null" json:"direction"` // "in" or "out"
	Body      string `json:"body"`
	State     string `json:"state"` // contact state after this turn

	// Carrier message id: inbound SID on received turns, send SID on sent
	// turns, empty for suppressed/failed. Indexed for replay detection.
	CarrierMessageID string `gorm:"index" json:"carrier_message_id"`

	Outcome string    `gorm:"not null" json:"outcome"`
	SentAt  time.Time `gorm:"index" json:"sent_at"`
}
