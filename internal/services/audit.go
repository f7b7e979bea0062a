package services

import (
	"log"
	"time"

	"github.com/greenshield/reengage-backend/internal/models"
	"github.com/greenshield/reengage-backend/internal/storage"
)

// AuditLog records every inbound and outbound event as an append-only
// conversation turn. The console reads this log as the source of truth,
// including suppressed and failed outcomes.
type AuditLog struct {
	store storage.Store
}

// NewAuditLog creates an audit writer over the store.
func NewAuditLog(store storage.Store) *AuditLog {
	return &AuditLog{store: store}
}

// Record appends one turn. Failures are returned so callers can surface
// them, but by then the state transition has already been committed.
func (a *AuditLog) Record(contactID uint, direction, body string, state State, carrierSID, outcome string) error {
	turn := &models.ConversationTurn{
		ContactID:        contactID,
		Direction:        direction,
		Body:             body,
		State:            string(state),
		CarrierMessageID: carrierSID,
		Outcome:          outcome,
		SentAt:           time.Now(),
	}
	if err := a.store.AppendTurn(turn); err != nil {
		log.Printf("❌ Failed to append audit turn for contact %d: %v", contactID, err)
		return err
	}
	return nil
}

// RecordRejection appends a contact-less audit row (ContactID 0, keyed by
// phone) for an inbound attempt rejected before any contact was resolved:
// unknown phone or failed signature verification.
func (a *AuditLog) RecordRejection(phone, body, carrierSID string) error {
	turn := &models.ConversationTurn{
		Phone:            phone,
		Direction:        models.DirectionIn,
		Body:             body,
		CarrierMessageID: carrierSID,
		Outcome:          models.OutcomeRejected,
		SentAt:           time.Now(),
	}
	if err := a.store.AppendTurn(turn); err != nil {
		log.Printf("❌ Failed to append rejection record for %s: %v", phone, err)
		return err
	}
	return nil
}

// Transcript returns the turns for a contact within the given time range.
// Zero times mean unbounded.
func (a *AuditLog) Transcript(contactID uint, from, to time.Time) ([]*models.ConversationTurn, error) {
	return a.store.GetTurnsByContact(contactID, from, to)
}
