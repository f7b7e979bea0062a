package storage

import (
	"errors"
	"time"

	"github.com/greenshield/reengage-backend/internal/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

var storeInstance Store

// SetStore sets the global store instance (call from main.go)
func SetStore(s Store) {
	storeInstance = s
}

// GetStore returns the global store instance
func GetStore() Store {
	return storeInstance
}

// ConversationSummary is one row of the console conversation list:
// a contact plus its most recent turn.
type ConversationSummary struct {
	ContactID uint      `json:"contact_id"`
	Phone     string    `json:"phone"`
	State     string    `json:"state"`
	LastBody  string    `json:"last_body"`
	LastAt    time.Time `json:"last_at"`
	TurnCount int       `json:"turn_count"`
}

// Store defines the interface for storage operations
type Store interface {
	// Contact operations
	CreateContact(contact *models.Contact) (*models.Contact, error)
	GetContact(id uint) (*models.Contact, error)
	GetContactByPhone(phone string) (*models.Contact, error)
	UpdateContact(contact *models.Contact) error
	CountContactsNotInStates(states []string) (int, error)
	ListContactsInStates(states []string, updatedBefore time.Time) ([]*models.Contact, error)
	ListCampaignCandidates(minDaysSince, limit int) ([]*models.Contact, error)

	// Conversation turns (append-only audit log)
	AppendTurn(turn *models.ConversationTurn) error
	GetTurnByCarrierMessageID(sid string) (*models.ConversationTurn, error)
	GetTurnsByContact(contactID uint, from, to time.Time) ([]*models.ConversationTurn, error)
	ListConversations(query string) ([]*ConversationSummary, error)
	ListRejections(limit int) ([]*models.ConversationTurn, error)

	// Campaign runs
	CreateCampaignRun(run *models.CampaignRun) error
	UpdateCampaignRun(run *models.CampaignRun) error
	GetCampaignRun(runID string) (*models.CampaignRun, error)
}
