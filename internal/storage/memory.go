package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/greenshield/reengage-backend/internal/models"
)

// MemoryStore holds all data in memory. Used for tests and local
// development (USE_MEMORY_STORE=true), not for production.
type MemoryStore struct {
	contacts map[uint]*models.Contact
	byPhone  map[string]uint
	turns    []*models.ConversationTurn
	runs     map[string]*models.CampaignRun

	// Mutexes for thread safety
	contactMu sync.RWMutex
	turnMu    sync.RWMutex
	runMu     sync.RWMutex

	contactCounter uint
	turnCounter    uint
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts: make(map[uint]*models.Contact),
		byPhone:  make(map[string]uint),
		runs:     make(map[string]*models.CampaignRun),
	}
}

// Contact operations

func (m *MemoryStore) CreateContact(contact *models.Contact) (*models.Contact, error) {
	m.contactMu.Lock()
	defer m.contactMu.Unlock()

	if _, exists := m.byPhone[contact.Phone]; exists {
		return nil, fmt.Errorf("contact already exists for %s", contact.Phone)
	}

	m.contactCounter++
	contact.ID = m.contactCounter
	contact.CreatedAt = time.Now()
	contact.UpdatedAt = time.Now()

	m.contacts[contact.ID] = contact
	m.byPhone[contact.Phone] = contact.ID
	return contact, nil
}

func (m *MemoryStore) GetContact(id uint) (*models.Contact, error) {
	m.contactMu.RLock()
	defer m.contactMu.RUnlock()

	contact, exists := m.contacts[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *contact
	return &copied, nil
}

func (m *MemoryStore) GetContactByPhone(phone string) (*models.Contact, error) {
	m.contactMu.RLock()
	defer m.contactMu.RUnlock()

	id, exists := m.byPhone[phone]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *m.contacts[id]
	return &copied, nil
}

func (m *MemoryStore) UpdateContact(contact *models.Contact) error {
	m.contactMu.Lock()
	defer m.contactMu.Unlock()

	existing, exists := m.contacts[contact.ID]
	if !exists {
		return ErrNotFound
	}
	contact.CreatedAt = existing.CreatedAt
	contact.UpdatedAt = time.Now()
	copied := *contact
	m.contacts[contact.ID] = &copied
	m.byPhone[copied.Phone] = copied.ID
	return nil
}

func (m *MemoryStore) CountContactsNotInStates(states []string) (int, error) {
	m.contactMu.RLock()
	defer m.contactMu.RUnlock()

	excluded := make(map[string]bool, len(states))
	for _, s := range states {
		excluded[s] = true
	}

	count := 0
	for _, contact := range m.contacts {
		if !excluded[contact.State] {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListContactsInStates(states []string, updatedBefore time.Time) ([]*models.Contact, error) {
	m.contactMu.RLock()
	defer m.contactMu.RUnlock()

	wanted := make(map[string]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}

	result := []*models.Contact{}
	for _, contact := range m.contacts {
		if wanted[contact.State] && contact.UpdatedAt.Before(updatedBefore) {
			copied := *contact
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) ListCampaignCandidates(minDaysSince, limit int) ([]*models.Contact, error) {
	m.contactMu.RLock()
	defer m.contactMu.RUnlock()

	result := []*models.Contact{}
	for _, contact := range m.contacts {
		if !contact.Cancelled || contact.DaysSinceService < minDaysSince {
			continue
		}
		copied := *contact
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Conversation turn operations

func (m *MemoryStore) AppendTurn(turn *models.ConversationTurn) error {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	m.turnCounter++
	turn.ID = m.turnCounter
	turn.CreatedAt = time.Now()
	if turn.SentAt.IsZero() {
		turn.SentAt = time.Now()
	}
	copied := *turn
	m.turns = append(m.turns, &copied)
	return nil
}

func (m *MemoryStore) GetTurnByCarrierMessageID(sid string) (*models.ConversationTurn, error) {
	if sid == "" {
		return nil, ErrNotFound
	}

	m.turnMu.RLock()
	defer m.turnMu.RUnlock()

	for _, turn := range m.turns {
		if turn.CarrierMessageID == sid {
			copied := *turn
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetTurnsByContact(contactID uint, from, to time.Time) ([]*models.ConversationTurn, error) {
	m.turnMu.RLock()
	defer m.turnMu.RUnlock()

	result := []*models.ConversationTurn{}
	for _, turn := range m.turns {
		if turn.ContactID != contactID {
			continue
		}
		if !from.IsZero() && turn.SentAt.Before(from) {
			continue
		}
		if !to.IsZero() && turn.SentAt.After(to) {
			continue
		}
		copied := *turn
		result = append(result, &copied)
	}
	return result, nil
}

func (m *MemoryStore) ListRejections(limit int) ([]*models.ConversationTurn, error) {
	m.turnMu.RLock()
	defer m.turnMu.RUnlock()

	result := []*models.ConversationTurn{}
	for i := len(m.turns) - 1; i >= 0; i-- {
		if m.turns[i].Outcome != models.OutcomeRejected {
			continue
		}
		copied := *m.turns[i]
		result = append(result, &copied)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) ListConversations(query string) ([]*ConversationSummary, error) {
	m.contactMu.RLock()
	defer m.contactMu.RUnlock()
	m.turnMu.RLock()
	defer m.turnMu.RUnlock()

	summaries := []*ConversationSummary{}
	for _, contact := range m.contacts {
		if query != "" && !strings.Contains(contact.Phone, query) {
			continue
		}

		summary := &ConversationSummary{
			ContactID: contact.ID,
			Phone:     contact.Phone,
			State:     contact.State,
		}
		for _, turn := range m.turns {
			if turn.ContactID != contact.ID {
				continue
			}
			summary.TurnCount++
			if turn.SentAt.After(summary.LastAt) {
				summary.LastAt = turn.SentAt
				summary.LastBody = turn.Body
			}
		}
		if summary.TurnCount > 0 {
			summaries = append(summaries, summary)
		}
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].LastAt.After(summaries[j].LastAt) })
	return summaries, nil
}

// Campaign run operations

func (m *MemoryStore) CreateCampaignRun(run *models.CampaignRun) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	copied := *run
	m.runs[run.RunID] = &copied
	return nil
}

func (m *MemoryStore) UpdateCampaignRun(run *models.CampaignRun) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if _, exists := m.runs[run.RunID]; !exists {
		return ErrNotFound
	}
	copied := *run
	m.runs[run.RunID] = &copied
	return nil
}

func (m *MemoryStore) GetCampaignRun(runID string) (*models.CampaignRun, error) {
	m.runMu.RLock()
	defer m.runMu.RUnlock()

	run, exists := m.runs[runID]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *run
	return &copied, nil
}
