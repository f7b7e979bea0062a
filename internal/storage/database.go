package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/greenshield/reengage-backend/internal/models"
)

// DatabaseStore implements Store on top of PostgreSQL via GORM.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a GORM-backed store
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Contact operations

func (d *DatabaseStore) CreateContact(contact *models.Contact) (*models.Contact, error) {
	if err := d.db.Create(contact).Error; err != nil {
		return nil, err
	}
	return contact, nil
}

func (d *DatabaseStore) GetContact(id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := d.db.First(&contact, id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &contact, nil
}

func (d *DatabaseStore) GetContactByPhone(phone string) (*models.Contact, error) {
	var contact models.Contact
	if err := d.db.Where("phone = ?", phone).First(&contact).Error; err != nil {
		return nil, translateErr(err)
	}
	return &contact, nil
}

func (d *DatabaseStore) UpdateContact(contact *models.Contact) error {
	return d.db.Save(contact).Error
}

func (d *DatabaseStore) CountContactsNotInStates(states []string) (int, error) {
	var count int64
	err := d.db.Model(&models.Contact{}).
		Where("state NOT IN ?", states).
		Count(&count).Error
	return int(count), err
}

func (d *DatabaseStore) ListContactsInStates(states []string, updatedBefore time.Time) ([]*models.Contact, error) {
	var contacts []*models.Contact
	err := d.db.Where("state IN ? AND updated_at < ?", states, updatedBefore).
		Order("id").
		Find(&contacts).Error
	return contacts, err
}

func (d *DatabaseStore) ListCampaignCandidates(minDaysSince, limit int) ([]*models.Contact, error) {
	var contacts []*models.Contact
	q := d.db.Where("cancelled = ? AND days_since_service >= ?", true, minDaysSince).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&contacts).Error
	return contacts, err
}

// Conversation turn operations

func (d *DatabaseStore) AppendTurn(turn *models.ConversationTurn) error {
	if turn.SentAt.IsZero() {
		turn.SentAt = time.Now()
	}
	return d.db.Create(turn).Error
}

func (d *DatabaseStore) GetTurnByCarrierMessageID(sid string) (*models.ConversationTurn, error) {
	if sid == "" {
		return nil, ErrNotFound
	}
	var turn models.ConversationTurn
	if err := d.db.Where("carrier_message_id = ?", sid).First(&turn).Error; err != nil {
		return nil, translateErr(err)
	}
	return &turn, nil
}

func (d *DatabaseStore) GetTurnsByContact(contactID uint, from, to time.Time) ([]*models.ConversationTurn, error) {
	q := d.db.Where("contact_id = ?", contactID)
	if !from.IsZero() {
		q = q.Where("sent_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("sent_at <= ?", to)
	}
	var turns []*models.ConversationTurn
	err := q.Order("sent_at, id").Find(&turns).Error
	return turns, err
}

func (d *DatabaseStore) ListRejections(limit int) ([]*models.ConversationTurn, error) {
	q := d.db.Where("outcome = ?", models.OutcomeRejected).
		Order("sent_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var turns []*models.ConversationTurn
	err := q.Find(&turns).Error
	return turns, err
}

func (d *DatabaseStore) ListConversations(query string) ([]*ConversationSummary, error) {
	rows := []*ConversationSummary{}
	q := d.db.Table("contacts").
		Select(`contacts.id AS contact_id, contacts.phone, contacts.state,
			MAX(conversation_turns.sent_at) AS last_at,
			COUNT(conversation_turns.id) AS turn_count`).
		Joins("JOIN conversation_turns ON conversation_turns.contact_id = contacts.id").
		Group("contacts.id, contacts.phone, contacts.state").
		Order("last_at DESC")
	if query != "" {
		q = q.Where("contacts.phone LIKE ?", "%"+query+"%")
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	// Second pass for the latest body; GORM has no clean per-group first row.
	for _, row := range rows {
		var turn models.ConversationTurn
		err := d.db.Where("contact_id = ?", row.ContactID).
			Order("sent_at DESC, id DESC").
			First(&turn).Error
		if err == nil {
			row.LastBody = turn.Body
		}
	}
	return rows, nil
}

// Campaign run operations

func (d *DatabaseStore) CreateCampaignRun(run *models.CampaignRun) error {
	return d.db.Create(run).Error
}

func (d *DatabaseStore) UpdateCampaignRun(run *models.CampaignRun) error {
	return d.db.Save(run).Error
}

func (d *DatabaseStore) GetCampaignRun(runID string) (*models.CampaignRun, error) {
	var run models.CampaignRun
	if err := d.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		return nil, translateErr(err)
	}
	return &run, nil
}
