package models

import "gorm.io/gorm"

// Contact is a known service customer reachable by SMS. Conversations only
// exist for contacts; inbound traffic from unknown phones is rejected.
type Contact struct {
	gorm.Model

	Phone string `gorm:"uniqueIndex;not null" json:"phone"` // E.164
	State string `gorm:"index;default:start" json:"state"`

	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	LastService string `json:"last_service"`

	// Campaign targeting
	DaysSinceService int  `json:"days_since_service"`
	Cancelled        bool `json:"cancelled"` // service lapsed, eligible for re-engagement

	// Set once a contact ever reaches an engaged state; survives later
	// transitions so reporting can distinguish never-engaged from dropped.
	WasInterested bool `json:"was_interested"`
}
