package models

import "time"

// CampaignRun records one outreach batch: what was requested, what was
// admitted and how each admitted candidate ended up.
type CampaignRun struct {
	RunID    string `gorm:"primaryKey" json:"run_id"`
	Criteria string `json:"criteria"`

	MaxActive int `json:"max_active"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	Requested  int `json:"requested"`
	Sent       int `json:"sent"`
	Suppressed int `json:"suppressed"` // processed but intentionally not transmitted
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`

	Cancelled bool `json:"cancelled"`
}
