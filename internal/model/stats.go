// internal/model/stats.go
package model

import "time"

type Stats struct {
	Total      int     `json:"total_targets"`
	Clicked    int     `json:"clicked"`
	Submitted  int     `json:"submitted"`
	Reported   int     `json:"reported"`
	ClickRate  float64 `json:"click_rate"`
	SubmitRate float64 `json:"submit_rate"`
}

// AuditRow is one line of the audit export.
type AuditRow struct {
	CampaignID   int
	CampaignName string
	Email        string
	Name         string
	Department   string
	SentAt       *time.Time
	ClickedAt    *time.Time
	SubmittedAt  *time.Time
	Reported     bool
	IPAddress    string
	UserAgent    string
}
