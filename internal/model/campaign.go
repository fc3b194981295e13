// internal/model/campaign.go
package model

import "time"

type Campaign struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Template  string    `db:"template" json:"template"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CampaignSummary is a campaign with its per-target counters.
type CampaignSummary struct {
	Campaign
	TargetCount int `json:"target_count"`
	Sent        int `json:"sent"`
	Clicked     int `json:"clicked"`
	Submitted   int `json:"submitted"`
	Reported    int `json:"reported"`
}
