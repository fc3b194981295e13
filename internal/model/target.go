// internal/model/target.go
package model

import "time"

// Target is one recipient of a campaign and the events recorded for it.
type Target struct {
	ID          int        `db:"id" json:"id"`
	CampaignID  int        `db:"campaign_id" json:"campaign_id"`
	Email       string     `db:"email" json:"email"`
	Name        string     `db:"name" json:"name,omitempty"`
	Department  string     `db:"department" json:"department,omitempty"`
	Token       string     `db:"token" json:"token"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	ClickedAt   *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
	SubmittedAt *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	Reported    bool       `db:"reported" json:"reported"`
	IPAddress   string     `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent   string     `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Target statuses, most severe first.
const (
	StatusSubmitted = "submitted"
	StatusClicked   = "clicked"
	StatusReported  = "reported"
	StatusSent      = "sent"
	StatusPending   = "pending"
)

// Status derives the dashboard status of the target.
func (t *Target) Status() string {
	switch {
	case t.SubmittedAt != nil:
		return StatusSubmitted
	case t.ClickedAt != nil:
		return StatusClicked
	case t.Reported:
		return StatusReported
	case t.SentAt != nil:
		return StatusSent
	default:
		return StatusPending
	}
}

// TargetRow is one line of the target list supplied at campaign creation.
type TargetRow struct {
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	Department string `json:"department,omitempty"`
}

// TargetFilter narrows ListTargets. Zero values mean "no constraint".
type TargetFilter struct {
	CampaignID int
	Status     string
	// RecentFirst orders by clicked_at desc (nulls last) instead of creation order.
	RecentFirst bool
	Limit       int
}
