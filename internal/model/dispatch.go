// internal/model/dispatch.go
package model

// DispatchJob is the value snapshot handed to the background dispatch run.
// It never references live store records.
type DispatchJob struct {
	CampaignID  int              `json:"campaign_id"`
	TemplateKey string           `json:"template_key"`
	BaseURL     string           `json:"base_url"`
	SenderEmail string           `json:"sender_email"`
	SMTP        SMTPSettings     `json:"smtp"`
	Recipients  []DispatchTarget `json:"recipients"`
}

type DispatchTarget struct {
	TargetID int    `json:"target_id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Token    string `json:"token"`
}

// SMTPSettings are the per-campaign mail submission parameters.
type SMTPSettings struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// DispatchResult summarises one finished dispatch run.
type DispatchResult struct {
	CampaignID int    `json:"campaign_id"`
	Provider   string `json:"provider"`
	Attempted  int    `json:"attempted"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
}
