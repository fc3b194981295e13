// internal/service/template_service.go
package service

import (
	"embed"
	"html"
	"sort"
	"strings"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
)

//go:embed lures/*.html
var lureFS embed.FS

// DefaultRecipientName replaces an empty recipient name.
const DefaultRecipientName = "Team Member"

// EmailTemplate is one registered lure. Body holds the {name} and {link}
// placeholders.
type EmailTemplate struct {
	Key        string `json:"key"`
	Subject    string `json:"subject"`
	SenderName string `json:"sender_name"`
	Body       string `json:"-"`
}

// RenderedEmail is the output of Render.
type RenderedEmail struct {
	Subject    string
	BodyHTML   string
	SenderName string
}

// TemplateRegistry is a fixed set of lures keyed by template key.
type TemplateRegistry struct {
	templates map[string]EmailTemplate
}

// NewTemplateRegistry returns the built-in lures.
func NewTemplateRegistry() *TemplateRegistry {
	r := &TemplateRegistry{templates: make(map[string]EmailTemplate)}
	for _, t := range []EmailTemplate{
		{Key: "it_password_reset", Subject: "⚠️ Action Required: Your password will expire in 24 hours", SenderName: "IT Help Desk"},
		{Key: "hr_payroll_update", Subject: "Important: Update your payroll direct deposit information", SenderName: "HR Department"},
		{Key: "ceo_urgent_request", Subject: "Urgent request from the CEO - Confidential", SenderName: "CEO Office"},
		{Key: "shared_file_notification", Subject: "Someone shared a file with you on Company Drive", SenderName: "Company Drive"},
	} {
		body, err := lureFS.ReadFile("lures/" + t.Key + ".html")
		if err != nil {
			panic("missing lure body: " + t.Key)
		}
		t.Body = string(body)
		r.Register(t)
	}
	return r
}

// Register adds or replaces a template.
func (r *TemplateRegistry) Register(t EmailTemplate) {
	r.templates[t.Key] = t
}

func (r *TemplateRegistry) Has(key string) bool {
	_, ok := r.templates[key]
	return ok
}

// List returns the catalogue sorted by key.
func (r *TemplateRegistry) List() []EmailTemplate {
	out := make([]EmailTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Render substitutes the recipient name and tracking link into the lure.
func (r *TemplateRegistry) Render(key, name, link string) (RenderedEmail, error) {
	t, ok := r.templates[key]
	if !ok {
		return RenderedEmail{}, &appErrors.UnknownTemplateError{Key: key}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultRecipientName
	}
	return RenderedEmail{
		Subject:    t.Subject,
		SenderName: t.SenderName,
		BodyHTML: RenderTemplate(t.Body, map[string]string{
			"name": html.EscapeString(name),
			"link": html.EscapeString(link),
		}),
	}, nil
}

// RenderTemplate replaces every {key} in template with its value.
func RenderTemplate(template string, data map[string]string) string {
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
