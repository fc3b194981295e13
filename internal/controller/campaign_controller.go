// internal/controller/campaign_controller.go
package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/phishsim-backend/internal/errors"
	"github.com/unclebandit/phishsim-backend/internal/logging"
	"github.com/unclebandit/phishsim-backend/internal/model"
	"github.com/unclebandit/phishsim-backend/internal/service"
)

// SMTPTestTimeout bounds the SMTP connectivity check.
const SMTPTestTimeout = 15 * time.Second

// SMTPTester dials, authenticates and disconnects.
type SMTPTester func(ctx context.Context, settings model.SMTPSettings) error

type CampaignController struct {
	CampaignService *service.CampaignService
	ReportService   *service.ReportService
	Templates       *service.TemplateRegistry
	SMTPTest        SMTPTester
	SMTPDefaults    model.SMTPSettings
	Logger          *zap.Logger
}

// Routes returns the admin API, to be mounted under /api.
func (c *CampaignController) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))

	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/{id}", c.GetCampaignDetails)
	r.Post("/campaigns/{id}/dispatch", c.SendCampaign)
	r.Get("/targets", c.ListTargets)
	r.Get("/stats", c.Stats)
	r.Get("/dashboard", c.Dashboard)
	r.Get("/templates", c.ListTemplates)
	r.Get("/report.csv", c.ExportReport)
	r.Post("/smtp/test", c.TestSMTP)
	return r
}

type deliveryBody struct {
	SenderEmail string `json:"sender_email"`
	BaseURL     string `json:"base_url"`
	SMTPHost    string `json:"smtp_host"`
	SMTPPort    int    `json:"smtp_port"`
	SMTPUser    string `json:"smtp_user"`
	SMTPPass    string `json:"smtp_pass"`
}

func (b deliveryBody) options() service.LaunchOptions {
	return service.LaunchOptions{
		SenderEmail: b.SenderEmail,
		BaseURL:     b.BaseURL,
		SMTP: model.SMTPSettings{
			Host:     b.SMTPHost,
			Port:     b.SMTPPort,
			Username: b.SMTPUser,
			Password: b.SMTPPass,
		},
	}
}

func (c *CampaignController) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.OrNop(c.Logger).Error("admin request failed", zap.Error(err))
		respondError(w, status, errors.New("internal error"))
		return
	}
	respondError(w, status, err)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string            `json:"name"`
		Template    string            `json:"template"`
		Targets     []model.TargetRow `json:"targets"`
		TargetsText string            `json:"targets_text"`
		deliveryBody
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}

	result, err := c.CampaignService.Launch(r.Context(), service.LaunchRequest{
		Name:          body.Name,
		Template:      body.Template,
		Targets:       body.Targets,
		TargetsText:   body.TargetsText,
		LaunchOptions: body.options(),
	})
	if err != nil {
		c.fail(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, result)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := c.ReportService.Campaigns(r.Context())
	if err != nil {
		c.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": campaigns})
}

func campaignID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: invalid campaign id", appErrors.ErrInvalidInput)
	}
	return id, nil
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		c.fail(w, err)
		return
	}
	summary, err := c.ReportService.Campaign(r.Context(), id)
	if err != nil {
		c.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// SendCampaign re-dispatches the campaign's unsent targets. The body is
// optional.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		c.fail(w, err)
		return
	}
	var body deliveryBody
	if err := decodeOptionalJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}

	result, err := c.CampaignService.Redispatch(r.Context(), id, body.options())
	if err != nil {
		c.fail(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, result)
}

func (c *CampaignController) ListTargets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.TargetFilter{Status: q.Get("status")}
	for key, dest := range map[string]*int{"campaign_id": &filter.CampaignID, "limit": &filter.Limit} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.fail(w, fmt.Errorf("%w: invalid %s", appErrors.ErrInvalidInput, key))
				return
			}
			*dest = n
		}
	}

	targets, err := c.ReportService.Targets(r.Context(), filter)
	if err != nil {
		c.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": targets})
}

func (c *CampaignController) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.ReportService.Stats(r.Context())
	if err != nil {
		c.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (c *CampaignController) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := c.ReportService.Dashboard(r.Context())
	if err != nil {
		c.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (c *CampaignController) ListTemplates(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"data": c.Templates.List()})
}

func (c *CampaignController) ExportReport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := c.ReportService.WriteAuditCSV(r.Context(), &buf); err != nil {
		c.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment;filename=phishing_report.csv")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (c *CampaignController) TestSMTP(w http.ResponseWriter, r *http.Request) {
	var body deliveryBody
	if err := decodeOptionalJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	settings := body.options().SMTP
	if settings.Host == "" {
		settings.Host = c.SMTPDefaults.Host
	}
	if settings.Port == 0 {
		settings.Port = c.SMTPDefaults.Port
	}
	if settings.Username == "" {
		settings.Username, settings.Password = c.SMTPDefaults.Username, c.SMTPDefaults.Password
	}
	if settings.Username == "" || settings.Password == "" {
		c.fail(w, fmt.Errorf("%w: smtp_user and smtp_pass are required", appErrors.ErrInvalidInput))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), SMTPTestTimeout)
	defer cancel()
	if err := c.SMTPTest(ctx, settings); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("logged in as %s via %s:%d", settings.Username, settings.Host, settings.Port),
	})
}
