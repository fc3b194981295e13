// internal/handler/tracking_handler.go
package handler

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/unclebandit/phishsim-backend/internal/logging"
)

//go:embed pages/*.html
var pageFS embed.FS

var pages = template.Must(template.ParseFS(pageFS, "pages/*.html"))

// maxCaptureBody caps how much of a capture request is drained.
const maxCaptureBody = 1 << 20

// Tracker applies tracking events. The result only says whether the token
// was known and must never change the response.
type Tracker interface {
	Click(ctx context.Context, tok, ip, userAgent string) bool
	Submit(ctx context.Context, tok string) bool
	Report(ctx context.Context, tok string) bool
}

// TrackingHandler serves the links embedded in lure emails. Every response
// depends only on the request path, never on whether the token exists.
type TrackingHandler struct {
	Tracker Tracker
	Logger  *zap.Logger
}

// Routes mounts the tracking endpoints, limited to ratePerMinute requests
// per client IP when ratePerMinute is positive.
func (h *TrackingHandler) Routes(ratePerMinute int) http.Handler {
	r := chi.NewRouter()
	if ratePerMinute > 0 {
		r.Use(httprate.LimitByIP(ratePerMinute, time.Minute))
	}
	r.Get("/click/{token}", h.Click)
	r.Post("/capture/{token}", h.Capture)
	r.Get("/report/{token}", h.Report)
	return r
}

// Click records the first click and shows the fake login form.
func (h *TrackingHandler) Click(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	h.Tracker.Click(r.Context(), tok, ClientIP(r), r.UserAgent())
	h.render(w, "landing.html", struct{ Token string }{Token: tok})
}

// Capture records the submission. The body is drained unread so no
// credential ever reaches this process's memory as parsed form values.
func (h *TrackingHandler) Capture(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxCaptureBody))
	h.Tracker.Submit(r.Context(), chi.URLParam(r, "token"))
	h.render(w, "awareness.html", nil)
}

func (h *TrackingHandler) Report(w http.ResponseWriter, r *http.Request) {
	h.Tracker.Report(r.Context(), chi.URLParam(r, "token"))
	h.render(w, "reported.html", nil)
}

func (h *TrackingHandler) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		logging.OrNop(h.Logger).Error("render page", zap.String("page", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// ClientIP is the host part of RemoteAddr. Behind a trusted proxy the
// server installs chi's RealIP middleware, which rewrites RemoteAddr first.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
