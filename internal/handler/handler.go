// Package handler exposes the webhook receiver and the operator API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"acuity-passkit-bridge/internal/features"
	"acuity-passkit-bridge/internal/models"
	"acuity-passkit-bridge/internal/reconcile"
)

// Reconciler is the engine surface the handlers drive.
type Reconciler interface {
	Enroll(ctx context.Context, orderID string) (models.Result, error)
	Cancel(ctx context.Context, orderID string, cc reconcile.CancelContext) (models.Result, error)
	CancelByCertificateCode(ctx context.Context, code string, cc reconcile.CancelContext) (models.Result, error)
	LookupCertificate(ctx context.Context, code string) (models.CertificateLookupResponse, error)
}

// Flags reads and writes feature flags.
type Flags interface {
	IsEnabled(ctx context.Context, name string) bool
	Set(ctx context.Context, name string, enabled bool) error
	GetAll(ctx context.Context) map[string]*features.FeatureFlag
}

// ActivityLog is the audit trail the handlers write to and read from.
type ActivityLog interface {
	Info(ctx context.Context, msg string, data map[string]any)
	Warn(ctx context.Context, msg string, data map[string]any)
	Error(ctx context.Context, msg string, data map[string]any)
	Recent(ctx context.Context, limit int) []models.LogEntry
}

// StoreStatus reports on the durable store.
type StoreStatus interface {
	Backend() string
	IsAvailable(ctx context.Context) bool
}

// Upstream is a remote API that supports a connection test.
type Upstream interface {
	Configured() bool
	Ping(ctx context.Context) (string, error)
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Engine  Reconciler
	Flags   Flags
	Audit   ActivityLog
	Store   StoreStatus
	Acuity  Upstream
	PassKit Upstream
}

// Options holds options for creating a handler.
type Options struct {
	MaxBodySize     int64
	WebhookSecret   string
	WebhooksDefault bool
	ProductFilter   string
}

// DefaultOptions returns default handler options.
func DefaultOptions() Options {
	return Options{
		MaxBodySize:     1 << 20,
		WebhooksDefault: true,
	}
}

// Handler provides HTTP handlers for the bridge.
type Handler struct {
	Deps
	opts Options
}

func New(deps Deps, opts Options) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultOptions().MaxBodySize
	}
	return &Handler{Deps: deps, opts: opts}
}

// RegisterRoutes mounts every route on r. apiMiddleware wraps only the
// operator API.
func (h *Handler) RegisterRoutes(r chi.Router, apiMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)
	r.Post("/webhooks/acuity", h.AcuityWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(apiMiddleware...)

		r.Post("/reprocess", h.Reprocess)
		r.Get("/certificates/{code}", h.LookupCertificate)
		r.Get("/status", h.Status)
		r.Get("/logs", h.Logs)
		r.Get("/webhooks/enabled", h.GetWebhooksEnabled)
		r.Put("/webhooks/enabled", h.SetWebhooksEnabled)
		r.Get("/test/acuity", h.TestAcuity)
		r.Get("/test/passkit", h.TestPassKit)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// decodeJSON reads a size-limited JSON body into dest and reports a client
// error itself when it fails.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			h.respondError(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &maxErr):
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		}
		return false
	}
	return true
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
