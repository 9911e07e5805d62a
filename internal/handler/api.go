package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"acuity-passkit-bridge/internal/config"
	"acuity-passkit-bridge/internal/features"
	"acuity-passkit-bridge/internal/models"
	"acuity-passkit-bridge/internal/reconcile"
	"acuity-passkit-bridge/internal/validation"
)

const (
	statusTimeout    = 2 * time.Second
	statusLogLimit   = 20
	defaultLogsLimit = 50
	maxLogsLimit     = 100
)

// Reprocess handles POST /api/reprocess
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	var req models.ReprocessRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	req.Action = validation.SanitizeString(req.Action)
	req.OrderID = validation.SanitizeString(req.OrderID)
	req.CertificateCode = validation.SanitizeString(req.CertificateCode)
	req.Reason = validation.SanitizeString(req.Reason)

	if err := validation.ValidateReprocess(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	h.Audit.Info(ctx, "reprocess: requested", map[string]any{
		"action":           req.Action,
		"order_id":         req.OrderID,
		"certificate_code": req.CertificateCode,
	})

	var (
		result models.Result
		err    error
	)
	cc := reconcile.CancelContext{Action: "reprocess", Reason: req.Reason}
	switch {
	case req.Action == "enroll":
		result, err = h.Engine.Enroll(ctx, req.OrderID)
	case req.OrderID != "":
		result, err = h.Engine.Cancel(ctx, req.OrderID, cc)
	default:
		result, err = h.Engine.CancelByCertificateCode(ctx, req.CertificateCode, cc)
	}

	if err != nil {
		if result.Error == "" {
			result.Status = models.StatusError
			result.Error = err.Error()
		}
		h.respondJSON(w, http.StatusBadGateway, result)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// LookupCertificate handles GET /api/certificates/{code}
func (h *Handler) LookupCertificate(w http.ResponseWriter, r *http.Request) {
	code := validation.SanitizeString(chi.URLParam(r, "code"))

	resp, err := h.Engine.LookupCertificate(r.Context(), code)
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusOK, resp)
	case validation.IsValidationError(err):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, config.ErrNotConfigured):
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.respondError(w, http.StatusBadGateway, err.Error())
	}
}

// Status handles GET /api/status
//
// Each probe runs concurrently under a shared deadline. A probe that misses
// the deadline reports its fallback instead of failing the request.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	resp := models.StatusResponse{
		AcuityConfigured:  h.Acuity != nil && h.Acuity.Configured(),
		PassKitConfigured: h.PassKit != nil && h.PassKit.Configured(),
		ProductFilter:     h.opts.ProductFilter,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fallback := map[string]bool{features.FeatureWebhooksEnabled: h.opts.WebhooksDefault}
		resp.Features = probe(gctx, fallback, func(ctx context.Context) map[string]bool {
			out := make(map[string]bool)
			for name, flag := range h.Flags.GetAll(ctx) {
				out[name] = flag.Enabled
			}
			return out
		})
		resp.WebhooksEnabled = resp.Features[features.FeatureWebhooksEnabled]
		return nil
	})
	g.Go(func() error {
		resp.StoreAvailable = probe(gctx, false, func(ctx context.Context) bool {
			return h.Store != nil && h.Store.IsAvailable(ctx)
		})
		return nil
	})
	g.Go(func() error {
		resp.RecentLogs = probe(gctx, []models.LogEntry{}, func(ctx context.Context) []models.LogEntry {
			return h.Audit.Recent(ctx, statusLogLimit)
		})
		return nil
	})
	_ = g.Wait()

	if resp.RecentLogs == nil {
		resp.RecentLogs = []models.LogEntry{}
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// probe runs fn and returns fallback if ctx ends first.
func probe[T any](ctx context.Context, fallback T, fn func(context.Context) T) T {
	ch := make(chan T, 1)
	go func() { ch <- fn(ctx) }()
	select {
	case v := <-ch:
		return v
	case <-ctx.Done():
		return fallback
	}
}

// Logs handles GET /api/logs
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(validation.SanitizeString(raw))
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogsLimit)
	}

	logs := h.Audit.Recent(r.Context(), limit)
	if logs == nil {
		logs = []models.LogEntry{}
	}
	h.respondJSON(w, http.StatusOK, logs)
}

// GetWebhooksEnabled handles GET /api/webhooks/enabled
func (h *Handler) GetWebhooksEnabled(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, models.ToggleResponse{
		Enabled: h.Flags.IsEnabled(r.Context(), features.FeatureWebhooksEnabled),
	})
}

// SetWebhooksEnabled handles PUT /api/webhooks/enabled
func (h *Handler) SetWebhooksEnabled(w http.ResponseWriter, r *http.Request) {
	var req models.ToggleRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := validation.ValidateToggle(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if err := h.Flags.Set(ctx, features.FeatureWebhooksEnabled, *req.Enabled); err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Audit.Info(ctx, "webhooks toggled", map[string]any{"enabled": *req.Enabled})

	h.respondJSON(w, http.StatusOK, models.ToggleResponse{Enabled: *req.Enabled})
}

// TestAcuity handles GET /api/test/acuity
func (h *Handler) TestAcuity(w http.ResponseWriter, r *http.Request) {
	h.testConnection(w, r, "acuity", h.Acuity)
}

// TestPassKit handles GET /api/test/passkit
func (h *Handler) TestPassKit(w http.ResponseWriter, r *http.Request) {
	h.testConnection(w, r, "passkit", h.PassKit)
}

func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request, service string, up Upstream) {
	resp := models.ConnectionTestResponse{Service: service}
	if up == nil || !up.Configured() {
		resp.Error = config.Missing(service + " credentials").Error()
		h.respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	detail, err := up.Ping(r.Context())
	if err != nil {
		h.Audit.Warn(r.Context(), "connection test failed", map[string]any{"service": service, "error": err.Error()})
		resp.Error = err.Error()
		status := http.StatusBadGateway
		if errors.Is(err, config.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		h.respondJSON(w, status, resp)
		return
	}

	resp.OK = true
	resp.Detail = detail
	h.respondJSON(w, http.StatusOK, resp)
}
