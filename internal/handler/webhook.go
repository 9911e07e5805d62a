package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"acuity-passkit-bridge/internal/acuity"
	"acuity-passkit-bridge/internal/features"
	"acuity-passkit-bridge/internal/models"
	"acuity-passkit-bridge/internal/reconcile"
	"acuity-passkit-bridge/internal/validation"
)

// AcuityWebhook handles POST /webhooks/acuity
//
// Acuity posts form fields action and id. Engine failures are answered with
// 200 so the sender does not retry; they are already in the activity log.
func (h *Handler) AcuityWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.respondError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	if sig := r.Header.Get(acuity.SignatureHeader); sig != "" && h.opts.WebhookSecret != "" {
		if !acuity.VerifySignature(h.opts.WebhookSecret, body, sig) {
			h.Audit.Warn(ctx, "webhook: signature mismatch", map[string]any{"remote": r.RemoteAddr})
			h.respondError(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}
	}

	fields, err := parseWebhookBody(body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed webhook body")
		return
	}

	rawAction := fields.Get("action")
	orderID := validation.SanitizeString(fields.Get("id"))
	if orderID == "" {
		h.respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if !h.Flags.IsEnabled(ctx, features.FeatureWebhooksEnabled) {
		h.Audit.Info(ctx, "webhook: skipped, webhooks disabled", map[string]any{"order_id": orderID, "action": rawAction})
		h.respondJSON(w, http.StatusOK, models.Result{
			Status:  models.StatusSkipped,
			Action:  rawAction,
			OrderID: orderID,
			Reason:  "webhooks disabled",
		})
		return
	}

	h.Audit.Info(ctx, "webhook: received", map[string]any{"order_id": orderID, "action": rawAction})

	var result models.Result
	switch normalizeAction(rawAction) {
	case "ordercompleted":
		result, err = h.Engine.Enroll(ctx, orderID)
	case "ordercancelled", "ordercanceled":
		result, err = h.Engine.Cancel(ctx, orderID, reconcile.CancelContext{
			Action: "webhook",
			Reason: "order cancelled in booking system",
		})
	default:
		h.Audit.Info(ctx, "webhook: ignored action", map[string]any{"order_id": orderID, "action": rawAction})
		h.respondJSON(w, http.StatusOK, models.Result{
			Status:  models.StatusIgnored,
			Action:  rawAction,
			OrderID: orderID,
			Reason:  "unsupported action",
		})
		return
	}

	if err != nil && result.Error == "" {
		result.Status = models.StatusError
		result.Error = err.Error()
	}
	h.respondJSON(w, http.StatusOK, result)
}

// parseWebhookBody accepts the form encoding Acuity uses and a flat JSON
// object for manual replays.
func parseWebhookBody(body []byte) (url.Values, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, err
		}
		values := url.Values{}
		for k, v := range obj {
			if s := models.StringValue(v); s != "" {
				values.Set(k, s)
			}
		}
		return values, nil
	}
	return url.ParseQuery(string(trimmed))
}

// normalizeAction lower-cases action and drops everything but letters and
// digits, so "Order.Completed" and "order_completed" compare equal.
func normalizeAction(action string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(action) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
