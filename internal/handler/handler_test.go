package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"acuity-passkit-bridge/internal/activitylog"
	"acuity-passkit-bridge/internal/acuity"
	"acuity-passkit-bridge/internal/config"
	"acuity-passkit-bridge/internal/features"
	"acuity-passkit-bridge/internal/models"
	"acuity-passkit-bridge/internal/reconcile"
	"acuity-passkit-bridge/internal/store"
	"acuity-passkit-bridge/internal/validation"
)

type call struct {
	method string
	id     string
	cc     reconcile.CancelContext
}

type fakeEngine struct {
	calls  []call
	result models.Result
	err    error
	lookup models.CertificateLookupResponse
}

func (f *fakeEngine) Enroll(_ context.Context, orderID string) (models.Result, error) {
	f.calls = append(f.calls, call{method: "enroll", id: orderID})
	return f.respond("enroll", orderID)
}

func (f *fakeEngine) Cancel(_ context.Context, orderID string, cc reconcile.CancelContext) (models.Result, error) {
	f.calls = append(f.calls, call{method: "cancel", id: orderID, cc: cc})
	return f.respond("cancel", orderID)
}

func (f *fakeEngine) CancelByCertificateCode(_ context.Context, code string, cc reconcile.CancelContext) (models.Result, error) {
	f.calls = append(f.calls, call{method: "cancel_code", id: code, cc: cc})
	return f.respond("cancel", "")
}

func (f *fakeEngine) LookupCertificate(_ context.Context, code string) (models.CertificateLookupResponse, error) {
	f.calls = append(f.calls, call{method: "lookup", id: code})
	if len(code) != 8 {
		return models.CertificateLookupResponse{}, &validation.ValidationError{Field: "certificate_code", Message: "bad"}
	}
	return f.lookup, f.err
}

func (f *fakeEngine) respond(action, orderID string) (models.Result, error) {
	if f.err != nil {
		return models.Result{Status: models.StatusError, Action: action, OrderID: orderID, Error: f.err.Error()}, f.err
	}
	r := f.result
	r.Action = action
	r.OrderID = orderID
	if r.Status == "" {
		r.Status = models.StatusSuccess
	}
	return r, nil
}

type fakeUpstream struct {
	configured bool
	detail     string
	err        error
}

func (f fakeUpstream) Configured() bool { return f.configured }

func (f fakeUpstream) Ping(context.Context) (string, error) { return f.detail, f.err }

const testSecret = "shh"

type testEnv struct {
	router http.Handler
	engine *fakeEngine
	flags  *features.Manager
	audit  *activitylog.Sink
}

func setupTest(t *testing.T, acuityUp, passkitUp Upstream) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	holder := store.NewStaticHolder(store.NewMemoryStore())

	env := &testEnv{
		engine: &fakeEngine{},
		flags:  features.NewDefaultManager(holder, logger, true),
		audit:  activitylog.New(holder, logger),
	}
	h := New(Deps{
		Engine:  env.engine,
		Flags:   env.flags,
		Audit:   env.audit,
		Store:   holder,
		Acuity:  acuityUp,
		PassKit: passkitUp,
	}, Options{
		MaxBodySize:     4096,
		WebhookSecret:   testSecret,
		WebhooksDefault: true,
		ProductFilter:   "gold",
	})

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	env.router = r
	return env
}

func (e *testEnv) do(method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func webhookBody(action, id string) []byte {
	return []byte(url.Values{"action": {action}, "id": {id}}.Encode())
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) models.Result {
	t.Helper()
	var res models.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return res
}

func TestHealthCheck(t *testing.T) {
	env := setupTest(t, nil, nil)

	rr := env.do(http.MethodGet, "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestWebhook_RoutesActions(t *testing.T) {
	tests := []struct {
		action string
		method string
	}{
		{"order.completed", "enroll"},
		{"Order.Completed", "enroll"},
		{"order.cancelled", "cancel"},
		{"order_canceled", "cancel"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			env := setupTest(t, nil, nil)

			rr := env.do(http.MethodPost, "/webhooks/acuity", webhookBody(tt.action, "42"), nil)
			require.Equal(t, http.StatusOK, rr.Code)
			require.Len(t, env.engine.calls, 1)
			require.Equal(t, tt.method, env.engine.calls[0].method)
			require.Equal(t, "42", env.engine.calls[0].id)
			require.Equal(t, models.StatusSuccess, decodeResult(t, rr).Status)
		})
	}
}

func TestWebhook_IgnoresUnknownAction(t *testing.T) {
	env := setupTest(t, nil, nil)

	rr := env.do(http.MethodPost, "/webhooks/acuity", webhookBody("appointment.scheduled", "42"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, models.StatusIgnored, decodeResult(t, rr).Status)
	require.Empty(t, env.engine.calls)
}

func TestWebhook_MissingID(t *testing.T) {
	env := setupTest(t, nil, nil)

	rr := env.do(http.MethodPost, "/webhooks/acuity", webhookBody("order.completed", ""), nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, env.engine.calls)
}

func TestWebhook_Signature(t *testing.T) {
	body := webhookBody("order.completed", "42")

	t.Run("valid", func(t *testing.T) {
		env := setupTest(t, nil, nil)
		rr := env.do(http.MethodPost, "/webhooks/acuity", body, map[string]string{
			acuity.SignatureHeader: acuity.Sign(testSecret, body),
		})
		require.Equal(t, http.StatusOK, rr.Code)
		require.Len(t, env.engine.calls, 1)
	})

	t.Run("mismatch", func(t *testing.T) {
		env := setupTest(t, nil, nil)
		rr := env.do(http.MethodPost, "/webhooks/acuity", body, map[string]string{
			acuity.SignatureHeader: acuity.Sign("other", body),
		})
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Empty(t, env.engine.calls)
	})
}

func TestWebhook_Disabled(t *testing.T) {
	env := setupTest(t, nil, nil)
	require.NoError(t, env.flags.Disable(context.Background(), features.FeatureWebhooksEnabled))

	rr := env.do(http.MethodPost, "/webhooks/acuity", webhookBody("order.completed", "42"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	res := decodeResult(t, rr)
	require.Equal(t, models.StatusSkipped, res.Status)
	require.Equal(t, "webhooks disabled", res.Reason)
	require.Empty(t, env.engine.calls)
}

func TestWebhook_EngineErrorStillOK(t *testing.T) {
	env := setupTest(t, nil, nil)
	env.engine.err = errors.New("wallet down")

	rr := env.do(http.MethodPost, "/webhooks/acuity", webhookBody("order.completed", "42"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	res := decodeResult(t, rr)
	require.Equal(t, models.StatusError, res.Status)
	require.Equal(t, "wallet down", res.Error)
}

func TestWebhook_JSONBody(t *testing.T) {
	env := setupTest(t, nil, nil)

	rr := env.do(http.MethodPost, "/webhooks/acuity", []byte(`{"action":"order.completed","id":42}`), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "42", env.engine.calls[0].id)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	env := setupTest(t, nil, nil)

	rr := env.do(http.MethodPost, "/webhooks/acuity", []byte("id=1&pad="+strings.Repeat("x", 5000)), nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestReprocess(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		method string
		id     string
	}{
		{"enroll", `{"action":"enroll","orderId":"42"}`, http.StatusOK, "enroll", "42"},
		{"cancel by order", `{"action":"cancel","orderId":"42","reason":"refund"}`, http.StatusOK, "cancel", "42"},
		{"cancel by code", `{"action":"cancel","certificateCode":"AB12CD34"}`, http.StatusOK, "cancel_code", "AB12CD34"},
		{"enroll needs order", `{"action":"enroll","certificateCode":"AB12CD34"}`, http.StatusBadRequest, "", ""},
		{"bad action", `{"action":"delete","orderId":"42"}`, http.StatusBadRequest, "", ""},
		{"bad code", `{"action":"cancel","certificateCode":"AB1"}`, http.StatusBadRequest, "", ""},
		{"empty body", ``, http.StatusBadRequest, "", ""},
		{"invalid json", `{`, http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTest(t, nil, nil)

			rr := env.do(http.MethodPost, "/api/reprocess", []byte(tt.body), nil)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.method == "" {
				require.Empty(t, env.engine.calls)
				return
			}
			require.Len(t, env.engine.calls, 1)
			require.Equal(t, tt.method, env.engine.calls[0].method)
			require.Equal(t, tt.id, env.engine.calls[0].id)
			if tt.method != "enroll" {
				require.Equal(t, "reprocess", env.engine.calls[0].cc.Action)
			}
		})
	}
}

func TestReprocess_EngineFailure(t *testing.T) {
	env := setupTest(t, nil, nil)
	env.engine.err = errors.New("upstream 500")

	rr := env.do(http.MethodPost, "/api/reprocess", []byte(`{"action":"enroll","orderId":"42"}`), nil)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, models.StatusError, decodeResult(t, rr).Status)
}

func TestLookupCertificate(t *testing.T) {
	env := setupTest(t, nil, nil)
	env.engine.lookup = models.CertificateLookupResponse{CertificateCode: "AB12CD34", OrderID: "42", MemberID: "m-1", Found: true}

	rr := env.do(http.MethodGet, "/api/certificates/ab12cd34", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp models.CertificateLookupResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Found)
	require.Equal(t, "42", resp.OrderID)

	rr = env.do(http.MethodGet, "/api/certificates/short", nil, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	env.engine.err = config.Missing("passkit program id")
	rr = env.do(http.MethodGet, "/api/certificates/ab12cd34", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStatus(t *testing.T) {
	env := setupTest(t, fakeUpstream{configured: true}, fakeUpstream{})
	env.audit.Info(context.Background(), "hello", nil)

	rr := env.do(http.MethodGet, "/api/status", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.WebhooksEnabled)
	require.True(t, resp.StoreAvailable)
	require.True(t, resp.AcuityConfigured)
	require.False(t, resp.PassKitConfigured)
	require.Equal(t, "gold", resp.ProductFilter)
	require.Equal(t, map[string]bool{features.FeatureWebhooksEnabled: true}, resp.Features)
	require.Len(t, resp.RecentLogs, 1)
	require.Equal(t, "hello", resp.RecentLogs[0].Message)
}

func TestProbe_FallsBackOnDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)
	got := probe(ctx, "fallback", func(context.Context) string {
		<-block
		return "late"
	})
	require.Equal(t, "fallback", got)
}

func TestLogs(t *testing.T) {
	env := setupTest(t, nil, nil)
	for i := 0; i < 3; i++ {
		env.audit.Info(context.Background(), "entry", map[string]any{"i": i})
	}

	rr := env.do(http.MethodGet, "/api/logs?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var logs []models.LogEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &logs))
	require.Len(t, logs, 2)

	rr = env.do(http.MethodGet, "/api/logs?limit=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhooksToggle(t *testing.T) {
	env := setupTest(t, nil, nil)

	rr := env.do(http.MethodGet, "/api/webhooks/enabled", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"enabled":true}`, rr.Body.String())

	rr = env.do(http.MethodPut, "/api/webhooks/enabled", []byte(`{"enabled":false}`), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"enabled":false}`, rr.Body.String())
	require.False(t, env.flags.IsEnabled(context.Background(), features.FeatureWebhooksEnabled))

	rr = env.do(http.MethodPut, "/api/webhooks/enabled", []byte(`{}`), nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConnectionTests(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		up     fakeUpstream
		status int
		ok     bool
	}{
		{"acuity ok", "/api/test/acuity", fakeUpstream{configured: true, detail: "authenticated as Studio"}, http.StatusOK, true},
		{"acuity unconfigured", "/api/test/acuity", fakeUpstream{}, http.StatusServiceUnavailable, false},
		{"passkit failing", "/api/test/passkit", fakeUpstream{configured: true, err: errors.New("401")}, http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTest(t, tt.up, tt.up)

			rr := env.do(http.MethodGet, tt.path, nil, nil)
			require.Equal(t, tt.status, rr.Code)
			var resp models.ConnectionTestResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			require.Equal(t, tt.ok, resp.OK)
		})
	}
}

type unsavedFlags struct{ *features.Manager }

func (unsavedFlags) Set(context.Context, string, bool) error {
	return errors.New("persist feature flag webhooks_enabled: store read-only")
}

func TestWebhooksToggle_PersistFailure(t *testing.T) {
	env := setupTest(t, nil, nil)
	h := New(Deps{
		Engine: env.engine,
		Flags:  unsavedFlags{env.flags},
		Audit:  env.audit,
	}, DefaultOptions())
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPut, "/api/webhooks/enabled", strings.NewReader(`{"enabled":false}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "read-only")
	require.True(t, env.flags.IsEnabled(context.Background(), features.FeatureWebhooksEnabled))
}
