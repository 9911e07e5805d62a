// Package reconcile drives wallet membership records from booking orders.
// Enroll upserts a member for an active membership order; Cancel removes or
// deactivates it. Both are safe to repeat for the same order or code.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"acuity-passkit-bridge/internal/activity"
	"acuity-passkit-bridge/internal/activitylog"
	"acuity-passkit-bridge/internal/certificate"
	"acuity-passkit-bridge/internal/config"
	"acuity-passkit-bridge/internal/mapping"
	"acuity-passkit-bridge/internal/models"
	"acuity-passkit-bridge/internal/passkit"
	"acuity-passkit-bridge/internal/tracing"
)

// ErrMissingCertificate is returned when an order carries no usable code.
var ErrMissingCertificate = errors.New("missing or invalid certificate code")

// OrderFetcher loads booking orders.
type OrderFetcher interface {
	FetchOrder(ctx context.Context, orderID string) (models.Order, error)
}

// Wallet writes wallet members.
type Wallet interface {
	UpsertMember(ctx context.Context, m passkit.Member) (passkit.MemberRef, error)
	DeleteMember(ctx context.Context, memberID string) error
	InstallURL(memberID string) string
}

// MemberFinder resolves a wallet member from its external id.
type MemberFinder interface {
	FindMemberByExternalID(ctx context.Context, externalID string) (*passkit.MemberRef, error)
}

// AuditLog receives the structured audit trail of every run.
type AuditLog interface {
	Info(ctx context.Context, msg string, data map[string]any)
	Warn(ctx context.Context, msg string, data map[string]any)
	Error(ctx context.Context, msg string, data map[string]any)
}

// Options configures an Engine.
type Options struct {
	ProgramID     string
	ProductFilter string
	Tracer        *tracing.Tracer
	Logger        *slog.Logger
}

type Engine struct {
	orders   OrderFetcher
	wallet   Wallet
	members  MemberFinder
	mappings *mapping.Store
	audit    AuditLog

	programID string
	filter    activity.ProductFilter
	tracer    *tracing.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(orders OrderFetcher, wallet Wallet, members MemberFinder, mappings *mapping.Store, audit AuditLog, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.GetTracer()
	}
	if mappings == nil {
		mappings = mapping.New(nil)
	}
	if audit == nil {
		audit = activitylog.New(nil, opts.Logger)
	}
	return &Engine{
		orders:    orders,
		wallet:    wallet,
		members:   members,
		mappings:  mappings,
		audit:     audit,
		programID: opts.ProgramID,
		filter:    activity.ParseProductFilter(opts.ProductFilter),
		tracer:    opts.Tracer,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// CancelContext describes why a cancellation is happening.
type CancelContext struct {
	OrderID string
	Action  string
	Reason  string
}

// Enroll fetches the order and either upserts its wallet member or, when the
// order is no longer active, cancels the member under the order's code.
func (e *Engine) Enroll(ctx context.Context, orderID string) (result models.Result, err error) {
	ctx, span := e.tracer.StartSpan(ctx, "reconcile.enroll",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, result, err) }()

	result = models.Result{Action: "enroll", OrderID: orderID}

	if e.programID == "" {
		err = config.Missing("passkit program id")
		e.audit.Error(ctx, "enroll: configuration error", map[string]any{"order_id": orderID, "error": err.Error()})
		return failed(result, err), err
	}

	e.audit.Info(ctx, "enroll: fetching order", map[string]any{"order_id": orderID})
	order, err := e.orders.FetchOrder(ctx, orderID)
	if err != nil {
		e.audit.Error(ctx, "enroll: order fetch failed", map[string]any{"order_id": orderID, "error": err.Error()})
		err = fmt.Errorf("fetch order %s: %w", orderID, err)
		return failed(result, err), err
	}

	title := order.Title()
	result.MembershipTitle = title

	if !e.filter.Matches(title) {
		e.audit.Info(ctx, "enroll: skipped, product filter mismatch", map[string]any{
			"order_id":         orderID,
			"membership_title": title,
			"filter":           strings.Join(e.filter.Terms(), ","),
		})
		result.Status = models.StatusSkipped
		result.Reason = "filter mismatch"
		return result, nil
	}
	e.audit.Info(ctx, "enroll: product filter passed", map[string]any{"order_id": orderID, "membership_title": title})

	code, err := codeFromOrder(order)
	if err != nil {
		e.audit.Error(ctx, "enroll: missing or invalid certificate code", map[string]any{
			"order_id":         orderID,
			"membership_title": title,
		})
		err = fmt.Errorf("order %s: %w", orderID, err)
		return failed(result, err), err
	}
	result.CertificateCode = code.String()
	span.SetAttributes(attribute.String("certificate.code", code.String()))

	if eval := activity.EvaluateOrder(order); !eval.Active {
		e.audit.Info(ctx, "enroll: order inactive, cancelling wallet member", map[string]any{
			"order_id":         orderID,
			"certificate_code": code.String(),
			"reason":           eval.Reason,
		})
		cancellation, cerr := e.cancel(ctx, code.String(), CancelContext{
			OrderID: orderID,
			Action:  "enroll",
			Reason:  eval.Reason,
		}, order)
		if cerr != nil {
			err = cerr
			return failed(result, err), err
		}
		result.Status = models.StatusSkipped
		result.Reason = eval.Reason
		result.Cancellation = &cancellation
		result.MemberID = cancellation.MemberID
		return result, nil
	}

	member := e.buildMember(order, code, title)
	result.DisplayName = member.Person.DisplayName

	e.audit.Info(ctx, "enroll: upserting wallet member", map[string]any{
		"order_id":         orderID,
		"certificate_code": code.String(),
		"membership_title": title,
		"display_name":     member.Person.DisplayName,
	})
	ref, err := e.wallet.UpsertMember(ctx, member)
	if err != nil {
		e.audit.Error(ctx, "enroll: wallet upsert failed", withProviderDetail(map[string]any{
			"order_id":         orderID,
			"certificate_code": code.String(),
		}, err))
		err = fmt.Errorf("upsert wallet member for %s: %w", code, err)
		return failed(result, err), err
	}

	if out := e.mappings.Put(ctx, code.String(), orderID); out.Err != nil {
		e.audit.Warn(ctx, "enroll: certificate mapping not stored", map[string]any{
			"certificate_code": code.String(),
			"error":            out.Err.Error(),
		})
	}

	result.Status = models.StatusSuccess
	result.MemberID = ref.ID
	result.InstallURL = e.wallet.InstallURL(ref.ID)

	e.audit.Info(ctx, "enroll: wallet member upserted", map[string]any{
		"order_id":         orderID,
		"certificate_code": code.String(),
		"member_id":        ref.ID,
		"display_name":     result.DisplayName,
		"membership_title": title,
	})
	return result, nil
}

// Cancel fetches the order to recover its certificate code and cancels the
// wallet member holding it.
func (e *Engine) Cancel(ctx context.Context, orderID string, cc CancelContext) (models.Result, error) {
	cc.OrderID = orderID
	if cc.Action == "" {
		cc.Action = "cancel"
	}
	result := models.Result{Action: "cancel", OrderID: orderID}

	e.audit.Info(ctx, "cancel: fetching order", map[string]any{"order_id": orderID, "action": cc.Action})
	order, err := e.orders.FetchOrder(ctx, orderID)
	if err != nil {
		e.audit.Error(ctx, "cancel: order fetch failed", map[string]any{"order_id": orderID, "error": err.Error()})
		err = fmt.Errorf("fetch order %s: %w", orderID, err)
		return failed(result, err), err
	}

	code, err := codeFromOrder(order)
	if err != nil {
		e.audit.Error(ctx, "cancel: missing or invalid certificate code", map[string]any{
			"order_id":         orderID,
			"membership_title": order.Title(),
		})
		err = fmt.Errorf("order %s: %w", orderID, err)
		return failed(result, err), err
	}

	return e.cancel(ctx, code.String(), cc, order)
}

// CancelByCertificateCode deactivates the wallet member holding code. An
// unknown or already cancelled member is a successful no-op.
func (e *Engine) CancelByCertificateCode(ctx context.Context, rawCode string, cc CancelContext) (models.Result, error) {
	return e.cancel(ctx, rawCode, cc, nil)
}

// cancel rewrites the member as cancelled. The upsert replaces the whole
// record, so the member's current person and metadata are carried over and
// refreshed from order when one is known.
func (e *Engine) cancel(ctx context.Context, rawCode string, cc CancelContext, order models.Order) (result models.Result, err error) {
	ctx, span := e.tracer.StartSpan(ctx, "reconcile.cancel",
		trace.WithAttributes(attribute.String("order.id", cc.OrderID)))
	defer func() { endSpan(span, result, err) }()

	if cc.Action == "" {
		cc.Action = "cancel"
	}
	result = models.Result{Action: "cancel", OrderID: cc.OrderID}

	code, err := certificate.Normalize(rawCode)
	if err != nil {
		e.audit.Error(ctx, "cancel: invalid certificate code", map[string]any{"order_id": cc.OrderID, "certificate_code": rawCode})
		return failed(result, err), err
	}
	result.CertificateCode = code.String()
	span.SetAttributes(attribute.String("certificate.code", code.String()))

	e.audit.Info(ctx, "cancel: resolving wallet member", map[string]any{
		"order_id":         cc.OrderID,
		"certificate_code": code.String(),
		"action":           cc.Action,
	})
	ref, err := e.members.FindMemberByExternalID(ctx, code.String())
	if err != nil {
		e.audit.Error(ctx, "cancel: member lookup failed", map[string]any{"certificate_code": code.String(), "error": err.Error()})
		return failed(result, err), err
	}

	if ref == nil || strings.EqualFold(ref.Status, passkit.StatusCancelled) {
		reason := "no wallet member for certificate code"
		if ref != nil {
			reason = "wallet member already cancelled"
			result.MemberID = ref.ID
		}
		e.removeMapping(ctx, code)
		e.audit.Info(ctx, "cancel: nothing to cancel", map[string]any{
			"order_id":         cc.OrderID,
			"certificate_code": code.String(),
			"reason":           reason,
		})
		result.Status = models.StatusSuccess
		result.Method = models.MethodMemberNotFound
		result.Reason = reason
		return result, nil
	}
	result.MemberID = ref.ID

	e.audit.Info(ctx, "cancel: updating wallet member status", map[string]any{
		"certificate_code": code.String(),
		"member_id":        ref.ID,
	})
	_, err = e.wallet.UpsertMember(ctx, e.cancelledMember(ref, code, cc, order))
	if err == nil {
		result.Method = models.MethodStatusUpdate
	} else {
		e.audit.Warn(ctx, "cancel: status update rejected, deleting wallet member", withProviderDetail(map[string]any{
			"certificate_code": code.String(),
			"member_id":        ref.ID,
		}, err))

		if err = e.wallet.DeleteMember(ctx, ref.ID); err != nil {
			e.audit.Error(ctx, "cancel: wallet member delete failed", withProviderDetail(map[string]any{
				"certificate_code": code.String(),
				"member_id":        ref.ID,
			}, err))
			err = fmt.Errorf("delete wallet member %s: %w", ref.ID, err)
			return failed(result, err), err
		}
		result.Method = models.MethodDelete
	}

	e.removeMapping(ctx, code)

	result.Status = models.StatusSuccess
	result.Reason = cc.Reason
	e.audit.Info(ctx, "cancel: wallet member cancelled", map[string]any{
		"order_id":         cc.OrderID,
		"certificate_code": code.String(),
		"member_id":        ref.ID,
		"method":           result.Method,
	})
	return result, nil
}

// LookupCertificate reports the cached order and the wallet member for code.
func (e *Engine) LookupCertificate(ctx context.Context, rawCode string) (models.CertificateLookupResponse, error) {
	code, err := certificate.Normalize(rawCode)
	if err != nil {
		return models.CertificateLookupResponse{}, err
	}
	resp := models.CertificateLookupResponse{CertificateCode: code.String()}
	if orderID, ok := e.mappings.Resolve(ctx, code.String()); ok {
		resp.OrderID = orderID
	}

	ref, err := e.members.FindMemberByExternalID(ctx, code.String())
	if err != nil {
		return resp, err
	}
	if ref != nil {
		resp.Found = true
		resp.MemberID = ref.ID
		resp.Email = ref.Email
	}
	return resp, nil
}

func (e *Engine) buildMember(order models.Order, code certificate.Code, title string) passkit.Member {
	first := order.String("firstName")
	last := order.String("lastName")
	email := order.String("email")

	displayName := strings.TrimSpace(first + " " + last)
	if displayName == "" {
		displayName = email
	}

	return passkit.Member{
		ProgramID:  e.programID,
		TierID:     passkit.TierID,
		ExternalID: code.String(),
		Person: &passkit.Person{
			Forename:     first,
			Surname:      last,
			DisplayName:  displayName,
			EmailAddress: email,
			MobileNumber: order.String("phone"),
		},
		MetaData: map[string]string{
			"orderId":         order.ID(),
			"certificateCode": code.String(),
			"membershipType":  title,
			"enrolledAt":      e.now().UTC().Format(time.RFC3339),
		},
	}
}

func (e *Engine) cancelledMember(ref *passkit.MemberRef, code certificate.Code, cc CancelContext, order models.Order) passkit.Member {
	reason := cc.Reason
	if reason == "" {
		reason = "order cancelled"
	}

	var person *passkit.Person
	if ref.Person != nil {
		p := *ref.Person
		person = &p
	} else if ref.Email != "" {
		person = &passkit.Person{EmailAddress: ref.Email, DisplayName: ref.Email}
	}

	meta := make(map[string]string, len(ref.MetaData)+8)
	for k, v := range ref.MetaData {
		meta[k] = v
	}

	if order != nil {
		fresh := e.buildMember(order, code, order.Title())
		person = fresh.Person
		for k, v := range fresh.MetaData {
			if _, kept := meta[k]; kept && k == "enrolledAt" {
				continue
			}
			meta[k] = v
		}
	}

	meta["certificateCode"] = code.String()
	meta["cancelledAt"] = e.now().UTC().Format(time.RFC3339)
	meta["cancellationReason"] = reason
	meta["cancelledOrderId"] = cc.OrderID
	meta["cancelledAction"] = cc.Action

	return passkit.Member{
		ID:         ref.ID,
		ProgramID:  e.programID,
		TierID:     passkit.TierID,
		ExternalID: code.String(),
		Status:     passkit.StatusCancelled,
		Person:     person,
		MetaData:   meta,
	}
}

func (e *Engine) removeMapping(ctx context.Context, code certificate.Code) {
	if out := e.mappings.Remove(ctx, code.String()); out.Err != nil {
		e.audit.Warn(ctx, "cancel: certificate mapping not removed", map[string]any{
			"certificate_code": code.String(),
			"error":            out.Err.Error(),
		})
	}
}

func codeFromOrder(order models.Order) (certificate.Code, error) {
	raw, ok := certificate.Extract(order)
	if !ok {
		return "", ErrMissingCertificate
	}
	code, err := certificate.Normalize(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingCertificate, err)
	}
	return code, nil
}

func failed(r models.Result, err error) models.Result {
	r.Status = models.StatusError
	r.Error = err.Error()
	return r
}

func withProviderDetail(data map[string]any, err error) map[string]any {
	data["error"] = err.Error()
	var apiErr *passkit.APIError
	if errors.As(err, &apiErr) {
		data["provider_status"] = apiErr.StatusCode
		data["provider_detail"] = apiErr.Body
	}
	return data
}

func endSpan(span trace.Span, result models.Result, err error) {
	span.SetAttributes(attribute.String("reconcile.status", result.Status))
	if result.Method != "" {
		span.SetAttributes(attribute.String("reconcile.method", result.Method))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
