package passkit

import (
	"context"
	"log/slog"

	"acuity-passkit-bridge/internal/config"
)

// MemberAPI is the lookup surface the resolver needs.
type MemberAPI interface {
	LookupByExternalID(ctx context.Context, programID, externalID string) ([]byte, error)
	SearchMembers(ctx context.Context, programID string, f Filter) ([]byte, error)
}

// Resolver finds the wallet member holding an external id.
type Resolver struct {
	api       MemberAPI
	programID string
	logger    *slog.Logger
}

func NewResolver(api MemberAPI, programID string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{api: api, programID: programID, logger: logger}
}

type attempt struct {
	name string
	run  func(ctx context.Context, programID, externalID string) ([]byte, error)
}

// FindMemberByExternalID tries a direct lookup, then a search on memberId,
// then a search on externalId. A failed attempt never stops the next one.
// It returns nil, nil when no attempt yields a member; the only error is a
// missing program id.
func (r *Resolver) FindMemberByExternalID(ctx context.Context, externalID string) (*MemberRef, error) {
	if r.programID == "" {
		return nil, config.Missing("passkit program id")
	}

	attempts := []attempt{
		{"external_id_lookup", r.api.LookupByExternalID},
		{"member_id_search", func(ctx context.Context, programID, externalID string) ([]byte, error) {
			return r.api.SearchMembers(ctx, programID, Filter{Field: "memberId", Value: externalID})
		}},
		{"external_id_search", func(ctx context.Context, programID, externalID string) ([]byte, error) {
			return r.api.SearchMembers(ctx, programID, Filter{Field: "externalId", Value: externalID})
		}},
	}

	for _, a := range attempts {
		body, err := a.run(ctx, r.programID, externalID)
		if err != nil {
			r.logger.Debug("member lookup attempt failed",
				"attempt", a.name, "external_id", externalID, "error", err)
			continue
		}
		if ref, ok := ParseMemberPayload(body); ok {
			if ref.ExternalID == "" {
				ref.ExternalID = externalID
			}
			r.logger.Debug("member resolved", "attempt", a.name, "external_id", externalID, "member_id", ref.ID)
			return &ref, nil
		}
	}
	return nil, nil
}
