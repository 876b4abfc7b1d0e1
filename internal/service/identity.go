// Package service provides the business logic layer (use cases).
// IdentityResolver collapses a principal into every record identity it may
// be known by.
package service

import (
	"context"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/infra/observability"
	"github.com/boddenberg/lending-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var identityTracer = otel.Tracer("service/identity")

// IdentityResolver resolves access ids through the record store.
type IdentityResolver struct {
	store   port.RecordStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewIdentityResolver creates a new identity resolver.
func NewIdentityResolver(store port.RecordStore, metrics *observability.Metrics, logger *zap.Logger) *IdentityResolver {
	return &IdentityResolver{store: store, metrics: metrics, logger: logger}
}

// ResolveAccessIDs returns the principal's account id plus every borrower
// and partner contact id linked to it. It never fails: a lookup error is
// logged and contributes no ids.
func (r *IdentityResolver) ResolveAccessIDs(ctx context.Context, principal *domain.Principal) domain.AccessIDSet {
	ctx, span := identityTracer.Start(ctx, "IdentityResolver.ResolveAccessIDs")
	defer span.End()
	span.SetAttributes(attribute.String("principal.id", principal.ID))

	var (
		borrowers []domain.BorrowerContact
		partners  []domain.LoanPartnerContact
	)

	// Both lookups swallow their own errors, so the group never cancels.
	var g errgroup.Group
	g.Go(func() error {
		found, err := r.FindBorrowerContacts(ctx, principal)
		if err != nil {
			r.lookupFailed(principal, "borrower", err)
			return nil
		}
		borrowers = found
		return nil
	})
	g.Go(func() error {
		found, err := lookupContacts[domain.LoanPartnerContact](ctx, r.store, domain.TableLoanPartners, principal)
		if err != nil {
			r.lookupFailed(principal, "partner", err)
			return nil
		}
		partners = found
		return nil
	})
	_ = g.Wait()

	borrowerIDs := make([]string, 0, len(borrowers))
	for _, c := range borrowers {
		borrowerIDs = append(borrowerIDs, c.ID)
	}
	partnerIDs := make([]string, 0, len(partners))
	for _, c := range partners {
		partnerIDs = append(partnerIDs, c.ID)
	}

	ids := domain.NewAccessIDSet(principal.ID, borrowerIDs, partnerIDs)
	span.SetAttributes(
		attribute.Int("access.borrower_ids", len(ids.BorrowerIDs)),
		attribute.Int("access.partner_ids", len(ids.PartnerIDs)),
	)
	return ids
}

// FindBorrowerContacts returns every borrower contact linked to the
// principal, by user_id first and by email when nothing is linked yet.
func (r *IdentityResolver) FindBorrowerContacts(ctx context.Context, principal *domain.Principal) ([]domain.BorrowerContact, error) {
	return lookupContacts[domain.BorrowerContact](ctx, r.store, domain.TableBorrowerContacts, principal)
}

func (r *IdentityResolver) lookupFailed(principal *domain.Principal, lookup string, err error) {
	r.logger.Warn("identity lookup degraded",
		zap.String("principal_id", principal.ID),
		zap.String("lookup", lookup),
		zap.Error(err),
	)
	if r.metrics != nil {
		r.metrics.IncrResolutionFailure(lookup)
	}
}

// lookupContacts runs the two-step user_id then email lookup on table.
// The email comparison is exact, as stored.
func lookupContacts[T any](ctx context.Context, store port.RecordStore, table string, principal *domain.Principal) ([]T, error) {
	var byUser []T
	if principal.ID != "" {
		if err := store.Filter(ctx, table, map[string]any{"user_id": principal.ID}, &byUser); err != nil {
			return nil, err
		}
		if len(byUser) > 0 {
			return byUser, nil
		}
	}
	if principal.Email == "" {
		return []T{}, nil
	}
	var byEmail []T
	if err := store.Filter(ctx, table, map[string]any{"email": principal.Email}, &byEmail); err != nil {
		return nil, err
	}
	if byEmail == nil {
		byEmail = []T{}
	}
	return byEmail, nil
}

// SelectActivationCandidate picks the contact to activate: a temporary
// invite record if one exists, else the first contact that has not been
// merged into another. It returns false for an empty list.
func SelectActivationCandidate(contacts []domain.BorrowerContact) (domain.BorrowerContact, bool) {
	for _, c := range contacts {
		if c.IsInviteTemp && c.MergedIntoID == "" {
			return c, true
		}
	}
	for _, c := range contacts {
		if c.MergedIntoID == "" {
			return c, true
		}
	}
	if len(contacts) > 0 {
		return contacts[0], true
	}
	return domain.BorrowerContact{}, false
}
