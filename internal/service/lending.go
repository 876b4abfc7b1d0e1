package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/infra/observability"
	"github.com/boddenberg/lending-bfa-go/internal/port"

	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var lendingTracer = otel.Tracer("service/lending")

// Record kinds accepted by CheckMembership.
const (
	RecordKindApplication = "loan_application"
	RecordKindLoan        = "loan"
)

// LendingService orchestrates access checks, application creation and
// loan team updates on top of the resolver and the assignment selector.
type LendingService struct {
	store      port.RecordStore
	resolver   *IdentityResolver
	assignment *AssignmentService
	publisher  port.EventPublisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewLendingService creates a new lending service.
func NewLendingService(store port.RecordStore, resolver *IdentityResolver, assignment *AssignmentService, publisher port.EventPublisher, metrics *observability.Metrics, logger *zap.Logger) *LendingService {
	return &LendingService{
		store:      store,
		resolver:   resolver,
		assignment: assignment,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// ============================================================
// Reads
// ============================================================

func (s *LendingService) GetApplication(ctx context.Context, principal *domain.Principal, id string) (*domain.LoanApplication, error) {
	ctx, span := lendingTracer.Start(ctx, "LendingService.GetApplication")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", id))

	var app domain.LoanApplication
	if err := s.store.Get(ctx, domain.TableLoanApplications, id, &app); err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, &app, principal); err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *LendingService) GetLoan(ctx context.Context, principal *domain.Principal, id string) (*domain.Loan, error) {
	ctx, span := lendingTracer.Start(ctx, "LendingService.GetLoan")
	defer span.End()
	span.SetAttributes(attribute.String("loan.id", id))

	var loan domain.Loan
	if err := s.store.Get(ctx, domain.TableLoans, id, &loan); err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, &loan, principal); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (s *LendingService) authorizeView(ctx context.Context, record domain.TeamRecord, principal *domain.Principal) error {
	ids := s.resolver.ResolveAccessIDs(ctx, principal)
	ok, rule := CanViewRecord(record, principal, ids)
	if !ok {
		s.logger.Info("record access denied",
			zap.String("principal_id", principal.ID),
			zap.String("record_type", record.RecordKind()),
			zap.String("record_id", record.RecordID()),
		)
		return &domain.ErrForbidden{Action: "view " + record.RecordKind()}
	}
	s.logger.Debug("record access granted",
		zap.String("principal_id", principal.ID),
		zap.String("record_id", record.RecordID()),
		zap.String("rule", rule),
	)
	return nil
}

// CheckMembership reports whether the principal is on the record's team
// and which rule matched.
func (s *LendingService) CheckMembership(ctx context.Context, principal *domain.Principal, kind, id string) (*domain.MembershipResult, error) {
	ctx, span := lendingTracer.Start(ctx, "LendingService.CheckMembership")
	defer span.End()
	span.SetAttributes(attribute.String("record.type", kind), attribute.String("record.id", id))

	var record domain.TeamRecord
	switch kind {
	case RecordKindApplication:
		var app domain.LoanApplication
		if err := s.store.Get(ctx, domain.TableLoanApplications, id, &app); err != nil {
			return nil, err
		}
		record = &app
	case RecordKindLoan:
		var loan domain.Loan
		if err := s.store.Get(ctx, domain.TableLoans, id, &loan); err != nil {
			return nil, err
		}
		record = &loan
	default:
		return nil, &domain.ErrValidation{Field: "record_type", Message: "unknown record type " + kind}
	}

	ids := s.resolver.ResolveAccessIDs(ctx, principal)
	member, rule := Decide(record, principal, ids)
	return &domain.MembershipResult{RecordType: kind, RecordID: id, IsMember: member, Rule: rule}, nil
}

// ============================================================
// Application creation: POST /v1/applications
// ============================================================

// CreateApplication stores a pending application owned by the principal
// and assigns the least-loaded officer. Assignment failures leave the
// application unassigned rather than failing the request.
func (s *LendingService) CreateApplication(ctx context.Context, principal *domain.Principal, req *domain.CreateApplicationRequest) (*domain.LoanApplication, error) {
	ctx, span := lendingTracer.Start(ctx, "LendingService.CreateApplication")
	defer span.End()
	start := s.now()

	if req.LoanAmount <= 0 {
		return nil, &domain.ErrValidation{Field: "loan_amount", Message: "loan_amount must be greater than zero"}
	}
	if strings.TrimSpace(req.PropertyAddress) == "" {
		return nil, &domain.ErrValidation{Field: "property_address", Message: "property_address is required"}
	}

	data := map[string]any{
		"application_number": s.applicationNumber(),
		"status":             domain.ApplicationStatusPending,
		"created_by":         principal.ID,
		"loan_amount":        req.LoanAmount,
		"property_address":   strings.TrimSpace(req.PropertyAddress),
	}
	if req.LoanType != "" {
		data["loan_type"] = req.LoanType
	}
	if len(req.CoBorrowers) > 0 {
		data["co_borrowers"] = req.CoBorrowers
	}
	if principal.HasAppRole(domain.AppRoleBorrower) {
		data["primary_borrower_id"] = principal.ID
	}
	if field := partnerField(principal); field != "" {
		ids := s.resolver.ResolveAccessIDs(ctx, principal)
		partnerID := principal.ID
		if len(ids.PartnerIDs) > 0 {
			partnerID = ids.PartnerIDs[0]
		}
		data[field] = partnerID
	}

	officer, err := s.assignment.NextOfficer(ctx)
	if err != nil {
		s.logger.Warn("officer assignment failed, creating unassigned", zap.Error(err))
		officer = ""
	}
	if officer != "" {
		data["assigned_loan_officer_id"] = officer
		s.countAssignment("assigned")
	} else {
		s.countAssignment("unassigned")
	}

	var app domain.LoanApplication
	if err := s.store.Create(ctx, domain.TableLoanApplications, data, &app); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	span.SetAttributes(
		attribute.String("application.id", app.ID),
		attribute.String("officer.id", officer),
	)

	publishEvent(ctx, s.publisher, s.logger, domain.EventApplicationAssigned, domain.ApplicationAssignedEvent{
		ApplicationID:     app.ID,
		ApplicationNumber: app.ApplicationNumber,
		LoanOfficerID:     officer,
		CreatedBy:         principal.ID,
		OccurredAt:        timestamp(s.now()),
	})
	if s.metrics != nil {
		s.metrics.RecordRequestDuration("create_application", s.now().Sub(start))
	}
	s.logger.Info("application created",
		zap.String("application_id", app.ID),
		zap.String("application_number", app.ApplicationNumber),
		zap.String("officer_id", officer),
	)
	return &app, nil
}

// partnerField is the role-scoped column a partner principal is recorded
// in when they create an application.
func partnerField(principal *domain.Principal) string {
	switch domain.NormalizeAppRole(principal.AppRole) {
	case domain.AppRoleBroker:
		return domain.TeamRoleBroker.SingularField()
	case domain.AppRoleReferralPartner:
		return domain.TeamRoleReferrer.SingularField()
	case domain.AppRoleLiaison:
		return domain.TeamRoleLiaison.SingularField()
	}
	return ""
}

func (s *LendingService) applicationNumber() string {
	id := ksuid.New().String()
	return fmt.Sprintf("LA-%s-%s", s.now().UTC().Format("20060102"), strings.ToUpper(id[len(id)-6:]))
}

func (s *LendingService) countAssignment(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrAssignment(outcome)
	}
}

// ============================================================
// Loan team: PUT /v1/loans/{loanId}/team
// ============================================================

// UpdateLoanTeam replaces the requested team slots and verifies the write
// by re-reading the loan. A role with one id is stored in both shapes; a
// role with several ids clears the singular field so it cannot shadow the
// list.
func (s *LendingService) UpdateLoanTeam(ctx context.Context, principal *domain.Principal, loanID string, req *domain.UpdateLoanTeamRequest) (*domain.Loan, error) {
	ctx, span := lendingTracer.Start(ctx, "LendingService.UpdateLoanTeam")
	defer span.End()
	span.SetAttributes(attribute.String("loan.id", loanID))

	var loan domain.Loan
	if err := s.store.Get(ctx, domain.TableLoans, loanID, &loan); err != nil {
		return nil, err
	}
	if !principal.IsAdmin() &&
		!(principal.HasAppRole(domain.AppRoleLoanOfficer) && domain.ContainsAny(loan.OfficerIDs(), principal.ID)) {
		return nil, &domain.ErrForbidden{Action: "update loan team"}
	}

	requested := map[domain.TeamRole][]string{}
	for role, ids := range map[domain.TeamRole][]string{
		domain.TeamRoleReferrer: req.ReferrerIDs,
		domain.TeamRoleLiaison:  req.LiaisonIDs,
		domain.TeamRoleBroker:   req.BrokerIDs,
	} {
		if ids != nil {
			requested[role] = domain.UniqueIDs(ids)
		}
	}
	if len(requested) == 0 && req.LoanOfficerIDs == nil {
		return nil, &domain.ErrValidation{Field: "team", Message: "no team fields provided"}
	}

	patch := make(map[string]any)
	for role, ids := range requested {
		patch[role.ArrayField()] = ids
		if len(ids) == 1 {
			patch[role.SingularField()] = ids[0]
		} else {
			patch[role.SingularField()] = nil
		}
	}
	var officers []string
	if req.LoanOfficerIDs != nil {
		officers = domain.UniqueIDs(req.LoanOfficerIDs)
		patch["loan_officer_ids"] = officers
	}

	if err := s.store.Update(ctx, domain.TableLoans, loanID, patch, nil); err != nil {
		return nil, fmt.Errorf("update loan team: %w", err)
	}

	var fresh domain.Loan
	if err := s.store.Get(ctx, domain.TableLoans, loanID, &fresh); err != nil {
		return nil, fmt.Errorf("re-read loan: %w", err)
	}
	for _, role := range domain.TeamRoles {
		want, ok := requested[role]
		if !ok {
			continue
		}
		if !slices.Equal(fresh.RoleIDs(role), want) {
			return nil, s.verificationFailed(loanID, role.ArrayField(), want, fresh.RoleIDs(role))
		}
	}
	if req.LoanOfficerIDs != nil && !slices.Equal(fresh.OfficerIDs(), officers) {
		return nil, s.verificationFailed(loanID, "loan_officer_ids", officers, fresh.OfficerIDs())
	}

	s.logger.Info("loan team updated",
		zap.String("loan_id", loanID),
		zap.String("principal_id", principal.ID),
		zap.Int("roles", len(requested)),
	)
	return &fresh, nil
}

func (s *LendingService) verificationFailed(loanID, field string, want, got []string) error {
	s.logger.Error("loan team write did not persist",
		zap.String("loan_id", loanID),
		zap.String("field", field),
		zap.Strings("want", want),
		zap.Strings("got", got),
	)
	return &domain.ErrVerificationFailed{Resource: "loan", ID: loanID, Field: field}
}
