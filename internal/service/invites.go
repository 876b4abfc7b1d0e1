package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/infra/observability"
	"github.com/boddenberg/lending-bfa-go/internal/port"

	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

var inviteTracer = otel.Tracer("service/invites")

// InviteConfig tunes the invite lifecycle.
type InviteConfig struct {
	TTL      time.Duration // invite validity
	LockTTL  time.Duration // activation lock lifetime
	HashCost int           // bcrypt cost for invite secrets
}

// InviteService creates invites and reconciles invited borrowers with
// their accounts on login.
type InviteService struct {
	store     port.RecordStore
	resolver  *IdentityResolver
	publisher port.EventPublisher
	locker    port.Locker
	cfg       InviteConfig
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewInviteService creates a new invite service. publisher and locker may
// be nil; without a locker activation relies on idempotent writes alone.
func NewInviteService(store port.RecordStore, resolver *IdentityResolver, publisher port.EventPublisher, locker port.Locker, cfg InviteConfig, metrics *observability.Metrics, logger *zap.Logger) *InviteService {
	if cfg.TTL <= 0 {
		cfg.TTL = 14 * 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	return &InviteService{
		store:     store,
		resolver:  resolver,
		publisher: publisher,
		locker:    locker,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// ============================================================
// Activation: POST /v1/invites/activate
// ============================================================

// ActivateInvite links the principal's borrower contact to the account,
// collapses duplicate contacts and repairs applications created against
// the contact. It is idempotent and safe to call on every login.
func (s *InviteService) ActivateInvite(ctx context.Context, principal *domain.Principal) (*domain.ActivationResult, error) {
	ctx, span := inviteTracer.Start(ctx, "InviteService.ActivateInvite")
	defer span.End()

	if principal == nil || principal.ID == "" {
		return nil, &domain.ErrUnauthorized{Message: "missing principal"}
	}
	span.SetAttributes(attribute.String("principal.id", principal.ID))

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "activate:"+principal.ID, s.cfg.LockTTL)
		var locked *domain.ErrLocked
		switch {
		case errors.As(err, &locked):
			return nil, err
		case err != nil:
			// Activation is idempotent; an unreachable lock only loses serialization.
			s.logger.Warn("activation lock unavailable, continuing unlocked",
				zap.String("principal_id", principal.ID),
				zap.Error(err),
			)
			if s.metrics != nil {
				s.metrics.IncrExternalError("lock")
			}
		default:
			defer release()
		}
	}

	contacts, err := s.activationContacts(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("resolve borrower contact: %w", err)
	}
	chosen, ok := SelectActivationCandidate(contacts)
	if !ok {
		s.countActivation(domain.ActivationStatusNoBorrower)
		s.logger.Info("no borrower contact to activate", zap.String("principal_id", principal.ID))
		return &domain.ActivationResult{Status: domain.ActivationStatusNoBorrower}, nil
	}
	span.SetAttributes(attribute.String("borrower.id", chosen.ID))

	linked := false
	if chosen.IsInviteTemp || chosen.UserID == "" {
		patch := map[string]any{"is_invite_temp": false, "user_id": principal.ID}
		if err := s.store.Update(ctx, domain.TableBorrowerContacts, chosen.ID, patch, nil); err != nil {
			return nil, fmt.Errorf("activate borrower contact %s: %w", chosen.ID, err)
		}
		linked = true
		s.markInvitesActivated(ctx, chosen, principal)
	}

	merged := s.collapseDuplicates(ctx, contacts, chosen, principal)

	repairIDs := append([]string{chosen.ID}, merged...)
	repaired := s.repairApplications(ctx, repairIDs, principal)

	if linked {
		publishEvent(ctx, s.publisher, s.logger, domain.EventBorrowerActivated, domain.BorrowerActivatedEvent{
			BorrowerContactID: chosen.ID,
			UserID:            principal.ID,
			OccurredAt:        timestamp(s.now()),
		})
	}
	s.countActivation(domain.ActivationStatusActivated)
	s.logger.Info("borrower activated",
		zap.String("principal_id", principal.ID),
		zap.String("borrower_id", chosen.ID),
		zap.Bool("linked", linked),
		zap.Int("merged", len(merged)),
		zap.Int("repaired_applications", repaired),
	)

	return &domain.ActivationResult{
		Status:               domain.ActivationStatusActivated,
		BorrowerID:           chosen.ID,
		MergedBorrowerIDs:    merged,
		RepairedApplications: repaired,
	}, nil
}

// activationContacts collects contacts linked by user_id and by email.
// Unlike access resolution both lookups always run, so a temporary invite
// contact is found even after signup created a second, linked contact.
func (s *InviteService) activationContacts(ctx context.Context, principal *domain.Principal) ([]domain.BorrowerContact, error) {
	var byUser, byEmail []domain.BorrowerContact
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.store.Filter(gctx, domain.TableBorrowerContacts, map[string]any{"user_id": principal.ID}, &byUser)
	})
	if principal.Email != "" {
		g.Go(func() error {
			return s.store.Filter(gctx, domain.TableBorrowerContacts, map[string]any{"email": principal.Email}, &byEmail)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.BorrowerContact, 0, len(byUser)+len(byEmail))
	seen := make(map[string]struct{})
	for _, c := range append(byUser, byEmail...) {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		// A contact claimed by a different account is not ours to merge.
		if c.UserID != "" && c.UserID != principal.ID {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// markInvitesActivated moves the contact's invite requests to activated.
// Failures are logged and skipped.
func (s *InviteService) markInvitesActivated(ctx context.Context, contact domain.BorrowerContact, principal *domain.Principal) {
	var inviteIDs []string
	if contact.InviteRequestID != "" {
		inviteIDs = append(inviteIDs, contact.InviteRequestID)
	} else {
		var invites []domain.InviteRequest
		err := s.store.Filter(ctx, domain.TableInviteRequests, map[string]any{
			"borrower_contact_id": contact.ID,
			"status":              domain.InviteStatusPending,
		}, &invites)
		if err != nil {
			s.repairFailed("invite_request", contact.ID, err)
			return
		}
		for _, inv := range invites {
			inviteIDs = append(inviteIDs, inv.ID)
		}
	}

	patch := map[string]any{
		"status":               domain.InviteStatusActivated,
		"activated_by_user_id": principal.ID,
		"activated_at":         timestamp(s.now()),
	}
	for _, id := range inviteIDs {
		if err := s.store.Update(ctx, domain.TableInviteRequests, id, patch, nil); err != nil {
			s.repairFailed("invite_request", id, err)
		}
	}
}

// collapseDuplicates points every other matching contact at chosen and
// returns their ids. Nothing is deleted.
func (s *InviteService) collapseDuplicates(ctx context.Context, contacts []domain.BorrowerContact, chosen domain.BorrowerContact, principal *domain.Principal) []string {
	merged := make([]string, 0)
	for _, c := range contacts {
		if c.ID == chosen.ID {
			continue
		}
		merged = append(merged, c.ID)
		if c.MergedIntoID == chosen.ID && !c.IsInviteTemp && c.UserID == principal.ID {
			continue
		}
		patch := map[string]any{
			"merged_into_id": chosen.ID,
			"is_invite_temp": false,
			"user_id":        principal.ID,
		}
		if err := s.store.Update(ctx, domain.TableBorrowerContacts, c.ID, patch, nil); err != nil {
			s.repairFailed("duplicate_contact", c.ID, err)
		}
	}
	return merged
}

// repairApplications rewrites forward references from the given contact
// ids to the principal's account id and returns how many applications
// were changed. Each application is repaired independently.
func (s *InviteService) repairApplications(ctx context.Context, contactIDs []string, principal *domain.Principal) int {
	repaired := make(map[string]struct{})

	for _, contactID := range contactIDs {
		var owned []domain.LoanApplication
		if err := s.store.Filter(ctx, domain.TableLoanApplications, map[string]any{"primary_borrower_id": contactID}, &owned); err != nil {
			s.repairFailed("primary_borrower", contactID, err)
			continue
		}
		for _, app := range owned {
			patch := map[string]any{"primary_borrower_id": principal.ID}
			if err := s.store.Update(ctx, domain.TableLoanApplications, app.ID, patch, nil); err != nil {
				s.repairFailed("primary_borrower", app.ID, err)
				continue
			}
			repaired[app.ID] = struct{}{}
		}
	}

	var all []domain.LoanApplication
	if err := s.store.List(ctx, domain.TableLoanApplications, "", &all); err != nil {
		s.repairFailed("co_borrower", "*", err)
		return len(repaired)
	}
	for _, app := range all {
		entries, changed := relinkCoBorrowers(app.CoBorrowers, contactIDs, principal.ID)
		if !changed {
			continue
		}
		if err := s.store.Update(ctx, domain.TableLoanApplications, app.ID, map[string]any{"co_borrowers": entries}, nil); err != nil {
			s.repairFailed("co_borrower", app.ID, err)
			continue
		}
		repaired[app.ID] = struct{}{}
	}
	return len(repaired)
}

// relinkCoBorrowers sets user_id on entries whose borrower_id is one of
// contactIDs. Other entries are returned unchanged.
func relinkCoBorrowers(entries []domain.CoBorrower, contactIDs []string, userID string) ([]domain.CoBorrower, bool) {
	changed := false
	out := make([]domain.CoBorrower, len(entries))
	for i, cb := range entries {
		out[i] = cb
		if domain.ContainsAny(contactIDs, cb.BorrowerID) && cb.UserID != userID {
			out[i].UserID = userID
			changed = true
		}
	}
	return out, changed
}

func (s *InviteService) repairFailed(kind, id string, err error) {
	s.logger.Warn("activation repair skipped", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
	if s.metrics != nil {
		s.metrics.IncrRepairFailure(kind)
	}
}

func (s *InviteService) countActivation(status string) {
	if s.metrics != nil {
		s.metrics.IncrActivation(status)
	}
}

// ============================================================
// Invite creation: POST /v1/invites
// ============================================================

// CreateInvite creates a temporary borrower contact and an invite request
// holding a hash of a one-time secret. The plain token is returned once.
func (s *InviteService) CreateInvite(ctx context.Context, principal *domain.Principal, req *domain.CreateInviteRequest) (*domain.CreateInviteResponse, error) {
	ctx, span := inviteTracer.Start(ctx, "InviteService.CreateInvite")
	defer span.End()

	if principal == nil || principal.ID == "" {
		return nil, &domain.ErrUnauthorized{Message: "missing principal"}
	}
	if !principal.IsAdmin() && !principal.HasAppRole(domain.AppRoleLoanOfficer, domain.AppRoleLiaison, domain.AppRoleBroker, domain.AppRoleReferralPartner) {
		return nil, &domain.ErrForbidden{Action: "invite borrowers"}
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, &domain.ErrValidation{Field: "email", Message: "email is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &domain.ErrValidation{Field: "email", Message: "email is invalid"}
	}

	contact, err := s.inviteContact(ctx, email, req)
	if err != nil {
		return nil, err
	}

	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("hash invite secret: %w", err)
	}

	inviteID := ksuid.New().String()
	expiresAt := s.now().UTC().Add(s.cfg.TTL)
	err = s.store.Create(ctx, domain.TableInviteRequests, map[string]any{
		"id":                   inviteID,
		"email":                email,
		"borrower_contact_id":  contact.ID,
		"requested_by_user_id": principal.ID,
		"status":               domain.InviteStatusPending,
		"token_hash":           string(hash),
		"expires_at":           expiresAt.Format(time.RFC3339),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create invite request: %w", err)
	}
	if err := s.store.Update(ctx, domain.TableBorrowerContacts, contact.ID, map[string]any{"invite_request_id": inviteID}, nil); err != nil {
		return nil, fmt.Errorf("link invite to contact: %w", err)
	}
	span.SetAttributes(attribute.String("invite.id", inviteID))

	token := inviteID + "." + secret
	publishEvent(ctx, s.publisher, s.logger, domain.EventBorrowerInvited, domain.BorrowerInvitedEvent{
		InviteID:          inviteID,
		Email:             email,
		Token:             token,
		RequestedByUserID: principal.ID,
		OccurredAt:        timestamp(s.now()),
	})
	s.logger.Info("borrower invited",
		zap.String("invite_id", inviteID),
		zap.String("borrower_contact_id", contact.ID),
		zap.String("requested_by", principal.ID),
	)

	return &domain.CreateInviteResponse{
		InviteID:          inviteID,
		BorrowerContactID: contact.ID,
		Token:             token,
		ExpiresAt:         expiresAt,
	}, nil
}

// inviteContact reuses an unlinked temporary contact for email or creates
// one. An email already linked to an account cannot be invited again.
func (s *InviteService) inviteContact(ctx context.Context, email string, req *domain.CreateInviteRequest) (*domain.BorrowerContact, error) {
	var existing []domain.BorrowerContact
	if err := s.store.Filter(ctx, domain.TableBorrowerContacts, map[string]any{"email": email}, &existing); err != nil {
		return nil, fmt.Errorf("lookup borrower contact: %w", err)
	}
	for _, c := range existing {
		if c.UserID != "" {
			return nil, &domain.ErrValidation{Field: "email", Message: "borrower already has an account"}
		}
	}
	for _, c := range existing {
		if c.IsInviteTemp {
			return &c, nil
		}
	}

	var created domain.BorrowerContact
	err := s.store.Create(ctx, domain.TableBorrowerContacts, map[string]any{
		"email":          email,
		"first_name":     strings.TrimSpace(req.FirstName),
		"last_name":      strings.TrimSpace(req.LastName),
		"is_invite_temp": true,
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("create borrower contact: %w", err)
	}
	return &created, nil
}

// ============================================================
// Invite verification: GET /v1/invites/{inviteId}/verify
// ============================================================

// VerifyInvite checks a one-time token before the borrower signs up.
func (s *InviteService) VerifyInvite(ctx context.Context, inviteID, token string) (*domain.InviteVerification, error) {
	ctx, span := inviteTracer.Start(ctx, "InviteService.VerifyInvite")
	defer span.End()

	tokenID, secret, ok := strings.Cut(token, ".")
	if !ok || tokenID == "" || secret == "" {
		return nil, &domain.ErrValidation{Field: "token", Message: "malformed invite token"}
	}
	if inviteID != "" && inviteID != tokenID {
		return nil, &domain.ErrUnauthorized{Message: "invalid invite token"}
	}
	span.SetAttributes(attribute.String("invite.id", tokenID))

	var invite domain.InviteRequest
	if err := s.store.Get(ctx, domain.TableInviteRequests, tokenID, &invite); err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(invite.TokenHash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, &domain.ErrUnauthorized{Message: "invalid invite token"}
		}
		return nil, fmt.Errorf("compare invite secret: %w", err)
	}

	status := invite.Status
	if status == domain.InviteStatusExpired {
		return nil, &domain.ErrValidation{Field: "token", Message: "invite expired"}
	}
	if status == domain.InviteStatusPending && invite.ExpiresAt != nil && s.now().After(*invite.ExpiresAt) {
		if err := s.store.Update(ctx, domain.TableInviteRequests, invite.ID, map[string]any{"status": domain.InviteStatusExpired}, nil); err != nil {
			s.logger.Warn("invite expiry not recorded", zap.String("invite_id", invite.ID), zap.Error(err))
		}
		return nil, &domain.ErrValidation{Field: "token", Message: "invite expired"}
	}
	return &domain.InviteVerification{InviteID: invite.ID, Email: invite.Email, Status: status}, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invite secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
