package service_test

import (
	"testing"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
	"github.com/boddenberg/lending-bfa-go/internal/service"

	"github.com/stretchr/testify/assert"
)

func principal(id, email, appRole string) *domain.Principal {
	return &domain.Principal{ID: id, Email: email, AppRole: appRole}
}

func noIDs(p *domain.Principal) domain.AccessIDSet {
	return domain.NewAccessIDSet(p.ID, nil, nil)
}

func TestIsTeamMember_CreatorAlwaysMatches(t *testing.T) {
	p := principal("u1", "u1@example.com", domain.AppRoleBorrower)
	app := &domain.LoanApplication{ID: "app-1", CreatedBy: "u1", PrimaryBorrowerID: "someone-else"}

	ok, rule := service.Decide(app, p, noIDs(p))

	assert.True(t, ok)
	assert.Equal(t, service.RuleCreator, rule)
}

func TestIsTeamMember_OwnerByBorrowerContactID(t *testing.T) {
	p := principal("u1", "", domain.AppRoleBorrower)
	app := &domain.LoanApplication{ID: "app-1", PrimaryBorrowerID: "bc1"}

	assert.False(t, service.IsTeamMember(app, p, noIDs(p)))
	assert.True(t, service.IsTeamMember(app, p, domain.NewAccessIDSet("u1", []string{"bc1"}, nil)))
}

func TestIsTeamMember_LoanBorrowerIDs(t *testing.T) {
	p := principal("u1", "", domain.AppRoleBorrower)
	loan := &domain.Loan{ID: "loan-1", PrimaryBorrowerID: "x", BorrowerIDs: []string{"y", "u1"}}

	ok, rule := service.Decide(loan, p, noIDs(p))

	assert.True(t, ok)
	assert.Equal(t, service.RuleOwner, rule)
}

func TestIsTeamMember_CoBorrowerByContactID(t *testing.T) {
	p := principal("u1", "jane@example.com", domain.AppRoleBorrower)
	app := &domain.LoanApplication{
		ID:          "app-1",
		CoBorrowers: []domain.CoBorrower{{BorrowerID: "bc1"}},
	}
	ids := domain.NewAccessIDSet("u1", []string{"bc1"}, nil)

	ok, rule := service.Decide(app, p, ids)

	assert.True(t, ok)
	assert.Equal(t, service.RuleCoBorrower, rule)
}

func TestIsTeamMember_CoBorrowerByUserID(t *testing.T) {
	p := principal("u1", "", domain.AppRoleBorrower)
	app := &domain.LoanApplication{CoBorrowers: []domain.CoBorrower{{UserID: "u2"}, {UserID: "u1"}}}

	assert.True(t, service.IsTeamMember(app, p, noIDs(p)))
}

func TestIsTeamMember_RoleFields(t *testing.T) {
	x := principal("X", "", domain.AppRoleReferralPartner)
	y := principal("Y", "", domain.AppRoleReferralPartner)

	singular := &domain.LoanApplication{TeamFields: domain.TeamFields{ReferrerID: "X"}}
	assert.True(t, service.IsTeamMember(singular, x, noIDs(x)))

	array := &domain.LoanApplication{TeamFields: domain.TeamFields{ReferrerIDs: []string{"X", "Y"}}}
	assert.True(t, service.IsTeamMember(array, x, noIDs(x)))
	assert.True(t, service.IsTeamMember(array, y, noIDs(y)))

	// A present singular field is authoritative over the legacy list.
	shadowed := &domain.LoanApplication{TeamFields: domain.TeamFields{ReferrerID: "Z", ReferrerIDs: []string{"X"}}}
	assert.False(t, service.IsTeamMember(shadowed, x, noIDs(x)))
}

func TestIsTeamMember_PartnerContactIDs(t *testing.T) {
	p := principal("u9", "", domain.AppRoleBroker)
	loan := &domain.Loan{TeamFields: domain.TeamFields{BrokerIDs: []string{"lp-1"}}}

	ok, rule := service.Decide(loan, p, domain.NewAccessIDSet("u9", nil, []string{"lp-1"}))

	assert.True(t, ok)
	assert.Equal(t, string(domain.TeamRoleBroker), rule)
}

func TestIsTeamMember_LegacyContacts(t *testing.T) {
	p := principal("u9", "Broker@Example.com", domain.AppRoleBroker)

	byEmail := &domain.Loan{TeamFields: domain.TeamFields{
		LoanContacts: &domain.LoanContacts{Broker: &domain.ContactRef{Email: "broker@example.com"}},
	}}
	ok, rule := service.Decide(byEmail, p, noIDs(p))
	assert.True(t, ok)
	assert.Equal(t, service.RuleLegacyContact, rule)

	byPartnerID := &domain.LoanApplication{TeamFields: domain.TeamFields{
		ReferralBroker: &domain.ContactRef{ID: "lp-7"},
	}}
	assert.True(t, service.IsTeamMember(byPartnerID, p, domain.NewAccessIDSet("u9", nil, []string{"lp-7"})))

	byUser := &domain.LoanApplication{TeamFields: domain.TeamFields{
		ReferralBroker: &domain.ContactRef{UserID: "u9"},
	}}
	assert.True(t, service.IsTeamMember(byUser, principal("u9", "", ""), domain.AccessIDSet{AccountID: "u9"}))
}

func TestIsTeamMember_NoMatch(t *testing.T) {
	p := principal("u1", "u1@example.com", domain.AppRoleBorrower)
	app := &domain.LoanApplication{
		CreatedBy:         "u2",
		PrimaryBorrowerID: "bc9",
		CoBorrowers:       []domain.CoBorrower{{BorrowerID: "bc8"}},
		TeamFields: domain.TeamFields{
			BrokerID:       "lp-1",
			ReferralBroker: &domain.ContactRef{Email: "other@example.com"},
		},
	}

	ok, rule := service.Decide(app, p, domain.NewAccessIDSet("u1", []string{"bc1"}, []string{"lp-2"}))

	assert.False(t, ok)
	assert.Empty(t, rule)
}

func TestIsTeamMember_BlankIDsNeverMatch(t *testing.T) {
	p := principal("u1", "", domain.AppRoleBorrower)
	app := &domain.LoanApplication{
		CoBorrowers: []domain.CoBorrower{{BorrowerID: ""}},
		TeamFields:  domain.TeamFields{LoanContacts: &domain.LoanContacts{Broker: &domain.ContactRef{Name: "No Email"}}},
	}

	assert.False(t, service.IsTeamMember(app, p, domain.NewAccessIDSet("u1", []string{""}, []string{""})))
}

func TestCanViewRecord(t *testing.T) {
	app := &domain.LoanApplication{ID: "app-1", AssignedLoanOfficerID: "lo-1"}

	admin := &domain.Principal{ID: "adm", Role: "Admin"}
	ok, rule := service.CanViewRecord(app, admin, noIDs(admin))
	assert.True(t, ok)
	assert.Equal(t, service.RuleAdmin, rule)

	administrator := principal("adm2", "", "administrator")
	ok, _ = service.CanViewRecord(app, administrator, noIDs(administrator))
	assert.True(t, ok)

	assigned := principal("lo-1", "", "loan_officer")
	ok, rule = service.CanViewRecord(app, assigned, noIDs(assigned))
	assert.True(t, ok)
	assert.Equal(t, service.RuleAssignedOfficer, rule)

	other := principal("lo-2", "", domain.AppRoleLoanOfficer)
	ok, _ = service.CanViewRecord(app, other, noIDs(other))
	assert.False(t, ok)
}
