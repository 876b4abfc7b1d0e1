package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ============================================================
// Principal & roles
// ============================================================

// PlatformRoleAdmin is the only coarse platform role the BFA checks.
const PlatformRoleAdmin = "admin"

// Canonical business (app) roles.
const (
	AppRoleAdministrator    = "Administrator"
	AppRoleLoanOfficer      = "Loan Officer"
	AppRoleBorrower         = "Borrower"
	AppRoleLiaison          = "Liaison"
	AppRoleBroker           = "Broker"
	AppRoleReferralPartner  = "Referral Partner"
	AppRoleTitleCompany     = "Title Company"
	AppRoleInsuranceCompany = "Insurance Company"
	AppRoleServicer         = "Servicer"
)

// Principal is the authenticated actor making a request.
type Principal struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	AppRole string `json:"app_role"`
}

// User is the account record behind a principal (table "users").
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role,omitempty"`
	AppRole  string `json:"app_role,omitempty"`
}

// NormalizeAppRole maps the inconsistently formatted role strings found in
// account records ("loan_officer", "LOAN OFFICER", " loan-officer ") to
// their canonical form ("Loan Officer").
func NormalizeAppRole(role string) string {
	r := strings.NewReplacer("_", " ", "-", " ").Replace(role)
	r = strings.Join(strings.Fields(r), " ")
	if r == "" {
		return ""
	}
	// Casers are stateful and must not be shared between goroutines.
	return cases.Title(language.English).String(strings.ToLower(r))
}

// NormalizePlatformRole lowercases and trims the coarse platform role.
func NormalizePlatformRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// IsAdmin reports whether the principal carries the admin sentinel or the
// Administrator business role.
func (p *Principal) IsAdmin() bool {
	return NormalizePlatformRole(p.Role) == PlatformRoleAdmin ||
		NormalizeAppRole(p.AppRole) == AppRoleAdministrator
}

// HasAppRole reports whether the principal's normalized app role is one of roles.
func (p *Principal) HasAppRole(roles ...string) bool {
	mine := NormalizeAppRole(p.AppRole)
	for _, r := range roles {
		if mine == r {
			return true
		}
	}
	return false
}
