package service

import (
	"strings"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
)

// Membership rule names, reported by Decide and the membership endpoints.
const (
	RuleCreator         = "creator"
	RuleOwner           = "owner"
	RuleCoBorrower      = "co_borrower"
	RuleLegacyContact   = "legacy_contact"
	RuleAdmin           = "admin"
	RuleAssignedOfficer = "assigned_officer"
)

// IsTeamMember reports whether the principal participates in record.
// It performs no I/O; ids must already be resolved.
func IsTeamMember(record domain.TeamRecord, principal *domain.Principal, ids domain.AccessIDSet) bool {
	ok, _ := Decide(record, principal, ids)
	return ok
}

// Decide evaluates the membership rules in order and returns the first
// that matches. Role-scoped matches are reported by role name.
func Decide(record domain.TeamRecord, principal *domain.Principal, ids domain.AccessIDSet) (bool, string) {
	if record == nil || principal == nil || principal.ID == "" {
		return false, ""
	}

	// 1. Ownership.
	if record.CreatorID() != "" && record.CreatorID() == principal.ID {
		return true, RuleCreator
	}
	owners := record.OwnerIDs()
	if domain.ContainsAny(owners, principal.ID) || domain.ContainsAny(owners, ids.BorrowerIDs...) {
		return true, RuleOwner
	}

	// 2. Co-participants.
	for _, cb := range record.CoParticipants() {
		if cb.UserID != "" && cb.UserID == principal.ID {
			return true, RuleCoBorrower
		}
		if domain.ContainsAny(ids.BorrowerIDs, cb.BorrowerID) {
			return true, RuleCoBorrower
		}
	}

	// 3. Role-scoped team ids.
	team := record.Team()
	if team == nil {
		return false, ""
	}
	for _, role := range domain.TeamRoles {
		roleIDs := team.RoleIDs(role)
		if domain.ContainsAny(roleIDs, principal.ID) || domain.ContainsAny(roleIDs, ids.PartnerIDs...) {
			return true, string(role)
		}
	}

	// 4. Free-form legacy contacts.
	for _, c := range team.LegacyContacts() {
		if legacyContactMatches(c, principal, ids) {
			return true, RuleLegacyContact
		}
	}
	return false, ""
}

func legacyContactMatches(c domain.ContactRef, principal *domain.Principal, ids domain.AccessIDSet) bool {
	if c.UserID != "" && c.UserID == principal.ID {
		return true
	}
	if c.ID != "" && (c.ID == principal.ID || domain.ContainsAny(ids.PartnerIDs, c.ID)) {
		return true
	}
	email := strings.TrimSpace(c.Email)
	return email != "" && strings.EqualFold(email, strings.TrimSpace(principal.Email))
}

// CanViewRecord extends Decide with the staff rules: administrators see
// every record and loan officers see the records assigned to them.
func CanViewRecord(record domain.TeamRecord, principal *domain.Principal, ids domain.AccessIDSet) (bool, string) {
	if principal == nil {
		return false, ""
	}
	if principal.IsAdmin() {
		return true, RuleAdmin
	}
	if principal.HasAppRole(domain.AppRoleLoanOfficer) && domain.ContainsAny(record.OfficerIDs(), principal.ID) {
		return true, RuleAssignedOfficer
	}
	return Decide(record, principal, ids)
}
