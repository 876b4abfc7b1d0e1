package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ============================================================
// Loan applications & loans
// ============================================================

// Application statuses that no longer count towards officer workload.
const (
	ApplicationStatusPending  = "pending"
	ApplicationStatusApproved = "approved"
	ApplicationStatusRejected = "rejected"
)

// Loan statuses that no longer count towards officer workload.
const (
	LoanStatusArchived = "archived"
	LoanStatusDead     = "dead"
)

// IsTerminalApplicationStatus reports whether status is approved or rejected.
func IsTerminalApplicationStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case ApplicationStatusApproved, ApplicationStatusRejected:
		return true
	}
	return false
}

// IsTerminalLoanStatus reports whether status is archived or dead.
func IsTerminalLoanStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case LoanStatusArchived, LoanStatusDead:
		return true
	}
	return false
}

// TeamRole is a role-scoped team slot on a loan or application.
type TeamRole string

const (
	TeamRoleReferrer TeamRole = "referrer"
	TeamRoleLiaison  TeamRole = "liaison"
	TeamRoleBroker   TeamRole = "broker"
)

// TeamRoles lists every role-scoped slot in evaluation order.
var TeamRoles = []TeamRole{TeamRoleReferrer, TeamRoleLiaison, TeamRoleBroker}

// SingularField is the column holding the authoritative single id.
func (r TeamRole) SingularField() string { return string(r) + "_id" }

// ArrayField is the legacy column holding the team id list.
func (r TeamRole) ArrayField() string { return string(r) + "_ids" }

// ContactRef is a free-form party reference for people who may never have
// been given a platform account.
type ContactRef struct {
	UserID string `json:"user_id,omitempty"`
	ID     string `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// LoanContacts is the nested loan_contacts object. Only the broker entry
// participates in team membership.
type LoanContacts struct {
	Broker *ContactRef `json:"broker,omitempty"`
}

// TeamFields holds the team references shared by loans and applications,
// in both the singular and the legacy array shape.
type TeamFields struct {
	ReferrerID     string        `json:"referrer_id,omitempty"`
	ReferrerIDs    []string      `json:"referrer_ids,omitempty"`
	LiaisonID      string        `json:"liaison_id,omitempty"`
	LiaisonIDs     []string      `json:"liaison_ids,omitempty"`
	BrokerID       string        `json:"broker_id,omitempty"`
	BrokerIDs      []string      `json:"broker_ids,omitempty"`
	LoanContacts   *LoanContacts `json:"loan_contacts,omitempty"`
	ReferralBroker *ContactRef   `json:"referral_broker,omitempty"`
}

// RoleIDs returns the effective ids for a role (see EffectiveIDs).
func (t *TeamFields) RoleIDs(role TeamRole) []string {
	switch role {
	case TeamRoleReferrer:
		return EffectiveIDs(t.ReferrerID, t.ReferrerIDs)
	case TeamRoleLiaison:
		return EffectiveIDs(t.LiaisonID, t.LiaisonIDs)
	case TeamRoleBroker:
		return EffectiveIDs(t.BrokerID, t.BrokerIDs)
	}
	return []string{}
}

// LegacyContacts returns the non-nil free-form contact objects.
func (t *TeamFields) LegacyContacts() []ContactRef {
	var out []ContactRef
	if t.LoanContacts != nil && t.LoanContacts.Broker != nil {
		out = append(out, *t.LoanContacts.Broker)
	}
	if t.ReferralBroker != nil {
		out = append(out, *t.ReferralBroker)
	}
	return out
}

// CoBorrower is a co-participant entry. Keys the BFA does not model are kept
// in Extra so that rewriting one entry leaves the rest of it intact.
type CoBorrower struct {
	UserID     string
	BorrowerID string
	Email      string
	Extra      map[string]any
}

func (c CoBorrower) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		m[k] = v
	}
	if c.UserID != "" {
		m["user_id"] = c.UserID
	}
	if c.BorrowerID != "" {
		m["borrower_id"] = c.BorrowerID
	}
	if c.Email != "" {
		m["email"] = c.Email
	}
	return json.Marshal(m)
}

func (c *CoBorrower) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	// Keys with a non-string value stay in Extra so a rewrite keeps them.
	c.UserID = takeString(m, "user_id")
	c.BorrowerID = takeString(m, "borrower_id")
	c.Email = takeString(m, "email")
	if len(m) > 0 {
		c.Extra = m
	} else {
		c.Extra = nil
	}
	return nil
}

func takeString(m map[string]any, key string) string {
	v, ok := m[key].(string)
	if ok {
		delete(m, key)
	}
	return v
}

// TeamRecord is the view of a loan or application the membership
// evaluator works on.
type TeamRecord interface {
	RecordKind() string
	RecordID() string
	CreatorID() string
	OwnerIDs() []string
	CoParticipants() []CoBorrower
	Team() *TeamFields
	OfficerIDs() []string
}

// LoanApplication is a borrower's application (table "loan_applications").
type LoanApplication struct {
	ID                    string       `json:"id"`
	ApplicationNumber     string       `json:"application_number,omitempty"`
	Status                string       `json:"status"`
	CreatedBy             string       `json:"created_by,omitempty"`
	PrimaryBorrowerID     string       `json:"primary_borrower_id,omitempty"`
	CoBorrowers           []CoBorrower `json:"co_borrowers,omitempty"`
	AssignedLoanOfficerID string       `json:"assigned_loan_officer_id,omitempty"`
	LoanAmount            float64      `json:"loan_amount,omitempty"`
	PropertyAddress       string       `json:"property_address,omitempty"`
	LoanType              string       `json:"loan_type,omitempty"`
	CreatedDate           *time.Time   `json:"created_date,omitempty"`
	TeamFields
}

func (a *LoanApplication) RecordKind() string           { return "loan_application" }
func (a *LoanApplication) RecordID() string             { return a.ID }
func (a *LoanApplication) CreatorID() string            { return a.CreatedBy }
func (a *LoanApplication) CoParticipants() []CoBorrower { return a.CoBorrowers }
func (a *LoanApplication) Team() *TeamFields            { return &a.TeamFields }

func (a *LoanApplication) OwnerIDs() []string {
	return UniqueIDs([]string{a.PrimaryBorrowerID})
}

func (a *LoanApplication) OfficerIDs() []string {
	return UniqueIDs([]string{a.AssignedLoanOfficerID})
}

// Loan is a funded or in-progress loan (table "loans"). A loan may be
// attributed to several officers at once.
type Loan struct {
	ID                string       `json:"id"`
	LoanNumber        string       `json:"loan_number,omitempty"`
	Status            string       `json:"status"`
	CreatedBy         string       `json:"created_by,omitempty"`
	PrimaryBorrowerID string       `json:"primary_borrower_id,omitempty"`
	BorrowerIDs       []string     `json:"borrower_ids,omitempty"`
	CoBorrowers       []CoBorrower `json:"co_borrowers,omitempty"`
	LoanOfficerIDs    []string     `json:"loan_officer_ids,omitempty"`
	ApplicationID     string       `json:"application_id,omitempty"`
	LoanAmount        float64      `json:"loan_amount,omitempty"`
	CreatedDate       *time.Time   `json:"created_date,omitempty"`
	TeamFields
}

func (l *Loan) RecordKind() string           { return "loan" }
func (l *Loan) RecordID() string             { return l.ID }
func (l *Loan) CreatorID() string            { return l.CreatedBy }
func (l *Loan) CoParticipants() []CoBorrower { return l.CoBorrowers }
func (l *Loan) Team() *TeamFields            { return &l.TeamFields }
func (l *Loan) OfficerIDs() []string         { return UniqueIDs(l.LoanOfficerIDs) }

func (l *Loan) OwnerIDs() []string {
	return MergeIDs([]string{l.PrimaryBorrowerID}, l.BorrowerIDs)
}

// CreateApplicationRequest is the body for POST /v1/applications.
type CreateApplicationRequest struct {
	LoanAmount      float64      `json:"loan_amount"`
	PropertyAddress string       `json:"property_address"`
	LoanType        string       `json:"loan_type,omitempty"`
	CoBorrowers     []CoBorrower `json:"co_borrowers,omitempty"`
}

// UpdateLoanTeamRequest is the body for PUT /v1/loans/{loanId}/team.
// A nil slice leaves that role untouched; an empty slice clears it.
type UpdateLoanTeamRequest struct {
	ReferrerIDs    []string `json:"referrer_ids"`
	LiaisonIDs     []string `json:"liaison_ids"`
	BrokerIDs      []string `json:"broker_ids"`
	LoanOfficerIDs []string `json:"loan_officer_ids"`
}

// MembershipResult is the response for the membership endpoints.
type MembershipResult struct {
	RecordType string `json:"record_type"`
	RecordID   string `json:"record_id"`
	IsMember   bool   `json:"is_member"`
	Rule       string `json:"rule,omitempty"`
}
