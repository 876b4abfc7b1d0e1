package domain

import "time"

// ============================================================
// Contacts & access ids
// ============================================================

// BorrowerContact is a borrower profile linked to a User by user_id, or by
// email while the borrower has not yet signed in.
type BorrowerContact struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id,omitempty"`
	Email           string     `json:"email,omitempty"`
	FirstName       string     `json:"first_name,omitempty"`
	LastName        string     `json:"last_name,omitempty"`
	IsInviteTemp    bool       `json:"is_invite_temp"`
	InviteRequestID string     `json:"invite_request_id,omitempty"`
	MergedIntoID    string     `json:"merged_into_id,omitempty"`
	CreatedDate     *time.Time `json:"created_date,omitempty"`
}

// LoanPartnerContact is the profile of a non-borrower external party
// (broker, referrer, liaison, title, insurance, servicer).
type LoanPartnerContact struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
}

// AccessIDSet is every id a principal may be matched against. It is
// derived per request and never persisted.
type AccessIDSet struct {
	AccountID   string   `json:"account_id"`
	BorrowerIDs []string `json:"borrower_ids"`
	PartnerIDs  []string `json:"partner_ids"`
}

// NewAccessIDSet builds a set for accountID with deduplicated id lists.
func NewAccessIDSet(accountID string, borrowerIDs, partnerIDs []string) AccessIDSet {
	return AccessIDSet{
		AccountID:   accountID,
		BorrowerIDs: UniqueIDs(borrowerIDs),
		PartnerIDs:  UniqueIDs(partnerIDs),
	}
}
