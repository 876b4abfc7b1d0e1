package domain

import "time"

// ============================================================
// Borrower invites
// ============================================================

// Invite request lifecycle states.
const (
	InviteStatusPending   = "pending"
	InviteStatusActivated = "activated"
	InviteStatusExpired   = "expired"
)

// Activation outcomes.
const (
	ActivationStatusActivated  = "activated"
	ActivationStatusNoBorrower = "no_borrower"
)

// InviteRequest tracks an invitation sent to a borrower (table
// "borrower_invite_requests").
type InviteRequest struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	BorrowerContactID string     `json:"borrower_contact_id,omitempty"`
	RequestedByUserID string     `json:"requested_by_user_id,omitempty"`
	Status            string     `json:"status"`
	TokenHash         string     `json:"token_hash,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	ActivatedByUserID string     `json:"activated_by_user_id,omitempty"`
	ActivatedAt       *time.Time `json:"activated_at,omitempty"`
}

// CreateInviteRequest is the body for POST /v1/invites.
type CreateInviteRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// CreateInviteResponse carries the one-time token. It is never stored in
// plain text.
type CreateInviteResponse struct {
	InviteID          string    `json:"invite_id"`
	BorrowerContactID string    `json:"borrower_contact_id"`
	Token             string    `json:"token"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// InviteVerification is the public pre-login view of an invite.
type InviteVerification struct {
	InviteID string `json:"invite_id"`
	Email    string `json:"email"`
	Status   string `json:"status"`
}

// ActivationResult is the outcome of reconciling an invited borrower.
type ActivationResult struct {
	Status               string   `json:"status"`
	BorrowerID           string   `json:"borrower_id,omitempty"`
	MergedBorrowerIDs    []string `json:"merged_borrower_ids,omitempty"`
	RepairedApplications int      `json:"repaired_applications"`
}
