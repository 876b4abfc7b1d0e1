package domain

// Event routing keys published to the message broker.
const (
	EventApplicationAssigned = "application.assigned"
	EventBorrowerInvited     = "borrower.invited"
	EventBorrowerActivated   = "borrower.activated"
)

// ApplicationAssignedEvent is published after an application is created
// so the external notifier can email the assigned officer.
type ApplicationAssignedEvent struct {
	ApplicationID     string `json:"application_id"`
	ApplicationNumber string `json:"application_number"`
	LoanOfficerID     string `json:"loan_officer_id,omitempty"`
	CreatedBy         string `json:"created_by"`
	OccurredAt        string `json:"occurred_at"`
}

// BorrowerInvitedEvent carries what the notifier needs to send the invite.
type BorrowerInvitedEvent struct {
	InviteID          string `json:"invite_id"`
	Email             string `json:"email"`
	Token             string `json:"token"`
	RequestedByUserID string `json:"requested_by_user_id"`
	OccurredAt        string `json:"occurred_at"`
}

// BorrowerActivatedEvent is published once an invited borrower is linked
// to a real account.
type BorrowerActivatedEvent struct {
	BorrowerContactID string `json:"borrower_contact_id"`
	UserID            string `json:"user_id"`
	OccurredAt        string `json:"occurred_at"`
}
