package domain

// Record store tables used by the BFA.
const (
	TableUsers            = "users"
	TableBorrowerContacts = "borrower_contacts"
	TableLoanPartners     = "loan_partners"
	TableLoanApplications = "loan_applications"
	TableLoans            = "loans"
	TableOfficerQueue     = "loan_officer_queue"
	TableInviteRequests   = "borrower_invite_requests"
)
