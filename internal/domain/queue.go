package domain

// LoanOfficerQueueEntry is one officer's slot in the assignment queue
// (table "loan_officer_queue"). Position only breaks workload ties.
type LoanOfficerQueueEntry struct {
	ID            string `json:"id,omitempty"`
	LoanOfficerID string `json:"loan_officer_id"`
	QueuePosition int    `json:"queue_position"`
	IsActive      bool   `json:"is_active"`
}

// OfficerWorkload is one row of the workload report.
type OfficerWorkload struct {
	LoanOfficerID string `json:"loan_officer_id"`
	FullName      string `json:"full_name,omitempty"`
	Email         string `json:"email,omitempty"`
	QueuePosition int    `json:"queue_position"`
	Workload      int    `json:"workload"`
}

// WorkloadReport is the response for GET /v1/officers/workload.
type WorkloadReport struct {
	Officers    []OfficerWorkload `json:"officers"`
	NextOfficer string            `json:"next_officer_id,omitempty"`
}
