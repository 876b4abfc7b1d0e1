package service

import (
	"sort"

	"github.com/boddenberg/lending-bfa-go/internal/domain"
)

// ComputeWorkload counts non-terminal records per officer. An application
// counts against its assigned officer; a loan counts against every officer
// in its loan_officer_ids.
func ComputeWorkload(applications []domain.LoanApplication, loans []domain.Loan) map[string]int {
	workload := make(map[string]int)
	for _, app := range applications {
		if app.AssignedLoanOfficerID == "" || domain.IsTerminalApplicationStatus(app.Status) {
			continue
		}
		workload[app.AssignedLoanOfficerID]++
	}
	for _, loan := range loans {
		if domain.IsTerminalLoanStatus(loan.Status) {
			continue
		}
		for _, id := range domain.UniqueIDs(loan.LoanOfficerIDs) {
			workload[id]++
		}
	}
	return workload
}

// ActiveQueue keeps active entries and orders them by queue position.
// Entries sharing a position keep their input order.
func ActiveQueue(entries []domain.LoanOfficerQueueEntry) []domain.LoanOfficerQueueEntry {
	out := make([]domain.LoanOfficerQueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsActive && e.LoanOfficerID != "" {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].QueuePosition < out[j].QueuePosition
	})
	return out
}

// SelectOfficer returns the least-loaded officer in queue order. Only a
// strictly lower workload displaces the current pick, so ties go to the
// earlier queue entry. It returns false for an empty queue.
func SelectOfficer(queue []domain.LoanOfficerQueueEntry, workload map[string]int) (string, bool) {
	selected := ""
	minWorkload := 0
	for _, entry := range queue {
		if entry.LoanOfficerID == "" {
			continue
		}
		w := workload[entry.LoanOfficerID]
		if selected == "" || w < minWorkload {
			selected = entry.LoanOfficerID
			minWorkload = w
		}
	}
	return selected, selected != ""
}
