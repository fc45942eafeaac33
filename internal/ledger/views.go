package ledger

// BudgetWithSpending is a budget annotated with current-month spending.
// Remaining may be negative; Percentage is clamped to [0, 100] for display.
type BudgetWithSpending struct {
	Budget
	Spent      int64
	Remaining  int64
	Percentage float64
}

// PotWithProgress is a pot annotated with progress towards its target, capped at 100.
type PotWithProgress struct {
	Pot
	Percentage float64
}

// BillWithStatus is a recurring bill annotated with its derived payment state.
type BillWithStatus struct {
	RecurringBill
	IsPaid       bool
	DaysUntilDue int
}

// BillsSummary partitions bills into paid and upcoming for the current month.
// A bill due soon is also counted as upcoming.
type BillsSummary struct {
	Paid          int64
	TotalUpcoming int64
	DueSoon       int64
	PaidBills     []BillWithStatus
	UpcomingBills []BillWithStatus
	DueSoonBills  []BillWithStatus
}
