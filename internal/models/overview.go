package models

// UserOverview is everything known about one user. It feeds both the journey
// resolver and the points balance used for quoting.
type UserOverview struct {
	User                  *User                    `json:"user"`
	Requests              []MiniaturizationRequest `json:"requests"`
	Payments              []Payment                `json:"payments"`
	DNATokens             []DNAToken               `json:"dna_tokens"`
	MiniaturizationTokens []MiniaturizationToken   `json:"miniaturization_tokens"`
	InsurancePolicies     []InsurancePolicy        `json:"insurance_policies"`
	MemoryLogs            []MemoryLog              `json:"memory_logs"`
	MemorySummary         PointsSummary            `json:"memory_summary"`
	Stage                 string                   `json:"stage"`
}

type AdminSummary struct {
	TotalUsers                int     `json:"total_users"`
	TotalRequests             int     `json:"total_requests"`
	TotalPayments             int     `json:"total_payments"`
	TotalRevenue              float64 `json:"total_revenue"`
	InsurancePolicies         int     `json:"insurance_policies"`
	InsuranceRecurringRevenue float64 `json:"insurance_recurring_revenue"`
	PendingTokens             int     `json:"pending_tokens"`
	ApprovedTokens            int     `json:"approved_tokens"`
}
