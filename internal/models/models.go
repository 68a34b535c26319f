package models

import "github.com/shopspring/decimal"

// Category is static reference data for classifying expenses.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StatusInfo is a row of the status reference table.
type StatusInfo struct {
	ID   Status `json:"id"`
	Name string `json:"name"`
}

// Summary holds aggregates over all expenses.
type Summary struct {
	TotalExpenses  int             `json:"totalExpenses"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	DraftCount     int             `json:"draftCount"`
	PendingCount   int             `json:"pendingCount"`
	ApprovedCount  int             `json:"approvedCount"`
	RejectedCount  int             `json:"rejectedCount"`
	PendingAmount  decimal.Decimal `json:"pendingAmount"`
	ApprovedAmount decimal.Decimal `json:"approvedAmount"`
}
