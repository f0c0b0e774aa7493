package dto

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	MobileNumber string `json:"mobile_number"`
	Name         string `json:"name"`
	BusinessName string `json:"business_name"`
}

// BulkConfirmRequest is the body of POST /api/reconciliation/bulk-confirm:
// a bare JSON array of suggestion ids.
type BulkConfirmRequest []int64
