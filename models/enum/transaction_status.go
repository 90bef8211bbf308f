package enum

// TransactionStatus is the normalized lifecycle status used for reporting.
// Transient Stripe intent/session statuses are stored as-is until a terminal
// status is observed.
type TransactionStatus string

const (
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
	TransactionStatusCanceled  TransactionStatus = "canceled"

	TransactionStatusRequiresPaymentMethod TransactionStatus = "requires_payment_method"
	TransactionStatusProcessing            TransactionStatus = "processing"
	TransactionStatusIncomplete            TransactionStatus = "incomplete"
	TransactionStatusTrialing              TransactionStatus = "trialing"
	TransactionStatusActive                TransactionStatus = "active"
)
