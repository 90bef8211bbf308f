package simpay

import (
	"context"

	"github.com/stripe/stripe-go/v79"

	"goflare.io/simpay/inventory"
	"goflare.io/simpay/models"
	"goflare.io/simpay/transaction"
)

// Metadata keys embedded on Stripe objects created from a payment form. The
// values are flat strings (a Stripe constraint); inventory adjustments use
// the "instance:qty|instance:qty" encoding from the inventory package.
const (
	MetadataFormID     = "simpay_form_id"
	MetadataUnitAmount = "simpay_unit_amount"
	MetadataQuantity   = "simpay_quantity"
	MetadataInventory  = "simpay_inventory"
)

// PaymentRequest carries a form submission for a one-time payment or a
// subscription.
type PaymentRequest struct {
	FormID     uint64                 `json:"form_id"`
	Amount     int64                  `json:"amount,omitempty"` // custom amount, minor units
	Quantity   int64                  `json:"quantity,omitempty"`
	Currency   stripe.Currency        `json:"currency"`
	Email      string                 `json:"email"`
	CustomerID string                 `json:"customer_id"`
	PriceID    string                 `json:"price_id,omitempty"`
	Inventory  []inventory.Adjustment `json:"inventory,omitempty"`
}

type InvoiceLine struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

// InvoiceRequest carries a multi-line invoice form submission.
type InvoiceRequest struct {
	FormID     uint64                 `json:"form_id"`
	Currency   stripe.Currency        `json:"currency"`
	Email      string                 `json:"email"`
	CustomerID string                 `json:"customer_id"`
	Lines      []InvoiceLine          `json:"lines"`
	Inventory  []inventory.Adjustment `json:"inventory,omitempty"`
}

// CheckoutRequest carries a Stripe Checkout form submission.
type CheckoutRequest struct {
	FormID     uint64                     `json:"form_id"`
	Mode       stripe.CheckoutSessionMode `json:"mode"`
	PriceID    string                     `json:"price_id"`
	Quantity   int64                      `json:"quantity,omitempty"`
	Currency   stripe.Currency            `json:"currency"`
	Email      string                     `json:"email"`
	CustomerID string                     `json:"customer_id"`
	SuccessURL string                     `json:"success_url"`
	CancelURL  string                     `json:"cancel_url"`
	Inventory  []inventory.Adjustment     `json:"inventory,omitempty"`
}

type Ledger interface {
	CreatePaymentIntent(ctx context.Context, req *PaymentRequest) (*stripe.PaymentIntent, error) // Interacts with Stripe
	CreateSubscription(ctx context.Context, req *PaymentRequest) (*stripe.Subscription, error)   // Interacts with Stripe
	CreateInvoice(ctx context.Context, req *InvoiceRequest) (*stripe.Invoice, error)             // Interacts with Stripe
	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*stripe.CheckoutSession, error)

	// ResolveCheckoutSession is the confirmation-page fallback for
	// deployments without webhooks: a synchronous re-fetch drives the same
	// upgrade as checkout.session.completed. Failures no-op rather than
	// breaking the page.
	ResolveCheckoutSession(ctx context.Context, sessionID string) (*models.Transaction, error)

	GetTransaction(ctx context.Context, objectID string) (*models.Transaction, error)
	ListFormTransactions(ctx context.Context, formID uint64, limit, offset uint64) ([]*models.Transaction, error)
	TransactionReport(ctx context.Context, filter transaction.ReportFilter) ([]*transaction.StatusAggregate, error)

	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error
	ProcessEvent(ctx context.Context, event *stripe.Event) error

	Close()
}
