package models

import (
	"time"

	"github.com/stripe/stripe-go/v79"

	"goflare.io/simpay/models/enum"
)

// Transaction is one logical payment attempt as currently known locally. It
// is a projection of Stripe state for reporting, not a source of truth: a
// missed webhook leaves it stale until Stripe redelivers.
type Transaction struct {
	ID                uint64                 `json:"id"`
	FormID            uint64                 `json:"form_id"`
	Object            enum.ObjectType        `json:"object"`
	ObjectID          string                 `json:"object_id"`
	Livemode          bool                   `json:"livemode"`
	AmountTotal       int64                  `json:"amount_total"`
	AmountSubtotal    int64                  `json:"amount_subtotal"`
	AmountShipping    int64                  `json:"amount_shipping"`
	AmountDiscount    int64                  `json:"amount_discount"`
	AmountTax         int64                  `json:"amount_tax"`
	AmountRefunded    int64                  `json:"amount_refunded"`
	Currency          stripe.Currency        `json:"currency"`
	Email             string                 `json:"email"`
	CustomerID        string                 `json:"customer_id"`
	SubscriptionID    string                 `json:"subscription_id,omitempty"`
	PaymentMethodType string                 `json:"payment_method_type,omitempty"`
	Status            enum.TransactionStatus `json:"status"`
	ApplicationFee    bool                   `json:"application_fee"`
	IPAddress         string                 `json:"ip_address"`
	UUID              string                 `json:"uuid"`
	DateCreated       time.Time              `json:"date_created"`
	DateModified      time.Time              `json:"date_modified"`
}

func NewTransaction() *Transaction {
	return &Transaction{}
}

// PartialTransaction carries only the fields an update path is authoritative
// for; nil fields retain their stored values.
type PartialTransaction struct {
	FormID            *uint64
	Object            *enum.ObjectType
	ObjectID          *string
	Livemode          *bool
	AmountTotal       *int64
	AmountSubtotal    *int64
	AmountShipping    *int64
	AmountDiscount    *int64
	AmountTax         *int64
	AmountRefunded    *int64
	Currency          *stripe.Currency
	Email             *string
	CustomerID        *string
	SubscriptionID    *string
	PaymentMethodType *string
	Status            *enum.TransactionStatus
	ApplicationFee    *bool
}
