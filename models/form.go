package models

import (
	"goflare.io/simpay/models/enum"
)

const (
	AmountTypeFixed  = "fixed"
	AmountTypeCustom = "custom"
)

// PaymentForm is the form context a transaction originates from: its price
// configuration and its inventory settings.
type PaymentForm struct {
	ID              uint64                 `json:"id"`
	Name            string                 `json:"name"`
	Livemode        bool                   `json:"livemode"`
	AmountType      string                 `json:"amount_type"`
	UnitAmount      int64                  `json:"unit_amount"`
	Quantity        int64                  `json:"quantity"`
	CustomAmountMin int64                  `json:"custom_amount_min"`
	ManageInventory bool                   `json:"manage_inventory"`
	Behavior        enum.InventoryBehavior `json:"inventory_behavior"`
	Stock           int64                  `json:"stock"`
}

func NewPaymentForm() *PaymentForm {
	return &PaymentForm{}
}

func (f *PaymentForm) IsManagingInventory() bool {
	return f.ManageInventory
}

func (f *PaymentForm) GetInventoryBehavior() enum.InventoryBehavior {
	if f.Behavior == "" {
		return enum.InventoryBehaviorCombined
	}
	return f.Behavior
}
