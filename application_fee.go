package simpay

import (
	"goflare.io/simpay/config"
)

// ApplicationFees answers whether the current deployment collects a platform
// fee on payments (Stripe Connect). Recorded on every inserted ledger row.
type ApplicationFees struct {
	connectAccount string
}

func NewApplicationFees(cfg *config.Config) *ApplicationFees {
	return &ApplicationFees{
		connectAccount: cfg.Stripe.ConnectAccount,
	}
}

func (a *ApplicationFees) Has() bool {
	return a.connectAccount != ""
}
