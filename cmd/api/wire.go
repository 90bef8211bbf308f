//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"goflare.io/simpay"
	"goflare.io/simpay/config"
	"goflare.io/simpay/driver"
	"goflare.io/simpay/event"
	"goflare.io/simpay/form"
	"goflare.io/simpay/handlers"
	"goflare.io/simpay/inventory"
	"goflare.io/simpay/server"
	"goflare.io/simpay/transaction"
)

func InitializeLedgerService() (*server.Server, error) {

	wire.Build(
		config.ProvideApplicationConfig,
		config.NewLogger,
		config.ProvidePostgresConn,
		config.ProvideEmber,
		config.ProvideIgnite,
		driver.NewTransactionManager,
		transaction.NewRepository,
		transaction.NewService,
		form.NewRepository,
		form.NewService,
		event.NewRepository,
		event.NewService,
		inventory.NewService,
		simpay.NewApplicationFees,
		simpay.NewStripeLedger,
		handlers.NewPaymentHandler,
		handlers.NewCheckoutHandler,
		handlers.NewTransactionHandler,
		handlers.NewWebhookHandler,
		server.NewServer,
	)

	return &server.Server{}, nil
}
