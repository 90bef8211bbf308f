package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"goflare.io/simpay/handlers"
)

type Server struct {
	echo        *echo.Echo
	Payment     handlers.PaymentHandler
	Checkout    handlers.CheckoutHandler
	Transaction handlers.TransactionHandler
	Webhook     handlers.WebhookHandler
}

func NewServer(
	Payment handlers.PaymentHandler,
	Checkout handlers.CheckoutHandler,
	Transaction handlers.TransactionHandler,
	Webhook handlers.WebhookHandler,
) *Server {
	return &Server{
		echo:        echo.New(),
		Payment:     Payment,
		Checkout:    Checkout,
		Transaction: Transaction,
		Webhook:     Webhook,
	}
}

// Start initializes the server by registering middlewares and routes, and starts listening for connections on the provided address.
// It returns an error if there is an issue starting the server.
func (s *Server) Start(address string) error {
	s.registerMiddlewares()
	s.registerRoutes()
	return s.echo.Start(address)
}

// Run starts the server in a goroutine, then blocks until an OS interrupt or
// SIGTERM arrives and shuts the server down with a 5 second grace period.
func (s *Server) Run(address string) error {

	go func() {
		if err := s.Start(address); err != nil {
			s.echo.Logger.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

func (s *Server) registerMiddlewares() {
	s.echo.Use(middleware.Recover())
}

func (s *Server) registerRoutes() {

	s.echo.POST("/payment/intent", s.Payment.CreatePaymentIntent)
	s.echo.POST("/payment/subscription", s.Payment.CreateSubscription)
	s.echo.POST("/payment/invoice", s.Payment.CreateInvoice)
	s.echo.POST("/payment/checkout", s.Payment.CreateCheckoutSession)

	s.echo.GET("/checkout/confirmation", s.Checkout.Confirmation)

	s.echo.GET("/transactions/:object_id", s.Transaction.GetTransaction)
	s.echo.GET("/forms/:id/transactions", s.Transaction.ListFormTransactions)
	s.echo.GET("/reports/transactions", s.Transaction.Report)

	s.echo.POST("/webhook", s.Webhook.HandleStripeWebhook)
}
