package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"goflare.io/simpay"
	"goflare.io/simpay/transaction"
)

type PaymentHandler interface {
	CreatePaymentIntent(c echo.Context) error
	CreateSubscription(c echo.Context) error
	CreateInvoice(c echo.Context) error
	CreateCheckoutSession(c echo.Context) error
}

type paymentHandler struct {
	Ledger simpay.Ledger
	Logger *zap.Logger
}

func NewPaymentHandler(ledger simpay.Ledger, logger *zap.Logger) PaymentHandler {
	return &paymentHandler{
		Ledger: ledger,
		Logger: logger,
	}
}

// CreatePaymentIntent handles POST /payment/intent
func (ph *paymentHandler) CreatePaymentIntent(c echo.Context) error {
	var req simpay.PaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	if req.FormID == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "form_id is required"})
	}

	ctx := transaction.WithClientIP(c.Request().Context(), c.RealIP())
	pi, err := ph.Ledger.CreatePaymentIntent(ctx, &req)
	if err != nil {
		ph.Logger.Error("Failed to create payment intent", zap.Error(err), zap.Uint64("form_id", req.FormID))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create payment intent"})
	}

	return c.JSON(http.StatusCreated, map[string]string{
		"id":            pi.ID,
		"client_secret": pi.ClientSecret,
	})
}

// CreateSubscription handles POST /payment/subscription
func (ph *paymentHandler) CreateSubscription(c echo.Context) error {
	var req simpay.PaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	if req.FormID == 0 || req.PriceID == "" || req.CustomerID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "form_id, price_id and customer_id are required"})
	}

	ctx := transaction.WithClientIP(c.Request().Context(), c.RealIP())
	sub, err := ph.Ledger.CreateSubscription(ctx, &req)
	if err != nil {
		ph.Logger.Error("Failed to create subscription", zap.Error(err), zap.Uint64("form_id", req.FormID))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create subscription"})
	}

	return c.JSON(http.StatusCreated, map[string]string{"id": sub.ID})
}

// CreateInvoice handles POST /payment/invoice
func (ph *paymentHandler) CreateInvoice(c echo.Context) error {
	var req simpay.InvoiceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	if req.FormID == 0 || len(req.Lines) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "form_id and at least one line are required"})
	}

	ctx := transaction.WithClientIP(c.Request().Context(), c.RealIP())
	inv, err := ph.Ledger.CreateInvoice(ctx, &req)
	if err != nil {
		ph.Logger.Error("Failed to create invoice", zap.Error(err), zap.Uint64("form_id", req.FormID))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create invoice"})
	}

	return c.JSON(http.StatusCreated, map[string]string{"id": inv.ID})
}

// CreateCheckoutSession handles POST /payment/checkout
func (ph *paymentHandler) CreateCheckoutSession(c echo.Context) error {
	var req simpay.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	if req.FormID == 0 || req.PriceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "form_id and price_id are required"})
	}

	ctx := transaction.WithClientIP(c.Request().Context(), c.RealIP())
	sess, err := ph.Ledger.CreateCheckoutSession(ctx, &req)
	if err != nil {
		ph.Logger.Error("Failed to create checkout session", zap.Error(err), zap.Uint64("form_id", req.FormID))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create checkout session"})
	}

	return c.JSON(http.StatusCreated, map[string]string{
		"id":  sess.ID,
		"url": sess.URL,
	})
}
