package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"goflare.io/simpay"
)

type WebhookHandler interface {
	HandleStripeWebhook(c echo.Context) error
}

type webhookHandler struct {
	Ledger simpay.Ledger
}

func NewWebhookHandler(ledger simpay.Ledger) WebhookHandler {
	return &webhookHandler{
		Ledger: ledger,
	}
}

func (wh *webhookHandler) HandleStripeWebhook(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
	}

	signature := c.Request().Header.Get("Stripe-Signature")

	err = wh.Ledger.HandleStripeWebhook(c.Request().Context(), payload, signature)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to handle webhook"})
	}

	return c.NoContent(http.StatusOK)
}
