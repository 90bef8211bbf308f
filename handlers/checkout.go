package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"goflare.io/simpay"
)

type CheckoutHandler interface {
	Confirmation(c echo.Context) error
}

type checkoutHandler struct {
	Ledger simpay.Ledger
	Logger *zap.Logger
}

func NewCheckoutHandler(ledger simpay.Ledger, logger *zap.Logger) CheckoutHandler {
	return &checkoutHandler{
		Ledger: ledger,
		Logger: logger,
	}
}

// Confirmation handles GET /checkout/confirmation?session_id=cs_xxx
func (ch *checkoutHandler) Confirmation(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "session_id is required"})
	}

	txn, err := ch.Ledger.ResolveCheckoutSession(c.Request().Context(), sessionID)
	if err != nil {
		ch.Logger.Error("Failed to resolve checkout session", zap.Error(err), zap.String("session_id", sessionID))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to resolve checkout session"})
	}
	if txn == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Transaction not found"})
	}

	return c.JSON(http.StatusOK, txn)
}
