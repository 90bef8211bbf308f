package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/simpay"
	"goflare.io/simpay/transaction"
)

type TransactionHandler interface {
	GetTransaction(c echo.Context) error
	ListFormTransactions(c echo.Context) error
	Report(c echo.Context) error
}

type transactionHandler struct {
	Ledger simpay.Ledger
	Logger *zap.Logger
}

func NewTransactionHandler(ledger simpay.Ledger, logger *zap.Logger) TransactionHandler {
	return &transactionHandler{
		Ledger: ledger,
		Logger: logger,
	}
}

// GetTransaction handles GET /transactions/:object_id
func (th *transactionHandler) GetTransaction(c echo.Context) error {
	objectID := c.Param("object_id")

	txn, err := th.Ledger.GetTransaction(c.Request().Context(), objectID)
	if err != nil {
		th.Logger.Error("Failed to get transaction", zap.Error(err), zap.String("object_id", objectID))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to get transaction"})
	}
	if txn == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Transaction not found"})
	}

	return c.JSON(http.StatusOK, txn)
}

// ListFormTransactions handles GET /forms/:id/transactions
func (th *transactionHandler) ListFormTransactions(c echo.Context) error {
	formID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid form ID"})
	}

	limit, _ := strconv.ParseUint(c.QueryParam("limit"), 10, 64)
	offset, _ := strconv.ParseUint(c.QueryParam("offset"), 10, 64)
	if limit == 0 {
		limit = 10
	}

	txns, err := th.Ledger.ListFormTransactions(c.Request().Context(), formID, limit, offset)
	if err != nil {
		th.Logger.Error("Failed to list transactions", zap.Error(err), zap.Uint64("form_id", formID))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list transactions"})
	}

	return c.JSON(http.StatusOK, txns)
}

// Report handles GET /reports/transactions
func (th *transactionHandler) Report(c echo.Context) error {
	filter := transaction.ReportFilter{
		Livemode: c.QueryParam("livemode") != "false",
		Currency: stripe.Currency(c.QueryParam("currency")),
	}
	if v := c.QueryParam("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid start time"})
		}
		filter.Start = t
	}
	if v := c.QueryParam("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid end time"})
		}
		filter.End = t
	}

	aggregates, err := th.Ledger.TransactionReport(c.Request().Context(), filter)
	if err != nil {
		th.Logger.Error("Failed to build transaction report", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to build transaction report"})
	}

	return c.JSON(http.StatusOK, aggregates)
}
