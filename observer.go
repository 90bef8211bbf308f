package simpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/simpay/models"
	"goflare.io/simpay/models/enum"
	"goflare.io/simpay/transaction"
)

func (sl *StripeLedger) registerEventHandlers() {
	sl.eventManager.RegisterHandler(stripe.EventTypePaymentIntentSucceeded, sl.handlePaymentIntentSucceeded)
	sl.eventManager.RegisterHandler(stripe.EventTypeChargeFailed, sl.handleChargeFailed)
	sl.eventManager.RegisterHandler(stripe.EventTypeChargeRefunded, sl.handleChargeRefunded)
	sl.eventManager.RegisterHandler(stripe.EventTypeInvoicePaid, sl.handleInvoicePaid)
	sl.eventManager.RegisterHandler(stripe.EventTypeCheckoutSessionCompleted, sl.handleCheckoutSessionCompleted)
}

// handlePaymentIntentSucceeded marks the intent's row succeeded and fills in
// the payment method type. Rows the ledger never observed are ignored; a
// charge webhook or backfill may still get there first.
func (sl *StripeLedger) handlePaymentIntentSucceeded(ctx context.Context, event *stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("failed to parse payment intent event: %w", err)
	}

	existing, err := sl.transactions.GetByObjectID(ctx, pi.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		sl.logger.Debug("No ledger row for payment intent", zap.String("payment_intent", pi.ID))
		return nil
	}

	status := enum.TransactionStatusSucceeded
	patch := &models.PartialTransaction{
		Status: &status,
	}
	if pmType := sl.paymentMethodType(ctx, pi.PaymentMethod); pmType != "" {
		patch.PaymentMethodType = &pmType
	}

	return sl.transactions.Update(ctx, existing.ID, patch)
}

// handleChargeFailed records the failure and restocks any inventory the
// attempt had consumed. Charges belonging to a subscription invoice key the
// lookup by the subscription id, since the ledger rewrote the row's object id
// away from the first intent.
func (sl *StripeLedger) handleChargeFailed(ctx context.Context, event *stripe.Event) error {
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		return fmt.Errorf("failed to parse charge event: %w", err)
	}
	if ch.PaymentIntent == nil {
		return nil
	}

	objectID := ch.PaymentIntent.ID
	if ch.Invoice != nil {
		inv, err := sl.backend.GetInvoice(ch.Invoice.ID, nil)
		if err != nil {
			sl.logger.Warn("Failed to fetch invoice for failed charge",
				zap.String("invoice", ch.Invoice.ID), zap.Error(err))
		} else if inv.Subscription != nil {
			objectID = inv.Subscription.ID
		}
	}

	existing, err := sl.transactions.GetByObjectID(ctx, objectID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	status := enum.TransactionStatusFailed
	patch := &models.PartialTransaction{Status: &status}
	if ch.PaymentMethodDetails != nil {
		if pmType := string(ch.PaymentMethodDetails.Type); pmType != "" {
			patch.PaymentMethodType = &pmType
		}
	}
	if err = sl.transactions.Update(ctx, existing.ID, patch); err != nil {
		return err
	}

	pi, err := sl.backend.GetPaymentIntent(ch.PaymentIntent.ID, nil)
	if err != nil {
		sl.logger.Warn("Failed to fetch payment intent for restock",
			zap.String("payment_intent", ch.PaymentIntent.ID), zap.Error(err))
		return nil
	}
	sl.restockFromMetadata(ctx, pi.Metadata)

	return nil
}

// handleChargeRefunded updates the refunded amount on the intent's row, or
// inserts a synthetic refunded row when the refund arrives for an intent the
// ledger never observed. Intents without form metadata belong to someone else
// and are skipped.
func (sl *StripeLedger) handleChargeRefunded(ctx context.Context, event *stripe.Event) error {
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		return fmt.Errorf("failed to parse charge event: %w", err)
	}
	if ch.PaymentIntent == nil {
		return nil
	}

	pi, err := sl.backend.GetPaymentIntent(ch.PaymentIntent.ID, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch payment intent %s: %w", ch.PaymentIntent.ID, err)
	}
	formID, ok := parseFormID(pi.Metadata)
	if !ok {
		return nil
	}

	existing, err := sl.transactions.GetByObjectID(ctx, pi.ID)
	if err != nil {
		return err
	}

	status := enum.TransactionStatusRefunded
	refunded := ch.AmountRefunded

	if existing != nil {
		return sl.transactions.Update(ctx, existing.ID, &models.PartialTransaction{
			Status:         &status,
			AmountRefunded: &refunded,
		})
	}

	txn := &models.Transaction{
		FormID:         formID,
		Object:         enum.ObjectTypePaymentIntent,
		ObjectID:       pi.ID,
		Livemode:       pi.Livemode,
		AmountTotal:    pi.Amount,
		AmountSubtotal: pi.Amount,
		AmountRefunded: refunded,
		Currency:       pi.Currency,
		Email:          pi.ReceiptEmail,
		CustomerID:     customerID(pi.Customer),
		Status:         status,
		ApplicationFee: sl.appFees.Has(),
	}
	created, err := sl.transactions.Create(ctx, txn)
	if err != nil {
		return err
	}
	if created == nil {
		// Lost the insert race to another handler; its row carries the
		// object id now, so patch that one instead.
		winner, err := sl.transactions.GetByObjectID(ctx, pi.ID)
		if err != nil {
			return err
		}
		if winner == nil {
			return nil
		}
		return sl.transactions.Update(ctx, winner.ID, &models.PartialTransaction{
			Status:         &status,
			AmountRefunded: &refunded,
		})
	}

	return nil
}

// handleInvoicePaid reconciles subscription and multi-line invoice payments.
// The branch depends on the billing reason: the subscription's first invoice
// rewrites the pending subscription row into its payment intent, renewals
// insert fresh rows, and anything else settles a multi-line invoice row.
func (sl *StripeLedger) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to parse invoice event: %w", err)
	}

	switch inv.BillingReason {
	case stripe.InvoiceBillingReasonSubscriptionCreate:
		return sl.settleSubscriptionCreate(ctx, &inv)
	case stripe.InvoiceBillingReasonSubscriptionCycle:
		return sl.recordSubscriptionRenewal(ctx, &inv)
	default:
		return sl.settleStandaloneInvoice(ctx, &inv)
	}
}

// settleSubscriptionCreate rewrites the pending subscription row into the
// first invoice's payment intent. A trial with no charge resolves to the
// setup intent identity instead, keeping a single row per subscription
// either way.
func (sl *StripeLedger) settleSubscriptionCreate(ctx context.Context, inv *stripe.Invoice) error {
	if inv.Subscription == nil {
		return nil
	}

	existing, err := sl.transactions.GetByObjectID(ctx, inv.Subscription.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		sl.logger.Debug("No ledger row for subscription", zap.String("subscription", inv.Subscription.ID))
		return nil
	}

	sub, err := sl.backend.GetSubscription(inv.Subscription.ID, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", inv.Subscription.ID, err)
	}

	object := enum.ObjectTypePaymentIntent
	objectID := ""
	if inv.PaymentIntent != nil {
		objectID = inv.PaymentIntent.ID
	} else {
		// Trialing subscription with nothing due yet; the row keeps the
		// setup intent identity until the first real charge.
		object = enum.ObjectTypeSetupIntent
	}

	status := enum.TransactionStatusCanceled
	if sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing {
		status = enum.TransactionStatusSucceeded
	}

	discount := sumDiscountAmounts(inv.TotalDiscountAmounts)
	patch := &models.PartialTransaction{
		Object:         &object,
		ObjectID:       &objectID,
		Status:         &status,
		AmountTotal:    &inv.Total,
		AmountSubtotal: &inv.Subtotal,
		AmountDiscount: &discount,
		AmountTax:      &inv.Tax,
	}
	if sub.DefaultPaymentMethod != nil {
		if pmType := sl.paymentMethodType(ctx, sub.DefaultPaymentMethod); pmType != "" {
			patch.PaymentMethodType = &pmType
		}
	}

	return sl.rewriteTransaction(ctx, existing, objectID, patch)
}

// recordSubscriptionRenewal inserts a fresh payment_intent row for each
// renewal invoice. Subscriptions without form metadata are not ours.
func (sl *StripeLedger) recordSubscriptionRenewal(ctx context.Context, inv *stripe.Invoice) error {
	if inv.Subscription == nil || inv.PaymentIntent == nil {
		return nil
	}

	sub, err := sl.backend.GetSubscription(inv.Subscription.ID, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", inv.Subscription.ID, err)
	}
	formID, ok := parseFormID(sub.Metadata)
	if !ok {
		return nil
	}

	existing, err := sl.transactions.GetByObjectID(ctx, inv.PaymentIntent.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	txn := &models.Transaction{
		FormID:            formID,
		Object:            enum.ObjectTypePaymentIntent,
		ObjectID:          inv.PaymentIntent.ID,
		SubscriptionID:    sub.ID,
		PaymentMethodType: sl.paymentMethodType(ctx, sub.DefaultPaymentMethod),
		Livemode:          inv.Livemode,
		AmountTotal:       inv.Total,
		AmountSubtotal:    inv.Subtotal,
		AmountDiscount:    sumDiscountAmounts(inv.TotalDiscountAmounts),
		AmountTax:         inv.Tax,
		Currency:          inv.Currency,
		Email:             inv.CustomerEmail,
		CustomerID:        customerID(inv.Customer),
		Status:            enum.TransactionStatusSucceeded,
		ApplicationFee:    sl.appFees.Has(),
	}
	if _, err = sl.transactions.Create(ctx, txn); err != nil {
		return err
	}

	return nil
}

// settleStandaloneInvoice finalizes a multi-line invoice row. The webhook
// payload carries an id-only payment intent, so the invoice is re-fetched
// with the intent's payment method expanded.
func (sl *StripeLedger) settleStandaloneInvoice(ctx context.Context, inv *stripe.Invoice) error {
	if inv.PaymentIntent == nil {
		return nil
	}

	existing, err := sl.transactions.GetByObjectID(ctx, inv.PaymentIntent.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		sl.logger.Debug("No ledger row for invoice payment intent",
			zap.String("payment_intent", inv.PaymentIntent.ID))
		return nil
	}

	f, err := sl.forms.GetByID(ctx, existing.FormID)
	if err != nil {
		return err
	}
	if f == nil {
		sl.logger.Debug("Payment form no longer exists", zap.Uint64("form_id", existing.FormID))
		return nil
	}

	params := &stripe.InvoiceParams{}
	params.AddExpand("payment_intent.payment_method")
	full, err := sl.backend.GetInvoice(inv.ID, params)
	if err != nil {
		return fmt.Errorf("failed to fetch invoice %s: %w", inv.ID, err)
	}

	status := enum.TransactionStatusCanceled
	if full.Paid {
		status = enum.TransactionStatusSucceeded
	}

	discount := sumDiscountAmounts(full.TotalDiscountAmounts)
	patch := &models.PartialTransaction{
		Status:         &status,
		AmountTotal:    &full.Total,
		AmountSubtotal: &full.Subtotal,
		AmountDiscount: &discount,
		AmountTax:      &full.Tax,
	}
	if full.PaymentIntent != nil && full.PaymentIntent.PaymentMethod != nil {
		pmType := string(full.PaymentIntent.PaymentMethod.Type)
		if pmType != "" {
			patch.PaymentMethodType = &pmType
		}
	}

	return sl.transactions.Update(ctx, existing.ID, patch)
}

// handleCheckoutSessionCompleted upgrades the pending checkout_session row
// to the identity of whatever the session resolved into.
func (sl *StripeLedger) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to parse checkout session event: %w", err)
	}

	return sl.upgradeCheckoutSession(ctx, &sess)
}

// upgradeCheckoutSession rewrites the session's placeholder row in place:
// the object identity becomes the resolved payment intent, setup intent or
// subscription, totals come from the session, and absent total_details fields
// settle to explicit zeros. Sessions without a ledger row are ignored.
func (sl *StripeLedger) upgradeCheckoutSession(ctx context.Context, sess *stripe.CheckoutSession) error {
	existing, err := sl.transactions.GetByObjectID(ctx, sess.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		sl.logger.Debug("No ledger row for checkout session", zap.String("checkout_session", sess.ID))
		return nil
	}

	object := existing.Object
	objectID := sess.ID
	subscriptionID := existing.SubscriptionID
	switch {
	case sess.PaymentIntent != nil:
		object = enum.ObjectTypePaymentIntent
		objectID = sess.PaymentIntent.ID
	case sess.SetupIntent != nil:
		object = enum.ObjectTypeSetupIntent
		objectID = sess.SetupIntent.ID
	case sess.Subscription != nil:
		object = enum.ObjectTypeSubscription
		objectID = sess.Subscription.ID
		subscriptionID = sess.Subscription.ID
	}

	var discount, shipping, tax int64
	if sess.TotalDetails != nil {
		discount = sess.TotalDetails.AmountDiscount
		shipping = sess.TotalDetails.AmountShipping
		tax = sess.TotalDetails.AmountTax
	}

	status := existing.Status
	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		status = enum.TransactionStatusSucceeded
	}

	email := existing.Email
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email = sess.CustomerDetails.Email
	}
	currency := sess.Currency
	if currency == "" {
		currency = existing.Currency
	}
	cust := customerID(sess.Customer)
	if cust == "" {
		cust = existing.CustomerID
	}

	patch := &models.PartialTransaction{
		Object:         &object,
		ObjectID:       &objectID,
		SubscriptionID: &subscriptionID,
		Status:         &status,
		AmountTotal:    &sess.AmountTotal,
		AmountSubtotal: &sess.AmountSubtotal,
		AmountDiscount: &discount,
		AmountShipping: &shipping,
		AmountTax:      &tax,
		Currency:       &currency,
		Email:          &email,
		CustomerID:     &cust,
	}
	if sess.PaymentIntent != nil {
		// Best effort; the session payload never embeds the method type.
		if pi, err := sl.backend.GetPaymentIntent(sess.PaymentIntent.ID, nil); err == nil {
			if pmType := sl.paymentMethodType(ctx, pi.PaymentMethod); pmType != "" {
				patch.PaymentMethodType = &pmType
			}
		}
	}

	return sl.rewriteTransaction(ctx, existing, objectID, patch)
}

// rewriteTransaction applies a patch that moves a placeholder row onto a new
// object id. When another handler already inserted a row under the target id,
// the patch is merged into that row and the placeholder's key is cleared so
// stale-id lookups stop resolving, leaving one reconciled row per payment. A
// refund that landed on the winning row first is terminal and survives the
// merge.
func (sl *StripeLedger) rewriteTransaction(ctx context.Context, existing *models.Transaction, targetID string, patch *models.PartialTransaction) error {
	err := sl.transactions.Update(ctx, existing.ID, patch)
	if !errors.Is(err, transaction.ErrDuplicateObjectID) {
		return err
	}

	winner, err := sl.transactions.GetByObjectID(ctx, targetID)
	if err != nil {
		return err
	}
	if winner == nil {
		return nil
	}

	merged := *patch
	if winner.Status == enum.TransactionStatusRefunded {
		merged.Status = nil
		merged.AmountRefunded = nil
	}
	if err = sl.transactions.Update(ctx, winner.ID, &merged); err != nil {
		return err
	}

	empty := ""
	return sl.transactions.Update(ctx, existing.ID, &models.PartialTransaction{ObjectID: &empty})
}

// ResolveCheckoutSession is the confirmation page fallback: when the
// completed webhook has not landed yet, the session is re-fetched and the
// same upgrade applied synchronously. Stripe failures degrade to whatever
// the ledger currently holds rather than breaking the page.
func (sl *StripeLedger) ResolveCheckoutSession(ctx context.Context, sessionID string) (*models.Transaction, error) {
	sess, err := sl.backend.GetCheckoutSession(sessionID, nil)
	if err != nil {
		sl.logger.Warn("Failed to fetch checkout session",
			zap.String("checkout_session", sessionID), zap.Error(err))
		return sl.transactions.GetByObjectID(ctx, sessionID)
	}

	if err = sl.upgradeCheckoutSession(ctx, sess); err != nil {
		return nil, err
	}

	objectID := sess.ID
	switch {
	case sess.PaymentIntent != nil:
		objectID = sess.PaymentIntent.ID
	case sess.SetupIntent != nil:
		objectID = sess.SetupIntent.ID
	case sess.Subscription != nil:
		objectID = sess.Subscription.ID
	}

	return sl.transactions.GetByObjectID(ctx, objectID)
}

// paymentMethodType resolves a payment method's type, re-fetching the object
// when the webhook payload carried only its id.
func (sl *StripeLedger) paymentMethodType(_ context.Context, pm *stripe.PaymentMethod) string {
	if pm == nil {
		return ""
	}
	if pm.Type != "" {
		return string(pm.Type)
	}

	full, err := sl.backend.GetPaymentMethod(pm.ID, nil)
	if err != nil {
		sl.logger.Warn("Failed to fetch payment method",
			zap.String("payment_method", pm.ID), zap.Error(err))
		return ""
	}
	return string(full.Type)
}

// restockFromMetadata returns consumed stock after a failed attempt. Missing
// or foreign metadata is a no-op.
func (sl *StripeLedger) restockFromMetadata(ctx context.Context, metadata map[string]string) {
	formID, ok := parseFormID(metadata)
	if !ok {
		return
	}
	f, err := sl.forms.GetByID(ctx, formID)
	if err != nil || f == nil {
		return
	}
	if err = sl.inventory.Restock(ctx, f, metadata[MetadataInventory]); err != nil {
		sl.logger.Error("Failed to restock inventory", zap.Error(err), zap.Uint64("form_id", formID))
	}
}
