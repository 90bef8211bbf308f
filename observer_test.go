package simpay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/simpay/inventory"
	"goflare.io/simpay/models"
	"goflare.io/simpay/models/enum"
	"goflare.io/simpay/transaction"
)

type fakeTransactionService struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*models.Transaction

	// raceRow simulates a concurrent writer: while armed it is invisible to
	// lookups, and the first Create for its object id installs it and
	// reports the unique-index conflict.
	raceRow   *models.Transaction
	raceArmed bool
}

func newFakeTransactionService() *fakeTransactionService {
	return &fakeTransactionService{rows: make(map[uint64]*models.Transaction)}
}

func (f *fakeTransactionService) seed(txn *models.Transaction) *models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	txn.ID = f.nextID
	f.rows[txn.ID] = txn
	return txn
}

func (f *fakeTransactionService) armRace(txn *models.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raceRow = txn
	f.raceArmed = true
}

func (f *fakeTransactionService) Create(_ context.Context, txn *models.Transaction) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.raceArmed && f.raceRow.ObjectID == txn.ObjectID {
		f.raceArmed = false
		f.nextID++
		f.raceRow.ID = f.nextID
		f.rows[f.raceRow.ID] = f.raceRow
		return nil, nil
	}

	if txn.ObjectID != "" {
		for _, row := range f.rows {
			if row.ObjectID == txn.ObjectID {
				return nil, nil
			}
		}
	}

	f.nextID++
	txn.ID = f.nextID
	f.rows[txn.ID] = txn
	return txn, nil
}

func (f *fakeTransactionService) Update(_ context.Context, id uint64, patch *models.PartialTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[id]
	if !ok {
		return fmt.Errorf("no transaction %d", id)
	}
	if patch.ObjectID != nil && *patch.ObjectID != "" {
		for otherID, other := range f.rows {
			if otherID != id && other.ObjectID == *patch.ObjectID {
				return transaction.ErrDuplicateObjectID
			}
		}
	}
	if patch.FormID != nil {
		row.FormID = *patch.FormID
	}
	if patch.Object != nil {
		row.Object = *patch.Object
	}
	if patch.ObjectID != nil {
		row.ObjectID = *patch.ObjectID
	}
	if patch.Livemode != nil {
		row.Livemode = *patch.Livemode
	}
	if patch.AmountTotal != nil {
		row.AmountTotal = *patch.AmountTotal
	}
	if patch.AmountSubtotal != nil {
		row.AmountSubtotal = *patch.AmountSubtotal
	}
	if patch.AmountShipping != nil {
		row.AmountShipping = *patch.AmountShipping
	}
	if patch.AmountDiscount != nil {
		row.AmountDiscount = *patch.AmountDiscount
	}
	if patch.AmountTax != nil {
		row.AmountTax = *patch.AmountTax
	}
	if patch.AmountRefunded != nil {
		row.AmountRefunded = *patch.AmountRefunded
	}
	if patch.Currency != nil {
		row.Currency = *patch.Currency
	}
	if patch.Email != nil {
		row.Email = *patch.Email
	}
	if patch.CustomerID != nil {
		row.CustomerID = *patch.CustomerID
	}
	if patch.SubscriptionID != nil {
		row.SubscriptionID = *patch.SubscriptionID
	}
	if patch.PaymentMethodType != nil {
		row.PaymentMethodType = *patch.PaymentMethodType
	}
	if patch.Status != nil {
		row.Status = *patch.Status
	}
	if patch.ApplicationFee != nil {
		row.ApplicationFee = *patch.ApplicationFee
	}
	return nil
}

func (f *fakeTransactionService) GetByObjectID(_ context.Context, objectID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if objectID == "" {
		return nil, nil
	}
	for _, row := range f.rows {
		if f.raceArmed && row == f.raceRow {
			continue
		}
		if row.ObjectID == objectID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeTransactionService) ListByFormID(_ context.Context, formID uint64, _, _ uint64) ([]*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.Transaction
	for _, row := range f.rows {
		if row.FormID == formID {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeTransactionService) AggregateByStatus(context.Context, transaction.ReportFilter) ([]*transaction.StatusAggregate, error) {
	return nil, nil
}

func (f *fakeTransactionService) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeTransactionService) byID(id uint64) *models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

type fakeFormService struct {
	mu             sync.Mutex
	forms          map[uint64]*models.PaymentForm
	stockDeltas    map[uint64]int64
	instanceDeltas map[string]int64
}

func newFakeFormService(forms ...*models.PaymentForm) *fakeFormService {
	f := &fakeFormService{
		forms:          make(map[uint64]*models.PaymentForm),
		stockDeltas:    make(map[uint64]int64),
		instanceDeltas: make(map[string]int64),
	}
	for _, pf := range forms {
		f.forms[pf.ID] = pf
	}
	return f
}

func (f *fakeFormService) GetByID(_ context.Context, id uint64) (*models.PaymentForm, error) {
	return f.forms[id], nil
}

func (f *fakeFormService) AdjustStock(_ context.Context, formID uint64, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stockDeltas[formID] += delta
	return nil
}

func (f *fakeFormService) AdjustInstanceStock(_ context.Context, formID uint64, instanceID string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instanceDeltas[fmt.Sprintf("%d:%s", formID, instanceID)] += delta
	return nil
}

type fakeBackend struct {
	paymentIntents map[string]*stripe.PaymentIntent
	invoices       map[string]*stripe.Invoice
	subscriptions  map[string]*stripe.Subscription
	sessions       map[string]*stripe.CheckoutSession
	paymentMethods map[string]*stripe.PaymentMethod
}

func (b *fakeBackend) GetPaymentIntent(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if pi, ok := b.paymentIntents[id]; ok {
		return pi, nil
	}
	return nil, fmt.Errorf("no such payment intent: %s", id)
}

func (b *fakeBackend) GetInvoice(id string, _ *stripe.InvoiceParams) (*stripe.Invoice, error) {
	if inv, ok := b.invoices[id]; ok {
		return inv, nil
	}
	return nil, fmt.Errorf("no such invoice: %s", id)
}

func (b *fakeBackend) GetSubscription(id string, _ *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if sub, ok := b.subscriptions[id]; ok {
		return sub, nil
	}
	return nil, fmt.Errorf("no such subscription: %s", id)
}

func (b *fakeBackend) GetCheckoutSession(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if sess, ok := b.sessions[id]; ok {
		return sess, nil
	}
	return nil, fmt.Errorf("no such checkout session: %s", id)
}

func (b *fakeBackend) GetPaymentMethod(id string, _ *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error) {
	if pm, ok := b.paymentMethods[id]; ok {
		return pm, nil
	}
	return nil, fmt.Errorf("no such payment method: %s", id)
}

func newTestLedger(ft *fakeTransactionService, ff *fakeFormService, fb *fakeBackend) *StripeLedger {
	logger := zap.NewNop()
	return &StripeLedger{
		backend:      fb,
		logger:       logger,
		transactions: ft,
		forms:        ff,
		inventory:    inventory.NewService(ff, logger),
		appFees:      &ApplicationFees{},
	}
}

func stripeEvent(t *testing.T, eventType stripe.EventType, payload any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &stripe.Event{
		ID:   "evt_test",
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestPaymentIntentSucceededFillsStatusAndPaymentMethod(t *testing.T) {
	ft := newFakeTransactionService()
	row := ft.seed(&models.Transaction{
		FormID:   1,
		Object:   enum.ObjectTypePaymentIntent,
		ObjectID: "pi_1",
		Status:   enum.TransactionStatusRequiresPaymentMethod,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		paymentMethods: map[string]*stripe.PaymentMethod{
			"pm_1": {ID: "pm_1", Type: stripe.PaymentMethodTypeCard},
		},
	})

	evt := stripeEvent(t, stripe.EventTypePaymentIntentSucceeded, &stripe.PaymentIntent{
		ID:            "pi_1",
		PaymentMethod: &stripe.PaymentMethod{ID: "pm_1"},
	})
	require.NoError(t, ledger.handlePaymentIntentSucceeded(context.Background(), evt))

	updated := ft.byID(row.ID)
	assert.Equal(t, enum.TransactionStatusSucceeded, updated.Status)
	assert.Equal(t, "card", updated.PaymentMethodType)
}

func TestPaymentIntentSucceededUnknownIntentIsNoOp(t *testing.T) {
	ft := newFakeTransactionService()
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{})

	evt := stripeEvent(t, stripe.EventTypePaymentIntentSucceeded, &stripe.PaymentIntent{ID: "pi_missing"})
	require.NoError(t, ledger.handlePaymentIntentSucceeded(context.Background(), evt))
	assert.Zero(t, ft.rowCount())
}

func TestChargeFailedMarksRowAndRestocks(t *testing.T) {
	ft := newFakeTransactionService()
	row := ft.seed(&models.Transaction{
		FormID:   7,
		Object:   enum.ObjectTypePaymentIntent,
		ObjectID: "pi_2",
		Status:   enum.TransactionStatusProcessing,
	})
	ff := newFakeFormService(&models.PaymentForm{
		ID:              7,
		ManageInventory: true,
		Behavior:        enum.InventoryBehaviorCombined,
	})
	ledger := newTestLedger(ft, ff, &fakeBackend{
		paymentIntents: map[string]*stripe.PaymentIntent{
			"pi_2": {
				ID: "pi_2",
				Metadata: map[string]string{
					MetadataFormID:    "7",
					MetadataInventory: "price_a:2",
				},
			},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeChargeFailed, &stripe.Charge{
		ID:            "ch_1",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_2"},
	})
	require.NoError(t, ledger.handleChargeFailed(context.Background(), evt))

	assert.Equal(t, enum.TransactionStatusFailed, ft.byID(row.ID).Status)
	assert.Equal(t, int64(2), ff.stockDeltas[7])
}

func TestChargeFailedSubscriptionInvoiceKeysBySubscription(t *testing.T) {
	ft := newFakeTransactionService()
	row := ft.seed(&models.Transaction{
		FormID:         7,
		Object:         enum.ObjectTypeSubscription,
		ObjectID:       "sub_1",
		SubscriptionID: "sub_1",
		Status:         enum.TransactionStatusIncomplete,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		invoices: map[string]*stripe.Invoice{
			"in_1": {ID: "in_1", Subscription: &stripe.Subscription{ID: "sub_1"}},
		},
		paymentIntents: map[string]*stripe.PaymentIntent{
			"pi_3": {ID: "pi_3"},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeChargeFailed, &stripe.Charge{
		ID:            "ch_2",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_3"},
		Invoice:       &stripe.Invoice{ID: "in_1"},
	})
	require.NoError(t, ledger.handleChargeFailed(context.Background(), evt))

	assert.Equal(t, enum.TransactionStatusFailed, ft.byID(row.ID).Status)
}

func TestChargeRefundedUpdatesExistingRow(t *testing.T) {
	ft := newFakeTransactionService()
	row := ft.seed(&models.Transaction{
		FormID:      1,
		Object:      enum.ObjectTypePaymentIntent,
		ObjectID:    "pi_4",
		AmountTotal: 5000,
		Status:      enum.TransactionStatusSucceeded,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		paymentIntents: map[string]*stripe.PaymentIntent{
			"pi_4": {ID: "pi_4", Amount: 5000, Metadata: map[string]string{MetadataFormID: "1"}},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeChargeRefunded, &stripe.Charge{
		ID:             "ch_3",
		PaymentIntent:  &stripe.PaymentIntent{ID: "pi_4"},
		AmountRefunded: 5000,
	})
	require.NoError(t, ledger.handleChargeRefunded(context.Background(), evt))

	updated := ft.byID(row.ID)
	assert.Equal(t, enum.TransactionStatusRefunded, updated.Status)
	assert.Equal(t, int64(5000), updated.AmountRefunded)
}

func TestChargeRefundedWithoutPriorRowInsertsOne(t *testing.T) {
	ft := newFakeTransactionService()
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		paymentIntents: map[string]*stripe.PaymentIntent{
			"pi_5": {
				ID:       "pi_5",
				Amount:   3000,
				Currency: stripe.CurrencyUSD,
				Metadata: map[string]string{MetadataFormID: "9"},
			},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeChargeRefunded, &stripe.Charge{
		ID:             "ch_4",
		PaymentIntent:  &stripe.PaymentIntent{ID: "pi_5"},
		AmountRefunded: 3000,
	})
	require.NoError(t, ledger.handleChargeRefunded(context.Background(), evt))

	inserted, err := ft.GetByObjectID(context.Background(), "pi_5")
	require.NoError(t, err)
	require.NotNil(t, inserted)
	assert.Equal(t, uint64(9), inserted.FormID)
	assert.Equal(t, enum.TransactionStatusRefunded, inserted.Status)
	assert.Equal(t, int64(3000), inserted.AmountRefunded)
	assert.Equal(t, int64(3000), inserted.AmountTotal)
}

func TestChargeRefundedForeignIntentIsSkipped(t *testing.T) {
	ft := newFakeTransactionService()
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		paymentIntents: map[string]*stripe.PaymentIntent{
			"pi_other": {ID: "pi_other", Amount: 100},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeChargeRefunded, &stripe.Charge{
		ID:            "ch_5",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_other"},
	})
	require.NoError(t, ledger.handleChargeRefunded(context.Background(), evt))
	assert.Zero(t, ft.rowCount())
}

func TestChargeRefundedInsertLoserFallsBackToUpdate(t *testing.T) {
	ft := newFakeTransactionService()
	ft.armRace(&models.Transaction{
		FormID:   9,
		Object:   enum.ObjectTypePaymentIntent,
		ObjectID: "pi_6",
		Status:   enum.TransactionStatusSucceeded,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		paymentIntents: map[string]*stripe.PaymentIntent{
			"pi_6": {ID: "pi_6", Amount: 2000, Metadata: map[string]string{MetadataFormID: "9"}},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeChargeRefunded, &stripe.Charge{
		ID:             "ch_6",
		PaymentIntent:  &stripe.PaymentIntent{ID: "pi_6"},
		AmountRefunded: 2000,
	})
	require.NoError(t, ledger.handleChargeRefunded(context.Background(), evt))

	assert.Equal(t, 1, ft.rowCount())
	winner, err := ft.GetByObjectID(context.Background(), "pi_6")
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, enum.TransactionStatusRefunded, winner.Status)
	assert.Equal(t, int64(2000), winner.AmountRefunded)
}

func TestSubscriptionFirstInvoiceRewritesRow(t *testing.T) {
	ft := newFakeTransactionService()
	row := ft.seed(&models.Transaction{
		FormID:         3,
		Object:         enum.ObjectTypeSubscription,
		ObjectID:       "sub_2",
		SubscriptionID: "sub_2",
		Status:         enum.TransactionStatusIncomplete,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		subscriptions: map[string]*stripe.Subscription{
			"sub_2": {
				ID:                   "sub_2",
				Status:               stripe.SubscriptionStatusActive,
				DefaultPaymentMethod: &stripe.PaymentMethod{ID: "pm_2", Type: stripe.PaymentMethodTypeCard},
			},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeInvoicePaid, &stripe.Invoice{
		ID:            "in_2",
		BillingReason: stripe.InvoiceBillingReasonSubscriptionCreate,
		Subscription:  &stripe.Subscription{ID: "sub_2"},
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_7"},
		Total:         900,
		Subtotal:      1000,
		Tax:           50,
	})
	require.NoError(t, ledger.handleInvoicePaid(context.Background(), evt))

	updated := ft.byID(row.ID)
	assert.Equal(t, enum.ObjectTypePaymentIntent, updated.Object)
	assert.Equal(t, "pi_7", updated.ObjectID)
	assert.Equal(t, enum.TransactionStatusSucceeded, updated.Status)
	assert.Equal(t, int64(900), updated.AmountTotal)
	assert.Equal(t, int64(1000), updated.AmountSubtotal)
	assert.Equal(t, int64(50), updated.AmountTax)
	assert.Equal(t, "card", updated.PaymentMethodType)

	// The subscription id no longer resolves; the payment intent does.
	gone, err := ft.GetByObjectID(context.Background(), "sub_2")
	require.NoError(t, err)
	assert.Nil(t, gone)
	found, err := ft.GetByObjectID(context.Background(), "pi_7")
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestSubscriptionTrialInvoiceResolvesToSetupIntent(t *testing.T) {
	ft := newFakeTransactionService()
	row := ft.seed(&models.Transaction{
		FormID:         3,
		Object:         enum.ObjectTypeSubscription,
		ObjectID:       "sub_3",
		SubscriptionID: "sub_3",
		Status:         enum.TransactionStatusIncomplete,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		subscriptions: map[string]*stripe.Subscription{
			"sub_3": {ID: "sub_3", Status: stripe.SubscriptionStatusTrialing},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeInvoicePaid, &stripe.Invoice{
		ID:            "in_3",
		BillingReason: stripe.InvoiceBillingReasonSubscriptionCreate,
		Subscription:  &stripe.Subscription{ID: "sub_3"},
	})
	require.NoError(t, ledger.handleInvoicePaid(context.Background(), evt))

	updated := ft.byID(row.ID)
	assert.Equal(t, enum.ObjectTypeSetupIntent, updated.Object)
	assert.Equal(t, "", updated.ObjectID)
	assert.Equal(t, enum.TransactionStatusSucceeded, updated.Status)
}

func TestSubscriptionRenewalInsertsFreshRow(t *testing.T) {
	ft := newFakeTransactionService()
	ft.seed(&models.Transaction{
		FormID:         3,
		Object:         enum.ObjectTypePaymentIntent,
		ObjectID:       "pi_first",
		SubscriptionID: "sub_4",
		Status:         enum.TransactionStatusSucceeded,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		subscriptions: map[string]*stripe.Subscription{
			"sub_4": {
				ID:       "sub_4",
				Status:   stripe.SubscriptionStatusActive,
				Metadata: map[string]string{MetadataFormID: "3"},
			},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeInvoicePaid, &stripe.Invoice{
		ID:            "in_4",
		BillingReason: stripe.InvoiceBillingReasonSubscriptionCycle,
		Subscription:  &stripe.Subscription{ID: "sub_4"},
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_renewal"},
		Total:         1000,
		Subtotal:      1000,
		Currency:      stripe.CurrencyUSD,
	})
	require.NoError(t, ledger.handleInvoicePaid(context.Background(), evt))

	assert.Equal(t, 2, ft.rowCount())
	renewal, err := ft.GetByObjectID(context.Background(), "pi_renewal")
	require.NoError(t, err)
	require.NotNil(t, renewal)
	assert.Equal(t, uint64(3), renewal.FormID)
	assert.Equal(t, "sub_4", renewal.SubscriptionID)
	assert.Equal(t, enum.TransactionStatusSucceeded, renewal.Status)

	// Redelivery inserts nothing.
	require.NoError(t, ledger.handleInvoicePaid(context.Background(), evt))
	assert.Equal(t, 2, ft.rowCount())
}

func TestStandaloneInvoicePaidSettlesRow(t *testing.T) {
	ft := newFakeTransactionService()
	row := ft.seed(&models.Transaction{
		FormID:   5,
		Object:   enum.ObjectTypePaymentIntent,
		ObjectID: "pi_inv",
		Status:   enum.TransactionStatusIncomplete,
	})
	ff := newFakeFormService(&models.PaymentForm{ID: 5})
	ledger := newTestLedger(ft, ff, &fakeBackend{
		invoices: map[string]*stripe.Invoice{
			"in_5": {
				ID:       "in_5",
				Paid:     true,
				Total:    4500,
				Subtotal: 5000,
				Tax:      250,
				TotalDiscountAmounts: []*stripe.InvoiceTotalDiscountAmount{
					{Amount: 750},
				},
				PaymentIntent: &stripe.PaymentIntent{
					ID:            "pi_inv",
					PaymentMethod: &stripe.PaymentMethod{ID: "pm_3", Type: stripe.PaymentMethodTypeCard},
				},
			},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeInvoicePaid, &stripe.Invoice{
		ID:            "in_5",
		BillingReason: stripe.InvoiceBillingReasonManual,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_inv"},
	})
	require.NoError(t, ledger.handleInvoicePaid(context.Background(), evt))

	updated := ft.byID(row.ID)
	assert.Equal(t, enum.TransactionStatusSucceeded, updated.Status)
	assert.Equal(t, int64(4500), updated.AmountTotal)
	assert.Equal(t, int64(5000), updated.AmountSubtotal)
	assert.Equal(t, int64(750), updated.AmountDiscount)
	assert.Equal(t, int64(250), updated.AmountTax)
	assert.Equal(t, "card", updated.PaymentMethodType)
}

func TestStandaloneInvoiceWithoutRowIsNoOp(t *testing.T) {
	ft := newFakeTransactionService()
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{})

	evt := stripeEvent(t, stripe.EventTypeInvoicePaid, &stripe.Invoice{
		ID:            "in_6",
		BillingReason: stripe.InvoiceBillingReasonManual,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_unknown"},
	})
	require.NoError(t, ledger.handleInvoicePaid(context.Background(), evt))
	assert.Zero(t, ft.rowCount())
}

func TestCheckoutSessionCompletedUpgradesRow(t *testing.T) {
	ft := newFakeTransactionService()
	row := ft.seed(&models.Transaction{
		FormID:   2,
		Object:   enum.ObjectTypeCheckoutSession,
		ObjectID: "cs_1",
		Status:   enum.TransactionStatusIncomplete,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{})

	evt := stripeEvent(t, stripe.EventTypeCheckoutSessionCompleted, &stripe.CheckoutSession{
		ID:             "cs_1",
		PaymentIntent:  &stripe.PaymentIntent{ID: "pi_cs"},
		AmountTotal:    5000,
		AmountSubtotal: 5000,
		PaymentStatus:  stripe.CheckoutSessionPaymentStatusPaid,
		Currency:       stripe.CurrencyUSD,
	})
	require.NoError(t, ledger.handleCheckoutSessionCompleted(context.Background(), evt))

	updated := ft.byID(row.ID)
	assert.Equal(t, enum.ObjectTypePaymentIntent, updated.Object)
	assert.Equal(t, "pi_cs", updated.ObjectID)
	assert.Equal(t, enum.TransactionStatusSucceeded, updated.Status)
	assert.Equal(t, int64(5000), updated.AmountTotal)
	assert.Equal(t, int64(5000), updated.AmountSubtotal)
	assert.Zero(t, updated.AmountShipping)
	assert.Zero(t, updated.AmountDiscount)
	assert.Zero(t, updated.AmountTax)
}

func TestCheckoutSessionResolvesToSubscription(t *testing.T) {
	ft := newFakeTransactionService()
	row := ft.seed(&models.Transaction{
		FormID:   2,
		Object:   enum.ObjectTypeCheckoutSession,
		ObjectID: "cs_2",
		Status:   enum.TransactionStatusIncomplete,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{})

	evt := stripeEvent(t, stripe.EventTypeCheckoutSessionCompleted, &stripe.CheckoutSession{
		ID:            "cs_2",
		Subscription:  &stripe.Subscription{ID: "sub_cs"},
		PaymentStatus: stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
	})
	require.NoError(t, ledger.handleCheckoutSessionCompleted(context.Background(), evt))

	updated := ft.byID(row.ID)
	assert.Equal(t, enum.ObjectTypeSubscription, updated.Object)
	assert.Equal(t, "sub_cs", updated.ObjectID)
	assert.Equal(t, "sub_cs", updated.SubscriptionID)
	assert.Equal(t, enum.TransactionStatusSucceeded, updated.Status)
}

func TestCheckoutSessionUpgradeMergesIntoRefundedIntentRow(t *testing.T) {
	ft := newFakeTransactionService()
	placeholder := ft.seed(&models.Transaction{
		FormID:   2,
		Object:   enum.ObjectTypeCheckoutSession,
		ObjectID: "cs_9",
		Status:   enum.TransactionStatusIncomplete,
	})
	// A refund webhook arrived first and inserted a row for the intent the
	// session resolves into.
	winner := ft.seed(&models.Transaction{
		FormID:         2,
		Object:         enum.ObjectTypePaymentIntent,
		ObjectID:       "pi_merge",
		AmountTotal:    5000,
		AmountRefunded: 5000,
		Status:         enum.TransactionStatusRefunded,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{})

	evt := stripeEvent(t, stripe.EventTypeCheckoutSessionCompleted, &stripe.CheckoutSession{
		ID:             "cs_9",
		PaymentIntent:  &stripe.PaymentIntent{ID: "pi_merge"},
		AmountTotal:    5000,
		AmountSubtotal: 5000,
		PaymentStatus:  stripe.CheckoutSessionPaymentStatusPaid,
		Currency:       stripe.CurrencyUSD,
	})
	require.NoError(t, ledger.handleCheckoutSessionCompleted(context.Background(), evt))

	merged := ft.byID(winner.ID)
	assert.Equal(t, enum.TransactionStatusRefunded, merged.Status)
	assert.Equal(t, int64(5000), merged.AmountRefunded)
	assert.Equal(t, int64(5000), merged.AmountSubtotal)
	assert.Equal(t, stripe.CurrencyUSD, merged.Currency)

	// The placeholder is retired: the session id no longer resolves and the
	// intent id resolves to the merged row only.
	assert.Equal(t, "", ft.byID(placeholder.ID).ObjectID)
	gone, err := ft.GetByObjectID(context.Background(), "cs_9")
	require.NoError(t, err)
	assert.Nil(t, gone)
	found, err := ft.GetByObjectID(context.Background(), "pi_merge")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, winner.ID, found.ID)
}

func TestSubscriptionFirstInvoiceMergesIntoRefundedIntentRow(t *testing.T) {
	ft := newFakeTransactionService()
	placeholder := ft.seed(&models.Transaction{
		FormID:         3,
		Object:         enum.ObjectTypeSubscription,
		ObjectID:       "sub_9",
		SubscriptionID: "sub_9",
		Status:         enum.TransactionStatusIncomplete,
	})
	winner := ft.seed(&models.Transaction{
		FormID:         3,
		Object:         enum.ObjectTypePaymentIntent,
		ObjectID:       "pi_9",
		AmountTotal:    1200,
		AmountRefunded: 1200,
		Status:         enum.TransactionStatusRefunded,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		subscriptions: map[string]*stripe.Subscription{
			"sub_9": {ID: "sub_9", Status: stripe.SubscriptionStatusActive},
		},
	})

	evt := stripeEvent(t, stripe.EventTypeInvoicePaid, &stripe.Invoice{
		ID:            "in_9",
		BillingReason: stripe.InvoiceBillingReasonSubscriptionCreate,
		Subscription:  &stripe.Subscription{ID: "sub_9"},
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_9"},
		Total:         1200,
		Subtotal:      1200,
	})
	require.NoError(t, ledger.handleInvoicePaid(context.Background(), evt))

	merged := ft.byID(winner.ID)
	assert.Equal(t, enum.TransactionStatusRefunded, merged.Status)
	assert.Equal(t, int64(1200), merged.AmountRefunded)
	assert.Equal(t, int64(1200), merged.AmountSubtotal)

	assert.Equal(t, "", ft.byID(placeholder.ID).ObjectID)
	gone, err := ft.GetByObjectID(context.Background(), "sub_9")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestResolveCheckoutSessionFallback(t *testing.T) {
	ft := newFakeTransactionService()
	ft.seed(&models.Transaction{
		FormID:   2,
		Object:   enum.ObjectTypeCheckoutSession,
		ObjectID: "cs_3",
		Status:   enum.TransactionStatusIncomplete,
	})
	sess := &stripe.CheckoutSession{
		ID:             "cs_3",
		PaymentIntent:  &stripe.PaymentIntent{ID: "pi_cs3"},
		AmountTotal:    1500,
		AmountSubtotal: 1500,
		PaymentStatus:  stripe.CheckoutSessionPaymentStatusPaid,
	}
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{
		sessions: map[string]*stripe.CheckoutSession{"cs_3": sess},
	})

	resolved, err := ledger.ResolveCheckoutSession(context.Background(), "cs_3")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "pi_cs3", resolved.ObjectID)
	assert.Equal(t, enum.TransactionStatusSucceeded, resolved.Status)

	// The webhook may still land afterwards; redelivery converges on the
	// same single row.
	evt := stripeEvent(t, stripe.EventTypeCheckoutSessionCompleted, sess)
	require.NoError(t, ledger.handleCheckoutSessionCompleted(context.Background(), evt))
	assert.Equal(t, 1, ft.rowCount())
}

func TestResolveCheckoutSessionStripeFailureDegrades(t *testing.T) {
	ft := newFakeTransactionService()
	ft.seed(&models.Transaction{
		FormID:   2,
		Object:   enum.ObjectTypeCheckoutSession,
		ObjectID: "cs_4",
		Status:   enum.TransactionStatusIncomplete,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{})

	resolved, err := ledger.ResolveCheckoutSession(context.Background(), "cs_4")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "cs_4", resolved.ObjectID)
	assert.Equal(t, enum.TransactionStatusIncomplete, resolved.Status)
}

func TestRecordPaymentIntentComputesSubtotal(t *testing.T) {
	ft := newFakeTransactionService()
	ff := newFakeFormService()
	ledger := newTestLedger(ft, ff, &fakeBackend{})

	f := &models.PaymentForm{ID: 1, AmountType: models.AmountTypeFixed, UnitAmount: 2500, Quantity: 1}
	pi := &stripe.PaymentIntent{
		ID:       "pi_sub",
		Amount:   5000,
		Currency: stripe.CurrencyUSD,
		Metadata: map[string]string{
			MetadataFormID:     "1",
			MetadataUnitAmount: "2500",
			MetadataQuantity:   "2",
		},
	}
	require.NoError(t, ledger.recordPaymentIntent(context.Background(), f, pi))

	row, err := ft.GetByObjectID(context.Background(), "pi_sub")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(5000), row.AmountTotal)
	assert.Equal(t, int64(5000), row.AmountSubtotal)
}

func TestRecordPaymentIntentClampsCustomAmount(t *testing.T) {
	ft := newFakeTransactionService()
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{})

	f := &models.PaymentForm{ID: 1, AmountType: models.AmountTypeCustom, CustomAmountMin: 500}
	pi := &stripe.PaymentIntent{
		ID: "pi_clamp",
		Metadata: map[string]string{
			MetadataFormID:     "1",
			MetadataUnitAmount: "100",
			MetadataQuantity:   "1",
		},
	}
	require.NoError(t, ledger.recordPaymentIntent(context.Background(), f, pi))

	row, err := ft.GetByObjectID(context.Background(), "pi_clamp")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(500), row.AmountSubtotal)
	assert.Equal(t, int64(500), row.AmountTotal)
}

func TestRecordInvoiceSkipsExistingRow(t *testing.T) {
	ft := newFakeTransactionService()
	ft.seed(&models.Transaction{
		FormID:   1,
		Object:   enum.ObjectTypePaymentIntent,
		ObjectID: "pi_dup",
		Status:   enum.TransactionStatusSucceeded,
	})
	ledger := newTestLedger(ft, newFakeFormService(), &fakeBackend{})

	f := &models.PaymentForm{ID: 1}
	inv := &stripe.Invoice{
		ID:            "in_dup",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_dup"},
		Metadata:      map[string]string{MetadataFormID: "1"},
	}
	require.NoError(t, ledger.recordInvoice(context.Background(), f, inv))
	assert.Equal(t, 1, ft.rowCount())
}
