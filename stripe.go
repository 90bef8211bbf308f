package simpay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"goflare.io/simpay/config"
	"goflare.io/simpay/event"
	"goflare.io/simpay/form"
	"goflare.io/simpay/inventory"
	"goflare.io/simpay/models"
	"goflare.io/simpay/models/enum"
	"goflare.io/simpay/transaction"
)

// StripeBackend is the synchronous re-fetch surface the observer needs.
// Webhook payloads carry id-only sub-objects, so handlers that must learn a
// payment method type or an invoice's subscription re-fetch the expanded
// object inline.
type StripeBackend interface {
	GetPaymentIntent(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetInvoice(id string, params *stripe.InvoiceParams) (*stripe.Invoice, error)
	GetSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	GetCheckoutSession(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetPaymentMethod(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeBackend struct {
	client *client.API
}

func (b *stripeBackend) GetPaymentIntent(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return b.client.PaymentIntents.Get(id, params)
}

func (b *stripeBackend) GetInvoice(id string, params *stripe.InvoiceParams) (*stripe.Invoice, error) {
	return b.client.Invoices.Get(id, params)
}

func (b *stripeBackend) GetSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return b.client.Subscriptions.Get(id, params)
}

func (b *stripeBackend) GetCheckoutSession(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return b.client.CheckoutSessions.Get(id, params)
}

func (b *stripeBackend) GetPaymentMethod(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error) {
	return b.client.PaymentMethods.Get(id, params)
}

type StripeLedger struct {
	client        *client.API
	backend       StripeBackend
	natsConn      *nats.Conn
	eventManager  *EventManager
	dispatcher    *Dispatcher
	logger        *zap.Logger
	webhookSecret string

	transactions transaction.Service
	forms        form.Service
	events       event.Service
	inventory    inventory.Service
	appFees      *ApplicationFees

	// amountFilter is the legacy amount hook applied to a computed subtotal
	// before it is stored; nil means no filtering.
	amountFilter func(amount int64, f *models.PaymentForm) int64
}

func NewStripeLedger(cfg *config.Config,
	ts transaction.Service,
	fs form.Service,
	es event.Service,
	is inventory.Service,
	appFees *ApplicationFees,
	logger *zap.Logger) (Ledger, error) {
	api := client.New(cfg.Stripe.SecretKey, nil)

	sl := &StripeLedger{
		client:        api,
		backend:       &stripeBackend{client: api},
		logger:        logger,
		webhookSecret: cfg.Stripe.WebhookSecret,
		transactions:  ts,
		forms:         fs,
		events:        es,
		inventory:     is,
		appFees:       appFees,
	}

	nc, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	sl.natsConn = nc
	sl.eventManager = NewEventManager(nc, logger)
	sl.dispatcher = NewDispatcher(10, 10000, sl)
	sl.dispatcher.Run()

	sl.registerEventHandlers()
	if err = sl.eventManager.SubscribeToEvents(sl.dispatcher); err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	return sl, nil
}

// SetAmountFilter installs the legacy amount hook.
func (sl *StripeLedger) SetAmountFilter(filter func(amount int64, f *models.PaymentForm) int64) {
	sl.amountFilter = filter
}

// CreatePaymentIntent creates a one-time PaymentIntent in Stripe and records
// it on the ledger.
func (sl *StripeLedger) CreatePaymentIntent(ctx context.Context, req *PaymentRequest) (*stripe.PaymentIntent, error) {
	f, err := sl.forms.GetByID(ctx, req.FormID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment form: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("unknown payment form %d", req.FormID)
	}

	unit := f.UnitAmount
	if f.AmountType == models.AmountTypeCustom && req.Amount > 0 {
		unit = req.Amount
		if unit < f.CustomAmountMin {
			unit = f.CustomAmountMin
		}
	}
	qty := req.Quantity
	if qty <= 0 {
		qty = f.Quantity
	}
	if qty <= 0 {
		qty = 1
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(unit * qty),
		Currency: stripe.String(string(req.Currency)),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.AddMetadata(MetadataFormID, strconv.FormatUint(f.ID, 10))
	params.AddMetadata(MetadataUnitAmount, strconv.FormatInt(unit, 10))
	params.AddMetadata(MetadataQuantity, strconv.FormatInt(qty, 10))
	if len(req.Inventory) > 0 {
		params.AddMetadata(MetadataInventory, inventory.Encode(req.Inventory))
	}

	pi, err := sl.client.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe payment intent: %w", err)
	}

	if err = sl.recordPaymentIntent(ctx, f, pi); err != nil {
		return nil, err
	}

	return pi, nil
}

// recordPaymentIntent inserts the intent's ledger row. The subtotal is
// unit_amount x quantity, preferring the metadata-embedded values (set when
// the embedded UI created the intent) over the form's price config; custom
// amounts below the form's floor clamp to it.
func (sl *StripeLedger) recordPaymentIntent(ctx context.Context, f *models.PaymentForm, pi *stripe.PaymentIntent) error {
	unit := f.UnitAmount
	qty := f.Quantity
	if qty <= 0 {
		qty = 1
	}
	if v, ok := pi.Metadata[MetadataUnitAmount]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			unit = n
		}
	}
	if v, ok := pi.Metadata[MetadataQuantity]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			qty = n
		}
	}
	if f.AmountType == models.AmountTypeCustom && unit < f.CustomAmountMin {
		unit = f.CustomAmountMin
	}

	subtotal := unit * qty
	if sl.amountFilter != nil {
		subtotal = sl.amountFilter(subtotal, f)
	}
	total := pi.Amount
	if total == 0 {
		total = subtotal
	}

	txn := &models.Transaction{
		FormID:         f.ID,
		Object:         enum.ObjectTypePaymentIntent,
		ObjectID:       pi.ID,
		Livemode:       pi.Livemode,
		AmountTotal:    total,
		AmountSubtotal: subtotal,
		Currency:       pi.Currency,
		Email:          pi.ReceiptEmail,
		CustomerID:     customerID(pi.Customer),
		Status:         enum.TransactionStatus(pi.Status),
		ApplicationFee: sl.appFees.Has(),
	}
	if _, err := sl.transactions.Create(ctx, txn); err != nil {
		return fmt.Errorf("failed to record payment intent: %w", err)
	}

	if err := sl.inventory.Consume(ctx, f, pi.Metadata[MetadataInventory]); err != nil {
		sl.logger.Error("Failed to consume inventory", zap.Error(err), zap.String("payment_intent", pi.ID))
	}

	return nil
}

// CreateSubscription creates a subscription in Stripe and records it with
// all-zero amounts; the first paid invoice fills them in.
func (sl *StripeLedger) CreateSubscription(ctx context.Context, req *PaymentRequest) (*stripe.Subscription, error) {
	f, err := sl.forms.GetByID(ctx, req.FormID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment form: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("unknown payment form %d", req.FormID)
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price: stripe.String(req.PriceID),
			},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.AddMetadata(MetadataFormID, strconv.FormatUint(f.ID, 10))
	if len(req.Inventory) > 0 {
		params.AddMetadata(MetadataInventory, inventory.Encode(req.Inventory))
	}

	sub, err := sl.client.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe subscription: %w", err)
	}

	if err = sl.recordSubscription(ctx, f, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

func (sl *StripeLedger) recordSubscription(ctx context.Context, f *models.PaymentForm, sub *stripe.Subscription) error {
	txn := &models.Transaction{
		FormID:         f.ID,
		Object:         enum.ObjectTypeSubscription,
		ObjectID:       sub.ID,
		SubscriptionID: sub.ID,
		Livemode:       sub.Livemode,
		Currency:       sub.Currency,
		CustomerID:     customerID(sub.Customer),
		Status:         enum.TransactionStatus(sub.Status),
		ApplicationFee: sl.appFees.Has(),
	}
	if _, err := sl.transactions.Create(ctx, txn); err != nil {
		return fmt.Errorf("failed to record subscription: %w", err)
	}

	if err := sl.inventory.Consume(ctx, f, sub.Metadata[MetadataInventory]); err != nil {
		sl.logger.Error("Failed to consume inventory", zap.Error(err), zap.String("subscription", sub.ID))
	}

	return nil
}

// CreateInvoice creates and finalizes a multi-line invoice in Stripe, then
// records it keyed by the invoice's PaymentIntent.
func (sl *StripeLedger) CreateInvoice(ctx context.Context, req *InvoiceRequest) (*stripe.Invoice, error) {
	f, err := sl.forms.GetByID(ctx, req.FormID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment form: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("unknown payment form %d", req.FormID)
	}

	params := &stripe.InvoiceParams{
		Customer:    stripe.String(req.CustomerID),
		Currency:    stripe.String(string(req.Currency)),
		AutoAdvance: stripe.Bool(true),
	}
	params.AddMetadata(MetadataFormID, strconv.FormatUint(f.ID, 10))
	if len(req.Inventory) > 0 {
		params.AddMetadata(MetadataInventory, inventory.Encode(req.Inventory))
	}

	inv, err := sl.client.Invoices.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe invoice: %w", err)
	}

	for _, line := range req.Lines {
		if _, err = sl.client.InvoiceItems.New(&stripe.InvoiceItemParams{
			Customer:    stripe.String(req.CustomerID),
			Invoice:     stripe.String(inv.ID),
			Amount:      stripe.Int64(line.Amount),
			Currency:    stripe.String(string(req.Currency)),
			Description: stripe.String(line.Description),
		}); err != nil {
			return nil, fmt.Errorf("failed to create Stripe invoice item: %w", err)
		}
	}

	finalized, err := sl.client.Invoices.FinalizeInvoice(inv.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize Stripe invoice: %w", err)
	}

	if err = sl.recordInvoice(ctx, f, finalized); err != nil {
		return nil, err
	}

	return finalized, nil
}

// recordInvoice inserts the payment_intent row for a multi-line invoice,
// only if a concurrent handler has not already observed the same intent.
// Invoices without a payment intent or without form metadata are skipped.
func (sl *StripeLedger) recordInvoice(ctx context.Context, f *models.PaymentForm, inv *stripe.Invoice) error {
	if inv.PaymentIntent == nil {
		return nil
	}
	if _, ok := inv.Metadata[MetadataFormID]; !ok {
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
		FormID:         f.ID,
		Object:         enum.ObjectTypePaymentIntent,
		ObjectID:       inv.PaymentIntent.ID,
		Livemode:       inv.Livemode,
		AmountTotal:    inv.AmountDue,
		AmountSubtotal: inv.Subtotal,
		AmountDiscount: sumDiscountAmounts(inv.TotalDiscountAmounts),
		AmountTax:      inv.Tax,
		Currency:       inv.Currency,
		Email:          inv.CustomerEmail,
		CustomerID:     customerID(inv.Customer),
		Status:         enum.TransactionStatus(inv.Status),
		ApplicationFee: sl.appFees.Has(),
	}
	if _, err = sl.transactions.Create(ctx, txn); err != nil {
		return fmt.Errorf("failed to record invoice: %w", err)
	}

	if err = sl.inventory.Consume(ctx, f, inv.Metadata[MetadataInventory]); err != nil {
		sl.logger.Error("Failed to consume inventory", zap.Error(err), zap.String("invoice", inv.ID))
	}

	return nil
}

// CreateCheckoutSession creates a Checkout Session in Stripe and records it
// with all-zero amounts; checkout.session.completed (or the confirmation
// page fallback) upgrades the row.
func (sl *StripeLedger) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*stripe.CheckoutSession, error) {
	f, err := sl.forms.GetByID(ctx, req.FormID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment form: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("unknown payment form %d", req.FormID)
	}

	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(req.Mode)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(qty),
			},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata(MetadataFormID, strconv.FormatUint(f.ID, 10))
	if len(req.Inventory) > 0 {
		params.AddMetadata(MetadataInventory, inventory.Encode(req.Inventory))
	}

	sess, err := sl.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe checkout session: %w", err)
	}

	if err = sl.recordCheckoutSession(ctx, f, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

func (sl *StripeLedger) recordCheckoutSession(ctx context.Context, f *models.PaymentForm, sess *stripe.CheckoutSession) error {
	txn := &models.Transaction{
		FormID:         f.ID,
		Object:         enum.ObjectTypeCheckoutSession,
		ObjectID:       sess.ID,
		Livemode:       sess.Livemode,
		Currency:       sess.Currency,
		CustomerID:     customerID(sess.Customer),
		Status:         enum.TransactionStatus(sess.Status),
		ApplicationFee: sl.appFees.Has(),
	}
	if _, err := sl.transactions.Create(ctx, txn); err != nil {
		return fmt.Errorf("failed to record checkout session: %w", err)
	}

	if err := sl.inventory.Consume(ctx, f, sess.Metadata[MetadataInventory]); err != nil {
		sl.logger.Error("Failed to consume inventory", zap.Error(err), zap.String("checkout_session", sess.ID))
	}

	return nil
}

// GetTransaction retrieves a ledger row by its current external object id.
func (sl *StripeLedger) GetTransaction(ctx context.Context, objectID string) (*models.Transaction, error) {
	return sl.transactions.GetByObjectID(ctx, objectID)
}

func (sl *StripeLedger) ListFormTransactions(ctx context.Context, formID uint64, limit, offset uint64) ([]*models.Transaction, error) {
	return sl.transactions.ListByFormID(ctx, formID, limit, offset)
}

func (sl *StripeLedger) TransactionReport(ctx context.Context, filter transaction.ReportFilter) ([]*transaction.StatusAggregate, error) {
	return sl.transactions.AggregateByStatus(ctx, filter)
}

// HandleStripeWebhook verifies the delivery, dedups it against the events
// table and hands it to the worker pool via NATS.
func (sl *StripeLedger) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	stripeEvent, err := webhook.ConstructEvent(payload, signature, sl.webhookSecret)
	if err != nil {
		return fmt.Errorf("failed to verify webhook signature: %w", err)
	}

	// Stripe sends every event type the endpoint subscribes to; types without
	// a handler are acknowledged here so they never queue and fail forever.
	if _, exists := sl.eventManager.GetHandler(stripeEvent.Type); !exists {
		sl.logger.Debug("Ignoring event without a registered handler",
			zap.String("event_id", stripeEvent.ID),
			zap.String("event_type", string(stripeEvent.Type)),
		)
		return nil
	}

	processed, err := sl.events.IsEventProcessed(ctx, stripeEvent.ID)
	if err != nil {
		return err
	}
	if processed {
		sl.logger.Info("Event is already processed", zap.String("event_id", stripeEvent.ID))
		return nil
	}

	if err = sl.eventManager.PublishEvent(&stripeEvent); err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	eventModel := &models.Event{
		ID:        stripeEvent.ID,
		Type:      stripeEvent.Type,
		Processed: false,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err = sl.events.Create(ctx, eventModel); err != nil {
		sl.logger.Error("Failed to create event", zap.Error(err))
		return err
	}

	return nil
}

// ProcessEvent dispatches one queued event to its registered handler and
// marks it processed.
func (sl *StripeLedger) ProcessEvent(ctx context.Context, event *stripe.Event) error {
	handler, exists := sl.eventManager.GetHandler(event.Type)
	if !exists {
		return fmt.Errorf("no handler registered for event type: %s", event.Type)
	}

	if err := handler(ctx, event); err != nil {
		sl.logger.Error("Failed to process event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return err
	}

	if err := sl.events.MarkEventAsProcessed(ctx, event.ID); err != nil {
		sl.logger.Error("Failed to mark event as processed", zap.Error(err))
		return err
	}

	sl.logger.Info("Stripe event processed", zap.String("event_id", event.ID))

	return nil
}

func (sl *StripeLedger) Close() {
	sl.logger.Info("Initiating graceful shutdown of workers and dispatcher")
	sl.natsConn.Close()
	sl.dispatcher.Stop()
	sl.logger.Info("StripeLedger successfully shutdown")
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func sumDiscountAmounts(amounts []*stripe.InvoiceTotalDiscountAmount) int64 {
	var total int64
	for _, a := range amounts {
		if a != nil {
			total += a.Amount
		}
	}
	return total
}

func parseFormID(metadata map[string]string) (uint64, bool) {
	v, ok := metadata[MetadataFormID]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
