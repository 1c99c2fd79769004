package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/inventory"
	"github.com/joao-fontenele/orderflow-payments/internal/payment"
)

type Variants interface {
	GetVariants(ctx context.Context, ids []string) (map[string]domain.Variant, error)
}

type Carts interface {
	ListLines(ctx context.Context, userID string, ids []string) ([]domain.CartLine, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (*payment.Session, error)
	GetOrderStatus(ctx context.Context, reference string) (*payment.OrderStatus, error)
}

// Store persists intents and performs the atomic settlement.
type Store interface {
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	// CreateIntent fails with ErrReferenceTaken on a duplicate reference.
	CreateIntent(ctx context.Context, intent *domain.CheckoutIntent) error
	GetIntent(ctx context.Context, reference string) (*domain.CheckoutIntent, error)
	// SetIntentState moves the intent to state when it is currently open and
	// reports whether it did.
	SetIntentState(ctx context.Context, reference string, state domain.IntentState) (bool, error)
	GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error)
	// Materialize writes order, decrements stock for every intent line, clears
	// the intent's cart lines and consumes the intent, all or nothing. It fails
	// with ErrSettlementConflict when a concurrent settlement won and with
	// inventory.ErrInsufficientStock when a decrement finds too little stock.
	Materialize(ctx context.Context, intent *domain.CheckoutIntent, order *domain.Order) error
}

// Pricing quotes shipping and tax for a set of lines.
type Pricing interface {
	Quote(ctx context.Context, lines []domain.IntentLine, subtotal int64) (shipping, tax int64, err error)
}

// FlatPricing charges no shipping and no tax.
type FlatPricing struct{}

func (FlatPricing) Quote(context.Context, []domain.IntentLine, int64) (int64, int64, error) {
	return 0, 0, nil
}

type Options struct {
	Currency          string
	IntentTTL         time.Duration
	GatewayTimeout    time.Duration
	TrackingLocation  string
	ReturnURL         ReturnURLPolicy
	MaxSettleAttempts int
}

type Service struct {
	store     Store
	variants  Variants
	carts     Carts
	gateway   Gateway
	pricing   Pricing
	incidents *Incidents
	publisher Publisher
	opts      Options
	metrics   *instruments
	now       func() time.Time
	reference func(time.Time) string
	logger    *slog.Logger
}

func NewService(store Store, variants Variants, carts Carts, gateway Gateway, incidents *Incidents, publisher Publisher, opts Options, logger *slog.Logger) *Service {
	if opts.IntentTTL <= 0 {
		opts.IntentTTL = 30 * time.Minute
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 15 * time.Second
	}
	if opts.MaxSettleAttempts <= 0 {
		opts.MaxSettleAttempts = 3
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}

	return &Service{
		store:     store,
		variants:  variants,
		carts:     carts,
		gateway:   gateway,
		pricing:   FlatPricing{},
		incidents: incidents,
		publisher: publisher,
		opts:      opts,
		metrics:   newInstruments(),
		now:       time.Now,
		reference: NewReference,
		logger:    logger,
	}
}

// WithPricing replaces the default zero shipping and tax.
func (s *Service) WithPricing(p Pricing) *Service {
	s.pricing = p
	return s
}

type SingleItem struct {
	ProductID          string
	VariantID          string
	Quantity           int
	SelectedAttributes domain.Attributes
}

type InitiateRequest struct {
	Customer domain.Customer
	// Single selects one product directly; otherwise the cart is used,
	// restricted to CartItemIDs when given.
	Single          *SingleItem
	CartItemIDs     []string
	ShippingAddress string
	BillingAddress  string
	Notes           string
	Origin          string
}

type InitiateResult struct {
	PaymentSessionID string `json:"payment_session_id"`
	OrderNumber      string `json:"order_number"`
}

// Initiate validates stock, stages a checkout intent and opens a payment
// session. It never touches stock, orders or the cart.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	ctx, span := tracer.Start(ctx, "checkout.Initiate", trace.WithAttributes(attribute.String("user.id", req.Customer.ID)))
	defer span.End()

	result, err := s.initiate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("order.number", result.OrderNumber))
	return result, nil
}

func (s *Service) initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.Customer.ID == "" {
		return nil, validationf("missing user")
	}
	shipping := strings.TrimSpace(req.ShippingAddress)
	if shipping == "" {
		return nil, validationf("shipping address is required")
	}
	billing := strings.TrimSpace(req.BillingAddress)
	if billing == "" {
		billing = shipping
	}

	var (
		lines []domain.IntentLine
		err   error
	)
	if req.Single != nil {
		lines, err = s.resolveSingle(ctx, *req.Single)
	} else {
		lines, err = s.resolveCart(ctx, req.Customer.ID, req.CartItemIDs)
	}
	if err != nil {
		return nil, err
	}

	var subtotal int64
	for _, l := range lines {
		subtotal += l.LineTotal
	}
	shippingFee, tax, err := s.pricing.Quote(ctx, lines, subtotal)
	if err != nil {
		return nil, fmt.Errorf("quote shipping and tax: %w", err)
	}

	returnURL, err := s.opts.ReturnURL.Build(req.Origin)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	intent := &domain.CheckoutIntent{
		UserID:          req.Customer.ID,
		Customer:        req.Customer,
		Lines:           lines,
		Subtotal:        subtotal,
		ShippingFee:     shippingFee,
		Tax:             tax,
		Total:           subtotal + shippingFee + tax,
		Currency:        s.opts.Currency,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Notes:           strings.TrimSpace(req.Notes),
		State:           domain.IntentStateOpen,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.opts.IntentTTL),
	}

	if err := s.stageIntent(ctx, intent); err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	session, err := s.gateway.CreateOrder(gctx, payment.CreateOrderRequest{
		Reference: intent.Reference,
		Amount:    intent.Total,
		Currency:  intent.Currency,
		Customer:  intent.Customer,
		ReturnURL: returnURL,
	})
	if err != nil {
		if _, markErr := s.store.SetIntentState(ctx, intent.Reference, domain.IntentStateFailed); markErr != nil {
			s.logger.ErrorContext(ctx, "failed to mark intent failed", "error", markErr, "order_number", intent.Reference)
		}
		s.logger.WarnContext(ctx, "payment gateway create order failed", "error", err, "order_number", intent.Reference)
		return nil, gatewayError(err)
	}

	s.metrics.initiated.Add(ctx, 1)
	s.logger.InfoContext(ctx, "checkout initiated",
		"order_number", intent.Reference,
		"user_id", intent.UserID,
		"lines", len(intent.Lines),
		"total", intent.Total,
		"currency", intent.Currency,
	)

	return &InitiateResult{PaymentSessionID: session.PaymentSessionID, OrderNumber: intent.Reference}, nil
}

func (s *Service) resolveSingle(ctx context.Context, item SingleItem) ([]domain.IntentLine, error) {
	if item.ProductID == "" || item.VariantID == "" {
		return nil, validationf("product and variant are required")
	}
	if item.Quantity <= 0 {
		return nil, validationf("quantity must be at least 1")
	}

	variants, err := s.variants.GetVariants(ctx, []string{item.VariantID})
	if err != nil {
		return nil, fmt.Errorf("load variant: %w", err)
	}
	v, ok := variants[item.VariantID]
	if !ok || v.ProductID != item.ProductID {
		return nil, validationf("invalid variant for the selected product")
	}
	if v.AvailableStock < item.Quantity {
		return nil, &InsufficientStockError{VariantID: v.ID, Name: v.DisplayName(), Available: v.AvailableStock, Requested: item.Quantity}
	}

	return []domain.IntentLine{{
		ProductID:          item.ProductID,
		VariantID:          v.ID,
		Quantity:           item.Quantity,
		UnitPrice:          v.SellingPrice,
		LineTotal:          v.SellingPrice * int64(item.Quantity),
		SelectedAttributes: item.SelectedAttributes,
	}}, nil
}

func (s *Service) resolveCart(ctx context.Context, userID string, ids []string) ([]domain.IntentLine, error) {
	cartLines, err := s.carts.ListLines(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	if len(ids) > 0 {
		found := make(map[string]bool, len(cartLines))
		for _, cl := range cartLines {
			found[cl.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, validationf("cart item %s not found", id)
			}
		}
	}

	if len(cartLines) == 0 {
		return nil, ErrEmptyCart
	}

	lines := make([]domain.IntentLine, 0, len(cartLines))
	requested := make(map[string]int)
	for _, cl := range cartLines {
		if cl.Variant == nil {
			return nil, &MissingVariantError{CartItemID: cl.ID, VariantID: cl.VariantID}
		}
		if cl.Variant.ProductID != cl.ProductID {
			return nil, validationf("invalid variant for the selected product")
		}
		if cl.Quantity <= 0 {
			return nil, validationf("quantity must be at least 1")
		}

		requested[cl.VariantID] += cl.Quantity
		if cl.Variant.AvailableStock < requested[cl.VariantID] {
			return nil, &InsufficientStockError{
				VariantID: cl.VariantID,
				Name:      cl.Variant.DisplayName(),
				Available: cl.Variant.AvailableStock,
				Requested: requested[cl.VariantID],
			}
		}

		lines = append(lines, domain.IntentLine{
			ProductID:          cl.ProductID,
			VariantID:          cl.VariantID,
			Quantity:           cl.Quantity,
			UnitPrice:          cl.Variant.SellingPrice,
			LineTotal:          cl.Variant.SellingPrice * int64(cl.Quantity),
			SelectedAttributes: cl.SelectedAttributes,
			CartItemID:         cl.ID,
		})
	}

	return lines, nil
}

// stageIntent assigns a fresh reference and persists the intent.
func (s *Service) stageIntent(ctx context.Context, intent *domain.CheckoutIntent) error {
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		ref := s.reference(s.now())

		exists, err := s.store.ReferenceExists(ctx, ref)
		if err != nil {
			return fmt.Errorf("check reference: %w", err)
		}
		if exists {
			continue
		}

		intent.Reference = ref
		err = s.store.CreateIntent(ctx, intent)
		if errors.Is(err, ErrReferenceTaken) {
			continue
		}
		if err != nil {
			return fmt.Errorf("store checkout intent: %w", err)
		}
		return nil
	}
	return fmt.Errorf("could not allocate a unique order reference after %d attempts", maxReferenceAttempts)
}

type VerifyResult struct {
	Status    payment.Status
	Order     *domain.Order
	Duplicate bool
}

// Verify settles a reference against the gateway. A PAID reference yields
// exactly one order however often or concurrently it is verified.
func (s *Service) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "checkout.Verify", trace.WithAttributes(attribute.String("order.number", reference)))
	defer span.End()

	result, err := s.verify(ctx, reference)
	outcome := verifyOutcome(result, err)
	s.metrics.recordVerification(ctx, outcome)
	span.SetAttributes(attribute.String("checkout.outcome", outcome))

	if err != nil {
		var notSettled *NotSettledError
		if !errors.As(err, &notSettled) || notSettled.Terminal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) verify(ctx context.Context, reference string) (*VerifyResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, validationf("order_id is required")
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	status, err := s.gateway.GetOrderStatus(gctx, reference)
	cancel()
	if err != nil {
		s.logger.WarnContext(ctx, "payment gateway status lookup failed", "error", err, "order_number", reference)
		return nil, gatewayError(err)
	}

	switch {
	case status.Status == payment.StatusPaid:
		return s.settle(ctx, reference, status)

	case status.Status.Pending():
		s.logger.InfoContext(ctx, "payment still processing", "order_number", reference, "status", status.Status)
		return nil, &NotSettledError{Status: status.Status}

	default:
		if _, err := s.store.SetIntentState(ctx, reference, domain.IntentStateFailed); err != nil {
			return nil, fmt.Errorf("mark intent failed: %w", err)
		}
		s.logger.InfoContext(ctx, "payment failed", "order_number", reference, "status", status.Status)
		return nil, &NotSettledError{Status: status.Status, Terminal: true}
	}
}

func (s *Service) settle(ctx context.Context, reference string, status *payment.OrderStatus) (*VerifyResult, error) {
	for attempt := 1; attempt <= s.opts.MaxSettleAttempts; attempt++ {
		if existing, err := s.settledOrder(ctx, reference); err != nil || existing != nil {
			return s.duplicate(ctx, existing, status, err)
		}

		intent, err := s.store.GetIntent(ctx, reference)
		if err != nil {
			return nil, fmt.Errorf("load checkout intent: %w", err)
		}

		var shortage string
		now := s.now().UTC()
		switch {
		case intent == nil, intent.State == domain.IntentStateOpen && intent.Expired(now):
			// reported below
		case intent.State == domain.IntentStateOpen:
			short, err := s.shortLines(ctx, intent)
			if err != nil {
				return nil, err
			}
			if short != nil {
				shortage = short.Error()
			} else {
				order := s.buildOrder(intent, status, now)
				err = s.store.Materialize(ctx, intent, order)
				switch {
				case err == nil:
					s.logger.InfoContext(ctx, "order confirmed",
						"order_number", order.OrderNumber,
						"order_id", order.ID,
						"user_id", order.UserID,
						"total", order.Total,
						"transaction_id", order.TransactionID,
					)
					s.publishConfirmed(ctx, intent, order)
					return &VerifyResult{Status: status.Status, Order: order}, nil

				case errors.Is(err, ErrSettlementConflict):
					s.logger.InfoContext(ctx, "concurrent settlement detected, retrying", "order_number", reference, "attempt", attempt)
					continue

				case errors.Is(err, inventory.ErrInsufficientStock):
					shortage = "stock ran out while writing the order"

				default:
					return nil, fmt.Errorf("materialize order: %w", err)
				}
			}
		}

		// A concurrent settlement may have consumed the intent or the stock
		// after the order lookup above.
		if existing, err := s.settledOrder(ctx, reference); err != nil || existing != nil {
			return s.duplicate(ctx, existing, status, err)
		}

		switch {
		case intent == nil:
			return nil, s.stale(ctx, reference, nil, status, "no checkout intent for paid reference")
		case intent.State == domain.IntentStateExhausted:
			return nil, s.exhausted(ctx, intent, status, "stock already found short for this reference")
		case intent.State != domain.IntentStateOpen:
			return nil, s.stale(ctx, reference, intent, status, fmt.Sprintf("checkout intent is %s", intent.State))
		case shortage != "":
			return nil, s.exhausted(ctx, intent, status, shortage)
		default:
			return nil, s.stale(ctx, reference, intent, status, fmt.Sprintf("checkout intent expired at %s", intent.ExpiresAt.Format(time.RFC3339)))
		}
	}

	return nil, fmt.Errorf("settle %s: gave up after %d concurrent conflicts", reference, s.opts.MaxSettleAttempts)
}

// settledOrder returns the paid order for reference, or nil.
func (s *Service) settledOrder(ctx context.Context, reference string) (*domain.Order, error) {
	existing, err := s.store.GetOrder(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if existing == nil || existing.PaymentStatus != domain.PaymentStatusPaid {
		return nil, nil
	}
	return existing, nil
}

func (s *Service) duplicate(ctx context.Context, existing *domain.Order, status *payment.OrderStatus, err error) (*VerifyResult, error) {
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "settlement already recorded", "order_number", existing.OrderNumber, "reason", ErrDuplicateSettlement)
	return &VerifyResult{Status: status.Status, Order: existing, Duplicate: true}, nil
}

// shortLines re-reads stock for the intent's lines and returns the first
// variant that can no longer cover its requested quantity.
func (s *Service) shortLines(ctx context.Context, intent *domain.CheckoutIntent) (*InsufficientStockError, error) {
	ids := make([]string, 0, len(intent.Lines))
	requested := make(map[string]int)
	for _, l := range intent.Lines {
		if _, seen := requested[l.VariantID]; !seen {
			ids = append(ids, l.VariantID)
		}
		requested[l.VariantID] += l.Quantity
	}

	variants, err := s.variants.GetVariants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("re-validate stock: %w", err)
	}

	for _, id := range ids {
		v, ok := variants[id]
		if !ok {
			return &InsufficientStockError{VariantID: id, Name: id, Available: 0, Requested: requested[id]}, nil
		}
		if v.AvailableStock < requested[id] {
			return &InsufficientStockError{VariantID: id, Name: v.DisplayName(), Available: v.AvailableStock, Requested: requested[id]}, nil
		}
	}
	return nil, nil
}

func (s *Service) buildOrder(intent *domain.CheckoutIntent, status *payment.OrderStatus, now time.Time) *domain.Order {
	return &domain.Order{
		OrderNumber:     intent.Reference,
		UserID:          intent.UserID,
		Status:          domain.OrderStatusConfirmed,
		PaymentStatus:   domain.PaymentStatusPaid,
		Subtotal:        intent.Subtotal,
		ShippingFee:     intent.ShippingFee,
		Tax:             intent.Tax,
		Total:           intent.Total,
		Currency:        intent.Currency,
		TransactionID:   status.SettlementID,
		ShippingAddress: intent.ShippingAddress,
		BillingAddress:  intent.BillingAddress,
		Notes:           intent.Notes,
		Items:           intent.OrderItems(),
		Tracking: []domain.TrackingEntry{{
			Status:      domain.OrderStatusConfirmed,
			Description: "Payment successful",
			Location:    s.opts.TrackingLocation,
			Timestamp:   now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) stale(ctx context.Context, reference string, intent *domain.CheckoutIntent, status *payment.OrderStatus, detail string) error {
	inc := domain.Incident{
		OrderNumber:   reference,
		Kind:          domain.IncidentStaleIntent,
		TransactionID: status.SettlementID,
		Detail:        detail,
	}
	if intent != nil {
		inc.UserID = intent.UserID
		inc.Amount = intent.Total
	}
	if err := s.incidents.Raise(ctx, inc); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrStaleIntent, detail)
}

// exhausted records the incident first and only then retires the intent, so
// a failure in between leaves the intent open for the next verification.
func (s *Service) exhausted(ctx context.Context, intent *domain.CheckoutIntent, status *payment.OrderStatus, detail string) error {
	err := s.incidents.Raise(ctx, domain.Incident{
		OrderNumber:   intent.Reference,
		Kind:          domain.IncidentStockExhaustedPostPayment,
		UserID:        intent.UserID,
		TransactionID: status.SettlementID,
		Amount:        intent.Total,
		Detail:        detail,
	})
	if err != nil {
		return err
	}

	if intent.State == domain.IntentStateOpen {
		if _, err := s.store.SetIntentState(ctx, intent.Reference, domain.IntentStateExhausted); err != nil {
			return fmt.Errorf("mark intent exhausted: %w", err)
		}
	}
	return fmt.Errorf("%w: %s", ErrStockExhaustedPostPayment, detail)
}

func (s *Service) publishConfirmed(ctx context.Context, intent *domain.CheckoutIntent, order *domain.Order) {
	if s.publisher == nil {
		return
	}

	event := domain.OrderConfirmedEvent{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CustomerEmail: intent.Customer.Email,
		CustomerName:  intent.Customer.Name,
		Items:         order.Items,
		Total:         order.Total,
		Currency:      order.Currency,
		Timestamp:     order.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, order.OrderNumber, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order confirmed event", "error", err, "order_number", order.OrderNumber)
	}
}

func verifyOutcome(result *VerifyResult, err error) string {
	var notSettled *NotSettledError
	switch {
	case err == nil && result.Duplicate:
		return "duplicate"
	case err == nil:
		return "confirmed"
	case errors.As(err, &notSettled) && notSettled.Terminal:
		return "failed"
	case errors.As(err, &notSettled):
		return "pending"
	case errors.Is(err, ErrStaleIntent):
		return "stale_intent"
	case errors.Is(err, ErrStockExhaustedPostPayment):
		return "stock_exhausted"
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"
	default:
		return "error"
	}
}
