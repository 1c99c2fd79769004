package checkout

import (
	"errors"
	"fmt"

	"github.com/joao-fontenele/orderflow-payments/internal/payment"
)

var (
	ErrEmptyCart = errors.New("no items in cart to order")

	// ErrGatewayUnavailable covers timeouts, network failures and unusable
	// gateway responses. The caller may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrStaleIntent means the gateway reports a payment for a reference whose
	// checkout intent is gone, expired or no longer open. Needs manual follow-up.
	ErrStaleIntent = errors.New("checkout intent is stale")

	// ErrStockExhaustedPostPayment means the payment settled but stock can no
	// longer cover the order. The payment has to be refunded.
	ErrStockExhaustedPostPayment = errors.New("stock exhausted after payment")

	// ErrDuplicateSettlement signals that the reference was already settled.
	// It never leaves the package as an error; Verify returns the existing order.
	ErrDuplicateSettlement = errors.New("duplicate settlement")

	// ErrSettlementConflict is returned by a Store when a concurrent settlement
	// of the same reference won the race (unique or serialization failure).
	ErrSettlementConflict = errors.New("concurrent settlement conflict")

	// ErrReferenceTaken is returned by a Store when an intent with the same
	// reference already exists.
	ErrReferenceTaken = errors.New("reference already taken")
)

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

type InsufficientStockError struct {
	VariantID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: only %d items available", e.Name, e.Available)
}

type MissingVariantError struct {
	CartItemID string
	VariantID  string
}

func (e *MissingVariantError) Error() string {
	return fmt.Sprintf("variant %s of cart item %s no longer exists", e.VariantID, e.CartItemID)
}

type GatewayRejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("payment gateway rejected request (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// NotSettledError reports a PAID-less gateway status. Terminal is false while
// the payment may still complete.
type NotSettledError struct {
	Status   payment.Status
	Terminal bool
}

func (e *NotSettledError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("payment failed with status %s", e.Status)
	}
	return fmt.Sprintf("payment still processing (%s)", e.Status)
}

// gatewayError translates payment client errors into the checkout taxonomy.
func gatewayError(err error) error {
	var rejected *payment.RejectedError
	if errors.As(err, &rejected) {
		return &GatewayRejectedError{StatusCode: rejected.StatusCode, Code: rejected.Code, Message: rejected.Message}
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
