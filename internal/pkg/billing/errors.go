package billing

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest   = errors.New("invalid payment request")
	ErrPlanNotFound     = errors.New("plan not found")
	ErrDuplicateOrderID = errors.New("could not allocate a unique order id")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrAmountMismatch   = errors.New("amount does not match the prepared payment")
)

// FailureCodeAmountMismatch marks payments whose gateway answer disagreed
// with the prepared order id or amount.
const FailureCodeAmountMismatch = "AMOUNT_MISMATCH"

// FailureCodeCheckoutExpired marks payments abandoned before any gateway
// answer arrived.
const FailureCodeCheckoutExpired = "CHECKOUT_EXPIRED"

// PaymentFailedError reports that a payment ended FAILED, either by this
// completion or an earlier one.
type PaymentFailedError struct {
	OrderID string
	Code    string
	Message string
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment %s failed: %s: %s", e.OrderID, e.Code, e.Message)
}

// PostChargeInconsistencyError means the gateway captured money but the local
// completion could not be recorded. The payment stays PENDING until someone
// reconciles it by hand.
type PostChargeInconsistencyError struct {
	OrderID    string
	PaymentKey string
	Amount     int64
	Err        error
}

func (e *PostChargeInconsistencyError) Error() string {
	return fmt.Sprintf("payment %s charged (paymentKey=%s amount=%d) but completion failed: %v",
		e.OrderID, e.PaymentKey, e.Amount, e.Err)
}

func (e *PostChargeInconsistencyError) Unwrap() error { return e.Err }
