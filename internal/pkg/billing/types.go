package billing

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/gateway"
)

// PrepareRequest asks for a PENDING payment for one plan.
type PrepareRequest struct {
	MemberID    uint   `validate:"required"`
	Tier        string `validate:"required"`
	Period      string `validate:"required"`
	CustomerKey string `validate:"omitempty,min=2,max=64"`
}

func (r *PrepareRequest) Validate() error {
	v := validator.New()

	return v.Struct(r)
}

// PreparedPayment is what the gateway call needs from the prepared row.
type PreparedPayment struct {
	PaymentID   uint
	OrderID     string
	OrderName   string
	Amount      int64
	PlanID      uint
	Tier        string
	Period      string
	MemberID    uint
	CustomerKey string
}

// Failure is a terminal failure outcome fed into completion.
type Failure struct {
	Code    string
	Message string
}

// Completion carries exactly one of Outcome or Failure for an order.
type Completion struct {
	OrderID string
	Outcome *gateway.Outcome
	Failure *Failure
}

// MemberGrantedInfo describes the subscription a successful payment granted.
type MemberGrantedInfo struct {
	MemberID   uint      `json:"memberId"`
	Tier       string    `json:"tier"`
	Period     string    `json:"period"`
	OrderID    string    `json:"orderId"`
	PaymentID  uint      `json:"paymentId"`
	Amount     int64     `json:"amount"`
	ReceiptURL string    `json:"receiptUrl,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// ExecuteRequest is an automatic billing-key charge for one plan.
type ExecuteRequest struct {
	MemberID    uint   `validate:"required"`
	Tier        string `validate:"required"`
	Period      string `validate:"required"`
	CustomerKey string `validate:"omitempty,min=2,max=64"`
	AuthKey     string `validate:"required_without=BillingKey"`
	BillingKey  string `validate:"required_without=AuthKey"`
}

func (r *ExecuteRequest) Validate() error {
	v := validator.New()

	return v.Struct(r)
}

// CheckoutSession is handed to the client to open the hosted checkout.
type CheckoutSession struct {
	OrderID     string `json:"orderId"`
	OrderName   string `json:"orderName"`
	Amount      int64  `json:"amount"`
	CustomerKey string `json:"customerKey"`
	SuccessURL  string `json:"successUrl"`
	FailURL     string `json:"failUrl"`
}

// PaymentState is the terminal view returned for failed checkouts.
type PaymentState struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	FailureCode    string `json:"failureCode,omitempty"`
	FailureMessage string `json:"failureMessage,omitempty"`
}
