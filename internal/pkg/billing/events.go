package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
)

// PaymentSucceeded is published after a payment reached SUCCESS.
type PaymentSucceeded struct {
	PaymentID  uint      `json:"paymentId"`
	MemberID   uint      `json:"memberId"`
	OrderID    string    `json:"orderId"`
	OrderName  string    `json:"orderName"`
	Amount     int64     `json:"amount"`
	ReceiptURL string    `json:"receiptUrl"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// PaymentFailed is published after a payment reached FAILED.
type PaymentFailed struct {
	PaymentID uint   `json:"paymentId"`
	MemberID  uint   `json:"memberId"`
	OrderID   string `json:"orderId"`
	OrderName string `json:"orderName"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// EventPublisher hands committed outbox rows to asynchronous consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event models.PaymentEvent) error
}

// DecodePayload decodes an outbox payload into one of the event structs.
func DecodePayload(event models.PaymentEvent, out interface{}) error {
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Outbox records payment events inside the completion transaction and
// publishes them once it committed.
type Outbox struct {
	events    repository.PaymentEventRepository
	publisher EventPublisher
	now       func() time.Time
}

func NewOutbox(events repository.PaymentEventRepository, publisher EventPublisher) *Outbox {
	return &Outbox{events: events, publisher: publisher, now: time.Now}
}

// Record must run inside the transaction that made the transition.
func (o *Outbox) Record(ctx context.Context, paymentID uint, eventType, orderID string, payload interface{}) (*models.PaymentEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var m datatypes.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	event := &models.PaymentEvent{
		PaymentID: paymentID,
		EventType: eventType,
		Payload:   m,
		DedupeKey: fmt.Sprintf("%s:%s", eventType, orderID),
	}
	inserted, err := o.events.Create(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", eventType, err)
	}
	if !inserted {
		return nil, nil
	}
	return event, nil
}

// Dispatch publishes committed events. Rows that fail to publish stay
// unpublished for Relay.
func (o *Outbox) Dispatch(ctx context.Context, events []models.PaymentEvent) int {
	published := 0
	for _, event := range events {
		if o.publisher == nil {
			log.Warnf("[Billing] no event publisher configured, %s left in outbox", event.DedupeKey)
			continue
		}
		if err := o.publisher.Publish(ctx, event); err != nil {
			log.Errorf("[Billing] publish %s failed: %v", event.DedupeKey, err)
			continue
		}
		if err := o.events.MarkPublished(ctx, event.ID, o.now().UTC()); err != nil {
			log.Errorf("[Billing] mark %s published failed: %v", event.DedupeKey, err)
			continue
		}
		published++
	}
	return published
}

// Relay re-dispatches events older than minAge that were never published.
func (o *Outbox) Relay(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	pending, err := o.events.ListUnpublished(ctx, o.now().UTC().Add(-minAge), limit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	published := o.Dispatch(ctx, pending)
	log.Infof("[Billing] outbox relay published %d/%d events", published, len(pending))
	return published, nil
}
