// Package reconcile sweeps payment attempts that never finished. A stale
// PENDING payment without a gateway key is an abandoned checkout and is failed
// with CHECKOUT_EXPIRED. Payments the gateway charged but the service could not
// complete are exported so an operator can settle them on the gateway side.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
)

const (
	DefaultStaleAfter = 30 * time.Minute
	// DefaultChargedWindow bounds how far back post-charge markers are read.
	DefaultChargedWindow = 24 * time.Hour
)

// Kinds of report entries.
const (
	KindCharged   = "charged"
	KindExpired   = "expired"
	KindAbandoned = "abandoned"
)

// CheckoutExpirer fails an abandoned checkout.
type CheckoutExpirer interface {
	ExpireCheckout(ctx context.Context, orderID string) error
}

// ReportUploader stores a serialized report.
type ReportUploader interface {
	UploadJSON(ctx context.Context, objectKey string, body []byte) error
}

// KeyFunc names the object a report taken at t is stored under.
type KeyFunc func(name string, t time.Time) string

// StalePayment is one entry of a report.
type StalePayment struct {
	Kind        string    `json:"kind"`
	PaymentID   uint      `json:"paymentId"`
	OrderID     string    `json:"orderId"`
	MemberID    uint      `json:"memberId"`
	PlanID      uint      `json:"planId"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	PaymentKey  string    `json:"paymentKey,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	PendingSecs int64     `json:"pendingSeconds"`
}

type Report struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	StaleAfter  string         `json:"staleAfter"`
	Payments    []StalePayment `json:"payments"`
	ObjectKey   string         `json:"-"`
}

// Reconciler lists unfinished payments, expires abandoned checkouts and
// exports the result.
type Reconciler struct {
	payments   repository.PaymentRepository
	expirer    CheckoutExpirer
	uploader   ReportUploader
	key        KeyFunc
	staleAfter time.Duration
	window     time.Duration
	limit      int
	now        func() time.Time
}

// NewReconciler builds a reconciler. uploader may be nil, in which case
// reports are only logged.
func NewReconciler(payments repository.PaymentRepository, uploader ReportUploader, key KeyFunc, staleAfter time.Duration) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Reconciler{
		payments:   payments,
		uploader:   uploader,
		key:        key,
		staleAfter: staleAfter,
		window:     DefaultChargedWindow,
		limit:      500,
		now:        time.Now,
	}
}

// WithExpirer lets the reconciler fail abandoned checkouts. Without one they
// are only reported.
func (r *Reconciler) WithExpirer(e CheckoutExpirer) *Reconciler {
	r.expirer = e
	return r
}

// Run builds one report. Nothing is uploaded when it is empty.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	now := r.now().UTC()
	stale, err := r.payments.ListStalePending(ctx, now.Add(-r.staleAfter), r.limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}

	report := &Report{GeneratedAt: now, StaleAfter: r.staleAfter.String(), Payments: make([]StalePayment, 0, len(stale))}
	seen := make(map[uint]bool, len(stale))
	for i := range stale {
		p := &stale[i]
		entry := newEntry(p, now)
		switch {
		case p.PaymentKey != nil:
			entry.Kind = KindCharged
			log.Warnf("[Reconcile] payment %s (member %d, amount %d) charged but pending for %ds", p.OrderID, p.MemberID, p.Amount, entry.PendingSecs)
		case r.expirer == nil:
			entry.Kind = KindAbandoned
			log.Warnf("[Reconcile] payment %s (member %d) abandoned for %ds", p.OrderID, p.MemberID, entry.PendingSecs)
		default:
			if err := r.expirer.ExpireCheckout(ctx, p.OrderID); err != nil {
				entry.Kind = KindAbandoned
				entry.Detail = err.Error()
				log.Errorf("[Reconcile] cannot expire checkout %s: %v", p.OrderID, err)
			} else {
				entry.Kind = KindExpired
				entry.Status = models.PaymentStatusFailed
				log.Infof("[Reconcile] checkout %s expired after %ds", p.OrderID, entry.PendingSecs)
			}
		}
		seen[p.ID] = true
		report.Payments = append(report.Payments, entry)
	}

	markers, err := r.payments.ListHistoryByCode(ctx, models.HistoryCodePostCharge, now.Add(-r.window), r.limit)
	if err != nil {
		return nil, fmt.Errorf("list post-charge markers: %w", err)
	}
	for _, h := range markers {
		if seen[h.PaymentID] {
			continue
		}
		seen[h.PaymentID] = true
		p, err := r.payments.GetByID(ctx, h.PaymentID)
		if err != nil {
			log.Errorf("[Reconcile] cannot load marked payment %d: %v", h.PaymentID, err)
			continue
		}
		entry := newEntry(p, now)
		entry.Kind = KindCharged
		entry.Detail = h.FailureMessage
		report.Payments = append(report.Payments, entry)
		log.Warnf("[Reconcile] payment %s (member %d, amount %d) charged but left %s", p.OrderID, p.MemberID, p.Amount, p.Status)
	}

	if len(report.Payments) == 0 {
		log.Debug("[Reconcile] nothing to reconcile")
		return report, nil
	}
	if r.uploader == nil || r.key == nil {
		log.Infof("[Reconcile] %d payments to reconcile, report export disabled", len(report.Payments))
		return report, nil
	}

	body, err := json.Marshal(report)
	if err != nil {
		return report, err
	}
	report.ObjectKey = r.key("stale-pending", now)
	if err := r.uploader.UploadJSON(ctx, report.ObjectKey, body); err != nil {
		return report, fmt.Errorf("upload report: %w", err)
	}
	log.Infof("[Reconcile] %d payments exported to %s", len(report.Payments), report.ObjectKey)
	return report, nil
}

func newEntry(p *models.Payment, now time.Time) StalePayment {
	entry := StalePayment{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		MemberID:    p.MemberID,
		PlanID:      p.PlanID,
		Amount:      p.Amount,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		PendingSecs: int64(now.Sub(p.CreatedAt) / time.Second),
	}
	if p.PaymentKey != nil {
		entry.PaymentKey = *p.PaymentKey
	}
	return entry
}
