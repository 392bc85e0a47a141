package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database/dbtest"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/gateway"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []models.PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.PaymentEvent
	for _, e := range p.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeGateway struct {
	confirm func(ctx context.Context, req gateway.ConfirmRequest) (*gateway.Outcome, error)
	charge  func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Outcome, error)
	issue   func(ctx context.Context, authKey, customerKey string) (string, error)
}

func (g *fakeGateway) ConfirmPayment(ctx context.Context, req gateway.ConfirmRequest) (*gateway.Outcome, error) {
	if database.InTransaction(ctx) {
		return nil, gateway.ErrCalledInsideTransaction
	}
	return g.confirm(ctx, req)
}

func (g *fakeGateway) ChargeBillingKey(ctx context.Context, req gateway.ChargeRequest) (*gateway.Outcome, error) {
	if database.InTransaction(ctx) {
		return nil, gateway.ErrCalledInsideTransaction
	}
	return g.charge(ctx, req)
}

func (g *fakeGateway) IssueBillingKey(ctx context.Context, authKey, customerKey string) (string, error) {
	if g.issue == nil {
		return "", errors.New("issue not configured")
	}
	return g.issue(ctx, authKey, customerKey)
}

func approve(orderID string, amount int64) *gateway.Outcome {
	approvedAt := time.Now().UTC()
	return &gateway.Outcome{
		Status:     gateway.StatusDone,
		PaymentKey: "pk_" + orderID,
		OrderID:    orderID,
		Amount:     amount,
		ApprovedAt: &approvedAt,
		ReceiptURL: "https://receipt.example/" + orderID,
	}
}

type scriptedIDs struct {
	mu  sync.Mutex
	ids []string
}

func (s *scriptedIDs) NewOrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids[0]
	if len(s.ids) > 1 {
		s.ids = s.ids[1:]
	}
	return id
}

type fixture struct {
	db        *gorm.DB
	repos     *repository.Repositories
	catalog   *Catalog
	preparer  *Preparer
	completer *Completer
	outbox    *Outbox
	facade    *Facade
	publisher *recordingPublisher
}

func newFixture(t *testing.T, gw PaymentGateway) *fixture {
	t.Helper()
	db := dbtest.New(t)
	repos := repository.NewRepositories(db)
	tx := database.NewTransactor(db)

	catalog := NewCatalog(repos.Plan, time.Minute)
	require.NoError(t, catalog.Seed(context.Background()))

	ids, err := NewSnowflakeOrderIDs(1)
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	outbox := NewOutbox(repos.PaymentEvent, publisher)
	preparer := NewPreparer(catalog, repos.Payment, tx, ids)
	completer := NewCompleter(catalog, repos.Payment, repos.Subscription, outbox, tx)
	facade := NewFacade(preparer, completer, gw, repos.Payment, repos.WebhookEvent, FacadeConfig{
		SuccessURL:    "https://app.example/payments/success",
		FailURL:       "https://app.example/payments/fail",
		WebhookSecret: "whsec_test",
	})

	return &fixture{
		db:        db,
		repos:     repos,
		catalog:   catalog,
		preparer:  preparer,
		completer: completer,
		outbox:    outbox,
		facade:    facade,
		publisher: publisher,
	}
}

func (f *fixture) prepare(t *testing.T, memberID uint, tier, period string) *PreparedPayment {
	t.Helper()
	prepared, err := f.preparer.Prepare(context.Background(), PrepareRequest{MemberID: memberID, Tier: tier, Period: period})
	require.NoError(t, err)
	return prepared
}

func (f *fixture) payment(t *testing.T, orderID string) *models.Payment {
	t.Helper()
	p, err := f.repos.Payment.GetByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	return p
}

func (f *fixture) subscriptions(t *testing.T, memberID uint) []models.Subscription {
	t.Helper()
	subs, err := f.repos.Subscription.ListByMember(context.Background(), memberID)
	require.NoError(t, err)
	return subs
}

func activeCount(subs []models.Subscription) int {
	n := 0
	for _, s := range subs {
		if s.Status == models.SubscriptionStatusActive {
			n++
		}
	}
	return n
}
