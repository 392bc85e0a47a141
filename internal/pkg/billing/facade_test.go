package billing

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/gateway"
)

func chargingGateway() *fakeGateway {
	return &fakeGateway{
		charge: func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Outcome, error) {
			out := approve(req.OrderID, req.Amount)
			out.BillingKey = req.BillingKey
			return out, nil
		},
		confirm: func(ctx context.Context, req gateway.ConfirmRequest) (*gateway.Outcome, error) {
			out := approve(req.OrderID, req.Amount)
			out.PaymentKey = req.PaymentKey
			return out, nil
		},
		issue: func(ctx context.Context, authKey, customerKey string) (string, error) {
			return "bk_" + authKey, nil
		},
	}
}

func TestExecutePayment_StandardMonthlySuccess(t *testing.T) {
	f := newFixture(t, chargingGateway())
	start := time.Now().UTC()

	info, err := f.facade.ExecutePayment(context.Background(), ExecuteRequest{
		MemberID: 21, Tier: "STANDARD", Period: "MONTHLY", BillingKey: "bk_saved",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(21), info.MemberID)
	assert.Equal(t, models.TierStandard, info.Tier)
	assert.Equal(t, int64(10000), info.Amount)

	p := f.payment(t, info.OrderID)
	assert.Equal(t, models.PaymentStatusSuccess, p.Status)
	assert.Equal(t, int64(10000), p.Amount)
	assert.Equal(t, "bk_saved", p.BillingKey)

	subs := f.subscriptions(t, 21)
	require.Len(t, subs, 1)
	assert.Equal(t, models.SubscriptionStatusActive, subs[0].Status)
	expected := start.AddDate(0, 1, 0)
	assert.WithinDuration(t, expected, subs[0].ExpiredAt, 5*time.Second)

	require.Len(t, f.publisher.ofType(models.PaymentEventSucceeded), 1)
	assert.Empty(t, f.publisher.ofType(models.PaymentEventFailed))
}

func TestExecutePayment_IssuesBillingKeyFromAuthKey(t *testing.T) {
	f := newFixture(t, chargingGateway())

	info, err := f.facade.ExecutePayment(context.Background(), ExecuteRequest{
		MemberID: 22, Tier: "PREMIUM", Period: "YEAR", AuthKey: "auth1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(144000), info.Amount)
	assert.Equal(t, "bk_auth1", f.payment(t, info.OrderID).BillingKey)
}

func TestExecutePayment_GatewayIOFailuresEndFailed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("hijacking not supported")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	client := gateway.NewClient(gateway.Config{
		BaseURL:   srv.URL,
		SecretKey: "sk",
		Timeout:   time.Second,
		Retry: gateway.Policy{
			MaxAttempts: 3,
			Backoff:     func() backoff.BackOff { return &backoff.ZeroBackOff{} },
			Retryable:   gateway.IsTransient,
		},
		Breaker: gateway.DefaultBreakerSettings(),
	})
	f := newFixture(t, client)

	_, err := f.facade.ExecutePayment(context.Background(), ExecuteRequest{
		MemberID: 23, Tier: "STANDARD", Period: "MONTHLY", BillingKey: "bk",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateway.ErrGatewayCallFailed), "got %v", err)
	assert.Equal(t, int32(3), calls.Load())

	var payments []models.Payment
	require.NoError(t, f.db.Where("member_id = ?", 23).Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusFailed, payments[0].Status)
	assert.Equal(t, gateway.FailureCodeCallFailed, payments[0].FailureCode)

	assert.Empty(t, f.subscriptions(t, 23))

	failed := f.publisher.ofType(models.PaymentEventFailed)
	require.Len(t, failed, 1)
	var payload PaymentFailed
	require.NoError(t, DecodePayload(failed[0], &payload))
	assert.Equal(t, gateway.FailureCodeCallFailed, payload.Code)
	assert.Equal(t, payments[0].OrderID, payload.OrderID)
}

func TestExecutePayment_DeclineIsTerminal(t *testing.T) {
	gw := chargingGateway()
	gw.charge = func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Outcome, error) {
		return nil, &gateway.DeclinedError{StatusCode: 400, Code: "EXCEED_MAX_AMOUNT", Message: "limit exceeded"}
	}
	f := newFixture(t, gw)

	_, err := f.facade.ExecutePayment(context.Background(), ExecuteRequest{
		MemberID: 24, Tier: "STANDARD", Period: "MONTHLY", BillingKey: "bk",
	})
	declined, ok := gateway.IsDeclined(err)
	require.True(t, ok)
	assert.Equal(t, "EXCEED_MAX_AMOUNT", declined.Code)

	var p models.Payment
	require.NoError(t, f.db.Where("member_id = ?", 24).First(&p).Error)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, "EXCEED_MAX_AMOUNT", p.FailureCode)
}

func TestExecutePayment_PrepareFailureSkipsGateway(t *testing.T) {
	var called atomic.Bool
	gw := chargingGateway()
	gw.charge = func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Outcome, error) {
		called.Store(true)
		return nil, errors.New("unexpected")
	}
	f := newFixture(t, gw)

	_, err := f.facade.ExecutePayment(context.Background(), ExecuteRequest{
		MemberID: 25, Tier: "DIAMOND", Period: "MONTHLY", BillingKey: "bk",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.False(t, called.Load())

	_, err = f.facade.ExecutePayment(context.Background(), ExecuteRequest{MemberID: 25, Tier: "STANDARD", Period: "MONTHLY"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestExecutePayment_CompletionFailureAfterChargeIsReported(t *testing.T) {
	gw := chargingGateway()
	var f *fixture
	gw.charge = func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Outcome, error) {
		// Local storage breaks while the charge is in flight.
		require.NoError(t, f.db.Migrator().DropTable(&models.Subscription{}))
		return approve(req.OrderID, req.Amount), nil
	}
	f = newFixture(t, gw)

	_, err := f.facade.ExecutePayment(context.Background(), ExecuteRequest{
		MemberID: 26, Tier: "STANDARD", Period: "MONTHLY", BillingKey: "bk",
	})
	var pc *PostChargeInconsistencyError
	require.True(t, errors.As(err, &pc), "got %v", err)
	assert.NotEmpty(t, pc.PaymentKey)
	assert.Equal(t, int64(10000), pc.Amount)

	// The completion rolled back, leaving the row for reconciliation with
	// the captured charge attached.
	var p models.Payment
	require.NoError(t, f.db.Where("member_id = ?", 26).First(&p).Error)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	require.NotNil(t, p.PaymentKey)
	assert.Equal(t, pc.PaymentKey, *p.PaymentKey)
	assert.NotNil(t, p.ApprovedAt)

	markers, err := f.repos.Payment.ListHistoryByCode(context.Background(), models.HistoryCodePostCharge, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, p.ID, markers[0].PaymentID)
	assert.Equal(t, models.PaymentStatusPending, markers[0].Status)
	assert.Contains(t, markers[0].FailureMessage, "paymentKey="+pc.PaymentKey)
}

func TestExecutePayment_RunsToCompletionAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := chargingGateway()
	gw.charge = func(gctx context.Context, req gateway.ChargeRequest) (*gateway.Outcome, error) {
		cancel()
		if gctx.Err() != nil {
			return nil, gctx.Err()
		}
		return approve(req.OrderID, req.Amount), nil
	}
	f := newFixture(t, gw)

	info, err := f.facade.ExecutePayment(ctx, ExecuteRequest{MemberID: 27, Tier: "STANDARD", Period: "MONTHLY", BillingKey: "bk"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, f.payment(t, info.OrderID).Status)
}

func TestCheckout_ConfirmFlow(t *testing.T) {
	f := newFixture(t, chargingGateway())
	ctx := context.Background()

	session, err := f.facade.StartCheckout(ctx, 30, "PREMIUM", "MONTHLY")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), session.Amount)
	assert.Equal(t, "https://app.example/payments/success", session.SuccessURL)

	_, err = f.facade.ConfirmCheckout(ctx, 31, session.OrderID, "pk_x", session.Amount)
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	info, err := f.facade.ConfirmCheckout(ctx, 30, session.OrderID, "pk_x", session.Amount)
	require.NoError(t, err)
	assert.Equal(t, session.OrderID, info.OrderID)

	again, err := f.facade.ConfirmCheckout(ctx, 30, session.OrderID, "pk_x", session.Amount)
	require.NoError(t, err)
	assert.Equal(t, info.ExpiresAt.Unix(), again.ExpiresAt.Unix())
	assert.Len(t, f.subscriptions(t, 30), 1)
}

func TestCheckout_TamperedAmountFails(t *testing.T) {
	var confirmed atomic.Bool
	gw := chargingGateway()
	gw.confirm = func(ctx context.Context, req gateway.ConfirmRequest) (*gateway.Outcome, error) {
		confirmed.Store(true)
		return approve(req.OrderID, req.Amount), nil
	}
	f := newFixture(t, gw)
	ctx := context.Background()

	session, err := f.facade.StartCheckout(ctx, 32, "STANDARD", "YEAR")
	require.NoError(t, err)

	_, err = f.facade.ConfirmCheckout(ctx, 32, session.OrderID, "pk", 100)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.False(t, confirmed.Load())
	p := f.payment(t, session.OrderID)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, FailureCodeAmountMismatch, p.FailureCode)
}

func TestCheckout_AmountMismatchLogsUnrecordedFailure(t *testing.T) {
	f := newFixture(t, chargingGateway())
	ctx := context.Background()

	session, err := f.facade.StartCheckout(ctx, 34, "STANDARD", "MONTHLY")
	require.NoError(t, err)
	// Completion cannot load the plan any more, so the FAILED write never happens.
	require.NoError(t, f.db.Exec("DELETE FROM plans").Error)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	_, err = f.facade.ConfirmCheckout(ctx, 34, session.OrderID, "pk", 1)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, models.PaymentStatusPending, f.payment(t, session.OrderID).Status)
	assert.Contains(t, buf.String(), "could not record failure of "+session.OrderID)
}

func TestCheckout_FailRedirect(t *testing.T) {
	f := newFixture(t, chargingGateway())
	ctx := context.Background()

	session, err := f.facade.StartCheckout(ctx, 33, "STANDARD", "MONTHLY")
	require.NoError(t, err)

	state, err := f.facade.FailCheckout(ctx, 33, session.OrderID, "PAY_PROCESS_CANCELED", "user canceled")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, state.Status)
	assert.Equal(t, "PAY_PROCESS_CANCELED", state.FailureCode)

	state, err = f.facade.FailCheckout(ctx, 33, session.OrderID, "OTHER", "")
	require.NoError(t, err)
	assert.Equal(t, "PAY_PROCESS_CANCELED", state.FailureCode)
	assert.Len(t, f.publisher.ofType(models.PaymentEventFailed), 1)
}
