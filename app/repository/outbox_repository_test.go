package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/repository"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database/dbtest"
)

func TestPaymentEventRepository_DedupeAndPublish(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewPaymentEventRepository(dbtest.New(t))

	ev := &models.PaymentEvent{
		PaymentID: 1,
		EventType: models.PaymentEventSucceeded,
		Payload:   datatypes.JSONMap{"orderId": "o-1"},
		DedupeKey: models.PaymentEventSucceeded + ":o-1",
	}
	inserted, err := repo.Create(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Create(ctx, &models.PaymentEvent{
		PaymentID: 1,
		EventType: models.PaymentEventSucceeded,
		DedupeKey: models.PaymentEventSucceeded + ":o-1",
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	pending, err := repo.ListUnpublished(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "o-1", pending[0].Payload["orderId"])

	require.NoError(t, repo.MarkPublished(ctx, pending[0].ID, time.Now().UTC()))
	pending, err = repo.ListUnpublished(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWebhookEventRepository_CreateIfNotExists(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewWebhookEventRepository(dbtest.New(t))

	newEvent := func() *models.BillingWebhookEvent {
		return &models.BillingWebhookEvent{
			Provider:        models.BillingProviderGateway,
			ProviderEventID: "evt-1",
			EventType:       "PAYMENT_STATUS_CHANGED",
			OrderID:         "o-1",
			PayloadJSON:     `{}`,
			SignatureValid:  true,
		}
	}

	created, stored, err := repo.CreateIfNotExists(ctx, newEvent())
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored)

	created, again, err := repo.CreateIfNotExists(ctx, newEvent())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)

	require.NoError(t, repo.MarkProcessed(ctx, stored.ID, ""))
	_, after, err := repo.CreateIfNotExists(ctx, newEvent())
	require.NoError(t, err)
	assert.NotNil(t, after.ProcessedAt)
}
