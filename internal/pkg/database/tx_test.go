package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database"
	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/internal/pkg/database/dbtest"
)

func TestTransactorCommitsAndCarriesTx(t *testing.T) {
	db := dbtest.New(t)
	tr := database.NewTransactor(db)
	ctx := context.Background()

	assert.False(t, database.InTransaction(ctx))
	err := tr.InTx(ctx, func(ctx context.Context) error {
		assert.True(t, database.InTransaction(ctx))
		return database.Conn(ctx, db).Create(&models.Member{ID: 1, Email: "a@example.com"}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Member{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTransactorRollsBackOnError(t *testing.T) {
	db := dbtest.New(t)
	tr := database.NewTransactor(db)
	boom := errors.New("boom")

	err := tr.InTx(context.Background(), func(ctx context.Context) error {
		if err := database.Conn(ctx, db).Create(&models.Member{ID: 2}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.Member{}).Count(&count).Error)
	assert.Zero(t, count)
}
