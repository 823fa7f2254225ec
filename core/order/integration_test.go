package order_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/core/expert"
	"github.com/penguhub/marketplace/core/ledger"
	"github.com/penguhub/marketplace/core/order"
	"github.com/penguhub/marketplace/database/dbtest"
	"github.com/penguhub/marketplace/realtime/realtimetest"
	"github.com/penguhub/marketplace/validate"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentCompletionPaysOnce(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	studentID := dbtest.SeedUser(t, db, validate.GenerateID(), claims.RoleStudent, 0)
	expertID := dbtest.SeedUser(t, db, validate.GenerateID(), claims.RoleExpert, 0)
	require.NoError(t, expert.Create(ctx, db, expertID, now))

	o := order.Order{
		ID:            validate.GenerateID(),
		RequestID:     "req-concurrent",
		StudentID:     studentID,
		ExpertID:      &expertID,
		Amount:        200,
		PaymentStatus: order.PaymentVerified,
		Status:        order.Review,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, order.Create(ctx, db, o))

	log := logrus.New()
	log.SetOutput(io.Discard)
	rec := &realtimetest.Recorder{}
	svc := order.NewService(db, rec, log)

	admin := claims.Claims{UserID: validate.GenerateID(), Role: claims.RoleAdmin}
	student := claims.Claims{UserID: studentID, Role: claims.RoleStudent}
	completed := order.Completed

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		c := student
		if i%2 == 0 {
			c = admin
		}
		wg.Add(1)
		go func(c claims.Claims) {
			defer wg.Done()
			_, err := svc.Update(ctx, c, o.ID, order.OrderUp{Status: &completed})
			errs <- err
		}(c)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	e, err := expert.Fetch(ctx, db, expertID)
	require.NoError(t, err)
	assert.EqualValues(t, 170, e.Balance)
	assert.EqualValues(t, 170, e.Earnings)
	assert.Equal(t, 1, e.CompletedOrders)

	txs, err := ledger.List(ctx, db, ledger.Filter{OrderID: o.ID})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	byType := map[ledger.Type]int64{}
	for _, tx := range txs {
		byType[tx.Type] = tx.Amount
	}
	assert.Equal(t, map[ledger.Type]int64{ledger.ExpertCredit: 170, ledger.Commission: 30}, byType)

	got, err := order.Fetch(ctx, db, o.ID)
	require.NoError(t, err)
	assert.True(t, got.PayoutProcessed)
	assert.Equal(t, order.Completed, got.Status)
}
