package fulfillment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcusBreuer/Vendico/app/models"
)

func seedFailedDelivery(t *testing.T, f *dispatcherFixture) *models.Delivery {
	t.Helper()
	f.seedOrder(1, 7, models.OrderItem{ID: 100, OrderID: 1, ProductID: 10, ProductName: "Pixel Studio Pro"})

	result := f.dispatcher.ProcessDelivery(1, 100, 7, 10, nil)
	require.False(t, result.Success)

	delivery, err := f.deliveries.GetByOrderItem(1, 100)
	require.NoError(t, err)
	require.Equal(t, models.DeliveryStatusFailed, delivery.Status)
	return delivery
}

func TestRetryBackoffScheduleUntilExhaustion(t *testing.T) {
	f := newDispatcherFixture(t)
	seedFailedDelivery(t, f)

	// After the initial 5 minute delay the gaps between attempts grow
	// 10 then 20 minutes; the third failed retry is terminal.
	expectedDelays := []time.Duration{10 * time.Minute, 20 * time.Minute}
	for attempt, delay := range expectedDelays {
		delivery, err := f.deliveries.GetByOrderItem(1, 100)
		require.NoError(t, err)
		require.NotNil(t, delivery.NextRetryAt)
		f.clock.Advance(delivery.NextRetryAt.Sub(f.clock.Now()))

		result, err := f.dispatcher.RetryFailedDeliveries(10)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Claimed)
		assert.Equal(t, 0, result.Recovered)
		assert.Equal(t, 1, result.Rescheduled)

		delivery, err = f.deliveries.GetByOrderItem(1, 100)
		require.NoError(t, err)
		assert.Equal(t, attempt+1, delivery.RetryCount)
		require.NotNil(t, delivery.NextRetryAt)
		assert.Equal(t, f.clock.Now().Add(delay), *delivery.NextRetryAt)
	}

	delivery, err := f.deliveries.GetByOrderItem(1, 100)
	require.NoError(t, err)
	f.clock.Advance(delivery.NextRetryAt.Sub(f.clock.Now()))

	result, err := f.dispatcher.RetryFailedDeliveries(10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Exhausted)

	delivery, err = f.deliveries.GetByOrderItem(1, 100)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryMaxRetries, delivery.RetryCount)
	assert.Nil(t, delivery.NextRetryAt)
	assert.True(t, delivery.IsRetryExhausted())

	// Terminal rows are never picked up again.
	f.clock.Advance(24 * time.Hour)
	result, err = f.dispatcher.RetryFailedDeliveries(10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)

	exhausted, err := f.deliveries.ListRetryExhausted(0, 10)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
}

func TestRetrySweepSkipsRowsNotYetDue(t *testing.T) {
	f := newDispatcherFixture(t)
	seedFailedDelivery(t, f)

	f.clock.Advance(time.Minute)
	result, err := f.dispatcher.RetryFailedDeliveries(10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 0, result.Claimed)
}

func TestRetryRecoversDeliveryAndCompletesOrder(t *testing.T) {
	f := newDispatcherFixture(t)
	old := seedFailedDelivery(t, f)

	// The catalog hiccup is resolved before the first retry fires.
	f.seedProduct(10, models.ProductTypeDigital)
	f.clock.Advance(5 * time.Minute)

	result, err := f.dispatcher.RetryFailedDeliveries(10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Recovered)

	// The FAILED row was replaced by a fresh DELIVERED one.
	assert.Equal(t, 1, f.deliveries.count())
	delivery, err := f.deliveries.GetByOrderItem(1, 100)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusDelivered, delivery.Status)
	assert.NotEqual(t, old.UUID, delivery.UUID)
	assert.Empty(t, delivery.FailureReason)

	assert.Equal(t, models.OrderStatusCompleted, f.orders.status(1))
	assert.Equal(t, 1, f.licenses.count())
	assert.Equal(t, 1, f.notifier.Count())
}

func TestRetryStorageErrorKeepsFailedRowForNextSweep(t *testing.T) {
	f := newDispatcherFixture(t)
	seedFailedDelivery(t, f)
	f.seedProduct(10, models.ProductTypeDigital)
	f.clock.Advance(5 * time.Minute)

	// The swap to DELIVERED breaks mid-flight. The FAILED row must
	// survive, an order item without any delivery row would be invisible
	// to every future sweep.
	f.deliveries.failNextSupersede(errors.New("connection reset by peer"))

	result, err := f.dispatcher.RetryFailedDeliveries(10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 0, result.Recovered)

	assert.Equal(t, 1, f.deliveries.count())
	delivery, err := f.deliveries.GetByOrderItem(1, 100)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusFailed, delivery.Status)
	assert.Equal(t, 0, delivery.RetryCount)

	// Once the claim lease runs out the row is due again and recovers.
	f.clock.Advance(retryClaimLease)
	result, err = f.dispatcher.RetryFailedDeliveries(10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Recovered)

	delivery, err = f.deliveries.GetByOrderItem(1, 100)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusDelivered, delivery.Status)
	assert.Equal(t, models.OrderStatusCompleted, f.orders.status(1))
}

func TestRetryRecoveryKeepsPartialOrderProcessing(t *testing.T) {
	f := newDispatcherFixture(t)
	f.seedProduct(10, models.ProductTypeDigital)
	f.seedOrder(1, 7,
		models.OrderItem{ID: 100, OrderID: 1, ProductID: 10},
		models.OrderItem{ID: 101, OrderID: 1, ProductID: 20, ProductName: "Pixel Cloud"},
		models.OrderItem{ID: 102, OrderID: 1, ProductID: 30, ProductName: "Pixel CLI"},
	)

	_, err := f.dispatcher.ProcessOrderDeliveries(1)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusProcessing, f.orders.status(1))

	// Only one of the two failed products comes back.
	f.seedProduct(20, models.ProductTypeSubscription)
	f.clock.Advance(5 * time.Minute)

	result, err := f.dispatcher.RetryFailedDeliveries(10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Recovered)
	assert.Equal(t, 1, result.Rescheduled)

	// One item is still failed, so the order stays PROCESSING.
	assert.Equal(t, models.OrderStatusProcessing, f.orders.status(1))
}

func TestSchedulerRunSweepOnceWithoutLock(t *testing.T) {
	f := newDispatcherFixture(t)
	seedFailedDelivery(t, f)
	f.seedProduct(10, models.ProductTypeDigital)
	f.clock.Advance(5 * time.Minute)

	scheduler := NewScheduler(f.dispatcher, nil, time.Minute, 10)
	scheduler.RunSweepOnce()

	delivery, err := f.deliveries.GetByOrderItem(1, 100)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusDelivered, delivery.Status)
}

func TestSchedulerStartStop(t *testing.T) {
	f := newDispatcherFixture(t)
	scheduler := NewScheduler(f.dispatcher, nil, time.Hour, 10)

	scheduler.Start()
	assert.True(t, scheduler.IsRunning())
	scheduler.Start() // second start is a no-op

	scheduler.Stop()
	assert.False(t, scheduler.IsRunning())
	scheduler.Stop() // second stop is a no-op
}
