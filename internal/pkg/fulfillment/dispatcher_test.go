package fulfillment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/internal/pkg/keygen"
)

type dispatcherFixture struct {
	products   *fakeProductRepo
	orders     *fakeOrderRepo
	deliveries *fakeDeliveryRepo
	licenses   *fakeLicenseRepo
	notifier   *fakeNotifier
	clock      *fakeClock
	dispatcher *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	f := &dispatcherFixture{
		products:   newFakeProductRepo(),
		orders:     newFakeOrderRepo(),
		deliveries: newFakeDeliveryRepo(),
		licenses:   &fakeLicenseRepo{},
		notifier:   &fakeNotifier{},
		clock:      clock,
	}
	generator := NewContentGenerator(keygen.NewGenerator(nil), clock, "https://shop.example.com")
	f.dispatcher = NewDispatcher(f.products, f.orders, f.deliveries, f.licenses, generator, f.notifier, clock)
	return f
}

func (f *dispatcherFixture) seedProduct(id uint, productType string) {
	_ = f.products.Create(&models.Product{
		ID:             id,
		Name:           "Pixel Studio Pro",
		Slug:           "pixel-studio-pro",
		Type:           productType,
		LicenseType:    models.LicenseTypePerpetual,
		MaxActivations: 3,
	})
}

func (f *dispatcherFixture) seedOrder(id, userID uint, items ...models.OrderItem) {
	_ = f.orders.Create(&models.Order{
		ID:     id,
		UserID: userID,
		Status: models.OrderStatusPaid,
		Items:  items,
	})
}

func TestProcessOrderDeliveriesCompletesWhenAllItemsDeliver(t *testing.T) {
	f := newDispatcherFixture(t)
	f.seedProduct(10, models.ProductTypeDigital)
	f.seedProduct(11, models.ProductTypeSubscription)
	f.seedOrder(1, 7,
		models.OrderItem{ID: 100, OrderID: 1, ProductID: 10, ProductName: "Pixel Studio Pro"},
		models.OrderItem{ID: 101, OrderID: 1, ProductID: 11, ProductName: "Pixel Cloud"},
	)

	result, err := f.dispatcher.ProcessOrderDeliveries(1)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, models.OrderStatusCompleted, result.OrderStatus)
	assert.Equal(t, models.OrderStatusCompleted, f.orders.status(1))
	assert.Equal(t, 2, f.deliveries.count())
	assert.Equal(t, 2, f.notifier.Count())

	// The digital item carries a license key, so exactly one license row exists.
	assert.Equal(t, 1, f.licenses.count())

	delivery, err := f.deliveries.GetByOrderItem(1, 100)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusDelivered, delivery.Status)
	assert.Equal(t, models.ContentTypeDownloadURL, delivery.DeliveryData.Type)
	assert.NotEmpty(t, delivery.DownloadToken)
	assert.Contains(t, delivery.DeliveryData.DownloadURL, delivery.DownloadToken)
	require.NotNil(t, delivery.AccessExpiresAt)
	assert.Equal(t, f.clock.Now().Add(DownloadValidity), *delivery.AccessExpiresAt)
	assert.Equal(t, []string{models.AccessActionDelivered}, f.deliveries.logActions(delivery.ID))
}

func TestProcessOrderDeliveriesPartialFailureMarksProcessing(t *testing.T) {
	f := newDispatcherFixture(t)
	f.seedProduct(10, models.ProductTypeDigital)
	// Product 99 does not exist, its item must fail.
	f.seedOrder(1, 7,
		models.OrderItem{ID: 100, OrderID: 1, ProductID: 10, ProductName: "Pixel Studio Pro"},
		models.OrderItem{ID: 101, OrderID: 1, ProductID: 99, ProductName: "Ghost Product"},
	)

	result, err := f.dispatcher.ProcessOrderDeliveries(1)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.OrderStatusProcessing, result.OrderStatus)
	assert.Equal(t, models.OrderStatusProcessing, f.orders.status(1))

	failed, err := f.deliveries.GetByOrderItem(1, 101)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusFailed, failed.Status)
	assert.Equal(t, 0, failed.RetryCount)
	assert.NotEmpty(t, failed.FailureReason)
	assert.Equal(t, "Ghost Product", failed.ProductName)
	require.NotNil(t, failed.NextRetryAt)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *failed.NextRetryAt)
}

func TestProcessOrderDeliveriesAllFailedLeavesOrderUntouched(t *testing.T) {
	f := newDispatcherFixture(t)
	f.seedOrder(1, 7,
		models.OrderItem{ID: 100, OrderID: 1, ProductID: 98},
		models.OrderItem{ID: 101, OrderID: 1, ProductID: 99},
	)

	result, err := f.dispatcher.ProcessOrderDeliveries(1)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Delivered)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, models.OrderStatusPaid, f.orders.status(1))
	assert.Equal(t, 2, f.deliveries.count())
}

func TestProcessDeliveryIsIdempotent(t *testing.T) {
	f := newDispatcherFixture(t)
	f.seedProduct(10, models.ProductTypeDigital)
	f.seedOrder(1, 7, models.OrderItem{ID: 100, OrderID: 1, ProductID: 10})

	first := f.dispatcher.ProcessDelivery(1, 100, 7, 10, nil)
	require.True(t, first.Success)

	second := f.dispatcher.ProcessDelivery(1, 100, 7, 10, nil)
	require.True(t, second.Success)

	assert.Equal(t, first.DeliveryID, second.DeliveryID)
	assert.Equal(t, first.DeliveryUUID, second.DeliveryUUID)
	assert.Equal(t, 1, f.deliveries.count())
	// The re-invocation did not deliver again, so no second audit row.
	assert.Equal(t, []string{models.AccessActionDelivered}, f.deliveries.logActions(first.DeliveryID))
}

func TestProcessDeliverySupersedesEarlierFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	f.seedOrder(1, 7, models.OrderItem{ID: 100, OrderID: 1, ProductID: 10, ProductName: "Pixel Studio Pro"})

	failed := f.dispatcher.ProcessDelivery(1, 100, 7, 10, nil)
	require.False(t, failed.Success)

	f.seedProduct(10, models.ProductTypeDigital)
	recovered := f.dispatcher.ProcessDelivery(1, 100, 7, 10, nil)
	require.True(t, recovered.Success)

	assert.Equal(t, 1, f.deliveries.count())
	delivery, err := f.deliveries.GetByOrderItem(1, 100)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusDelivered, delivery.Status)
	assert.NotEqual(t, failed.DeliveryUUID, delivery.UUID)
}

func TestProcessDeliverySupersedeStorageErrorKeepsFailedRow(t *testing.T) {
	f := newDispatcherFixture(t)
	f.seedOrder(1, 7, models.OrderItem{ID: 100, OrderID: 1, ProductID: 10, ProductName: "Pixel Studio Pro"})

	failed := f.dispatcher.ProcessDelivery(1, 100, 7, 10, nil)
	require.False(t, failed.Success)

	f.seedProduct(10, models.ProductTypeDigital)
	f.deliveries.failNextSupersede(errors.New("connection reset by peer"))

	result := f.dispatcher.ProcessDelivery(1, 100, 7, 10, nil)
	assert.False(t, result.Success)
	assert.Equal(t, "connection reset by peer", result.FailureReason)

	// The FAILED row survives the broken swap and stays visible to the
	// retry sweep.
	assert.Equal(t, 1, f.deliveries.count())
	delivery, err := f.deliveries.GetByOrderItem(1, 100)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusFailed, delivery.Status)
}

func TestProcessDeliveryLicensePolicyFromProduct(t *testing.T) {
	f := newDispatcherFixture(t)
	_ = f.products.Create(&models.Product{
		ID:             10,
		Name:           "Pixel Studio Pro",
		Type:           models.ProductTypeLicense,
		LicenseType:    models.LicenseTypeTrial,
		MaxActivations: 2,
		ValidityDays:   30,
	})
	f.seedOrder(1, 7, models.OrderItem{ID: 100, OrderID: 1, ProductID: 10})

	result := f.dispatcher.ProcessDelivery(1, 100, 7, 10, nil)
	require.True(t, result.Success)

	require.Equal(t, 1, f.licenses.count())
	license := f.licenses.licenses[0]
	assert.Equal(t, models.LicenseStatusPending, license.Status)
	assert.Equal(t, models.LicenseTypeTrial, license.Type)
	assert.Equal(t, 2, license.MaxActivations)
	require.NotNil(t, license.ExpiresAt)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 30), *license.ExpiresAt)
	assert.True(t, keygen.ValidLicenseKey(license.LicenseKey), "unexpected key format %q", license.LicenseKey)
}
