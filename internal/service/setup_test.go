package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"brenda-cereals/internal/client"
	"brenda-cereals/internal/model"
	"brenda-cereals/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, client.Migrate(db))
	return db
}

// fakeProvider is a PaymentProvider driven by func fields.
type fakeProvider struct {
	method   model.PaymentProviderMethod
	rail     model.PaymentMethod
	initiate func(ctx context.Context, req InitiateRequest) (*Initiation, error)
	check    func(ctx context.Context, p *model.Payment) (StatusResult, error)
}

func (f *fakeProvider) Method() model.PaymentProviderMethod { return f.method }

func (f *fakeProvider) Rail() model.PaymentMethod { return f.rail }

func (f *fakeProvider) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	if f.initiate != nil {
		return f.initiate(ctx, req)
	}
	p := newPendingPayment(req, f.method, "KES", 0)
	p.MpesaPhone = "254712345678"
	p.MpesaCheckoutRequestID = "ws_CO_" + req.PaymentID
	return &Initiation{Payment: p}, nil
}

func (f *fakeProvider) CheckStatus(ctx context.Context, p *model.Payment) (StatusResult, error) {
	if f.check != nil {
		return f.check(ctx, p)
	}
	return StatusResult{Status: model.PaymentStatusPending}, nil
}

type fixture struct {
	db         *gorm.DB
	users      repository.UserRepository
	products   repository.ProductRepository
	orders     repository.OrderRepository
	payments   repository.PaymentRepository
	events     repository.WebhookEventRepository
	inventory  repository.InventoryRepository
	broker     *StatusBroker
	paymentSvc PaymentService
	monitor    *PaymentMonitor
	user       *model.User
}

func newFixture(t *testing.T, monitorCfg MonitorConfig, providers ...PaymentProvider) *fixture {
	t.Helper()

	db := newTestDB(t)
	f := &fixture{
		db:        db,
		users:     repository.NewUserRepository(db),
		products:  repository.NewProductRepository(db),
		orders:    repository.NewOrderRepository(db),
		payments:  repository.NewPaymentRepository(db),
		events:    repository.NewWebhookEventRepository(db),
		inventory: repository.NewInventoryRepository(db),
		broker:    NewStatusBroker(),
	}
	require.NoError(t, f.products.Seed(context.Background()))

	if monitorCfg.Interval == 0 {
		monitorCfg = MonitorConfig{Interval: 10 * time.Millisecond, Timeout: time.Minute}
	}
	f.paymentSvc, f.monitor = NewPaymentService(db, NewProviderRegistry(providers...),
		f.orders, f.payments, f.events, f.inventory, f.broker, monitorCfg, discardLogger())
	t.Cleanup(f.monitor.Stop)

	f.user = &model.User{
		ID:           uuid.NewString(),
		Email:        "wanjiku@example.com",
		Name:         "Wanjiku",
		Phone:        "254712345678",
		PasswordHash: "x",
		Role:         model.RoleCustomer,
	}
	require.NoError(t, f.users.Create(context.Background(), f.user))
	return f
}

// seedOrder stores a pending order for the fixture user: 2 x 5kg white maize plus delivery.
func (f *fixture) seedOrder(t *testing.T, method model.PaymentMethod) *model.Order {
	t.Helper()

	order := &model.Order{
		ID:              uuid.NewString(),
		UserID:          f.user.ID,
		Email:           f.user.Email,
		Status:          model.OrderStatusPending,
		PaymentStatus:   model.OrderPaymentPending,
		PaymentMethod:   method,
		Subtotal:        700,
		DeliveryFee:     300,
		Total:           1000,
		DeliveryPhone:   "0712345678",
		DeliveryAddress: "Kenyatta Avenue, Nairobi",
	}
	items := []*model.OrderItem{{
		OrderID:     order.ID,
		ProductID:   "maize-white",
		ProductName: "White Maize",
		Weight:      "5kg",
		Quantity:    2,
		UnitPrice:   350,
		TotalPrice:  700,
	}}

	ctx := context.Background()
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		if err := f.orders.Create(ctx, tx, order); err != nil {
			return err
		}
		return f.orders.CreateOrderItems(ctx, tx, items)
	}))
	return order
}

func (f *fixture) order(t *testing.T, id string) *model.Order {
	t.Helper()
	o, err := f.orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) payment(t *testing.T, id string) *model.Payment {
	t.Helper()
	p, err := f.payments.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}
