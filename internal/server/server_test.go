package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"brenda-cereals/internal/client"
	"brenda-cereals/internal/config"
	"brenda-cereals/internal/delivery"
	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/model"
	"brenda-cereals/internal/repository"
	"brenda-cereals/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testApp struct {
	srv *Server
	db  *gorm.DB
}

// fakeDaraja answers the OAuth and STK push endpoints with a fixed checkout id.
func fakeDaraja(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.MpesaTokenResponse{AccessToken: "tok", ExpiresIn: "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(model.STKPushResponse{
			MerchantRequestID: "29115-34620561-1",
			CheckoutRequestID: "ws_CO_191220191020363925",
			ResponseCode:      "0",
			CustomerMessage:   "Success. Request accepted for processing",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, client.Migrate(db))

	cfg := &config.Config{
		BaseURL: "http://localhost:3000",
		Auth: config.Auth{
			JWTSecret:   "test-secret",
			SessionTTL:  time.Hour,
			AdminEmails: []string{"admin@brendacereals.co.ke"},
		},
		RateLimit: config.RateLimit{PaymentsPerSecond: 100, Burst: 100},
		Mpesa:     config.Mpesa{BaseApiURL: fakeDaraja(t).URL, Shortcode: "174379", Passkey: "pk"},
		Bitcoin:   config.Bitcoin{Currency: "KES", FallbackPrice: 10_000_000, PaymentTTL: 30 * time.Minute},
	}

	zones, err := delivery.Load("", 500)
	require.NoError(t, err)

	userRepo := repository.NewUserRepository(db)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	require.NoError(t, productRepo.Seed(context.Background()))
	reportRepo, err := repository.NewReportRepository(db, "sqlite")
	require.NoError(t, err)

	converter := service.NewSatsConverter(nil, &cfg.Bitcoin, log)
	registry := service.NewProviderRegistry(
		service.NewMpesaProvider(client.NewMpesaClient(&cfg.Mpesa), "https://example.com/api/payments/mpesa/callback"),
		service.NewMockWalletProvider(converter, &cfg.Bitcoin),
	)

	broker := service.NewStatusBroker()
	paymentRepo := repository.NewPaymentRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	paymentService, monitor := service.NewPaymentService(
		db, registry, orderRepo,
		paymentRepo,
		repository.NewWebhookEventRepository(db),
		inventoryRepo,
		broker,
		service.MonitorConfig{Interval: 10 * time.Millisecond, Timeout: time.Minute},
		log,
	)
	t.Cleanup(monitor.Stop)

	authService := service.NewAuthService(userRepo, &cfg.Auth)
	srv := NewServer(cfg, Services{
		Auth:    authService,
		Catalog: service.NewCatalogService(productRepo),
		Order:   service.NewOrderService(db, userRepo, productRepo, orderRepo, zones, log),
		Payment: paymentService,
		Admin:   service.NewAdminService(db, orderRepo, paymentRepo, inventoryRepo, reportRepo, broker, log),
	}, zones, log)

	return &testApp{srv: srv, db: db}
}

func (a *testApp) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			r = bytes.NewBufferString(s)
		} else {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			r = bytes.NewReader(b)
		}
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *testApp) login(t *testing.T, email string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/signup", dto.SignupRequest{
		Name: "Test User", Email: email, Phone: "0712345678", Password: "ugali-na-sukuma",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/auth/login", dto.LoginRequest{Email: email, Password: "ugali-na-sukuma"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[dto.LoginResponse](t, rec).Token
}

func (a *testApp) createOrder(t *testing.T, token, method string) dto.OrderResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/orders/create", dto.CreateOrderRequest{
		Items: []dto.OrderItemRequest{{ProductID: "maize-white", Weight: "5kg", Quantity: 2, Price: 350}},
		DeliveryInfo: dto.DeliveryInfo{
			Phone: "0712345678", Address: "Moi Avenue", LocationName: "Nairobi",
		},
		PaymentMethod: method,
		DeliveryFee:   300,
		Total:         1000,
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[dto.OrderResponse](t, rec)
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthFlow(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/api/user/profile", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Authentication required"}`, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/api/user/profile", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid session"}`, rec.Body.String())

	token := app.login(t, "achieng@example.com")

	rec = app.do(t, http.MethodGet, "/api/user/profile", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[dto.UserResponse](t, rec)
	assert.Equal(t, "achieng@example.com", profile.Email)
	assert.Equal(t, "254712345678", profile.Phone)

	rec = app.do(t, http.MethodPost, "/api/auth/signup", dto.SignupRequest{
		Name: "Again", Email: "achieng@example.com", Password: "secret1",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"User with this email already exists"}`, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/api/auth/login", dto.LoginRequest{Email: "achieng@example.com", Password: "wrong-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	app := newTestApp(t)
	app.login(t, "kamau@example.com")

	rec := app.do(t, http.MethodPost, "/api/auth/login", dto.LoginRequest{Email: "kamau@example.com", Password: "ugali-na-sukuma"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// the cookie alone authenticates
	req := httptest.NewRequest(http.MethodGet, "/api/account/orders", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	app.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/api/auth/logout", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestMpesaCheckoutFlow(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "wanjiru@example.com")
	order := app.createOrder(t, token, "MPESA")
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, 1000.0, order.Total)

	rec := app.do(t, http.MethodPost, "/api/payments/mpesa/initiate", map[string]any{
		"orderId": order.ID, "phoneNumber": "0712 345 678", "amount": 1000,
	}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	initiated := decode[dto.MpesaInitiateResponse](t, rec)
	assert.True(t, initiated.Success)
	assert.Equal(t, "ws_CO_191220191020363925", initiated.CheckoutRequestID)

	callback := `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":"ws_CO_191220191020363925","ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":1000},
		{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`

	for i := 0; i < 2; i++ {
		rec = app.do(t, http.MethodPost, "/api/payments/mpesa/callback", callback, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())
	}

	rec = app.do(t, http.MethodGet, "/api/payments/status/"+order.ID, nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[dto.PaymentStatusResponse](t, rec)
	assert.Equal(t, model.OrderStatusPaid, status.OrderStatus)
	assert.Equal(t, model.OrderPaymentPaid, status.PaymentStatus)
	require.NotNil(t, status.Payment)
	assert.Equal(t, model.PaymentStatusCompleted, status.Payment.Status)
	assert.Equal(t, "NLJ7RT61SV", status.Payment.MpesaCode)

	var events int64
	require.NoError(t, app.db.Model(&model.WebhookEvent{}).Count(&events).Error)
	assert.EqualValues(t, 1, events)

	rec = app.do(t, http.MethodPost, "/api/payments/mpesa/initiate", map[string]any{
		"orderId": order.ID, "phoneNumber": "0712345678",
	}, token)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"Order is already paid"}`, rec.Body.String())
}

func TestMpesaCallbackRejectsMalformedBody(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/api/payments/mpesa/callback", `{"Body":`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid callback format"}`, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/api/payments/mpesa/callback", `{"Body":{}}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPost, "/api/payments/mpesa/callback",
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_191220191020363925"}}}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid callback format"}`, rec.Body.String())

	// unknown checkout ids are acknowledged
	rec = app.do(t, http.MethodPost, "/api/payments/mpesa/callback",
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_unknown","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBitcoinMockWalletFlow(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "otieno@example.com")
	order := app.createOrder(t, token, "BITCOIN")

	rec := app.do(t, http.MethodPost, "/api/payments/bitcoin/initiate", map[string]any{
		"orderId": order.ID, "network": "testnet",
	}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Unsupported network"}`, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/api/payments/bitcoin/initiate", map[string]any{"orderId": order.ID}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	btc := decode[dto.BitcoinInitiateResponse](t, rec)
	assert.True(t, btc.Mock)
	assert.Equal(t, "onchain", btc.Method)
	assert.Equal(t, service.MockAddress(order.ID), btc.Address)
	assert.Equal(t, int64(10000), btc.AmountSats)
	assert.Equal(t, "0.00010000", btc.Amount)
	assert.Contains(t, btc.QRCode, "data:image/png;base64,")
	assert.NotNil(t, btc.ExpiresAt)

	rec = app.do(t, http.MethodGet, "/api/payments/status/"+order.ID+"?wait=5", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[dto.PaymentStatusResponse](t, rec)
	assert.Equal(t, model.OrderPaymentPaid, status.PaymentStatus)
	assert.Equal(t, model.PaymentStatusCompleted, status.Payment.Status)

	// lightning is not registered here
	order2 := app.createOrder(t, token, "BITCOIN")
	rec = app.do(t, http.MethodPost, "/api/payments/bitcoin/initiate", map[string]any{
		"orderId": order2.ID, "network": "lightning",
	}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Payment method not available"}`, rec.Body.String())
}

func TestStatusQueryValidation(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "njeri@example.com")
	order := app.createOrder(t, token, "MPESA")

	rec := app.do(t, http.MethodGet, "/api/payments/status/"+order.ID+"?wait=soon", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/payments/status/"+order.ID+"?refresh=maybe", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/payments/status/"+order.ID, nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[dto.PaymentStatusResponse](t, rec)
	assert.Nil(t, status.Payment)
	assert.Equal(t, model.OrderPaymentPending, status.PaymentStatus)

	other := app.login(t, "someone-else@example.com")
	rec = app.do(t, http.MethodGet, "/api/payments/status/"+order.ID, nil, other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	app := newTestApp(t)
	customer := app.login(t, "mwangi@example.com")
	admin := app.login(t, "admin@brendacereals.co.ke")
	order := app.createOrder(t, customer, "MPESA")

	rec := app.do(t, http.MethodGet, "/api/admin/orders", nil, customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Admin access required"}`, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/api/admin/orders?status=PENDING&page=1&limit=10", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[dto.AdminOrdersResponse](t, rec)
	assert.EqualValues(t, 1, list.Total)
	assert.Equal(t, 1, list.TotalPages)

	rec = app.do(t, http.MethodGet, "/api/admin/orders?page=first", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPatch, "/api/admin/orders", dto.AdminOrderActionRequest{
		OrderIDs: []string{order.ID, "missing"}, Action: service.ActionUpdateStatus, Status: "CONFIRMED",
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[dto.AdminOrderActionResponse](t, rec)
	assert.Equal(t, 1, result.Updated)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "Order not found", result.Results[1].Error)

	rec = app.do(t, http.MethodGet, "/api/admin/dashboard?days=7", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[repository.DashboardReport](t, rec)
	assert.EqualValues(t, 1, report.TotalOrders)

	rec = app.do(t, http.MethodPost, "/api/products", dto.ProductRequest{
		ID: "sorghum-red", Name: "Red Sorghum", Category: "grains", Prices: map[string]float64{"1kg": 120}, Stock: 40,
	}, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/api/products", dto.ProductRequest{
		ID: "millet", Name: "Millet", Prices: map[string]float64{"1kg": 90},
	}, customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/products/sorghum-red", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[dto.ProductResponse](t, rec).InStock)
}

func TestStorefrontRoutes(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/api/products?category=grains", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]dto.ProductResponse](t, rec))

	rec = app.do(t, http.MethodGet, "/api/products/no-such-thing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/delivery/quote?location=nairobi", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	quote := decode[delivery.Quote](t, rec)
	assert.Equal(t, "Nairobi", quote.Zone)
	assert.True(t, quote.Known)

	rec = app.do(t, http.MethodGet, "/api/delivery/quote?lat=-1.29&lng=36.82", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Nairobi", decode[delivery.Quote](t, rec).Zone)

	rec = app.do(t, http.MethodGet, "/api/delivery/quote?lat=abc&lng=36.82", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/delivery/zones", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]delivery.Zone](t, rec))

	rec = app.do(t, http.MethodPost, "/api/cart", `{
		"items":[{"id":"maize-white","weight":"5kg","quantity":1,"price":350}],
		"action":{"type":"ADD_ITEM","payload":{"id":"maize-white","weight":"5kg","quantity":2,"price":350}}
	}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"items":[{"id":"maize-white","name":"","image":"","weight":"5kg","quantity":3,"price":350}],"total":1050,"itemCount":3}`, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/api/cart", `{"items":[],"action":{"type":"EMPTY"}}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Unknown cart action"}`, rec.Body.String())
}
