package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"brenda-cereals/internal/client"
	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mpesaProvider() *fakeProvider {
	return &fakeProvider{method: model.ProviderMpesa, rail: model.PaymentMethodMpesa}
}

func stkCallback(t *testing.T, checkoutID string, resultCode int, desc string, receipt string) *model.MpesaCallback {
	t.Helper()

	body := map[string]any{
		"MerchantRequestID": "29115-34620561-1",
		"CheckoutRequestID": checkoutID,
		"ResultCode":        resultCode,
		"ResultDesc":        desc,
	}
	if receipt != "" {
		body["CallbackMetadata"] = map[string]any{
			"Item": []map[string]any{
				{"Name": "Amount", "Value": 1000},
				{"Name": "MpesaReceiptNumber", "Value": receipt},
				{"Name": "PhoneNumber", "Value": 254712345678},
			},
		}
	}
	raw, err := json.Marshal(map[string]any{"Body": map[string]any{"stkCallback": body}})
	require.NoError(t, err)

	var cb model.MpesaCallback
	require.NoError(t, json.Unmarshal(raw, &cb))
	return &cb
}

func initiate(t *testing.T, f *fixture, method model.PaymentProviderMethod, orderID string) *model.Payment {
	t.Helper()
	res, err := f.paymentSvc.Initiate(context.Background(), f.user.ID, method, InitiateInput{
		OrderID: orderID,
		Phone:   "0712345678",
	})
	require.NoError(t, err)
	return res.Payment
}

func TestHandleMpesaCallback_Success(t *testing.T) {
	f := newFixture(t, MonitorConfig{}, mpesaProvider())
	order := f.seedOrder(t, model.PaymentMethodMpesa)
	payment := initiate(t, f, model.ProviderMpesa, order.ID)

	outcome, err := f.paymentSvc.HandleMpesaCallback(context.Background(),
		stkCallback(t, payment.MpesaCheckoutRequestID, 0, "The service request is processed successfully.", "QKJ1A2B3C4"))
	require.NoError(t, err)
	assert.Equal(t, CallbackApplied, outcome)

	got := f.payment(t, payment.ID)
	assert.Equal(t, model.PaymentStatusCompleted, got.Status)
	assert.Equal(t, "QKJ1A2B3C4", got.MpesaCode)
	assert.NotNil(t, got.ConfirmedAt)

	o := f.order(t, order.ID)
	assert.Equal(t, model.OrderStatusPaid, o.Status)
	assert.Equal(t, model.OrderPaymentPaid, o.PaymentStatus)
	assert.NotNil(t, o.PaidAt)

	maize, err := f.products.FindByID(context.Background(), "maize-white")
	require.NoError(t, err)
	assert.Equal(t, 498, maize.Stock)
}

func TestHandleMpesaCallback_ReplayIsIgnored(t *testing.T) {
	f := newFixture(t, MonitorConfig{}, mpesaProvider())
	order := f.seedOrder(t, model.PaymentMethodMpesa)
	payment := initiate(t, f, model.ProviderMpesa, order.ID)

	cb := stkCallback(t, payment.MpesaCheckoutRequestID, 0, "ok", "QKJ1A2B3C4")
	_, err := f.paymentSvc.HandleMpesaCallback(context.Background(), cb)
	require.NoError(t, err)
	paidAt := f.order(t, order.ID).PaidAt

	outcome, err := f.paymentSvc.HandleMpesaCallback(context.Background(), cb)
	require.NoError(t, err)
	assert.Equal(t, CallbackDuplicate, outcome)
	assert.Equal(t, paidAt.UnixNano(), f.order(t, order.ID).PaidAt.UnixNano())

	// a contradicting replay cannot undo the payment
	outcome, err = f.paymentSvc.HandleMpesaCallback(context.Background(),
		stkCallback(t, payment.MpesaCheckoutRequestID, 1032, "Request cancelled by user", ""))
	require.NoError(t, err)
	assert.Equal(t, CallbackDuplicate, outcome)
	assert.Equal(t, model.PaymentStatusCompleted, f.payment(t, payment.ID).Status)

	maize, err := f.products.FindByID(context.Background(), "maize-white")
	require.NoError(t, err)
	assert.Equal(t, 498, maize.Stock, "stock is taken once")
}

func TestHandleMpesaCallback_Failure(t *testing.T) {
	f := newFixture(t, MonitorConfig{}, mpesaProvider())
	order := f.seedOrder(t, model.PaymentMethodMpesa)
	payment := initiate(t, f, model.ProviderMpesa, order.ID)

	outcome, err := f.paymentSvc.HandleMpesaCallback(context.Background(),
		stkCallback(t, payment.MpesaCheckoutRequestID, 1032, "Request cancelled by user", ""))
	require.NoError(t, err)
	assert.Equal(t, CallbackApplied, outcome)

	got := f.payment(t, payment.ID)
	assert.Equal(t, model.PaymentStatusFailed, got.Status)
	assert.Equal(t, "Request cancelled by user", got.FailureReason)

	o := f.order(t, order.ID)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, model.OrderPaymentFailed, o.PaymentStatus)

	// retrying puts the order back to awaiting payment
	retry := initiate(t, f, model.ProviderMpesa, order.ID)
	assert.NotEqual(t, payment.ID, retry.ID)
	assert.Equal(t, model.OrderPaymentPending, f.order(t, order.ID).PaymentStatus)
}

func TestHandleMpesaCallback_UnknownCheckout(t *testing.T) {
	f := newFixture(t, MonitorConfig{}, mpesaProvider())

	outcome, err := f.paymentSvc.HandleMpesaCallback(context.Background(),
		stkCallback(t, "ws_CO_unknown", 0, "ok", "QKJ1A2B3C4"))
	require.NoError(t, err)
	assert.Equal(t, CallbackUnknown, outcome)

	seen, err := f.events.Exists(context.Background(), nil, "mpesa:ws_CO_unknown")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestHandleMpesaCallback_Malformed(t *testing.T) {
	f := newFixture(t, MonitorConfig{}, mpesaProvider())

	_, err := f.paymentSvc.HandleMpesaCallback(context.Background(), &model.MpesaCallback{})
	assert.Equal(t, KindInvalid, KindOf(err))
}

func TestHandleMpesaCallback_MissingResultCode(t *testing.T) {
	f := newFixture(t, MonitorConfig{}, mpesaProvider())
	order := f.seedOrder(t, model.PaymentMethodMpesa)
	payment := initiate(t, f, model.ProviderMpesa, order.ID)

	var cb model.MpesaCallback
	require.NoError(t, json.Unmarshal(
		[]byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"`+payment.MpesaCheckoutRequestID+`"}}}`), &cb))

	_, err := f.paymentSvc.HandleMpesaCallback(context.Background(), &cb)
	assert.EqualError(t, err, "Invalid callback format")

	assert.Equal(t, model.PaymentStatusPending, f.payment(t, payment.ID).Status)
	o := f.order(t, order.ID)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, model.OrderPaymentPending, o.PaymentStatus)
}

func TestInitiate_Rejections(t *testing.T) {
	f := newFixture(t, MonitorConfig{}, mpesaProvider())
	ctx := context.Background()

	t.Run("paid order", func(t *testing.T) {
		order := f.seedOrder(t, model.PaymentMethodMpesa)
		_, err := f.orders.MarkPaid(ctx, f.db, order.ID)
		require.NoError(t, err)

		_, err = f.paymentSvc.Initiate(ctx, f.user.ID, model.ProviderMpesa, InitiateInput{OrderID: order.ID, Phone: "0712345678"})
		assert.Equal(t, KindConflict, KindOf(err))
		assert.EqualError(t, err, "Order is already paid")
	})

	t.Run("another user's order", func(t *testing.T) {
		order := f.seedOrder(t, model.PaymentMethodMpesa)
		_, err := f.paymentSvc.Initiate(ctx, "someone-else", model.ProviderMpesa, InitiateInput{OrderID: order.ID})
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("method mismatch", func(t *testing.T) {
		order := f.seedOrder(t, model.PaymentMethodBitcoin)
		_, err := f.paymentSvc.Initiate(ctx, f.user.ID, model.ProviderMpesa, InitiateInput{OrderID: order.ID, Phone: "0712345678"})
		assert.Equal(t, KindInvalid, KindOf(err))
	})

	t.Run("amount mismatch", func(t *testing.T) {
		order := f.seedOrder(t, model.PaymentMethodMpesa)
		amount := 999.0
		_, err := f.paymentSvc.Initiate(ctx, f.user.ID, model.ProviderMpesa, InitiateInput{OrderID: order.ID, Phone: "0712345678", Amount: &amount})
		assert.EqualError(t, err, "Amount does not match order total")
	})

	t.Run("unavailable rail", func(t *testing.T) {
		order := f.seedOrder(t, model.PaymentMethodBitcoin)
		_, err := f.paymentSvc.Initiate(ctx, f.user.ID, model.ProviderLightning, InitiateInput{OrderID: order.ID})
		assert.EqualError(t, err, "Payment method not available")
	})
}

func TestInitiate_ProviderErrors(t *testing.T) {
	provider := mpesaProvider()
	f := newFixture(t, MonitorConfig{}, provider)
	order := f.seedOrder(t, model.PaymentMethodMpesa)

	provider.initiate = func(ctx context.Context, req InitiateRequest) (*Initiation, error) {
		_, err := client.NormalizePhone(req.Phone)
		return nil, err
	}
	_, err := f.paymentSvc.Initiate(context.Background(), f.user.ID, model.ProviderMpesa, InitiateInput{OrderID: order.ID, Phone: "12"})
	assert.EqualError(t, err, "Invalid phone number format")

	provider.initiate = func(ctx context.Context, req InitiateRequest) (*Initiation, error) {
		return nil, errors.New("daraja down")
	}
	_, err = f.paymentSvc.Initiate(context.Background(), f.user.ID, model.ProviderMpesa, InitiateInput{OrderID: order.ID, Phone: "0712345678"})
	assert.Equal(t, KindUpstream, KindOf(err))

	_, err = f.payments.LatestForOrder(context.Background(), order.ID)
	assert.Error(t, err, "no payment row is written when the provider fails")
}

func TestInitiate_OrderPaidDuringProviderCall(t *testing.T) {
	provider := mpesaProvider()
	f := newFixture(t, MonitorConfig{}, provider)
	ctx := context.Background()
	order := f.seedOrder(t, model.PaymentMethodMpesa)
	first := initiate(t, f, model.ProviderMpesa, order.ID)

	provider.initiate = func(ctx context.Context, req InitiateRequest) (*Initiation, error) {
		// the earlier prompt is approved while the new one is being sent
		_, err := f.paymentSvc.HandleMpesaCallback(ctx,
			stkCallback(t, first.MpesaCheckoutRequestID, 0, "ok", "QKJ1A2B3C4"))
		require.NoError(t, err)

		p := newPendingPayment(req, model.ProviderMpesa, "KES", 0)
		p.MpesaCheckoutRequestID = "ws_CO_late"
		return &Initiation{Payment: p}, nil
	}

	_, err := f.paymentSvc.Initiate(ctx, f.user.ID, model.ProviderMpesa, InitiateInput{OrderID: order.ID, Phone: "0712345678"})
	assert.EqualError(t, err, "Order is already paid")

	assert.Equal(t, model.PaymentStatusCompleted, f.payment(t, first.ID).Status, "the paid attempt is not superseded")
	_, err = f.payments.FindByCheckoutRequestID(ctx, nil, "ws_CO_late")
	assert.Error(t, err)
}

func TestInitiate_SupersedesPendingAttempt(t *testing.T) {
	f := newFixture(t, MonitorConfig{}, mpesaProvider())
	order := f.seedOrder(t, model.PaymentMethodMpesa)

	first := initiate(t, f, model.ProviderMpesa, order.ID)
	second := initiate(t, f, model.ProviderMpesa, order.ID)

	old := f.payment(t, first.ID)
	assert.Equal(t, model.PaymentStatusFailed, old.Status)
	assert.Equal(t, "superseded", old.FailureReason)
	assert.Equal(t, model.PaymentStatusPending, f.payment(t, second.ID).Status)

	// the superseded prompt is still answered by Safaricom, it must not touch the order
	outcome, err := f.paymentSvc.HandleMpesaCallback(context.Background(),
		stkCallback(t, first.MpesaCheckoutRequestID, 1037, "DS timeout user cannot be reached", ""))
	require.NoError(t, err)
	assert.Equal(t, CallbackDuplicate, outcome)
	assert.Equal(t, model.OrderPaymentPending, f.order(t, order.ID).PaymentStatus)
}

func TestConfirmPaybill(t *testing.T) {
	paybill := &fakeProvider{method: model.ProviderPaybill, rail: model.PaymentMethodMpesa}
	f := newFixture(t, MonitorConfig{}, paybill)
	ctx := context.Background()
	order := f.seedOrder(t, model.PaymentMethodMpesa)
	payment := initiate(t, f, model.ProviderPaybill, order.ID)

	_, err := f.paymentSvc.ConfirmPaybill(ctx, f.user.ID, &dto.PaybillConfirmRequest{
		OrderID: order.ID, PhoneNumber: "0712345678", ConfirmationCode: "abc",
	})
	assert.EqualError(t, err, "Invalid confirmation code format")

	_, err = f.paymentSvc.ConfirmPaybill(ctx, f.user.ID, &dto.PaybillConfirmRequest{
		OrderID: order.ID, PhoneNumber: "0799999999", ConfirmationCode: "QKJ1A2B3C4",
	})
	assert.EqualError(t, err, "Phone number does not match the payment")

	resp, err := f.paymentSvc.ConfirmPaybill(ctx, f.user.ID, &dto.PaybillConfirmRequest{
		OrderID: order.ID, PhoneNumber: "+254 712 345 678", ConfirmationCode: "QKJ1A2B3C4",
	})
	require.NoError(t, err)
	assert.Equal(t, payment.ID, resp.ID)
	assert.Equal(t, model.PaymentStatusCompleted, resp.Status)
	assert.Equal(t, "QKJ1A2B3C4", resp.MpesaCode)
	assert.Equal(t, "QKJ1A2B3C4", f.payment(t, payment.ID).PaybillConfirmation)
	assert.Equal(t, model.OrderPaymentPaid, f.order(t, order.ID).PaymentStatus)

	_, err = f.paymentSvc.ConfirmPaybill(ctx, f.user.ID, &dto.PaybillConfirmRequest{
		OrderID: order.ID, PhoneNumber: "0712345678", ConfirmationCode: "QKJ1A2B3C4",
	})
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestConfirmPaybill_CodeSettlesOnePayment(t *testing.T) {
	paybill := &fakeProvider{method: model.ProviderPaybill, rail: model.PaymentMethodMpesa}
	f := newFixture(t, MonitorConfig{}, paybill)
	ctx := context.Background()

	first := f.seedOrder(t, model.PaymentMethodMpesa)
	initiate(t, f, model.ProviderPaybill, first.ID)
	second := f.seedOrder(t, model.PaymentMethodMpesa)
	secondPayment := initiate(t, f, model.ProviderPaybill, second.ID)

	_, err := f.paymentSvc.ConfirmPaybill(ctx, f.user.ID, &dto.PaybillConfirmRequest{
		OrderID: first.ID, PhoneNumber: "0712345678", ConfirmationCode: "AAAAAAAAAA",
	})
	require.NoError(t, err)

	_, err = f.paymentSvc.ConfirmPaybill(ctx, f.user.ID, &dto.PaybillConfirmRequest{
		OrderID: second.ID, PhoneNumber: "0712345678", ConfirmationCode: "AAAAAAAAAA",
	})
	assert.Equal(t, KindConflict, KindOf(err))
	assert.EqualError(t, err, "Confirmation code has already been used")

	assert.Equal(t, model.PaymentStatusPending, f.payment(t, secondPayment.ID).Status)
	o := f.order(t, second.ID)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, model.OrderPaymentPending, o.PaymentStatus)
	assert.Equal(t, 498, maizeStock(t, f), "only the first order took stock")

	// the customer can still confirm with their own receipt
	_, err = f.paymentSvc.ConfirmPaybill(ctx, f.user.ID, &dto.PaybillConfirmRequest{
		OrderID: second.ID, PhoneNumber: "0712345678", ConfirmationCode: "BBBBBBBBBB",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaymentPaid, f.order(t, second.ID).PaymentStatus)
}

func TestApplyStatus_BitcoinTxSettlesOnePayment(t *testing.T) {
	btc := &fakeProvider{method: model.ProviderBitcoin, rail: model.PaymentMethodBitcoin}
	f := newFixture(t, MonitorConfig{}, btc)
	ctx := context.Background()

	a := f.seedOrder(t, model.PaymentMethodBitcoin)
	paymentA := initiate(t, f, model.ProviderBitcoin, a.ID)
	b := f.seedOrder(t, model.PaymentMethodBitcoin)
	paymentB := initiate(t, f, model.ProviderBitcoin, b.ID)

	applied, err := f.paymentSvc.ApplyStatus(ctx, paymentA.ID,
		StatusResult{Status: model.PaymentStatusCompleted, Reference: "tx-customer-a"})
	require.NoError(t, err)
	assert.True(t, applied)

	// both orders have the same total, so customer A's transaction matches B as well
	applied, err = f.paymentSvc.ApplyStatus(ctx, paymentB.ID,
		StatusResult{Status: model.PaymentStatusCompleted, Reference: "tx-customer-a"})
	assert.ErrorIs(t, err, errReferenceClaimed)
	assert.False(t, applied)
	assert.Equal(t, model.PaymentStatusPending, f.payment(t, paymentB.ID).Status)
	assert.Equal(t, model.OrderPaymentPending, f.order(t, b.ID).PaymentStatus)

	applied, err = f.paymentSvc.ApplyStatus(ctx, paymentB.ID, StatusResult{
		Status:       model.PaymentStatusCompleted,
		Reference:    "tx-customer-a",
		Alternatives: []string{"tx-customer-b"},
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "tx-customer-a", f.payment(t, paymentA.ID).BitcoinTxHash)
	assert.Equal(t, "tx-customer-b", f.payment(t, paymentB.ID).BitcoinTxHash)
	assert.Equal(t, model.OrderPaymentPaid, f.order(t, b.ID).PaymentStatus)
}

func TestMonitor_CompletesOnChainPayment(t *testing.T) {
	var checks atomic.Int32
	btc := &fakeProvider{
		method: model.ProviderBitcoin,
		rail:   model.PaymentMethodBitcoin,
		check: func(ctx context.Context, p *model.Payment) (StatusResult, error) {
			if checks.Add(1) < 3 {
				return StatusResult{Status: model.PaymentStatusPending}, nil
			}
			return StatusResult{Status: model.PaymentStatusCompleted, Reference: "f00dfeed"}, nil
		},
	}
	f := newFixture(t, MonitorConfig{}, btc)
	order := f.seedOrder(t, model.PaymentMethodBitcoin)
	payment := initiate(t, f, model.ProviderBitcoin, order.ID)

	assert.Eventually(t, func() bool {
		return f.order(t, order.ID).PaymentStatus == model.OrderPaymentPaid
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "f00dfeed", f.payment(t, payment.ID).BitcoinTxHash)
	assert.Eventually(t, func() bool { return f.monitor.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMonitor_ExpiresUnpaidPayment(t *testing.T) {
	btc := &fakeProvider{method: model.ProviderBitcoin, rail: model.PaymentMethodBitcoin}
	f := newFixture(t, MonitorConfig{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond}, btc)
	order := f.seedOrder(t, model.PaymentMethodBitcoin)
	payment := initiate(t, f, model.ProviderBitcoin, order.ID)

	assert.Eventually(t, func() bool {
		return f.payment(t, payment.ID).Status == model.PaymentStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "expired", f.payment(t, payment.ID).FailureReason)
	assert.Equal(t, model.OrderPaymentFailed, f.order(t, order.ID).PaymentStatus)
}

func TestMonitor_ResumeWatchesPendingPayments(t *testing.T) {
	btc := &fakeProvider{
		method: model.ProviderBitcoin,
		rail:   model.PaymentMethodBitcoin,
		check: func(ctx context.Context, p *model.Payment) (StatusResult, error) {
			return StatusResult{Status: model.PaymentStatusCompleted}, nil
		},
	}
	f := newFixture(t, MonitorConfig{}, btc)
	order := f.seedOrder(t, model.PaymentMethodBitcoin)

	// left behind by a previous process
	payment := &model.Payment{
		ID: "pay-left-behind", OrderID: order.ID, Method: model.ProviderBitcoin,
		Amount: 1000, Currency: "KES", Status: model.PaymentStatusPending,
	}
	require.NoError(t, f.payments.Create(context.Background(), f.db, payment))

	require.NoError(t, f.monitor.Resume(context.Background()))

	assert.Eventually(t, func() bool {
		return f.payment(t, payment.ID).Status == model.PaymentStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatus_WaitReturnsOnCallback(t *testing.T) {
	f := newFixture(t, MonitorConfig{}, mpesaProvider())
	order := f.seedOrder(t, model.PaymentMethodMpesa)
	payment := initiate(t, f, model.ProviderMpesa, order.ID)

	cb := stkCallback(t, payment.MpesaCheckoutRequestID, 0, "ok", "QKJ1A2B3C4")
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = f.paymentSvc.HandleMpesaCallback(context.Background(), cb)
	}()

	start := time.Now()
	resp, err := f.paymentSvc.Status(context.Background(), f.user.ID, order.ID, StatusQuery{Wait: 3 * time.Second})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, model.OrderPaymentPaid, resp.PaymentStatus)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, model.PaymentStatusCompleted, resp.Payment.Status)
}

func TestStatus_RefreshReconcilesWithProvider(t *testing.T) {
	provider := mpesaProvider()
	provider.check = func(ctx context.Context, p *model.Payment) (StatusResult, error) {
		return StatusResult{Status: model.PaymentStatusFailed, Reason: "Request cancelled by user"}, nil
	}
	f := newFixture(t, MonitorConfig{}, provider)
	order := f.seedOrder(t, model.PaymentMethodMpesa)
	initiate(t, f, model.ProviderMpesa, order.ID)

	resp, err := f.paymentSvc.Status(context.Background(), f.user.ID, order.ID, StatusQuery{Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaymentFailed, resp.PaymentStatus)
	assert.Equal(t, model.PaymentStatusFailed, resp.Payment.Status)
	assert.Equal(t, "Request cancelled by user", resp.Payment.FailureReason)
}

func TestStatus_NoPaymentYet(t *testing.T) {
	f := newFixture(t, MonitorConfig{}, mpesaProvider())
	order := f.seedOrder(t, model.PaymentMethodMpesa)

	resp, err := f.paymentSvc.Status(context.Background(), f.user.ID, order.ID, StatusQuery{})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, resp.OrderStatus)
	assert.Nil(t, resp.Payment)
}
