package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brenda-cereals/internal/client"
	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/model"
	"brenda-cereals/internal/poller"
	"brenda-cereals/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	statusRecheckInterval = 5 * time.Second
	MaxStatusWait         = 60 * time.Second
	supersededReason      = "superseded"
)

// errReferenceClaimed means every receipt or transaction the provider reported already
// settled a different payment.
var errReferenceClaimed = errors.New("payment reference already settled another payment")

type InitiateInput struct {
	OrderID string
	Phone   string
	// Amount is optional; when set it must match the order total.
	Amount *float64
}

type InitiateResult struct {
	Payment    *model.Payment
	Initiation *Initiation
}

type StatusQuery struct {
	Wait    time.Duration
	Refresh bool
}

type CallbackOutcome int

const (
	CallbackApplied CallbackOutcome = iota
	CallbackDuplicate
	CallbackUnknown
)

type PaymentService interface {
	Initiate(ctx context.Context, userID string, method model.PaymentProviderMethod, in InitiateInput) (*InitiateResult, error)
	HandleMpesaCallback(ctx context.Context, cb *model.MpesaCallback) (CallbackOutcome, error)
	ApplyStatus(ctx context.Context, paymentID string, res StatusResult) (bool, error)
	ConfirmPaybill(ctx context.Context, userID string, req *dto.PaybillConfirmRequest) (*dto.PaymentResponse, error)
	Status(ctx context.Context, userID, orderID string, q StatusQuery) (*dto.PaymentStatusResponse, error)
}

type paymentServiceImpl struct {
	db               *gorm.DB
	registry         *ProviderRegistry
	orderRepo        repository.OrderRepository
	paymentRepo      repository.PaymentRepository
	webhookEventRepo repository.WebhookEventRepository
	inventoryRepo    repository.InventoryRepository
	broker           *StatusBroker
	monitor          *PaymentMonitor
	log              *slog.Logger
}

// NewPaymentService wires the payment flow and the monitor that watches asynchronous rails.
// The caller owns the monitor's lifecycle.
func NewPaymentService(
	db *gorm.DB,
	registry *ProviderRegistry,
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	webhookEventRepo repository.WebhookEventRepository,
	inventoryRepo repository.InventoryRepository,
	broker *StatusBroker,
	monitorCfg MonitorConfig,
	log *slog.Logger,
) (PaymentService, *PaymentMonitor) {
	s := &paymentServiceImpl{
		db:               db,
		registry:         registry,
		orderRepo:        orderRepo,
		paymentRepo:      paymentRepo,
		webhookEventRepo: webhookEventRepo,
		inventoryRepo:    inventoryRepo,
		broker:           broker,
		log:              log,
	}
	s.monitor = NewPaymentMonitor(registry, paymentRepo, s.ApplyStatus, monitorCfg, log)
	return s, s.monitor
}

func (s *paymentServiceImpl) Initiate(ctx context.Context, userID string, method model.PaymentProviderMethod, in InitiateInput) (*InitiateResult, error) {
	provider, ok := s.registry.Get(method)
	if !ok {
		return nil, Invalid("Payment method not available")
	}

	order, err := s.orderRepo.FindForUser(ctx, in.OrderID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}

	if order.PaymentStatus == model.OrderPaymentPaid {
		return nil, Conflict("Order is already paid")
	}
	if order.Status != model.OrderStatusPending && order.Status != model.OrderStatusConfirmed {
		return nil, Conflict("Order is not awaiting payment")
	}
	if provider.Rail() != order.PaymentMethod {
		return nil, Invalid("Payment method does not match order")
	}

	total := decimal.NewFromFloat(order.Total)
	if in.Amount != nil && decimal.NewFromFloat(*in.Amount).Sub(total).Abs().GreaterThan(totalTolerance) {
		return nil, Invalid("Amount does not match order total")
	}

	init, err := provider.Initiate(ctx, InitiateRequest{
		Order:     order,
		PaymentID: uuid.NewString(),
		Phone:     in.Phone,
		Amount:    total,
	})
	if errors.Is(err, client.ErrInvalidPhone) {
		return nil, Invalid("Invalid phone number format")
	}
	if err != nil {
		s.log.Error("payment initiation failed",
			"order_id", order.ID, "method", method, "error", err)
		return nil, Upstream("Failed to initiate payment", err)
	}

	payment := init.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// a callback for an earlier attempt may have landed while the provider was called
		paid, err := s.orderRepo.IsPaid(ctx, tx, order.ID)
		if err != nil {
			return fmt.Errorf("check order paid: %w", err)
		}
		if paid {
			return Conflict("Order is already paid")
		}

		superseded, err := s.paymentRepo.FailPending(ctx, tx, order.ID, supersededReason)
		if err != nil {
			return fmt.Errorf("supersede pending payments: %w", err)
		}
		if superseded > 0 {
			s.log.Info("superseded pending payments", "order_id", order.ID, "count", superseded)
		}

		if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
			return fmt.Errorf("store payment in db: %w", err)
		}

		// a retry after a failed attempt puts the order back to awaiting payment
		return s.orderRepo.ResetPaymentStatus(ctx, tx, order.ID)
	})
	if err != nil {
		if KindOf(err) == KindInternal {
			s.log.Error("payment initiated but not stored",
				"order_id", order.ID, "method", method, "error", err)
		}
		return nil, err
	}

	s.log.Info("payment initiated",
		"order_id", order.ID, "payment_id", payment.ID, "method", method, "amount", payment.Amount)
	s.broker.Publish(order.ID)

	if method == model.ProviderBitcoin || method == model.ProviderLightning {
		s.monitor.Watch(payment)
	}

	return &InitiateResult{Payment: payment, Initiation: init}, nil
}

func (s *paymentServiceImpl) HandleMpesaCallback(ctx context.Context, cb *model.MpesaCallback) (CallbackOutcome, error) {
	stk := cb.Body.STKCallback
	if stk == nil || stk.CheckoutRequestID == "" || stk.ResultCode == nil {
		return CallbackUnknown, Invalid("Invalid callback format")
	}

	res := StatusResult{Status: model.PaymentStatusCompleted}
	if *stk.ResultCode == 0 {
		res.Reference = stk.CallbackMetadata.Lookup("MpesaReceiptNumber")
	} else {
		res.Status = model.PaymentStatusFailed
		res.Reason = stk.ResultDesc
	}

	eventID := "mpesa:" + stk.CheckoutRequestID
	outcome := CallbackApplied
	var orderID string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen, err := s.webhookEventRepo.Exists(ctx, tx, eventID)
		if err != nil {
			return fmt.Errorf("check webhook event: %w", err)
		}
		if seen {
			outcome = CallbackDuplicate
			return nil
		}

		payment, err := s.paymentRepo.FindByCheckoutRequestID(ctx, tx, stk.CheckoutRequestID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = CallbackUnknown
			return nil
		}
		if err != nil {
			return fmt.Errorf("find payment: %w", err)
		}
		orderID = payment.OrderID

		applied, err := s.applyInTx(ctx, tx, payment, res, nil)
		if errors.Is(err, errReferenceClaimed) {
			s.log.Warn("mpesa receipt already settled another payment",
				"payment_id", payment.ID, "order_id", payment.OrderID, "receipt", res.Reference)
			applied, err = false, nil
		}
		if err != nil {
			return err
		}
		if !applied {
			outcome = CallbackDuplicate
			if res.Status == model.PaymentStatusCompleted && payment.Status == model.PaymentStatusFailed {
				s.log.Warn("successful mpesa callback for a closed payment, needs manual reconciliation",
					"payment_id", payment.ID, "order_id", payment.OrderID,
					"receipt", res.Reference, "failure_reason", payment.FailureReason)
			}
		}

		return s.webhookEventRepo.MarkProcessed(ctx, tx, eventID, "stk_callback")
	})
	if err != nil {
		return outcome, fmt.Errorf("apply mpesa callback: %w", err)
	}

	switch outcome {
	case CallbackUnknown:
		s.log.Warn("mpesa callback for unknown payment",
			"checkout_request_id", stk.CheckoutRequestID, "result_code", int(*stk.ResultCode))
	case CallbackDuplicate:
		s.log.Info("mpesa callback already applied", "checkout_request_id", stk.CheckoutRequestID)
	default:
		s.log.Info("mpesa callback applied",
			"checkout_request_id", stk.CheckoutRequestID, "order_id", orderID, "status", res.Status)
		s.broker.Publish(orderID)
	}
	return outcome, nil
}

// ApplyStatus moves a PENDING payment to a terminal status and updates its order. It reports
// false when the payment had already left PENDING.
func (s *paymentServiceImpl) ApplyStatus(ctx context.Context, paymentID string, res StatusResult) (bool, error) {
	if !res.Status.Terminal() {
		return false, nil
	}

	var applied bool
	var orderID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment model.Payment
		if err := tx.Where("id = ?", paymentID).First(&payment).Error; err != nil {
			return fmt.Errorf("find payment: %w", err)
		}
		orderID = payment.OrderID

		var err error
		applied, err = s.applyInTx(ctx, tx, &payment, res, nil)
		return err
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.log.Info("payment status applied",
			"payment_id", paymentID, "order_id", orderID, "status", res.Status, "reason", res.Reason)
		s.broker.Publish(orderID)
	}
	return applied, nil
}

func (s *paymentServiceImpl) applyInTx(ctx context.Context, tx *gorm.DB, payment *model.Payment, res StatusResult, extra map[string]interface{}) (bool, error) {
	switch res.Status {
	case model.PaymentStatusCompleted:
		ref, err := s.settlingReference(ctx, tx, payment, res)
		if err != nil {
			return false, err
		}

		fields := map[string]interface{}{}
		if ref != "" {
			switch payment.Method {
			case model.ProviderMpesa, model.ProviderPaybill:
				fields["mpesa_code"] = ref
			case model.ProviderBitcoin:
				fields["bitcoin_tx_hash"] = ref
			}
		}
		for k, v := range extra {
			fields[k] = v
		}

		err = s.paymentRepo.Complete(ctx, tx, payment.ID, fields)
		if errors.Is(err, repository.ErrStaleState) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("complete payment: %w", err)
		}

		_, err = s.orderRepo.MarkPaid(ctx, tx, payment.OrderID)
		if errors.Is(err, repository.ErrOrderClosed) {
			s.log.Warn("payment received for a cancelled or refunded order, needs manual refund",
				"payment_id", payment.ID, "order_id", payment.OrderID, "reference", ref)
			return true, nil
		}
		if errors.Is(err, repository.ErrStaleState) {
			// another attempt already paid the order and took its stock
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("mark order paid: %w", err)
		}

		if err := s.inventoryRepo.TakeStock(ctx, tx, payment.OrderID); err != nil {
			return false, fmt.Errorf("take stock: %w", err)
		}
		return true, nil

	case model.PaymentStatusFailed:
		err := s.paymentRepo.Fail(ctx, tx, payment.ID, res.Reason)
		if errors.Is(err, repository.ErrStaleState) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("fail payment: %w", err)
		}

		if err := s.orderRepo.MarkPaymentFailed(ctx, tx, payment.OrderID); err != nil {
			return false, fmt.Errorf("mark order payment failed: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// settlingReference picks the first reported reference that no other payment has used.
func (s *paymentServiceImpl) settlingReference(ctx context.Context, tx *gorm.DB, payment *model.Payment, res StatusResult) (string, error) {
	if res.Reference == "" {
		return "", nil
	}
	for _, ref := range append([]string{res.Reference}, res.Alternatives...) {
		claimed, err := s.paymentRepo.ReferenceClaimed(ctx, tx, payment, ref)
		if err != nil {
			return "", fmt.Errorf("check payment reference: %w", err)
		}
		if !claimed {
			return ref, nil
		}
	}
	return "", errReferenceClaimed
}

func (s *paymentServiceImpl) ConfirmPaybill(ctx context.Context, userID string, req *dto.PaybillConfirmRequest) (*dto.PaymentResponse, error) {
	if req.OrderID == "" || req.PhoneNumber == "" || req.ConfirmationCode == "" {
		return nil, Invalid("Order ID, phone number, and confirmation code are required")
	}
	if !ValidReceipt(req.ConfirmationCode) {
		return nil, Invalid("Invalid confirmation code format")
	}

	if _, err := s.orderRepo.FindForUser(ctx, req.OrderID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("Order not found")
		}
		return nil, fmt.Errorf("find order: %w", err)
	}

	payment, err := s.paymentRepo.PendingForOrder(ctx, req.OrderID, model.ProviderPaybill)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Payment record not found or already processed")
	}
	if err != nil {
		return nil, fmt.Errorf("find paybill payment: %w", err)
	}

	phone, err := client.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, Invalid("Invalid phone number format")
	}
	if payment.MpesaPhone != "" && phone != payment.MpesaPhone {
		return nil, Invalid("Phone number does not match the payment")
	}

	var applied bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err = s.applyInTx(ctx, tx, payment, StatusResult{
			Status:    model.PaymentStatusCompleted,
			Reference: req.ConfirmationCode,
		}, map[string]interface{}{"paybill_confirmation": req.ConfirmationCode})
		return err
	})
	if errors.Is(err, errReferenceClaimed) {
		s.log.Warn("paybill confirmation code reused",
			"order_id", req.OrderID, "payment_id", payment.ID, "code", req.ConfirmationCode)
		return nil, Conflict("Confirmation code has already been used")
	}
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, Conflict("Payment record not found or already processed")
	}

	s.log.Info("paybill payment confirmed", "order_id", req.OrderID, "payment_id", payment.ID)
	s.broker.Publish(req.OrderID)

	confirmed, err := s.paymentRepo.FindByID(ctx, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("reload payment: %w", err)
	}
	return toPaymentResponse(confirmed), nil
}

func (s *paymentServiceImpl) Status(ctx context.Context, userID, orderID string, q StatusQuery) (*dto.PaymentStatusResponse, error) {
	order, err := s.orderRepo.FindForUser(ctx, orderID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}

	if q.Wait > MaxStatusWait {
		q.Wait = MaxStatusWait
	}

	var payment *model.Payment
	if len(order.Payments) > 0 {
		payment = &order.Payments[0]
	}

	check := func(ctx context.Context) (bool, error) {
		p, err := s.paymentRepo.LatestForOrder(ctx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if q.Refresh && p.Status == model.PaymentStatusPending {
			if err := s.reconcile(ctx, p); err != nil {
				s.log.Warn("payment status refresh failed",
					"order_id", orderID, "payment_id", p.ID, "error", err)
			} else if p, err = s.paymentRepo.FindByID(ctx, p.ID); err != nil {
				return false, err
			}
		}
		payment = p
		return p.Status.Terminal(), nil
	}

	if q.Wait > 0 {
		wake, cancel := s.broker.Subscribe(orderID)
		defer cancel()

		waitCtx, stop := context.WithTimeout(ctx, q.Wait)
		defer stop()

		err := poller.Poller{
			Interval: statusRecheckInterval,
			OnError: func(err error) {
				s.log.Warn("payment status check failed", "order_id", orderID, "error", err)
			},
		}.Run(waitCtx, check, wake)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	} else if q.Refresh {
		if _, err := check(ctx); err != nil {
			return nil, fmt.Errorf("check payment: %w", err)
		}
	}

	order, err = s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}

	return &dto.PaymentStatusResponse{
		OrderID:       order.ID,
		OrderStatus:   order.Status,
		PaymentStatus: order.PaymentStatus,
		Payment:       toPaymentResponse(payment),
	}, nil
}

// reconcile asks the provider for the payment's current state and applies it.
func (s *paymentServiceImpl) reconcile(ctx context.Context, payment *model.Payment) error {
	provider, ok := s.registry.Get(payment.Method)
	if !ok {
		return nil
	}
	res, err := provider.CheckStatus(ctx, payment)
	if err != nil {
		return err
	}
	_, err = s.ApplyStatus(ctx, payment.ID, res)
	return err
}
