package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"brenda-cereals/internal/model"
	"brenda-cereals/internal/poller"
	"brenda-cereals/internal/repository"
)

type MonitorConfig struct {
	Interval time.Duration
	// Timeout bounds how long a payment is watched, counted from its creation.
	Timeout time.Duration
}

type ApplyFunc func(ctx context.Context, paymentID string, res StatusResult) (bool, error)

// PaymentMonitor polls providers for payments that settle without a callback (on-chain and
// Lightning), one goroutine per payment.
type PaymentMonitor struct {
	registry    *ProviderRegistry
	paymentRepo repository.PaymentRepository
	apply       ApplyFunc
	cfg         MonitorConfig
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

func NewPaymentMonitor(registry *ProviderRegistry, paymentRepo repository.PaymentRepository, apply ApplyFunc, cfg MonitorConfig, log *slog.Logger) *PaymentMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &PaymentMonitor{
		registry:    registry,
		paymentRepo: paymentRepo,
		apply:       apply,
		cfg:         cfg,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		active:      make(map[string]struct{}),
	}
}

// Watch starts polling payment unless it is already watched or the monitor has stopped.
func (m *PaymentMonitor) Watch(payment *model.Payment) {
	provider, ok := m.registry.Get(payment.Method)
	if !ok {
		m.log.Warn("no provider to monitor payment", "payment_id", payment.ID, "method", payment.Method)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return
	}
	if _, ok := m.active[payment.ID]; ok {
		return
	}
	m.active[payment.ID] = struct{}{}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.forget(payment.ID)
		m.run(provider, payment)
	}()
}

// Resume re-attaches to payments left pending by a previous process.
func (m *PaymentMonitor) Resume(ctx context.Context) error {
	payments, err := m.paymentRepo.ListPending(ctx, []model.PaymentProviderMethod{
		model.ProviderBitcoin,
		model.ProviderLightning,
	})
	if err != nil {
		return err
	}
	for _, p := range payments {
		m.Watch(p)
	}
	if len(payments) > 0 {
		m.log.Info("resumed payment monitors", "count", len(payments))
	}
	return nil
}

// Stop cancels every monitor and waits for them to exit.
func (m *PaymentMonitor) Stop() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

// Active reports how many payments are being watched.
func (m *PaymentMonitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *PaymentMonitor) forget(paymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, paymentID)
}

func (m *PaymentMonitor) run(provider PaymentProvider, payment *model.Payment) {
	log := m.log.With("payment_id", payment.ID, "order_id", payment.OrderID, "method", payment.Method)

	remaining := m.cfg.Timeout - time.Since(payment.CreatedAt)
	p := poller.Poller{
		Interval:    m.cfg.Interval,
		MaxAttempts: poller.AttemptsFor(remaining, m.cfg.Interval),
		OnError: func(err error) {
			log.Warn("payment status check failed", "error", err)
		},
	}

	err := p.Run(m.ctx, func(ctx context.Context) (bool, error) {
		// cancelled orders and newer attempts close the payment without a provider result
		current, err := m.paymentRepo.FindByID(ctx, payment.ID)
		if err != nil {
			return false, err
		}
		if current.Status != model.PaymentStatusPending {
			log.Info("payment closed elsewhere", "status", current.Status, "reason", current.FailureReason)
			return true, nil
		}

		res, err := provider.CheckStatus(ctx, payment)
		if err != nil {
			return false, err
		}
		if !res.Status.Terminal() {
			return false, nil
		}
		if _, err := m.apply(ctx, payment.ID, res); err != nil {
			return false, err
		}
		return true, nil
	}, nil)

	switch {
	case err == nil:
		log.Info("payment monitor finished")
	case errors.Is(err, poller.ErrAttemptsExhausted):
		if _, err := m.apply(m.ctx, payment.ID, StatusResult{Status: model.PaymentStatusFailed, Reason: "expired"}); err != nil {
			log.Error("expire payment", "error", err)
			return
		}
		log.Info("payment expired")
	default:
		log.Debug("payment monitor stopped", "error", err)
	}
}
