package service

import (
	"context"
	"time"

	"brenda-cereals/internal/model"

	"github.com/shopspring/decimal"
)

type InitiateRequest struct {
	Order     *model.Order
	PaymentID string
	// Phone is the payer's MSISDN as typed; mobile money providers normalize it.
	Phone  string
	Amount decimal.Decimal
}

// Initiation is what a provider hands back after starting a payment. Payment is not yet
// persisted.
type Initiation struct {
	Payment      *model.Payment
	Message      string
	PaymentURI   string
	Instructions []string
	Mock         bool
}

type StatusResult struct {
	Status model.PaymentStatus
	Reason string
	// receipt or transaction reference reported by the provider
	Reference string
	// other references that would also settle the payment, tried in order when Reference
	// already belongs to another payment
	Alternatives []string
}

// PaymentProvider is one payment rail.
type PaymentProvider interface {
	Method() model.PaymentProviderMethod
	// Rail is the checkout payment method this provider settles.
	Rail() model.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error)
	CheckStatus(ctx context.Context, payment *model.Payment) (StatusResult, error)
}

type ProviderRegistry struct {
	providers map[model.PaymentProviderMethod]PaymentProvider
}

// NewProviderRegistry indexes providers by Method; a later provider replaces an earlier one
// for the same method.
func NewProviderRegistry(providers ...PaymentProvider) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[model.PaymentProviderMethod]PaymentProvider)}
	for _, p := range providers {
		r.providers[p.Method()] = p
	}
	return r
}

func (r *ProviderRegistry) Get(method model.PaymentProviderMethod) (PaymentProvider, bool) {
	p, ok := r.providers[method]
	return p, ok
}

func newPendingPayment(req InitiateRequest, method model.PaymentProviderMethod, currency string, ttl time.Duration) *model.Payment {
	amount, _ := req.Amount.Float64()
	p := &model.Payment{
		ID:       req.PaymentID,
		OrderID:  req.Order.ID,
		Method:   method,
		Amount:   amount,
		Currency: currency,
		Status:   model.PaymentStatusPending,
	}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		p.ExpiresAt = &exp
	}
	return p
}
