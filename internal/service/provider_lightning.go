package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brenda-cereals/internal/client"
	"brenda-cereals/internal/model"
)

type LightningProvider struct {
	client    client.LightningClient
	converter *SatsConverter
	currency  string
	expiry    time.Duration
}

func NewLightningProvider(lnClient client.LightningClient, converter *SatsConverter, currency string, expiry time.Duration) *LightningProvider {
	return &LightningProvider{
		client:    lnClient,
		converter: converter,
		currency:  currency,
		expiry:    expiry,
	}
}

func (p *LightningProvider) Method() model.PaymentProviderMethod { return model.ProviderLightning }

func (p *LightningProvider) Rail() model.PaymentMethod { return model.PaymentMethodBitcoin }

func (p *LightningProvider) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	sats := p.converter.ToSats(ctx, req.Amount)
	if sats <= 0 {
		return nil, fmt.Errorf("amount %s converts to %d sats", req.Amount, sats)
	}

	invoice, err := p.client.CreateInvoice(ctx, sats, "Brenda Cereals Order "+req.Order.ID, p.expiry)
	if err != nil {
		return nil, fmt.Errorf("create lightning invoice: %w", err)
	}

	uri := "lightning:" + strings.ToUpper(invoice.PaymentRequest)
	qr, err := QRDataURL(uri)
	if err != nil {
		return nil, err
	}

	payment := newPendingPayment(req, model.ProviderLightning, p.currency, p.expiry)
	payment.BitcoinAmountSats = sats
	payment.BitcoinAmount = FormatBTC(sats)
	payment.LightningInvoice = invoice.PaymentRequest
	payment.LightningPaymentHash = invoice.PaymentHash
	payment.QRCodeData = qr

	return &Initiation{
		Payment:    payment,
		Message:    "Pay the Lightning invoice from any Lightning wallet",
		PaymentURI: uri,
	}, nil
}

func (p *LightningProvider) CheckStatus(ctx context.Context, payment *model.Payment) (StatusResult, error) {
	paid, err := p.client.IsPaid(ctx, payment.LightningPaymentHash)
	if err != nil {
		return StatusResult{}, err
	}
	if paid {
		return StatusResult{Status: model.PaymentStatusCompleted, Reference: payment.LightningPaymentHash}, nil
	}
	if expired(payment) {
		return StatusResult{Status: model.PaymentStatusFailed, Reason: "expired"}, nil
	}
	return StatusResult{Status: model.PaymentStatusPending}, nil
}
