package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"brenda-cereals/internal/client"
	"brenda-cereals/internal/model"
)

var paybillReceipt = regexp.MustCompile(`^[A-Z0-9]{10}$`)

const paybillTTL = 30 * time.Minute

// PaybillProvider pushes an STK prompt against the business paybill and also accepts a manual
// confirmation code when the customer pays from the SIM menu instead.
type PaybillProvider struct {
	client        client.MpesaClient
	paybillNumber string
	callbackURL   string
}

func NewPaybillProvider(mpesaClient client.MpesaClient, paybillNumber, callbackURL string) *PaybillProvider {
	return &PaybillProvider{
		client:        mpesaClient,
		paybillNumber: paybillNumber,
		callbackURL:   callbackURL,
	}
}

func (p *PaybillProvider) Method() model.PaymentProviderMethod { return model.ProviderPaybill }

func (p *PaybillProvider) Rail() model.PaymentMethod { return model.PaymentMethodMpesa }

func (p *PaybillProvider) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	phone, err := client.NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	ref := accountReference(req.Order.ID)
	resp, err := p.client.STKPush(ctx, &client.STKPushInput{
		Phone:            phone,
		Amount:           wholeShillings(req),
		PartyB:           p.paybillNumber,
		CallbackURL:      p.callbackURL,
		AccountReference: ref,
		Description:      "Payment for Brenda Cereals Order " + req.Order.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("paybill stk push: %w", err)
	}

	payment := newPendingPayment(req, model.ProviderPaybill, "KES", paybillTTL)
	payment.MpesaPhone = phone
	payment.MpesaCheckoutRequestID = resp.CheckoutRequestID
	payment.MpesaMerchantRequestID = resp.MerchantRequestID
	payment.PaybillNumber = p.paybillNumber
	payment.AccountRef = ref

	return &Initiation{
		Payment:      payment,
		Message:      "Payment initiated successfully. Please complete the payment using M-Pesa.",
		Instructions: p.Instructions(ref),
	}, nil
}

func (p *PaybillProvider) CheckStatus(ctx context.Context, payment *model.Payment) (StatusResult, error) {
	return queryDaraja(ctx, p.client, payment)
}

func (p *PaybillProvider) Instructions(accountRef string) []string {
	return []string{
		"Go to M-Pesa menu on your phone",
		`Select "Lipa na M-Pesa"`,
		`Select "Pay Bill"`,
		"Enter Business Number: " + p.paybillNumber,
		"Enter Account Number: " + accountRef,
		"Enter the amount to pay",
		"Enter your M-Pesa PIN",
		"Confirm the payment",
		"You will receive a confirmation SMS with a code",
		"Enter the confirmation code to complete your order",
	}
}

// ValidReceipt reports whether code looks like an M-Pesa receipt number.
func ValidReceipt(code string) bool {
	return paybillReceipt.MatchString(code)
}
