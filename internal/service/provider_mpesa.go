package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"brenda-cereals/internal/client"
	"brenda-cereals/internal/model"
)

// Daraja STK query result codes that mean "ask again later".
var stkStillProcessing = map[string]bool{
	"":             true,
	"4999":         true, // transaction still under processing
	"500.001.1001": true,
}

type MpesaProvider struct {
	client      client.MpesaClient
	callbackURL string
}

func NewMpesaProvider(mpesaClient client.MpesaClient, callbackURL string) *MpesaProvider {
	return &MpesaProvider{client: mpesaClient, callbackURL: callbackURL}
}

func (p *MpesaProvider) Method() model.PaymentProviderMethod { return model.ProviderMpesa }

func (p *MpesaProvider) Rail() model.PaymentMethod { return model.PaymentMethodMpesa }

func (p *MpesaProvider) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	phone, err := client.NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.STKPush(ctx, &client.STKPushInput{
		Phone:            phone,
		Amount:           wholeShillings(req),
		CallbackURL:      p.callbackURL,
		AccountReference: accountReference(req.Order.ID),
		Description:      "Brenda Cereals order",
	})
	if err != nil {
		return nil, fmt.Errorf("stk push: %w", err)
	}

	payment := newPendingPayment(req, model.ProviderMpesa, "KES", 0)
	payment.MpesaPhone = phone
	payment.MpesaCheckoutRequestID = resp.CheckoutRequestID
	payment.MpesaMerchantRequestID = resp.MerchantRequestID

	return &Initiation{
		Payment: payment,
		Message: "Please check your phone and enter M-Pesa PIN to complete payment",
	}, nil
}

func (p *MpesaProvider) CheckStatus(ctx context.Context, payment *model.Payment) (StatusResult, error) {
	return queryDaraja(ctx, p.client, payment)
}

func queryDaraja(ctx context.Context, c client.MpesaClient, payment *model.Payment) (StatusResult, error) {
	if payment.MpesaCheckoutRequestID == "" {
		return StatusResult{Status: model.PaymentStatusPending}, nil
	}

	resp, err := c.QuerySTKPush(ctx, payment.MpesaCheckoutRequestID)
	if err != nil {
		return StatusResult{}, fmt.Errorf("stk query: %w", err)
	}

	if resp.ErrorCode != "" {
		if stkStillProcessing[resp.ErrorCode] {
			return StatusResult{Status: model.PaymentStatusPending}, nil
		}
		return StatusResult{}, errors.New("stk query rejected: " + resp.ErrorMessage)
	}

	switch {
	case stkStillProcessing[resp.ResultCode]:
		return StatusResult{Status: model.PaymentStatusPending}, nil
	case resp.ResultCode == "0":
		// the receipt number only arrives on the callback
		return StatusResult{Status: model.PaymentStatusCompleted}, nil
	default:
		return StatusResult{Status: model.PaymentStatusFailed, Reason: resp.ResultDesc}, nil
	}
}

// wholeShillings rounds up; Daraja rejects fractional amounts.
func wholeShillings(req InitiateRequest) int64 {
	return req.Amount.Ceil().IntPart()
}

// accountReference fits the order id into Daraja's 12 character limit.
func accountReference(orderID string) string {
	ref := strings.ToUpper(strings.ReplaceAll(orderID, "-", ""))
	if len(ref) > 12 {
		ref = ref[:12]
	}
	return ref
}
