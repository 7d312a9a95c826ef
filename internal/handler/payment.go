package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/middleware"
	"brenda-cereals/internal/model"
	"brenda-cereals/internal/service"

	"github.com/labstack/echo/v4"
)

const (
	networkOnchain   = "onchain"
	networkLightning = "lightning"

	maxCallbackBody = 64 << 10
)

type PaymentHandler struct {
	paymentService service.PaymentService
}

func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

func (h *PaymentHandler) InitiateMpesa(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.MpesaInitiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if req.OrderID == "" || req.PhoneNumber == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Order ID and phone number are required")
	}

	result, err := h.paymentService.Initiate(ctx, middleware.UserID(c), model.ProviderMpesa, service.InitiateInput{
		OrderID: req.OrderID,
		Phone:   req.PhoneNumber,
		Amount:  req.Amount,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.MpesaInitiateResponse{
		Success:           true,
		PaymentID:         result.Payment.ID,
		CheckoutRequestID: result.Payment.MpesaCheckoutRequestID,
		Message:           result.Initiation.Message,
	})
}

// MpesaCallback receives Daraja's STK result. Any well-formed callback is acknowledged so
// Safaricom stops retrying, including callbacks for payments we do not know.
func (h *PaymentHandler) MpesaCallback(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid callback format")
	}

	var cb model.MpesaCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid callback format")
	}

	if _, err := h.paymentService.HandleMpesaCallback(ctx, &cb); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.MpesaCallbackResponse{ResultCode: 0, ResultDesc: "Accepted"})
}

func (h *PaymentHandler) InitiatePaybill(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.PaybillInitiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if req.OrderID == "" || req.PhoneNumber == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Order ID and phone number are required")
	}

	result, err := h.paymentService.Initiate(ctx, middleware.UserID(c), model.ProviderPaybill, service.InitiateInput{
		OrderID: req.OrderID,
		Phone:   req.PhoneNumber,
	})
	if err != nil {
		return err
	}

	p := result.Payment
	return c.JSON(http.StatusOK, dto.PaybillInitiateResponse{
		Success:           true,
		PaymentID:         p.ID,
		CheckoutRequestID: p.MpesaCheckoutRequestID,
		PaybillNumber:     p.PaybillNumber,
		AccountReference:  p.AccountRef,
		Amount:            p.Amount,
		Instructions:      result.Initiation.Instructions,
		Message:           result.Initiation.Message,
	})
}

func (h *PaymentHandler) ConfirmPaybill(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.PaybillConfirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	payment, err := h.paymentService.ConfirmPaybill(ctx, middleware.UserID(c), &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) InitiateBitcoin(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.BitcoinInitiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if req.OrderID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Order ID is required")
	}

	method := model.ProviderBitcoin
	switch req.Network {
	case "", networkOnchain:
		req.Network = networkOnchain
	case networkLightning:
		method = model.ProviderLightning
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "Unsupported network")
	}

	result, err := h.paymentService.Initiate(ctx, middleware.UserID(c), method, service.InitiateInput{
		OrderID: req.OrderID,
		Amount:  req.Amount,
	})
	if err != nil {
		return err
	}

	p := result.Payment
	return c.JSON(http.StatusOK, dto.BitcoinInitiateResponse{
		Success:          true,
		PaymentID:        p.ID,
		Method:           req.Network,
		Address:          p.BitcoinAddress,
		Amount:           p.BitcoinAmount,
		AmountSats:       p.BitcoinAmountSats,
		FiatAmount:       p.Amount,
		Currency:         p.Currency,
		PaymentURI:       result.Initiation.PaymentURI,
		LightningInvoice: p.LightningInvoice,
		QRCode:           p.QRCodeData,
		ExpiresAt:        p.ExpiresAt,
		Mock:             result.Initiation.Mock,
	})
}

// Status reports the order's payment state. ?wait=30s (or plain seconds) long-polls until the
// payment settles; ?refresh=true asks the provider before answering.
func (h *PaymentHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	var q service.StatusQuery
	if raw := c.QueryParam("wait"); raw != "" {
		wait, err := parseWait(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid wait duration")
		}
		q.Wait = wait
	}
	if raw := c.QueryParam("refresh"); raw != "" {
		refresh, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid refresh flag")
		}
		q.Refresh = refresh
	}

	status, err := h.paymentService.Status(ctx, middleware.UserID(c), c.Param("orderId"), q)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, status)
}

func parseWait(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		raw = strconv.Itoa(secs) + "s"
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, strconv.ErrRange
	}
	return d, nil
}
