package service

import (
	"strings"

	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/model"

	"github.com/shopspring/decimal"
)

var totalTolerance = decimal.NewFromFloat(0.01)

const (
	msgNoItems          = "Order must contain at least one item"
	msgNoDelivery       = "Delivery information is required"
	msgBadPaymentMethod = "Invalid payment method"
	msgTotalMismatch    = "Total calculation mismatch"
	msgBadItem          = "Invalid item quantity or price"
	msgBadFee           = "Invalid delivery fee"
)

type ValidatedItem struct {
	ProductID string
	Weight    string
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

type ValidatedOrder struct {
	Items         []ValidatedItem
	Delivery      dto.DeliveryInfo
	PaymentMethod model.PaymentMethod
	Subtotal      decimal.Decimal
	DeliveryFee   decimal.Decimal
	Total         decimal.Decimal
}

// CheckOrderRequest runs the checks that need no arithmetic: items present, delivery details,
// payment method. Checkout looks the customer up between these and the totals.
func CheckOrderRequest(req *dto.CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return Invalid(msgNoItems)
	}
	if strings.TrimSpace(req.DeliveryInfo.Phone) == "" || strings.TrimSpace(req.DeliveryInfo.Address) == "" {
		return Invalid(msgNoDelivery)
	}
	method := model.PaymentMethod(req.PaymentMethod)
	if method != model.PaymentMethodMpesa && method != model.PaymentMethodBitcoin {
		return Invalid(msgBadPaymentMethod)
	}
	return nil
}

// ValidateOrderRequest checks a checkout request. Checks run in a fixed order and the first
// failure is returned as an Invalid error.
func ValidateOrderRequest(req *dto.CreateOrderRequest) (*ValidatedOrder, error) {
	if err := CheckOrderRequest(req); err != nil {
		return nil, err
	}

	delivery := req.DeliveryInfo
	delivery.Phone = strings.TrimSpace(delivery.Phone)
	delivery.Address = strings.TrimSpace(delivery.Address)
	method := model.PaymentMethod(req.PaymentMethod)

	items := make([]ValidatedItem, len(req.Items))
	subtotal := decimal.Zero
	for i, it := range req.Items {
		price := decimal.NewFromFloat(it.Price)
		line := price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(line)

		weight := it.Weight
		if weight == "" {
			weight = it.VariantID
		}
		items[i] = ValidatedItem{
			ProductID: it.ProductID,
			Weight:    weight,
			Quantity:  it.Quantity,
			UnitPrice: price,
			Total:     line,
		}
	}

	fee := decimal.NewFromFloat(req.DeliveryFee)
	total := decimal.NewFromFloat(req.Total)
	if total.Sub(subtotal.Add(fee)).Abs().GreaterThan(totalTolerance) {
		return nil, Invalid(msgTotalMismatch)
	}

	for _, it := range items {
		if it.Quantity < 1 || it.UnitPrice.IsNegative() || it.ProductID == "" {
			return nil, Invalid(msgBadItem)
		}
	}
	if fee.IsNegative() {
		return nil, Invalid(msgBadFee)
	}

	return &ValidatedOrder{
		Items:         items,
		Delivery:      delivery,
		PaymentMethod: method,
		Subtotal:      subtotal,
		DeliveryFee:   fee,
		Total:         total,
	}, nil
}
