package service

import (
	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/model"
)

func toUserResponse(u *model.User) *dto.UserResponse {
	return &dto.UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Phone:     u.Phone,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

func toProductResponse(p *model.Product) *dto.ProductResponse {
	return &dto.ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Image:       p.Image,
		Category:    p.Category,
		Prices:      p.Prices,
		Stock:       p.Stock,
		InStock:     p.InStock,
	}
}

func toPaymentResponse(p *model.Payment) *dto.PaymentResponse {
	if p == nil {
		return nil
	}
	return &dto.PaymentResponse{
		ID:                     p.ID,
		Method:                 p.Method,
		Status:                 p.Status,
		Amount:                 p.Amount,
		Currency:               p.Currency,
		MpesaCode:              p.MpesaCode,
		MpesaCheckoutRequestID: p.MpesaCheckoutRequestID,
		PaybillNumber:          p.PaybillNumber,
		AccountRef:             p.AccountRef,
		BitcoinAddress:         p.BitcoinAddress,
		BitcoinAmount:          p.BitcoinAmount,
		BitcoinTxHash:          p.BitcoinTxHash,
		LightningInvoice:       p.LightningInvoice,
		FailureReason:          p.FailureReason,
		ExpiresAt:              p.ExpiresAt,
		ConfirmedAt:            p.ConfirmedAt,
		CreatedAt:              p.CreatedAt,
	}
}

func toOrderResponse(o *model.Order) *dto.OrderResponse {
	items := make([]dto.OrderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = dto.OrderItemResponse{
			ID:           it.ID,
			ProductID:    it.ProductID,
			ProductName:  it.ProductName,
			ProductImage: it.ProductImage,
			Weight:       it.Weight,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			TotalPrice:   it.TotalPrice,
		}
	}

	resp := &dto.OrderResponse{
		ID:                   o.ID,
		UserID:               o.UserID,
		Email:                o.Email,
		Status:               o.Status,
		PaymentStatus:        o.PaymentStatus,
		PaymentMethod:        o.PaymentMethod,
		Subtotal:             o.Subtotal,
		DeliveryFee:          o.DeliveryFee,
		Total:                o.Total,
		DeliveryPhone:        o.DeliveryPhone,
		DeliveryAddress:      o.DeliveryAddress,
		DeliveryLocationName: o.DeliveryLocationName,
		AdminNotes:           o.AdminNotes,
		Items:                items,
		PaidAt:               o.PaidAt,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
	// Payments are preloaded newest first
	if len(o.Payments) > 0 {
		resp.LatestPayment = toPaymentResponse(&o.Payments[0])
	}
	return resp
}
