package dto

import (
	"time"

	"brenda-cereals/internal/cart"
	"brenda-cereals/internal/model"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// auth

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone,omitempty"`
	Role      model.Role `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
}

type LoginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	User      *UserResponse `json:"user"`
}

type UpdateProfileRequest struct {
	Name            *string `json:"name"`
	Phone           *string `json:"phone"`
	CurrentPassword string  `json:"currentPassword"`
	NewPassword     string  `json:"newPassword"`
}

// catalog

type ProductRequest struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Image       string             `json:"image"`
	Category    string             `json:"category"`
	Prices      map[string]float64 `json:"prices"`
	Stock       int                `json:"stock"`
	InStock     *bool              `json:"inStock"`
}

type ProductResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Image       string             `json:"image"`
	Category    string             `json:"category"`
	Prices      map[string]float64 `json:"prices"`
	Stock       int                `json:"stock"`
	InStock     bool               `json:"inStock"`
}

// cart

type CartRequest struct {
	Items  []cart.Item `json:"items"`
	Action cart.Action `json:"action"`
}

// orders

type OrderItemRequest struct {
	ProductID string  `json:"productId"`
	Weight    string  `json:"weight"`
	VariantID string  `json:"variantId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type Coordinates struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

type DeliveryInfo struct {
	Phone    string       `json:"phone"`
	Address  string       `json:"address"`
	Location *Coordinates `json:"location"`
	// zone name, e.g. Nairobi
	LocationName string `json:"locationName"`
}

type CreateOrderRequest struct {
	Items         []OrderItemRequest `json:"items"`
	DeliveryInfo  DeliveryInfo       `json:"deliveryInfo"`
	PaymentMethod string             `json:"paymentMethod"`
	Total         float64            `json:"total"`
	DeliveryFee   float64            `json:"deliveryFee"`
}

type OrderItemResponse struct {
	ID           uint    `json:"id"`
	ProductID    string  `json:"productId"`
	ProductName  string  `json:"productName,omitempty"`
	ProductImage string  `json:"productImage,omitempty"`
	Weight       string  `json:"weight"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unitPrice"`
	TotalPrice   float64 `json:"totalPrice"`
}

type OrderResponse struct {
	ID                   string                   `json:"id"`
	UserID               string                   `json:"userId"`
	Email                string                   `json:"email,omitempty"`
	Status               model.OrderStatus        `json:"status"`
	PaymentStatus        model.OrderPaymentStatus `json:"paymentStatus"`
	PaymentMethod        model.PaymentMethod      `json:"paymentMethod"`
	Subtotal             float64                  `json:"subtotal"`
	DeliveryFee          float64                  `json:"deliveryFee"`
	Total                float64                  `json:"total"`
	DeliveryPhone        string                   `json:"deliveryPhone"`
	DeliveryAddress      string                   `json:"deliveryAddress"`
	DeliveryLocationName string                   `json:"deliveryLocationName,omitempty"`
	AdminNotes           string                   `json:"adminNotes,omitempty"`
	Items                []OrderItemResponse      `json:"items"`
	LatestPayment        *PaymentResponse         `json:"latestPayment,omitempty"`
	PaidAt               *time.Time               `json:"paidAt,omitempty"`
	CreatedAt            time.Time                `json:"createdAt"`
	UpdatedAt            time.Time                `json:"updatedAt"`
}

// payments

type PaymentResponse struct {
	ID                     string                      `json:"id"`
	Method                 model.PaymentProviderMethod `json:"method"`
	Status                 model.PaymentStatus         `json:"status"`
	Amount                 float64                     `json:"amount"`
	Currency               string                      `json:"currency"`
	MpesaCode              string                      `json:"mpesaCode,omitempty"`
	MpesaCheckoutRequestID string                      `json:"checkoutRequestId,omitempty"`
	PaybillNumber          string                      `json:"paybillNumber,omitempty"`
	AccountRef             string                      `json:"accountReference,omitempty"`
	BitcoinAddress         string                      `json:"bitcoinAddress,omitempty"`
	BitcoinAmount          string                      `json:"bitcoinAmount,omitempty"`
	BitcoinTxHash          string                      `json:"bitcoinTxHash,omitempty"`
	LightningInvoice       string                      `json:"lightningInvoice,omitempty"`
	FailureReason          string                      `json:"failureReason,omitempty"`
	ExpiresAt              *time.Time                  `json:"expiresAt,omitempty"`
	ConfirmedAt            *time.Time                  `json:"confirmedAt,omitempty"`
	CreatedAt              time.Time                   `json:"createdAt"`
}

type MpesaInitiateRequest struct {
	OrderID     string   `json:"orderId"`
	PhoneNumber string   `json:"phoneNumber"`
	Amount      *float64 `json:"amount"`
}

type MpesaInitiateResponse struct {
	Success           bool   `json:"success"`
	PaymentID         string `json:"paymentId"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	Message           string `json:"message"`
}

type PaybillInitiateRequest struct {
	OrderID     string `json:"orderId"`
	PhoneNumber string `json:"phoneNumber"`
}

type PaybillInitiateResponse struct {
	Success           bool     `json:"success"`
	PaymentID         string   `json:"paymentId"`
	CheckoutRequestID string   `json:"checkoutRequestId"`
	PaybillNumber     string   `json:"paybillNumber"`
	AccountReference  string   `json:"accountReference"`
	Amount            float64  `json:"amount"`
	Instructions      []string `json:"instructions"`
	Message           string   `json:"message"`
}

type PaybillConfirmRequest struct {
	OrderID          string `json:"orderId"`
	PhoneNumber      string `json:"phoneNumber"`
	ConfirmationCode string `json:"confirmationCode"`
}

type BitcoinInitiateRequest struct {
	OrderID string   `json:"orderId"`
	Amount  *float64 `json:"amount"`
	// onchain (default) or lightning
	Network string `json:"network"`
}

type BitcoinInitiateResponse struct {
	Success          bool       `json:"success"`
	PaymentID        string     `json:"paymentId"`
	Method           string     `json:"method"`
	Address          string     `json:"address,omitempty"`
	Amount           string     `json:"amount"`
	AmountSats       int64      `json:"amountSats"`
	FiatAmount       float64    `json:"fiatAmount"`
	Currency         string     `json:"currency"`
	PaymentURI       string     `json:"paymentUri"`
	LightningInvoice string     `json:"lightningInvoice,omitempty"`
	QRCode           string     `json:"qrCode"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	Mock             bool       `json:"mock,omitempty"`
}

type PaymentStatusResponse struct {
	OrderID       string                   `json:"orderId"`
	OrderStatus   model.OrderStatus        `json:"orderStatus"`
	PaymentStatus model.OrderPaymentStatus `json:"paymentStatus"`
	Payment       *PaymentResponse         `json:"payment"`
}

type MpesaCallbackResponse struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// admin

type AdminOrdersResponse struct {
	Orders     []*OrderResponse `json:"orders"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"totalPages"`
}

type AdminOrderActionRequest struct {
	OrderIDs []string `json:"orderIds"`
	Action   string   `json:"action"`
	Status   string   `json:"status"`
	Notes    string   `json:"notes"`
}

type AdminOrderActionResult struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type AdminOrderActionResponse struct {
	Updated int                      `json:"updated"`
	Results []AdminOrderActionResult `json:"results"`
}
