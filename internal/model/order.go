package model

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusPaid, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusPaid, OrderStatusShipped, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:   {OrderStatusDelivered},
	OrderStatusDelivered: {OrderStatusRefunded},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPaid, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type OrderPaymentStatus string

const (
	OrderPaymentPending  OrderPaymentStatus = "PENDING"
	OrderPaymentPaid     OrderPaymentStatus = "PAID"
	OrderPaymentFailed   OrderPaymentStatus = "FAILED"
	OrderPaymentRefunded OrderPaymentStatus = "REFUNDED"
)

// PaymentMethod is the rail chosen at checkout.
type PaymentMethod string

const (
	PaymentMethodMpesa   PaymentMethod = "MPESA"
	PaymentMethodBitcoin PaymentMethod = "BITCOIN"
)

type Order struct {
	ID                   string             `gorm:"primaryKey;size:36;not null"`
	UserID               string             `gorm:"size:36;index;not null"`
	Email                string             `gorm:"size:255"`
	Status               OrderStatus        `gorm:"size:16;index;not null"`
	PaymentStatus        OrderPaymentStatus `gorm:"size:16;index;not null"`
	PaymentMethod        PaymentMethod      `gorm:"size:16;not null"`
	Subtotal             float64            `gorm:"not null"`
	DeliveryFee          float64            `gorm:"not null"`
	Total                float64            `gorm:"not null"`
	DeliveryPhone        string             `gorm:"size:32;not null"`
	DeliveryAddress      string             `gorm:"type:text;not null"`
	DeliveryLocationName string             `gorm:"size:128"`
	DeliveryLat          *float64
	DeliveryLng          *float64
	AdminNotes           string `gorm:"type:text"`

	Items    []OrderItem `gorm:"foreignKey:OrderID"`
	Payments []Payment   `gorm:"foreignKey:OrderID"`

	PaidAt      *time.Time
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	RefundedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type OrderItem struct {
	ID uint `gorm:"primaryKey"`
	// FK → orders.id
	OrderID string `gorm:"size:36;index;not null"`
	// FK → products.id, not enforced so catalog edits never break history
	ProductID    string  `gorm:"size:64;index;not null"`
	ProductName  string  `gorm:"size:128"`
	ProductImage string  `gorm:"size:255"`
	Weight       string  `gorm:"size:16;not null"`
	Quantity     int     `gorm:"not null"`
	UnitPrice    float64 `gorm:"not null"`
	TotalPrice   float64 `gorm:"not null"` // UnitPrice * Quantity

	CreatedAt time.Time
}
