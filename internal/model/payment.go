package model

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// PaymentProviderMethod identifies the adapter that handled a payment attempt.
type PaymentProviderMethod string

const (
	ProviderMpesa     PaymentProviderMethod = "MPESA"
	ProviderPaybill   PaymentProviderMethod = "SAFARICOM_PAYBILL"
	ProviderBitcoin   PaymentProviderMethod = "BITCOIN"
	ProviderLightning PaymentProviderMethod = "LIGHTNING"
)

type Payment struct {
	ID       string                `gorm:"primaryKey;size:36;not null"`
	OrderID  string                `gorm:"size:36;index;not null"`
	Method   PaymentProviderMethod `gorm:"size:32;index;not null"`
	Amount   float64               `gorm:"not null"`
	Currency string                `gorm:"size:8;not null"`
	Status   PaymentStatus         `gorm:"size:16;index;not null"`

	// M-Pesa / paybill
	MpesaPhone             string `gorm:"size:16"`
	MpesaCheckoutRequestID string `gorm:"size:64;index"`
	MpesaMerchantRequestID string `gorm:"size:64"`
	MpesaCode              string `gorm:"size:32"` // receipt number from the callback
	PaybillNumber          string `gorm:"size:16"`
	AccountRef             string `gorm:"size:64"`
	PaybillConfirmation    string `gorm:"size:32"`

	// Bitcoin / Lightning
	BitcoinAddress       string `gorm:"size:128;index"`
	BitcoinAmount        string `gorm:"size:32"` // BTC, 8 decimal places
	BitcoinAmountSats    int64
	BitcoinTxHash        string `gorm:"size:128"`
	LightningInvoice     string `gorm:"type:text"`
	LightningPaymentHash string `gorm:"size:128;index"`
	QRCodeData           string `gorm:"type:text"`

	FailureReason string `gorm:"size:255"`
	ExpiresAt     *time.Time
	ConfirmedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
