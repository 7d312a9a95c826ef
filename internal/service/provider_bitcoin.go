package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"brenda-cereals/internal/client"
	"brenda-cereals/internal/config"
	"brenda-cereals/internal/model"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const (
	satsPerBTC = 100_000_000
	// an on-chain output may be off by wallet fee rounding
	satsTolerance = 1000
	qrSize        = 300
)

var (
	ErrWalletNotConfigured = errors.New("bitcoin wallet address not configured")

	btcAddress = regexp.MustCompile(`^([13mn2][a-km-zA-HJ-NP-Z1-9]{25,34}|(bc1|tb1|bcrt1)[a-z0-9]{39,59})$`)
)

func ValidBitcoinAddress(addr string) bool {
	return btcAddress.MatchString(addr)
}

// FormatBTC renders sats as a BTC amount with 8 decimal places.
func FormatBTC(sats int64) string {
	return decimal.New(sats, -8).StringFixed(8)
}

// BIP21URI builds a bitcoin: payment URI.
func BIP21URI(address string, sats int64, orderID string) string {
	q := []string{
		"amount=" + FormatBTC(sats),
		"label=" + escapeURIParam("Brenda Cereals Order "+orderID),
		"message=" + escapeURIParam("Payment for order "+orderID),
	}
	return "bitcoin:" + address + "?" + strings.Join(q, "&")
}

func escapeURIParam(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// QRDataURL encodes content as a PNG QR code data URL.
func QRDataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// SatsConverter prices fiat amounts in satoshis.
type SatsConverter struct {
	price    client.PriceClient
	currency string
	fallback decimal.Decimal
	log      *slog.Logger
}

func NewSatsConverter(price client.PriceClient, cfg *config.Bitcoin, log *slog.Logger) *SatsConverter {
	return &SatsConverter{
		price:    price,
		currency: cfg.Currency,
		fallback: decimal.NewFromFloat(cfg.FallbackPrice),
		log:      log,
	}
}

// ToSats converts fiat to sats at the live rate, or the configured rate when the price feed fails.
func (c *SatsConverter) ToSats(ctx context.Context, fiat decimal.Decimal) int64 {
	rate := c.fallback
	if c.price != nil {
		p, err := c.price.BTCPrice(ctx, c.currency)
		if err == nil {
			rate = decimal.NewFromFloat(p)
		} else {
			c.log.Warn("btc price lookup failed, using fallback rate",
				"currency", c.currency, "rate", rate.String(), "error", err)
		}
	}
	if !rate.IsPositive() {
		return 0
	}
	return fiat.Div(rate).Mul(decimal.NewFromInt(satsPerBTC)).Round(0).IntPart()
}

type BitcoinProvider struct {
	explorer         client.ExplorerClient
	converter        *SatsConverter
	address          string
	currency         string
	minConfirmations int64
	ttl              time.Duration
}

func NewBitcoinProvider(explorer client.ExplorerClient, converter *SatsConverter, cfg *config.Bitcoin) *BitcoinProvider {
	return &BitcoinProvider{
		explorer:         explorer,
		converter:        converter,
		address:          cfg.WalletAddress,
		currency:         cfg.Currency,
		minConfirmations: int64(cfg.MinConfirmations),
		ttl:              cfg.PaymentTTL,
	}
}

func (p *BitcoinProvider) Method() model.PaymentProviderMethod { return model.ProviderBitcoin }

func (p *BitcoinProvider) Rail() model.PaymentMethod { return model.PaymentMethodBitcoin }

func (p *BitcoinProvider) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	if !ValidBitcoinAddress(p.address) {
		return nil, ErrWalletNotConfigured
	}

	sats := p.converter.ToSats(ctx, req.Amount)
	if sats <= 0 {
		return nil, fmt.Errorf("amount %s converts to %d sats", req.Amount, sats)
	}

	uri := BIP21URI(p.address, sats, req.Order.ID)
	qr, err := QRDataURL(uri)
	if err != nil {
		return nil, err
	}

	payment := newPendingPayment(req, model.ProviderBitcoin, p.currency, p.ttl)
	payment.BitcoinAddress = p.address
	payment.BitcoinAmountSats = sats
	payment.BitcoinAmount = FormatBTC(sats)
	payment.QRCodeData = qr

	return &Initiation{
		Payment:    payment,
		Message:    fmt.Sprintf("Send exactly %s BTC to the address shown", payment.BitcoinAmount),
		PaymentURI: uri,
	}, nil
}

// CheckStatus looks for an output to the payment address worth the expected amount, received
// after the payment was created. The shop address is shared, so every confirmed match is
// reported and the first one no other payment has claimed settles this one.
func (p *BitcoinProvider) CheckStatus(ctx context.Context, payment *model.Payment) (StatusResult, error) {
	txs, err := p.explorer.AddressTxs(ctx, payment.BitcoinAddress)
	if err != nil {
		return StatusResult{}, err
	}

	var tip int64
	var confirmed []string
	seen := false
	for _, tx := range txs {
		if tx.Status.Confirmed && time.Unix(tx.Status.BlockTime, 0).Before(payment.CreatedAt.Add(-time.Minute)) {
			continue
		}
		if !paysAddress(tx, payment.BitcoinAddress, payment.BitcoinAmountSats) {
			continue
		}
		seen = true
		if !tx.Status.Confirmed {
			continue
		}

		if tip == 0 {
			if tip, err = p.explorer.TipHeight(ctx); err != nil {
				return StatusResult{}, err
			}
		}
		if tip-tx.Status.BlockHeight+1 >= p.minConfirmations {
			confirmed = append(confirmed, tx.TxID)
		}
	}

	if len(confirmed) > 0 {
		return StatusResult{
			Status:       model.PaymentStatusCompleted,
			Reference:    confirmed[0],
			Alternatives: confirmed[1:],
		}, nil
	}

	if !seen && expired(payment) {
		return StatusResult{Status: model.PaymentStatusFailed, Reason: "expired"}, nil
	}
	return StatusResult{Status: model.PaymentStatusPending}, nil
}

func paysAddress(tx model.ExplorerTx, address string, sats int64) bool {
	for _, out := range tx.Vout {
		if out.ScriptPubKeyAddress != address {
			continue
		}
		diff := out.Value - sats
		if diff < 0 {
			diff = -diff
		}
		if diff <= satsTolerance {
			return true
		}
	}
	return false
}

func expired(payment *model.Payment) bool {
	return payment.ExpiresAt != nil && time.Now().After(*payment.ExpiresAt)
}

// MockWalletProvider stands in for the on-chain rail in development. Every order gets a
// deterministic testnet-looking address and the payment confirms on its own after a delay.
type MockWalletProvider struct {
	converter    *SatsConverter
	currency     string
	ttl          time.Duration
	confirmAfter time.Duration
	now          func() time.Time
}

func NewMockWalletProvider(converter *SatsConverter, cfg *config.Bitcoin) *MockWalletProvider {
	return &MockWalletProvider{
		converter:    converter,
		currency:     cfg.Currency,
		ttl:          cfg.PaymentTTL,
		confirmAfter: cfg.MockConfirmAfter,
		now:          time.Now,
	}
}

func (p *MockWalletProvider) Method() model.PaymentProviderMethod { return model.ProviderBitcoin }

func (p *MockWalletProvider) Rail() model.PaymentMethod { return model.PaymentMethodBitcoin }

func (p *MockWalletProvider) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	sats := p.converter.ToSats(ctx, req.Amount)
	if sats <= 0 {
		return nil, fmt.Errorf("amount %s converts to %d sats", req.Amount, sats)
	}

	addr := MockAddress(req.Order.ID)
	uri := BIP21URI(addr, sats, req.Order.ID)
	qr, err := QRDataURL(uri)
	if err != nil {
		return nil, err
	}

	payment := newPendingPayment(req, model.ProviderBitcoin, p.currency, p.ttl)
	payment.BitcoinAddress = addr
	payment.BitcoinAmountSats = sats
	payment.BitcoinAmount = FormatBTC(sats)
	payment.QRCodeData = qr

	return &Initiation{
		Payment:    payment,
		Message:    "Mock wallet: payment confirms automatically",
		PaymentURI: uri,
		Mock:       true,
	}, nil
}

func (p *MockWalletProvider) CheckStatus(ctx context.Context, payment *model.Payment) (StatusResult, error) {
	if p.now().Sub(payment.CreatedAt) < p.confirmAfter {
		return StatusResult{Status: model.PaymentStatusPending}, nil
	}
	sum := sha256.Sum256([]byte("tx:" + payment.ID))
	return StatusResult{Status: model.PaymentStatusCompleted, Reference: hex.EncodeToString(sum[:])}, nil
}

// MockAddress derives a stable bech32-shaped testnet address for orderID. It is not spendable.
func MockAddress(orderID string) string {
	sum := sha256.Sum256([]byte(orderID))
	return "tb1q" + hex.EncodeToString(sum[:])[:38]
}
