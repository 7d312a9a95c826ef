package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"brenda-cereals/internal/config"
	"brenda-cereals/internal/model"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// eat is East Africa Time; Daraja validates the password timestamp against it.
var eat = time.FixedZone("EAT", 3*60*60)

var kenyanMSISDN = regexp.MustCompile(`^254[17]\d{8}$`)

type MpesaClient interface {
	STKPush(ctx context.Context, req *STKPushInput) (*model.STKPushResponse, error)
	QuerySTKPush(ctx context.Context, checkoutRequestID string) (*model.STKQueryResponse, error)
}

type STKPushInput struct {
	Phone            string // already normalized
	Amount           int64  // whole shillings
	PartyB           string // defaults to the shortcode
	CallbackURL      string
	AccountReference string
	Description      string
}

type mpesaClientImpl struct {
	httpClient     *http.Client
	baseApiURL     string
	consumerKey    string
	consumerSecret string
	shortcode      string
	passkey        string
	now            func() time.Time
}

func NewMpesaClient(cfg *config.Mpesa) MpesaClient {
	return &mpesaClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL:     strings.TrimRight(cfg.APIURL(), "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortcode:      cfg.Shortcode,
		passkey:        cfg.Passkey,
		now:            time.Now,
	}
}

// NormalizePhone converts the common Kenyan formats (07.., +2547.., 2547.., 7..) to 2547XXXXXXXX.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "254"):
	case strings.HasPrefix(digits, "0"):
		digits = "254" + digits[1:]
	case len(digits) == 9:
		digits = "254" + digits
	}

	if !kenyanMSISDN.MatchString(digits) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return digits, nil
}

// Timestamp formats t the way Daraja expects: YYYYMMDDHHmmss in EAT.
func Timestamp(t time.Time) string {
	return t.In(eat).Format("20060102150405")
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

func (c *mpesaClientImpl) getAccessToken(ctx context.Context) (string, error) {
	auth := base64.StdEncoding.EncodeToString(
		[]byte(c.consumerKey + ":" + c.consumerSecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseApiURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("mpesa oauth error %d: %s", resp.StatusCode, string(b))
	}

	var res model.MpesaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if res.AccessToken == "" {
		return "", errors.New("mpesa oauth returned empty access token")
	}

	return res.AccessToken, nil
}

func (c *mpesaClientImpl) postJSON(ctx context.Context, path string, payload, out any) error {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("get mpesa access token: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal req payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseApiURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mpesa request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read mpesa response: %w", err)
	}

	// Daraja reports business errors with 4xx/5xx and a JSON envelope, decode it either way
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("mpesa error %d: %s", resp.StatusCode, string(b))
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("mpesa error %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (c *mpesaClientImpl) STKPush(ctx context.Context, in *STKPushInput) (*model.STKPushResponse, error) {
	timestamp := Timestamp(c.now())

	partyB := in.PartyB
	if partyB == "" {
		partyB = c.shortcode
	}

	payload := &model.STKPushRequest{
		BusinessShortCode: c.shortcode,
		Password:          Password(c.shortcode, c.passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            in.Amount,
		PartyA:            in.Phone,
		PartyB:            partyB,
		PhoneNumber:       in.Phone,
		CallBackURL:       in.CallbackURL,
		AccountReference:  in.AccountReference,
		TransactionDesc:   in.Description,
	}

	var result model.STKPushResponse
	if err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", payload, &result); err != nil {
		return nil, err
	}

	if result.ResponseCode != "0" {
		msg := result.ErrorMessage
		if msg == "" {
			msg = result.ResponseDescription
		}
		return nil, fmt.Errorf("stk push rejected (code %q): %s", result.ResponseCode+result.ErrorCode, msg)
	}

	return &result, nil
}

func (c *mpesaClientImpl) QuerySTKPush(ctx context.Context, checkoutRequestID string) (*model.STKQueryResponse, error) {
	timestamp := Timestamp(c.now())

	payload := &model.STKQueryRequest{
		BusinessShortCode: c.shortcode,
		Password:          Password(c.shortcode, c.passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var result model.STKQueryResponse
	if err := c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", payload, &result); err != nil {
		return nil, err
	}

	return &result, nil
}
