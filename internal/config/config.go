package config

import (
	"errors"
	"time"
)

// DefaultJWTSecret is the development signing key; production must override it.
const DefaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database  Database  `envPrefix:"DATABASE_"`
	Auth      Auth      `envPrefix:"AUTH_"`
	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`
	Delivery  Delivery  `envPrefix:"DELIVERY_"`

	Mpesa     Mpesa     `envPrefix:"MPESA_"`
	Paybill   Paybill   `envPrefix:"SAFARICOM_"`
	Bitcoin   Bitcoin   `envPrefix:"BITCOIN_"`
	Lightning Lightning `envPrefix:"LIGHTNING_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

func (e Environment) IsProduction() bool {
	return e.Name == "production"
}

// Validate rejects development-only settings when running in production.
func (c *Config) Validate() error {
	if !c.Environment.IsProduction() {
		return nil
	}

	var errs []error
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == DefaultJWTSecret {
		errs = append(errs, errors.New("AUTH_JWT_SECRET must be set in production"))
	}
	if c.Bitcoin.MockWallet {
		errs = append(errs, errors.New("BITCOIN_MOCK_WALLET cannot be enabled in production"))
	}
	return errors.Join(errs...)
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

type Database struct {
	Driver          string        `env:"DRIVER" envDefault:"sqlite"` // mysql, postgres, sqlite
	URL             string        `env:"URL" envDefault:"brenda.db"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"50"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
	SeedCatalog     bool          `env:"SEED_CATALOG" envDefault:"true"`
}

type Auth struct {
	JWTSecret    string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"false"`
	// AdminEmails bootstraps administrators: whoever signs up first with a listed address gets
	// ADMIN. Create those accounts right after deploying and keep the list to addresses already
	// registered.
	AdminEmails []string `env:"ADMIN_EMAILS" envSeparator:","`
}

type RateLimit struct {
	// requests per second per client IP on payment initiation routes
	PaymentsPerSecond float64 `env:"PAYMENTS_PER_SECOND" envDefault:"1"`
	Burst             int     `env:"BURST" envDefault:"5"`
}

type Delivery struct {
	ZonesFile  string  `env:"ZONES_FILE"`
	DefaultFee float64 `env:"DEFAULT_FEE" envDefault:"500"`
}

type Mpesa struct {
	Environment    string `env:"ENVIRONMENT" envDefault:"sandbox"`
	BaseApiURL     string `env:"BASE_API_URL"`
	ConsumerKey    string `env:"CONSUMER_KEY"`
	ConsumerSecret string `env:"CONSUMER_SECRET"`
	Shortcode      string `env:"SHORTCODE" envDefault:"174379"`
	Passkey        string `env:"PASSKEY"`
	CallbackURL    string `env:"CALLBACK_URL"`
}

// APIURL resolves the Daraja host from the explicit override or the environment name.
func (m Mpesa) APIURL() string {
	if m.BaseApiURL != "" {
		return m.BaseApiURL
	}
	if m.Environment == "production" {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}

type Paybill struct {
	Environment       string `env:"ENVIRONMENT" envDefault:"sandbox"`
	BaseApiURL        string `env:"BASE_API_URL"`
	PaybillNumber     string `env:"PAYBILL_NUMBER" envDefault:"174379"`
	BusinessShortCode string `env:"BUSINESS_SHORTCODE" envDefault:"174379"`
	Passkey           string `env:"PASSKEY"`
	ConsumerKey       string `env:"CONSUMER_KEY"`
	ConsumerSecret    string `env:"CONSUMER_SECRET"`
}

// Daraja returns the paybill credentials in the shape the STK push client expects.
func (p Paybill) Daraja() Mpesa {
	return Mpesa{
		Environment:    p.Environment,
		BaseApiURL:     p.BaseApiURL,
		ConsumerKey:    p.ConsumerKey,
		ConsumerSecret: p.ConsumerSecret,
		Shortcode:      p.BusinessShortCode,
		Passkey:        p.Passkey,
	}
}

type Bitcoin struct {
	WalletAddress    string        `env:"WALLET_ADDRESS"`
	Network          string        `env:"NETWORK" envDefault:"testnet"`
	ExplorerURL      string        `env:"API_URL" envDefault:"https://blockstream.info/testnet/api"`
	PriceAPIURL      string        `env:"PRICE_API_URL" envDefault:"https://api.coingecko.com/api/v3"`
	Currency         string        `env:"CURRENCY" envDefault:"KES"`
	FallbackPrice    float64       `env:"FALLBACK_PRICE" envDefault:"1600000"` // fiat per BTC
	MinConfirmations int           `env:"MIN_CONFIRMATIONS" envDefault:"1"`
	PaymentTTL       time.Duration `env:"PAYMENT_TTL" envDefault:"30m"`
	MonitorInterval  time.Duration `env:"MONITOR_INTERVAL" envDefault:"30s"`
	MonitorTimeout   time.Duration `env:"MONITOR_TIMEOUT" envDefault:"30m"`
	MockWallet       bool          `env:"MOCK_WALLET" envDefault:"false"`
	MockConfirmAfter time.Duration `env:"MOCK_CONFIRM_AFTER" envDefault:"1m"`
}

type Lightning struct {
	URL           string        `env:"URL"`
	APIKey        string        `env:"API_KEY"`
	InvoiceExpiry time.Duration `env:"INVOICE_EXPIRY" envDefault:"1h"`
}
