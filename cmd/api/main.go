package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brenda-cereals/internal/client"
	"brenda-cereals/internal/config"
	"brenda-cereals/internal/delivery"
	"brenda-cereals/internal/logger"
	"brenda-cereals/internal/repository"
	"brenda-cereals/internal/server"
	"brenda-cereals/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	db, err := client.InitDBClient(&cfg.Database)
	if err != nil {
		return err
	}

	zones, err := delivery.Load(cfg.Delivery.ZonesFile, cfg.Delivery.DefaultFee)
	if err != nil {
		return err
	}

	userRepo := repository.NewUserRepository(db)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	reportRepo, err := repository.NewReportRepository(db, cfg.Database.Driver)
	if err != nil {
		return err
	}

	if cfg.Database.SeedCatalog {
		if err := productRepo.Seed(context.Background()); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	broker := service.NewStatusBroker()
	registry := newProviderRegistry(cfg, log)

	paymentService, monitor := service.NewPaymentService(
		db, registry,
		orderRepo,
		paymentRepo,
		webhookEventRepo,
		inventoryRepo,
		broker,
		service.MonitorConfig{Interval: cfg.Bitcoin.MonitorInterval, Timeout: cfg.Bitcoin.MonitorTimeout},
		log,
	)
	defer monitor.Stop()

	if err := monitor.Resume(context.Background()); err != nil {
		log.Warn("resume payment monitor", "error", err)
	}

	authService := service.NewAuthService(userRepo, &cfg.Auth)
	unclaimed, err := authService.UnclaimedAdminEmails(context.Background())
	if err != nil {
		return fmt.Errorf("check admin emails: %w", err)
	}
	for _, email := range unclaimed {
		log.Warn("admin email not registered, the first signup with it becomes ADMIN", "email", email)
	}
	services := server.Services{
		Auth:    authService,
		Catalog: service.NewCatalogService(productRepo),
		Order:   service.NewOrderService(db, userRepo, productRepo, orderRepo, zones, log),
		Payment: paymentService,
		Admin:   service.NewAdminService(db, orderRepo, paymentRepo, inventoryRepo, reportRepo, broker, log),
	}

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	// Init HTTP server
	srv := server.NewServer(cfg, services, zones, log)

	log.Info("starting HTTP server", "addr", serverAddr, "environment", cfg.Environment.Name)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigChan:
		log.Info("signal received, starting graceful shutdown", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	monitor.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// newProviderRegistry registers every configured payment rail. The mock wallet takes the
// on-chain slot when enabled; Lightning needs a node URL.
func newProviderRegistry(cfg *config.Config, log *slog.Logger) *service.ProviderRegistry {
	callbackURL := cfg.Mpesa.CallbackURL
	if callbackURL == "" {
		callbackURL = cfg.BaseURL + "/api/payments/mpesa/callback"
	}

	paybillDaraja := cfg.Paybill.Daraja()
	converter := service.NewSatsConverter(client.NewPriceClient(&cfg.Bitcoin), &cfg.Bitcoin, log)

	providers := []service.PaymentProvider{
		service.NewMpesaProvider(client.NewMpesaClient(&cfg.Mpesa), callbackURL),
		service.NewPaybillProvider(client.NewMpesaClient(&paybillDaraja), cfg.Paybill.PaybillNumber, callbackURL),
	}

	if cfg.Bitcoin.MockWallet {
		log.Warn("mock bitcoin wallet enabled, on-chain payments confirm without funds")
		providers = append(providers, service.NewMockWalletProvider(converter, &cfg.Bitcoin))
	} else {
		if !service.ValidBitcoinAddress(cfg.Bitcoin.WalletAddress) {
			log.Warn("bitcoin wallet address not configured, on-chain payments will fail")
		}
		providers = append(providers, service.NewBitcoinProvider(client.NewExplorerClient(&cfg.Bitcoin), converter, &cfg.Bitcoin))
	}

	if cfg.Lightning.URL != "" {
		providers = append(providers, service.NewLightningProvider(
			client.NewLightningClient(&cfg.Lightning), converter, cfg.Bitcoin.Currency, cfg.Lightning.InvoiceExpiry))
	}

	return service.NewProviderRegistry(providers...)
}
