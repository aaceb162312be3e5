package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oshare-style/market/internal/auth"
	"github.com/oshare-style/market/internal/domain/cart"
	"github.com/oshare-style/market/internal/domain/order"
	"github.com/oshare-style/market/internal/domain/pricing"
	"github.com/oshare-style/market/internal/handler"
	"github.com/oshare-style/market/internal/repository"
	"github.com/oshare-style/market/pkg/health"
	"github.com/oshare-style/market/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	charges, err := parseCharges(cfg.Charges)
	if err != nil {
		return errors.Wrap(err, "parse charges")
	}

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	itemRepo := repository.NewItemRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	methodRepo := repository.NewPaymentMethodRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)

	// Domain services.
	engine := pricing.NewEngine(itemRepo, couponRepo, charges)
	cartService := cart.NewService(cartRepo, itemRepo, engine)
	orderService := order.NewService(engine, orderRepo, methodRepo)

	tokens, err := auth.NewTokens([]byte(cfg.JWTSecret), cfg.TokenTTL)
	if err != nil {
		return errors.Wrap(err, "create token signer")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		itemRepo, couponRepo, methodRepo, paymentRepo,
		cartService, orderService, engine, tokens,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("market-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func parseCharges(cfg ChargesConfig) (pricing.Charges, error) {
	taxRate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		return pricing.Charges{}, errors.Wrap(err, "tax rate")
	}
	shippingFee, err := decimal.NewFromString(cfg.ShippingFee)
	if err != nil {
		return pricing.Charges{}, errors.Wrap(err, "shipping fee")
	}
	freeOver, err := decimal.NewFromString(cfg.FreeShippingOver)
	if err != nil {
		return pricing.Charges{}, errors.Wrap(err, "free shipping threshold")
	}
	return pricing.Charges{
		TaxRate:          taxRate,
		ShippingFee:      shippingFee,
		FreeShippingOver: freeOver,
	}, nil
}
