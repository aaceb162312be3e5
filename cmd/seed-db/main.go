package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oshare-style/market/internal/domain/coupon"
	"github.com/oshare-style/market/internal/repository"
)

type itemJSON struct {
	Name          string          `json:"name"`
	Brand         string          `json:"brand"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Available     bool            `json:"available"`
}

const upsertItemSQL = `INSERT INTO items (name, brand, category, price, stock_quantity, available)
	SELECT $1, $2, $3, $4, $5, $6
	WHERE NOT EXISTS (SELECT 1 FROM items WHERE name = $1 AND brand = $2)`

const upsertMethodSQL = `INSERT INTO payment_methods (name, payment_type, processing_fee_rate, description, active)
	SELECT $1, $2, $3, $4, TRUE
	WHERE NOT EXISTS (SELECT 1 FROM payment_methods WHERE payment_type = $2)`

func main() {
	var (
		databaseURL string
		itemsFile   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&itemsFile, "items-file", "db/seed/items.json", "path to items JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, itemsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, itemsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedItems(ctx, pool, itemsFile); err != nil {
		return errors.Wrap(err, "seed items")
	}

	if err := seedPaymentMethods(ctx, pool); err != nil {
		return errors.Wrap(err, "seed payment methods")
	}

	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedItems(ctx context.Context, pool *pgxpool.Pool, itemsFile string) error {
	slog.Info("reading items file", slog.String("path", itemsFile))

	data, err := os.ReadFile(itemsFile)
	if err != nil {
		return errors.Wrap(err, "read items file")
	}

	var items []itemJSON
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.Wrap(err, "parse items JSON")
	}

	slog.Info("inserting items", slog.Int("count", len(items)))

	for _, it := range items {
		_, err := pool.Exec(ctx, upsertItemSQL,
			it.Name, it.Brand, it.Category, it.Price, it.StockQuantity, it.Available,
		)
		if err != nil {
			return errors.Wrapf(err, "insert item %s", it.Name)
		}

		slog.Info("inserted item", slog.String("name", it.Name), slog.String("brand", it.Brand))
	}

	return nil
}

func seedPaymentMethods(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding payment methods")

	methods := []struct {
		name        string
		paymentType string
		feeRate     string
		description string
	}{
		{"Credit Card", "credit_card", "0.036", "Visa, Mastercard, JCB, AMEX"},
		{"Bank Transfer", "bank_transfer", "0", "Direct bank transfer"},
		{"Cash on Delivery", "cash_on_delivery", "0.01", "Pay the courier on delivery"},
		{"Convenience Store", "convenience_store", "0.015", "Pay at a convenience store kiosk"},
	}

	for _, m := range methods {
		feeRate, err := decimal.NewFromString(m.feeRate)
		if err != nil {
			return errors.Wrapf(err, "parse fee rate for %s", m.paymentType)
		}
		if _, err := pool.Exec(ctx, upsertMethodSQL, m.name, m.paymentType, feeRate, m.description); err != nil {
			return errors.Wrapf(err, "insert payment method %s", m.paymentType)
		}

		slog.Info("seeded payment method", slog.String("type", m.paymentType))
	}

	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo coupons")

	now := time.Now()
	repo := repository.NewCouponRepository(pool)

	coupons := []coupon.Coupon{
		{
			Code:               "WELCOME10",
			Name:               "Welcome 10%",
			Description:        "10% off your first order over 3000",
			DiscountType:       coupon.DiscountPercentage,
			DiscountValue:      decimal.NewFromInt(10),
			MinimumOrderAmount: decimal.NewFromInt(3000),
			UserUsageLimit:     1,
			ValidFrom:          now,
			ValidUntil:         now.AddDate(1, 0, 0),
			Active:             true,
		},
		{
			Code:               "SAVE500",
			Name:               "500 off",
			Description:        "500 off orders over 5000",
			DiscountType:       coupon.DiscountFixedAmount,
			DiscountValue:      decimal.NewFromInt(500),
			MinimumOrderAmount: decimal.NewFromInt(5000),
			UsageLimit:         1000,
			UserUsageLimit:     3,
			ValidFrom:          now,
			ValidUntil:         now.AddDate(0, 3, 0),
			Active:             true,
		},
	}

	for i := range coupons {
		if err := repo.Upsert(ctx, &coupons[i]); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", coupons[i].Code)
		}

		slog.Info("upserted coupon", slog.String("code", coupons[i].Code))
	}

	return nil
}
