package repository

import (
	"context"
	"fmt"
	"time"

	"brenda-cereals/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

type StatusCount struct {
	Status string `db:"status" json:"status"`
	Count  int64  `db:"count" json:"count"`
}

type ProductSales struct {
	ProductID   string  `db:"product_id" json:"productId"`
	ProductName string  `db:"product_name" json:"productName"`
	Quantity    int64   `db:"quantity" json:"quantity"`
	Revenue     float64 `db:"revenue" json:"revenue"`
}

type DashboardReport struct {
	Since             time.Time      `json:"since"`
	TotalOrders       int64          `json:"totalOrders"`
	PaidOrders        int64          `json:"paidOrders"`
	PendingPayments   int64          `json:"pendingPayments"`
	Revenue           float64        `json:"revenue"`
	AverageOrderValue float64        `json:"averageOrderValue"`
	ByStatus          []StatusCount  `json:"byStatus"`
	TopProducts       []ProductSales `json:"topProducts"`
}

// ReportRepository runs read-only aggregate queries outside the ORM.
type ReportRepository interface {
	Dashboard(ctx context.Context, since time.Time) (*DashboardReport, error)
}

type reportRepoImpl struct {
	db *sqlx.DB
	qb squirrel.StatementBuilderType
}

// NewReportRepository shares gorm's connection pool. driver is the configured database driver name.
func NewReportRepository(gdb *gorm.DB, driver string) (ReportRepository, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	qb := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	driverName := driver
	switch driver {
	case "postgres":
		qb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
		driverName = "pgx"
	case "sqlite":
		driverName = "sqlite3"
	}

	return &reportRepoImpl{
		db: sqlx.NewDb(sqlDB, driverName),
		qb: qb,
	}, nil
}

func (r *reportRepoImpl) Dashboard(ctx context.Context, since time.Time) (*DashboardReport, error) {
	report := &DashboardReport{Since: since}
	inWindow := squirrel.GtOrEq{"created_at": since}

	query, args, err := r.qb.Select("COUNT(*)").From("orders").Where(inWindow).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build total orders query: %w", err)
	}
	if err := r.db.GetContext(ctx, &report.TotalOrders, query, args...); err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	var paid struct {
		Count   int64   `db:"count"`
		Revenue float64 `db:"revenue"`
	}
	query, args, err = r.qb.
		Select("COUNT(*) AS count", "COALESCE(SUM(total), 0) AS revenue").
		From("orders").
		Where(inWindow).
		Where(squirrel.Eq{"payment_status": model.OrderPaymentPaid}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build revenue query: %w", err)
	}
	if err := r.db.GetContext(ctx, &paid, query, args...); err != nil {
		return nil, fmt.Errorf("sum revenue: %w", err)
	}
	report.PaidOrders = paid.Count
	report.Revenue = paid.Revenue
	if paid.Count > 0 {
		report.AverageOrderValue = paid.Revenue / float64(paid.Count)
	}

	query, args, err = r.qb.Select("COUNT(*)").
		From("payments").
		Where(inWindow).
		Where(squirrel.Eq{"status": model.PaymentStatusPending}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending payments query: %w", err)
	}
	if err := r.db.GetContext(ctx, &report.PendingPayments, query, args...); err != nil {
		return nil, fmt.Errorf("count pending payments: %w", err)
	}

	query, args, err = r.qb.
		Select("status", "COUNT(*) AS count").
		From("orders").
		Where(inWindow).
		GroupBy("status").
		OrderBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build status query: %w", err)
	}
	report.ByStatus = []StatusCount{}
	if err := r.db.SelectContext(ctx, &report.ByStatus, query, args...); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}

	query, args, err = r.qb.
		Select(
			"oi.product_id AS product_id",
			"MAX(oi.product_name) AS product_name",
			"SUM(oi.quantity) AS quantity",
			"SUM(oi.total_price) AS revenue",
		).
		From("order_items oi").
		Join("orders o ON o.id = oi.order_id").
		Where(squirrel.GtOrEq{"o.created_at": since}).
		Where(squirrel.Eq{"o.payment_status": model.OrderPaymentPaid}).
		GroupBy("oi.product_id").
		OrderBy("quantity DESC").
		Limit(5).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build top products query: %w", err)
	}
	report.TopProducts = []ProductSales{}
	if err := r.db.SelectContext(ctx, &report.TopProducts, query, args...); err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}

	return report, nil
}
