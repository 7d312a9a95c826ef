package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/model"
	"brenda-cereals/internal/repository"

	"gorm.io/gorm"
)

const (
	ActionUpdateStatus = "UPDATE_STATUS"
	ActionAddNotes     = "ADD_NOTES"
	ActionRefund       = "REFUND"

	defaultPageSize = 20
	maxPageSize     = 100
	maxBulkOrders   = 100

	cancelledReason = "order cancelled"
)

type AdminService interface {
	ListOrders(ctx context.Context, filter repository.OrderFilter) (*dto.AdminOrdersResponse, error)
	ApplyAction(ctx context.Context, req *dto.AdminOrderActionRequest) (*dto.AdminOrderActionResponse, error)
	Dashboard(ctx context.Context, days int) (*repository.DashboardReport, error)
}

type adminServiceImpl struct {
	db            *gorm.DB
	orderRepo     repository.OrderRepository
	paymentRepo   repository.PaymentRepository
	inventoryRepo repository.InventoryRepository
	reportRepo    repository.ReportRepository
	broker        *StatusBroker
	log           *slog.Logger
	now           func() time.Time
}

func NewAdminService(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	inventoryRepo repository.InventoryRepository,
	reportRepo repository.ReportRepository,
	broker *StatusBroker,
	log *slog.Logger,
) AdminService {
	return &adminServiceImpl{
		db:            db,
		orderRepo:     orderRepo,
		paymentRepo:   paymentRepo,
		inventoryRepo: inventoryRepo,
		reportRepo:    reportRepo,
		broker:        broker,
		log:           log,
		now:           time.Now,
	}
}

func (s *adminServiceImpl) ListOrders(ctx context.Context, filter repository.OrderFilter) (*dto.AdminOrdersResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Status != "" && filter.Status != "ALL" && !model.OrderStatus(filter.Status).Valid() {
		return nil, Invalid("Invalid status filter")
	}

	orders, total, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	out := make([]*dto.OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}

	return &dto.AdminOrdersResponse{
		Orders:     out,
		Total:      total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: int((total + int64(filter.Limit) - 1) / int64(filter.Limit)),
	}, nil
}

// ApplyAction runs one action over many orders. Each order succeeds or fails on its own.
func (s *adminServiceImpl) ApplyAction(ctx context.Context, req *dto.AdminOrderActionRequest) (*dto.AdminOrderActionResponse, error) {
	if len(req.OrderIDs) == 0 {
		return nil, Invalid("Order IDs are required")
	}
	if len(req.OrderIDs) > maxBulkOrders {
		return nil, Invalid(fmt.Sprintf("At most %d orders per request", maxBulkOrders))
	}

	var apply func(ctx context.Context, order *model.Order) error
	switch req.Action {
	case ActionUpdateStatus:
		to := model.OrderStatus(req.Status)
		if !to.Valid() {
			return nil, Invalid("Invalid status")
		}
		apply = func(ctx context.Context, order *model.Order) error {
			return s.updateStatus(ctx, order, to, req.Notes)
		}
	case ActionAddNotes:
		if req.Notes == "" {
			return nil, Invalid("Notes are required")
		}
		apply = func(ctx context.Context, order *model.Order) error {
			return s.orderRepo.AddNotes(ctx, order.ID, req.Notes)
		}
	case ActionRefund:
		apply = func(ctx context.Context, order *model.Order) error {
			return s.refund(ctx, order, req.Notes)
		}
	default:
		return nil, Invalid("Invalid action")
	}

	resp := &dto.AdminOrderActionResponse{Results: make([]dto.AdminOrderActionResult, 0, len(req.OrderIDs))}
	for _, id := range req.OrderIDs {
		result := dto.AdminOrderActionResult{OrderID: id}

		order, err := s.orderRepo.FindByID(ctx, id)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result.Error = "Order not found"
		case err != nil:
			return nil, fmt.Errorf("find order %s: %w", id, err)
		default:
			err = apply(ctx, order)
			switch {
			case err == nil:
				result.Success = true
				resp.Updated++
				s.broker.Publish(id)
			case KindOf(err) != KindInternal:
				result.Error = err.Error()
			case errors.Is(err, repository.ErrStaleState):
				result.Error = "Order changed concurrently, retry"
			default:
				return nil, fmt.Errorf("%s order %s: %w", req.Action, id, err)
			}
		}

		resp.Results = append(resp.Results, result)
	}

	s.log.Info("admin order action",
		"action", req.Action, "requested", len(req.OrderIDs), "updated", resp.Updated)
	return resp, nil
}

func (s *adminServiceImpl) updateStatus(ctx context.Context, order *model.Order, to model.OrderStatus, notes string) error {
	if to == model.OrderStatusRefunded {
		return s.refund(ctx, order, notes)
	}
	if !order.Status.CanTransitionTo(to) {
		return Invalid(fmt.Sprintf("Cannot change status from %s to %s", order.Status, to))
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if to == model.OrderStatusPaid {
			// manual confirmation, e.g. cash received at the depot
			if _, err := s.orderRepo.MarkPaid(ctx, tx, order.ID); err != nil {
				return err
			}
			return s.inventoryRepo.TakeStock(ctx, tx, order.ID)
		}
		if err := s.orderRepo.UpdateStatus(ctx, tx, order.ID, order.Status, to); err != nil {
			return err
		}
		if to == model.OrderStatusCancelled {
			closed, err := s.paymentRepo.FailPending(ctx, tx, order.ID, cancelledReason)
			if err != nil {
				return fmt.Errorf("close pending payments: %w", err)
			}
			if closed > 0 {
				s.log.Info("closed pending payments of cancelled order", "order_id", order.ID, "count", closed)
			}
		}
		if notes != "" {
			return tx.Model(&model.Order{}).Where("id = ?", order.ID).Update("admin_notes", notes).Error
		}
		return nil
	})
}

func (s *adminServiceImpl) refund(ctx context.Context, order *model.Order, notes string) error {
	if order.PaymentStatus != model.OrderPaymentPaid {
		return Invalid("Only paid orders can be refunded")
	}
	if !order.Status.CanTransitionTo(model.OrderStatusRefunded) {
		return Invalid(fmt.Sprintf("Cannot refund an order in status %s", order.Status))
	}
	if notes == "" {
		notes = order.AdminNotes
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.orderRepo.Refund(ctx, tx, order.ID, order.Status, notes)
	})
}

func (s *adminServiceImpl) Dashboard(ctx context.Context, days int) (*repository.DashboardReport, error) {
	if days <= 0 {
		days = 30
	}
	if days > 365 {
		days = 365
	}
	since := s.now().AddDate(0, 0, -days)

	report, err := s.reportRepo.Dashboard(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("dashboard report: %w", err)
	}
	return report, nil
}
