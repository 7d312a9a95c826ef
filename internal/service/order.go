package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"brenda-cereals/internal/delivery"
	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/model"
	"brenda-cereals/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderService interface {
	Create(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.OrderResponse, error)
	Get(ctx context.Context, userID, orderID string) (*dto.OrderResponse, error)
	ListForUser(ctx context.Context, userID string) ([]*dto.OrderResponse, error)
}

type orderServiceImpl struct {
	db          *gorm.DB
	userRepo    repository.UserRepository
	productRepo repository.ProductRepository
	orderRepo   repository.OrderRepository
	zones       *delivery.Zones
	log         *slog.Logger
}

func NewOrderService(
	db *gorm.DB,
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	orderRepo repository.OrderRepository,
	zones *delivery.Zones,
	log *slog.Logger,
) OrderService {
	return &orderServiceImpl{
		db:          db,
		userRepo:    userRepo,
		productRepo: productRepo,
		orderRepo:   orderRepo,
		zones:       zones,
		log:         log,
	}
}

func (s *orderServiceImpl) Create(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.OrderResponse, error) {
	if err := CheckOrderRequest(req); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	validated, err := ValidateOrderRequest(req)
	if err != nil {
		return nil, err
	}

	productIDs := make([]string, len(validated.Items))
	for i, it := range validated.Items {
		productIDs[i] = it.ProductID
	}
	products, err := s.productRepo.FindMany(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("get many products by item ids: %w", err)
	}
	productMap := make(map[string]*model.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	subtotal, _ := validated.Subtotal.Float64()
	fee, _ := validated.DeliveryFee.Float64()
	total, _ := validated.Total.Float64()

	order := &model.Order{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		Email:           user.Email,
		Status:          model.OrderStatusPending,
		PaymentStatus:   model.OrderPaymentPending,
		PaymentMethod:   validated.PaymentMethod,
		Subtotal:        subtotal,
		DeliveryFee:     fee,
		Total:           total,
		DeliveryPhone:   validated.Delivery.Phone,
		DeliveryAddress: validated.Delivery.Address,
	}
	s.resolveLocation(order, validated.Delivery)

	orderItems := make([]*model.OrderItem, len(validated.Items))
	for i, it := range validated.Items {
		unit, _ := it.UnitPrice.Float64()
		line, _ := it.Total.Float64()
		item := &model.OrderItem{
			OrderID:    order.ID,
			ProductID:  it.ProductID,
			Weight:     it.Weight,
			Quantity:   it.Quantity,
			UnitPrice:  unit,
			TotalPrice: line,
		}
		if p, ok := productMap[it.ProductID]; ok {
			item.ProductName = p.Name
			item.ProductImage = p.Image
		}
		orderItems[i] = item
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("store order in db: %w", err)
		}
		if err := s.orderRepo.CreateOrderItems(ctx, tx, orderItems); err != nil {
			return fmt.Errorf("store order items in db: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order created",
		"order_id", order.ID,
		"user_id", user.ID,
		"total", order.Total,
		"payment_method", order.PaymentMethod,
		"item_count", len(orderItems),
	)

	created, err := s.orderRepo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}
	return toOrderResponse(created), nil
}

// resolveLocation names the delivery zone from the request, falling back to the zone nearest
// the pinned coordinates.
func (s *orderServiceImpl) resolveLocation(order *model.Order, info dto.DeliveryInfo) {
	if info.Location != nil {
		lat, lng := info.Location.Lat, info.Location.Lng
		order.DeliveryLat = &lat
		order.DeliveryLng = &lng
	}

	switch {
	case info.LocationName != "":
		order.DeliveryLocationName = info.LocationName
	case info.Location != nil && s.zones != nil:
		zone, _ := s.zones.Nearest(info.Location.Lat, info.Location.Lng)
		order.DeliveryLocationName = zone.Name
	}

	if s.zones != nil && order.DeliveryLocationName != "" {
		if want := s.zones.Fee(order.DeliveryLocationName); want != order.DeliveryFee {
			s.log.Warn("delivery fee differs from zone table",
				"order_id", order.ID, "zone", order.DeliveryLocationName,
				"fee", order.DeliveryFee, "zone_fee", want)
		}
	}
}

func (s *orderServiceImpl) Get(ctx context.Context, userID, orderID string) (*dto.OrderResponse, error) {
	order, err := s.orderRepo.FindForUser(ctx, orderID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return toOrderResponse(order), nil
}

func (s *orderServiceImpl) ListForUser(ctx context.Context, userID string) ([]*dto.OrderResponse, error) {
	orders, err := s.orderRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	out := make([]*dto.OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	return out, nil
}
