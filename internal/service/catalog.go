package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/model"
	"brenda-cereals/internal/repository"

	"gorm.io/gorm"
)

var productSlug = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type CatalogService interface {
	List(ctx context.Context, category string) ([]*dto.ProductResponse, error)
	Get(ctx context.Context, productID string) (*dto.ProductResponse, error)
	Create(ctx context.Context, req *dto.ProductRequest) (*dto.ProductResponse, error)
	Update(ctx context.Context, productID string, req *dto.ProductRequest) (*dto.ProductResponse, error)
}

type catalogServiceImpl struct {
	productRepo repository.ProductRepository
}

func NewCatalogService(productRepo repository.ProductRepository) CatalogService {
	return &catalogServiceImpl{productRepo: productRepo}
}

func (s *catalogServiceImpl) List(ctx context.Context, category string) ([]*dto.ProductResponse, error) {
	products, err := s.productRepo.List(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	out := make([]*dto.ProductResponse, len(products))
	for i, p := range products {
		out[i] = toProductResponse(p)
	}
	return out, nil
}

func (s *catalogServiceImpl) Get(ctx context.Context, productID string) (*dto.ProductResponse, error) {
	p, err := s.productRepo.FindByID(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	return toProductResponse(p), nil
}

func (s *catalogServiceImpl) Create(ctx context.Context, req *dto.ProductRequest) (*dto.ProductResponse, error) {
	if !productSlug.MatchString(req.ID) {
		return nil, Invalid("Product id must be a lowercase slug")
	}
	product, err := productFromRequest(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.productRepo.FindByID(ctx, req.ID); err == nil {
		return nil, Conflict("Product already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find product: %w", err)
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return toProductResponse(product), nil
}

func (s *catalogServiceImpl) Update(ctx context.Context, productID string, req *dto.ProductRequest) (*dto.ProductResponse, error) {
	req.ID = productID
	product, err := productFromRequest(req)
	if err != nil {
		return nil, err
	}

	err = s.productRepo.Update(ctx, product)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("Product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return s.Get(ctx, productID)
}

func productFromRequest(req *dto.ProductRequest) (*model.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, Invalid("Product name is required")
	}
	if len(req.Prices) == 0 {
		return nil, Invalid("At least one weight price is required")
	}
	for weight, price := range req.Prices {
		if weight == "" || price <= 0 {
			return nil, Invalid("Prices must be positive")
		}
	}
	if req.Stock < 0 {
		return nil, Invalid("Stock cannot be negative")
	}

	inStock := req.Stock > 0
	if req.InStock != nil {
		inStock = *req.InStock
	}

	return &model.Product{
		ID:          req.ID,
		Name:        name,
		Description: req.Description,
		Image:       req.Image,
		Category:    req.Category,
		Prices:      req.Prices,
		Stock:       req.Stock,
		InStock:     inStock,
	}, nil
}
