package repository

import (
	"context"

	"brenda-cereals/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductRepository interface {
	Seed(ctx context.Context) error
	FindByID(ctx context.Context, productID string) (*model.Product, error)
	FindMany(ctx context.Context, productIDs []string) ([]*model.Product, error)
	List(ctx context.Context, category string) ([]*model.Product, error)
	Create(ctx context.Context, product *model.Product) error
	Update(ctx context.Context, product *model.Product) error
}

type productRepoImpl struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepoImpl{
		db: db,
	}
}

// Seed inserts the starter catalog; existing rows are left alone.
func (r *productRepoImpl) Seed(ctx context.Context) error {
	products := []model.Product{
		{
			ID: "maize-white", Name: "White Maize", Category: "grains", Image: "/images/maize-white.jpg",
			Description: "Dry white maize, sorted and cleaned.",
			Prices:      map[string]float64{"1kg": 80, "2kg": 150, "5kg": 350, "10kg": 650, "25kg": 1500, "50kg": 2800},
			Stock:       500, InStock: true,
		},
		{
			ID: "maize-yellow", Name: "Yellow Maize", Category: "grains", Image: "/images/maize-yellow.jpg",
			Description: "Yellow maize for flour and animal feed.",
			Prices:      map[string]float64{"1kg": 75, "2kg": 140, "5kg": 330, "10kg": 620, "25kg": 1450, "50kg": 2700},
			Stock:       400, InStock: true,
		},
		{
			ID: "beans-rosecoco", Name: "Rosecoco Beans", Category: "legumes", Image: "/images/beans-rosecoco.jpg",
			Description: "Rosecoco beans from the highlands.",
			Prices:      map[string]float64{"1kg": 150, "2kg": 290, "5kg": 700, "10kg": 1350, "25kg": 3200},
			Stock:       300, InStock: true,
		},
		{
			ID: "beans-nyayo", Name: "Nyayo Beans", Category: "legumes", Image: "/images/beans-nyayo.jpg",
			Description: "Quick cooking nyayo beans.",
			Prices:      map[string]float64{"1kg": 140, "2kg": 270, "5kg": 650, "10kg": 1250},
			Stock:       250, InStock: true,
		},
		{
			ID: "green-grams", Name: "Green Grams", Category: "legumes", Image: "/images/green-grams.jpg",
			Description: "Ndengu, sorted.",
			Prices:      map[string]float64{"1kg": 180, "2kg": 350, "5kg": 850},
			Stock:       150, InStock: true,
		},
		{
			ID: "rice-pishori", Name: "Pishori Rice", Category: "rice", Image: "/images/rice-pishori.jpg",
			Description: "Aromatic Mwea pishori rice.",
			Prices:      map[string]float64{"1kg": 200, "2kg": 390, "5kg": 950, "10kg": 1850, "25kg": 4500},
			Stock:       200, InStock: true,
		},
		{
			ID: "sorghum-red", Name: "Red Sorghum", Category: "grains", Image: "/images/sorghum-red.jpg",
			Description: "Red sorghum for porridge flour.",
			Prices:      map[string]float64{"1kg": 120, "2kg": 230, "5kg": 550},
			Stock:       0, InStock: false,
		},
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&products).Error
}

func (r *productRepoImpl) FindByID(ctx context.Context, productID string) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Where("id = ?", productID).
		First(&product).Error

	if err != nil {
		return nil, err
	}

	return &product, nil
}

func (r *productRepoImpl) FindMany(ctx context.Context, productIDs []string) ([]*model.Product, error) {
	var products []*model.Product
	err := r.db.WithContext(ctx).
		Where("id IN ?", productIDs).
		Find(&products).
		Error

	if err != nil {
		return nil, err
	}

	return products, nil
}

func (r *productRepoImpl) List(ctx context.Context, category string) ([]*model.Product, error) {
	query := r.db.WithContext(ctx).Order("name ASC")
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var products []*model.Product
	if err := query.Find(&products).Error; err != nil {
		return nil, err
	}

	return products, nil
}

func (r *productRepoImpl) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *productRepoImpl) Update(ctx context.Context, product *model.Product) error {
	result := r.db.WithContext(ctx).Model(&model.Product{}).
		Where("id = ?", product.ID).
		Select("name", "description", "image", "category", "prices", "stock", "in_stock", "updated_at").
		Updates(product)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
