// Package catalog resolves product ids to their current sellable state and
// price. Prices always come from here, never from the buyer.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go-settlement/payment/db"
	"go-settlement/payment/errcode"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Product struct {
	ID        string
	Name      string
	UnitPrice int64 // minor units
	Active    bool
}

type Catalog interface {
	// Resolve returns the known products among ids, keyed by id. Unknown ids
	// are simply absent.
	Resolve(ctx context.Context, ids []string) (map[string]Product, error)

	// Add creates or replaces a product.
	Add(ctx context.Context, p Product) error
}

var errInvalidProduct = errcode.New(errcode.InvalidInput, "product needs an id and a positive unit price")

func validate(p Product) error {
	if p.ID == "" || p.UnitPrice <= 0 {
		return errInvalidProduct
	}
	return nil
}

// Gorm reads the products table.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(gdb *gorm.DB) *Gorm {
	return &Gorm{db: gdb}
}

func (g *Gorm) Resolve(ctx context.Context, ids []string) (map[string]Product, error) {
	var rows []db.Product
	if err := g.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, errcode.Wrap(errcode.StorageFailure, err, "failed to load products")
	}

	products := make(map[string]Product, len(rows))
	for _, row := range rows {
		products[row.ID] = Product{ID: row.ID, Name: row.Name, UnitPrice: row.UnitPrice, Active: row.Active}
	}
	return products, nil
}

func (g *Gorm) Add(ctx context.Context, p Product) error {
	if err := validate(p); err != nil {
		return err
	}

	row := db.Product{ID: p.ID, Name: p.Name, UnitPrice: p.UnitPrice, Active: p.Active}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "unit_price", "active", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errcode.Wrap(errcode.StorageFailure, err, "failed to save product")
	}
	return nil
}

// Static is an in-memory catalog for local runs and tests.
type Static struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewStatic(products ...Product) *Static {
	s := &Static{products: make(map[string]Product, len(products))}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *Static) Resolve(ctx context.Context, ids []string) (map[string]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			products[id] = p
		}
	}
	return products, nil
}

func (s *Static) Add(ctx context.Context, p Product) error {
	if err := validate(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

// ParseProduct reads "id:price[:name]", price in minor units. Parsed products
// are active.
func ParseProduct(s string) (Product, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return Product{}, fmt.Errorf("product %q: want id:price[:name]", s)
	}
	price, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Product{}, fmt.Errorf("product %q: bad price: %w", s, err)
	}

	p := Product{ID: strings.TrimSpace(parts[0]), UnitPrice: price, Active: true}
	if len(parts) == 3 {
		p.Name = parts[2]
	}
	if err := validate(p); err != nil {
		return Product{}, fmt.Errorf("product %q: %w", s, err)
	}
	return p, nil
}
