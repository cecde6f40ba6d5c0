package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("invalid product")
)

// Catalog reads and writes products in the document store.
type Catalog struct {
	store docstore.Store
}

func New(store docstore.Store) *Catalog {
	return &Catalog{store: store}
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := docstore.GetAs[domain.Product](ctx, c.store, domain.ProductsCollection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.Product{}, ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("%w: get product %s: %w", domain.ErrReadFailure, id, err)
	}
	return p, nil
}

func (c *Catalog) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := docstore.ListAs[domain.Product](ctx, c.store, domain.ProductsCollection)
	if err != nil {
		return nil, fmt.Errorf("%w: list products: %w", domain.ErrReadFailure, err)
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].Name < products[j].Name
	})
	return products, nil
}

func validate(p domain.Product) error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if p.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidProduct)
	}
	if p.AvailableQuantity < 0 {
		return fmt.Errorf("%w: available quantity must not be negative", ErrInvalidProduct)
	}
	if p.SalesCount < 0 {
		return fmt.Errorf("%w: sales count must not be negative", ErrInvalidProduct)
	}
	return nil
}

// CreateProduct stores p under a generated id and returns it.
func (c *Catalog) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := validate(p); err != nil {
		return domain.Product{}, err
	}
	p.Version = 0
	id, err := c.store.Add(ctx, domain.ProductsCollection, p)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: create product: %w", domain.ErrWriteFailure, err)
	}
	p.ID = id
	return p, nil
}

// ProductPatch carries the admin-editable fields; nil means unchanged.
type ProductPatch struct {
	Name              *string          `json:"name,omitempty"`
	Description       *string          `json:"description,omitempty"`
	UnitPrice         *decimal.Decimal `json:"unit_price,omitempty"`
	ImageURL          *string          `json:"image_url,omitempty"`
	AvailableQuantity *int             `json:"available_quantity,omitempty"`
}

func (c *Catalog) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (domain.Product, error) {
	current, err := c.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	fields := docstore.Fields{}
	if patch.Name != nil {
		current.Name = *patch.Name
		fields["name"] = *patch.Name
	}
	if patch.Description != nil {
		current.Description = *patch.Description
		fields["description"] = *patch.Description
	}
	if patch.UnitPrice != nil {
		current.UnitPrice = *patch.UnitPrice
		fields["unit_price"] = *patch.UnitPrice
	}
	if patch.ImageURL != nil {
		current.ImageURL = *patch.ImageURL
		fields["image_url"] = *patch.ImageURL
	}
	if patch.AvailableQuantity != nil {
		current.AvailableQuantity = *patch.AvailableQuantity
		fields["available_quantity"] = *patch.AvailableQuantity
	}
	if err := validate(current); err != nil {
		return domain.Product{}, err
	}
	if len(fields) == 0 {
		return current, nil
	}

	if err := c.store.Update(ctx, domain.ProductsCollection, id, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.Product{}, ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("%w: update product %s: %w", domain.ErrWriteFailure, id, err)
	}
	current.Version++
	return current, nil
}

func (c *Catalog) DeleteProduct(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, domain.ProductsCollection, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrProductNotFound
		}
		return fmt.Errorf("%w: delete product %s: %w", domain.ErrWriteFailure, id, err)
	}
	return nil
}
