package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/ledger"
	"github.com/fjod/storefront/internal/receipt"
	"go.uber.org/zap"
)

var (
	ErrConfirmationDeclined = domain.ErrConfirmationDeclined
	ErrUserNotFound         = errors.New("user not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidRole          = errors.New("invalid role")
	ErrSelfModification     = errors.New("administrators cannot delete or demote themselves")
)

// SalesLedger answers aggregate sales questions.
type SalesLedger interface {
	Summary(ctx context.Context) (ledger.Summary, error)
	TopProducts(ctx context.Context, limit int) ([]ledger.ProductSales, error)
}

// Service backs the administrator screens.
type Service struct {
	store    docstore.Store
	catalog  *catalog.Catalog
	ledger   SalesLedger
	merchant receipt.Merchant
	logger   *zap.Logger
}

// NewService wires the admin screens. sales may be nil, in which case the
// summary is computed from the orders collection.
func NewService(store docstore.Store, cat *catalog.Catalog, sales SalesLedger, m receipt.Merchant, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, catalog: cat, ledger: sales, merchant: m, logger: logger}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.catalog.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	created, err := s.catalog.CreateProduct(ctx, p)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.Info("product created", zap.String("product_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, patch catalog.ProductPatch) (domain.Product, error) {
	return s.catalog.UpdateProduct(ctx, id, patch)
}

func (s *Service) DeleteProduct(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationDeclined
	}
	if err := s.catalog.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logger.Info("product deleted", zap.String("product_id", id))
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.Principal, error) {
	users, err := docstore.ListAs[domain.Principal](ctx, s.store, domain.UsersCollection)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %w", domain.ErrReadFailure, err)
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].Label() < users[j].Label()
	})
	return users, nil
}

func (s *Service) DeleteUser(ctx context.Context, actor *domain.Principal, id string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationDeclined
	}
	if actor != nil && actor.ID == id {
		return ErrSelfModification
	}
	if err := s.store.Delete(ctx, domain.UsersCollection, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: delete user %s: %w", domain.ErrWriteFailure, id, err)
	}
	s.logger.Info("user deleted", zap.String("user_id", id))
	return nil
}

func (s *Service) SetRole(ctx context.Context, actor *domain.Principal, id string, role domain.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if actor != nil && actor.ID == id && role != domain.RoleAdministrator {
		return ErrSelfModification
	}
	if err := s.store.Update(ctx, domain.UsersCollection, id, docstore.Fields{"role": string(role)}); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: set role of %s: %w", domain.ErrWriteFailure, id, err)
	}
	s.logger.Info("role changed", zap.String("user_id", id), zap.String("role", string(role)))
	return nil
}

// ListSales returns every order, newest first.
func (s *Service) ListSales(ctx context.Context) ([]domain.Order, error) {
	orders, err := docstore.ListAs[domain.Order](ctx, s.store, domain.OrdersCollection)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %w", domain.ErrReadFailure, err)
	}
	sortOrders(orders)
	return orders, nil
}

func sortOrders(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

func (s *Service) ExportSales(ctx context.Context, w io.Writer) error {
	orders, err := s.ListSales(ctx)
	if err != nil {
		return err
	}
	if err := receipt.Export(w, orders, s.merchant); err != nil {
		return fmt.Errorf("failed to export sales: %w", err)
	}
	return nil
}

type SalesSummary struct {
	ledger.Summary
	TopProducts []ledger.ProductSales `json:"top_products,omitempty"`
}

func (s *Service) SalesSummary(ctx context.Context) (SalesSummary, error) {
	if s.ledger == nil {
		orders, err := s.ListSales(ctx)
		if err != nil {
			return SalesSummary{}, err
		}
		sum := ledger.Summary{Orders: len(orders), Revenue: receipt.GrandTotal(orders)}
		for _, o := range orders {
			sum.Units += o.ItemCount()
		}
		return SalesSummary{Summary: sum}, nil
	}

	sum, err := s.ledger.Summary(ctx)
	if err != nil {
		return SalesSummary{}, fmt.Errorf("%w: ledger summary: %w", domain.ErrReadFailure, err)
	}
	top, err := s.ledger.TopProducts(ctx, 5)
	if err != nil {
		return SalesSummary{}, fmt.Errorf("%w: ledger top products: %w", domain.ErrReadFailure, err)
	}
	return SalesSummary{Summary: sum, TopProducts: top}, nil
}

// Receipt renders the receipt PDF of one order. Ordinary principals may only
// fetch their own orders.
func (s *Service) Receipt(ctx context.Context, actor *domain.Principal, orderID string, w io.Writer) error {
	order, err := docstore.GetAs[domain.Order](ctx, s.store, domain.OrdersCollection, orderID)
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: read order %s: %w", domain.ErrReadFailure, orderID, err)
	}
	if actor == nil {
		return domain.ErrNotAuthenticated
	}
	if !actor.IsAdministrator() && order.PrincipalID != actor.ID {
		return ErrOrderNotFound
	}
	return receipt.Render(w, order, s.merchant)
}
