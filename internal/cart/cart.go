package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrOutOfStock   = errors.New("product is out of stock")
	ErrLineNotFound = errors.New("cart line not found")
)

const persistTimeout = 5 * time.Second

// ProductReader returns the live state of a product.
type ProductReader interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
}

// Cart is the in-session cart of one principal. Every mutation writes the full
// line list to the mirror in the background; writes land in mutation order.
type Cart struct {
	principalID string
	products    ProductReader
	mirror      Mirror
	logger      *zap.Logger

	mu    sync.Mutex
	lines []domain.CartLine
	seq   uint64

	persistMu sync.Mutex
	attempted uint64
	lastErr   error

	// pending counts mirror writes not yet finished; idle is closed when it drops to zero.
	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}
}

func New(principalID string, products ProductReader, mirror Mirror, logger *zap.Logger) *Cart {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cart{
		principalID: principalID,
		products:    products,
		mirror:      mirror,
		logger:      logger,
	}
}

func (c *Cart) PrincipalID() string {
	return c.principalID
}

func (c *Cart) indexOf(productID string) int {
	for i, l := range c.lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

// AddItem adds one unit of product. An existing line is incremented against the
// product's live available quantity; a new line is created with quantity 1.
func (c *Cart) AddItem(ctx context.Context, product domain.Product) error {
	c.mu.Lock()
	exists := c.indexOf(product.ID) >= 0
	c.mu.Unlock()

	if exists {
		return c.IncrementLive(ctx, product.ID)
	}

	if !product.InStock() {
		return ErrOutOfStock
	}

	c.mu.Lock()
	if i := c.indexOf(product.ID); i >= 0 {
		c.lines[i].Quantity = min(c.lines[i].Quantity+1, product.AvailableQuantity)
	} else {
		c.lines = append(c.lines, domain.CartLine{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Quantity:  1,
			ImageURL:  product.ImageURL,
		})
	}
	c.commitLocked()
	return nil
}

// IncrementLive raises a line by one against the product's live available quantity.
func (c *Cart) IncrementLive(ctx context.Context, productID string) error {
	limit, err := c.liveLimit(ctx, productID)
	if err != nil {
		return err
	}
	return c.Increment(productID, limit)
}

func (c *Cart) liveLimit(ctx context.Context, productID string) (int, error) {
	live, err := c.products.GetProduct(ctx, productID)
	switch {
	case err == nil:
		return live.AvailableQuantity, nil
	case errors.Is(err, catalog.ErrProductNotFound):
		return 0, nil
	default:
		c.logger.Error("failed to read product",
			zap.String("product_id", productID),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrReadFailure) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", domain.ErrReadFailure, err)
	}
}

// Increment raises a line by one, capped at limit. When the cap leaves the line
// below one unit the line is removed and ErrOutOfStock is returned.
func (c *Cart) Increment(productID string, limit int) error {
	c.mu.Lock()
	i := c.indexOf(productID)
	if i < 0 {
		c.mu.Unlock()
		return ErrLineNotFound
	}

	q := min(c.lines[i].Quantity+1, limit)
	if q < 1 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		c.commitLocked()
		return ErrOutOfStock
	}
	c.lines[i].Quantity = q
	c.commitLocked()
	return nil
}

// Decrement lowers a line by one, never below one unit.
func (c *Cart) Decrement(productID string) error {
	c.mu.Lock()
	i := c.indexOf(productID)
	if i < 0 {
		c.mu.Unlock()
		return ErrLineNotFound
	}
	c.lines[i].Quantity = max(c.lines[i].Quantity-1, 1)
	c.commitLocked()
	return nil
}

// RemoveItem drops a line. Removing an absent line is a no-op.
func (c *Cart) RemoveItem(productID string) {
	c.mu.Lock()
	i := c.indexOf(productID)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	c.commitLocked()
}

func (c *Cart) Clear() {
	c.mu.Lock()
	c.lines = nil
	c.commitLocked()
}

// SetCart replaces every line. Lines with a quantity below one are dropped and
// repeated product ids are merged into the first occurrence.
// Settle removes the committed quantities of a checkout. Lines added or raised
// while the checkout ran stay in the cart.
func (c *Cart) Settle(committed []domain.CartLine) {
	c.mu.Lock()
	c.lines = domain.SubtractLines(c.lines, committed)
	c.commitLocked()
}

func (c *Cart) SetCart(lines []domain.CartLine) {
	c.mu.Lock()
	c.lines = normalize(lines)
	c.commitLocked()
}

// restore hydrates the cart without writing back to the mirror.
func (c *Cart) restore(lines []domain.CartLine) {
	c.mu.Lock()
	c.lines = normalize(lines)
	c.mu.Unlock()
}

func normalize(lines []domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(lines))
	seen := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 || l.ProductID == "" {
			continue
		}
		if i, ok := seen[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		seen[l.ProductID] = len(out)
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (c *Cart) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cart) snapshotLocked() []domain.CartLine {
	if len(c.lines) == 0 {
		return nil
	}
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.LinesCount(c.lines)
}

func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.LinesTotal(c.lines)
}

// commitLocked hands the current lines to the mirror and releases c.mu.
func (c *Cart) commitLocked() {
	c.seq++
	seq := c.seq
	lines := c.snapshotLocked()
	// counted before c.mu is released so a Flush that sees this mutation waits for it
	c.track()
	c.mu.Unlock()

	go c.persist(seq, lines)
}

func (c *Cart) track() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending == 0 {
		c.idle = make(chan struct{})
	}
	c.pending++
}

func (c *Cart) untrack() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending--
	if c.pending == 0 {
		close(c.idle)
	}
}

var closedIdle = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (c *Cart) idleC() <-chan struct{} {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending == 0 {
		return closedIdle
	}
	return c.idle
}

func (c *Cart) persist(seq uint64, lines []domain.CartLine) {
	defer c.untrack()

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	// a newer snapshot already went out
	if seq <= c.attempted {
		return
	}
	c.attempted = seq

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := c.mirror.Save(ctx, c.principalID, lines); err != nil {
		c.lastErr = err
		c.logger.Error("failed to persist cart",
			zap.String("principal_id", c.principalID),
			zap.Uint64("seq", seq),
			zap.Error(err),
		)
		return
	}
	c.lastErr = nil
}

// Flush waits for every pending mirror write and returns the outcome of the
// latest one.
func (c *Cart) Flush(ctx context.Context) error {
	select {
	case <-c.idleC():
	case <-ctx.Done():
		return ctx.Err()
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	return c.lastErr
}
