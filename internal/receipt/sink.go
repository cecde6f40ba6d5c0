package receipt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
)

// FileSink writes receipt-<order id>.pdf into Dir for every committed order.
type FileSink struct {
	Dir      string
	Merchant Merchant
	Logger   *zap.Logger
}

func NewFileSink(dir string, m Merchant, logger *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create receipt dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{Dir: dir, Merchant: m, Logger: logger}, nil
}

func (s *FileSink) Path(orderID string) string {
	return filepath.Join(s.Dir, "receipt-"+filepath.Base(orderID)+".pdf")
}

func (s *FileSink) Emit(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.Path(order.ID)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create receipt file: %w", err)
	}
	if err := Render(f, order, s.Merchant); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to render receipt: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close receipt file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move receipt file: %w", err)
	}

	s.Logger.Info("receipt written", zap.String("order_id", order.ID), zap.String("path", path))
	return nil
}
