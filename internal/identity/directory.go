package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/docstore"
	"github.com/fjod/storefront/internal/domain"
	"go.uber.org/zap"
)

// Directory resolves principals from the users collection.
type Directory struct {
	store  docstore.Store
	logger *zap.Logger
}

func NewDirectory(store docstore.Store, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{store: store, logger: logger}
}

// Resolve returns the stored principal for verified claims. The stored role wins
// over the token's, so a role change applies to tokens already issued. A subject
// without a user document is an ordinary principal.
func (d *Directory) Resolve(ctx context.Context, c Claims) (*domain.Principal, error) {
	p, err := docstore.GetAs[domain.Principal](ctx, d.store, domain.UsersCollection, c.Subject)
	if errors.Is(err, docstore.ErrNotFound) {
		return &domain.Principal{ID: c.Subject, Role: domain.RoleOrdinary}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read principal %s: %w", domain.ErrReadFailure, c.Subject, err)
	}
	if !p.Role.Valid() {
		p.Role = domain.RoleOrdinary
	}
	return &p, nil
}

// Register creates or replaces the user document of p.
func (d *Directory) Register(ctx context.Context, p domain.Principal) error {
	if p.ID == "" {
		return errors.New("principal id is required")
	}
	if !p.Role.Valid() {
		p.Role = domain.RoleOrdinary
	}
	if err := d.store.Set(ctx, domain.UsersCollection, p.ID, p); err != nil {
		return fmt.Errorf("%w: register principal %s: %w", domain.ErrWriteFailure, p.ID, err)
	}
	return nil
}

// Watch streams the principal's user document whenever it changes, starting with
// its current state. The channel closes when ctx ends.
func (d *Directory) Watch(ctx context.Context, principalID string) (<-chan domain.Principal, error) {
	sub, err := d.store.Subscribe(ctx, docstore.Watch{Collection: domain.UsersCollection, ID: principalID})
	if err != nil {
		return nil, fmt.Errorf("%w: watch principal %s: %w", domain.ErrReadFailure, principalID, err)
	}

	out := make(chan domain.Principal, 1)
	go func() {
		defer close(out)
		defer sub.Cancel()
		for snap := range sub.C {
			principals, err := docstore.DecodeAll[domain.Principal](snap.Docs)
			if err != nil {
				d.logger.Warn("failed to decode principal", zap.String("principal_id", principalID), zap.Error(err))
				continue
			}
			if len(principals) == 0 {
				continue
			}
			select {
			case out <- principals[0]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Bootstrap makes principalID an administrator, creating its user document if
// needed. It lets a fresh deployment reach the admin screens.
func (d *Directory) Bootstrap(ctx context.Context, principalID string) error {
	p, err := docstore.GetAs[domain.Principal](ctx, d.store, domain.UsersCollection, principalID)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return d.Register(ctx, domain.Principal{ID: principalID, Role: domain.RoleAdministrator})
	case err != nil:
		return fmt.Errorf("%w: read principal %s: %w", domain.ErrReadFailure, principalID, err)
	case p.IsAdministrator():
		return nil
	}
	if err := d.store.Update(ctx, domain.UsersCollection, principalID, docstore.Fields{"role": string(domain.RoleAdministrator)}); err != nil {
		return fmt.Errorf("%w: promote principal %s: %w", domain.ErrWriteFailure, principalID, err)
	}
	d.logger.Info("principal promoted to administrator", zap.String("principal_id", principalID))
	return nil
}
