package docstore

import (
	"context"
	"fmt"
)

// WatchAs subscribes to w and decodes every snapshot into T. Snapshots that fail
// to decode are passed to onErr and skipped. The channel closes when ctx ends.
func WatchAs[T any](ctx context.Context, s Store, w Watch, onErr func(error)) (<-chan []T, error) {
	sub, err := s.Subscribe(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", w.Collection, err)
	}

	out := make(chan []T, 1)
	go func() {
		defer close(out)
		defer sub.Cancel()
		for snap := range sub.C {
			items, err := DecodeAll[T](snap.Docs)
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			select {
			case out <- items:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
