package cart

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/semilia/storefront/internal/domain"
	"github.com/semilia/storefront/internal/notify"
)

// SyncCart moves the guest cart into the signed-in user's cart, one line at
// a time in stored order. On success the guest store is erased. If a line
// fails the loop stops: lines already sent are dropped from the guest store
// and the failed line plus the ones after it are kept for the next attempt.
// Either way the authoritative cart is fetched afterwards. Other mutations
// are rejected with ErrSyncInProgress while the sync runs.
func (e *Engine) SyncCart(ctx context.Context) (err error) {
	mode := e.Mode()
	start := time.Now()
	defer func() { observe("sync", mode, start, err) }()

	if mode != domain.ModeAuthenticated {
		return ErrNotAuthenticated
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return ErrSyncInProgress
	}
	e.syncing = true
	e.busy++
	e.publishLocked()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.busy--
		e.publishLocked()
		e.mu.Unlock()
	}()

	guest := e.guest.Read(ctx)
	if guest.IsEmpty() {
		_ = e.load(ctx, mode)
		return nil
	}

	for i, it := range guest.Items {
		err := e.gateway.Add(ctx, it.ProductID(), it.Quantity)
		e.wrote()
		if err != nil {
			syncItemsTotal.WithLabelValues(outcomeError).Inc()

			rest := &domain.Cart{Items: append([]domain.CartItem(nil), guest.Items[i:]...)}
			rest.Recalculate()
			e.guest.Write(ctx, rest)

			e.logger.ErrorContext(ctx, "guest cart sync aborted",
				slog.String("product_id", it.ProductID()),
				slog.Int("synced", i),
				slog.Int("kept", len(rest.Items)),
				slog.String("error", err.Error()),
			)
			_ = e.load(ctx, mode)
			e.notifier.Notify(ctx, notify.Failure("sync",
				fmt.Sprintf("We could not move %d item(s) from your guest cart to your account", len(rest.Items))))
			return fmt.Errorf("sync guest cart: add %s: %w", it.ProductID(), err)
		}
		syncItemsTotal.WithLabelValues(outcomeSuccess).Inc()
	}

	e.guest.Erase(ctx)
	e.logger.InfoContext(ctx, "guest cart synced", slog.Int("items", len(guest.Items)))
	_ = e.load(ctx, mode)
	e.notifier.Notify(ctx, notify.Success("sync", "Your cart has been saved to your account"))
	return nil
}
