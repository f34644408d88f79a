package cart

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/semilia/storefront/internal/domain"
	"github.com/semilia/storefront/internal/notify"
	apperrors "github.com/semilia/storefront/pkg/errors"
)

// quantityUpdate tracks the PATCH in flight for one product. latest is the
// quantity the shopper asked for last; pending is set when latest has not
// been sent yet.
type quantityUpdate struct {
	latest  int
	pending bool
}

// UpdateQuantity sets the quantity of productID. A quantity below 1 removes
// the line.
//
// For signed-in users the change is applied locally before the cart API
// answers. At most one request per product is in flight: calls arriving
// meanwhile only replace the value to send next and return at once, so the
// server ends with the last quantity asked for. If a request fails, unsent
// values are dropped, the line is restored and the cart is re-fetched.
func (e *Engine) UpdateQuantity(ctx context.Context, productID string, quantity int) (err error) {
	if quantity < 1 {
		return e.RemoveFromCart(ctx, productID)
	}

	mode := e.Mode()
	start := time.Now()
	defer func() { observe("update", mode, start, err) }()
	defer func() {
		if err != nil {
			e.notifier.Notify(ctx, notify.Failure("update", fmt.Sprintf("Could not update the quantity of %s", e.productName(productID))).ForProduct(productID))
		}
	}()

	if productID == "" {
		return apperrors.InvalidInput("product id is required")
	}
	if err := e.guardSync(); err != nil {
		return err
	}

	if mode == domain.ModeGuest {
		e.mutateGuest(ctx, func(c *domain.Cart) bool {
			return c.SetQuantity(productID, quantity)
		})
		return nil
	}
	return e.updateRemote(context.WithoutCancel(ctx), productID, quantity)
}

func (e *Engine) updateRemote(ctx context.Context, productID string, quantity int) error {
	e.mu.Lock()
	if u, ok := e.updates[productID]; ok {
		u.latest = quantity
		u.pending = true
		e.cart.ApplyQuantity(productID, quantity)
		e.publishLocked()
		e.mu.Unlock()
		return nil
	}

	before, had := e.cart.Item(productID)
	u := &quantityUpdate{latest: quantity}
	e.updates[productID] = u
	e.loadingItems[productID] = true
	e.cart.ApplyQuantity(productID, quantity)
	e.publishLocked()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.updates[productID] == u {
			delete(e.updates, productID)
			delete(e.loadingItems, productID)
			e.publishLocked()
		}
		e.mu.Unlock()
	}()

	send := quantity
	for {
		err := e.gateway.UpdateQuantity(ctx, productID, send)

		e.mu.Lock()
		e.gen++
		if err == nil && u.pending {
			send = u.latest
			u.pending = false
			e.mu.Unlock()
			continue
		}
		delete(e.updates, productID)
		if err == nil {
			delete(e.loadingItems, productID)
			e.publishLocked()
			e.mu.Unlock()
			return nil
		}
		if had {
			e.cart.ApplyQuantity(productID, before.Quantity)
		}
		e.publishLocked()
		e.mu.Unlock()

		e.logger.WarnContext(ctx, "quantity update failed, restoring server cart",
			slog.String("product_id", productID),
			slog.Int("quantity", send),
			slog.String("error", err.Error()),
		)
		_ = e.load(ctx, domain.ModeAuthenticated)

		e.mu.Lock()
		if _, restarted := e.updates[productID]; !restarted {
			delete(e.loadingItems, productID)
		}
		e.publishLocked()
		e.mu.Unlock()
		return fmt.Errorf("update quantity of %s: %w", productID, err)
	}
}
