package cart

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/semilia/storefront/internal/domain"
	"github.com/semilia/storefront/internal/notify"
	apperrors "github.com/semilia/storefront/pkg/errors"
)

// FetchCart loads the cart of the current mode. Guests read the guest store
// and always succeed. Signed-in users fetch from the cart API; on failure the
// cart is reset to empty and the error is returned. Concurrent fetches share
// one request as long as the identity and the remote cart stay unchanged.
func (e *Engine) FetchCart(ctx context.Context) (err error) {
	mode := e.Mode()
	start := time.Now()
	defer func() { observe("fetch", mode, start, err) }()

	e.beginBusy()
	defer e.endBusy()

	return e.load(ctx, mode)
}

func (e *Engine) load(ctx context.Context, mode domain.Mode) error {
	if mode == domain.ModeGuest {
		epoch := e.currentEpoch()
		e.setCart(e.guest.Read(ctx), epoch)
		return nil
	}

	epoch, gen, key := e.fetchKey()
	ch := e.fetches.DoChan(key, func() (any, error) {
		return e.gateway.Fetch(context.WithoutCancel(ctx))
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return fmt.Errorf("fetch cart: %w", ctx.Err())
	}
	if res.Err != nil {
		e.logger.ErrorContext(ctx, "cart fetch failed, showing empty cart",
			slog.String("error", res.Err.Error()),
		)
		e.applyFetched(domain.NewCart(), epoch, gen)
		return fmt.Errorf("fetch cart: %w", res.Err)
	}
	e.applyFetched(res.Val.(*domain.Cart).Clone(), epoch, gen)
	return nil
}

// refresh reloads the cart after a write that succeeded. A failed reload
// leaves the cart empty, so the shopper is told the cart could not be shown.
func (e *Engine) refresh(ctx context.Context, mode domain.Mode) {
	if err := e.load(ctx, mode); err != nil {
		e.notifier.Notify(ctx, notify.Failure("fetch", "Your cart could not be refreshed"))
	}
}

// AddToCart adds quantity units of product. Guests accumulate onto an
// existing line or append a new line carrying the product snapshot; signed-in
// users post to the cart API and reload the authoritative cart.
func (e *Engine) AddToCart(ctx context.Context, product domain.Product, quantity int) (err error) {
	mode := e.Mode()
	start := time.Now()
	defer func() { observe("add", mode, start, err) }()
	defer func() {
		if err != nil {
			e.notifier.Notify(ctx, notify.Failure("add", fmt.Sprintf("Could not add %s to your cart", product.DisplayName())).ForProduct(product.ID))
		}
	}()

	if quantity < 1 {
		return apperrors.InvalidInput("quantity must be at least 1")
	}
	if err := product.Validate(); err != nil {
		return err
	}
	if err := e.guardSync(); err != nil {
		return err
	}
	product = product.Normalize()

	e.beginBusy()
	defer e.endBusy()

	if mode == domain.ModeAuthenticated {
		err := e.gateway.Add(ctx, product.ID, quantity)
		e.wrote()
		if err != nil {
			return fmt.Errorf("add %s to cart: %w", product.ID, err)
		}
		e.refresh(ctx, mode)
	} else {
		e.mutateGuest(ctx, func(c *domain.Cart) bool {
			c.AddProduct(product, quantity)
			return true
		})
	}

	e.logger.InfoContext(ctx, "added to cart",
		slog.String("product_id", product.ID),
		slog.Int("quantity", quantity),
		slog.String("mode", mode.String()),
	)
	e.notifier.Notify(ctx, notify.Success("add", fmt.Sprintf("%s added to your cart", product.DisplayName())).ForProduct(product.ID))
	return nil
}

// RemoveFromCart drops the line for productID. Removing an absent product
// succeeds without changes.
func (e *Engine) RemoveFromCart(ctx context.Context, productID string) (err error) {
	mode := e.Mode()
	start := time.Now()
	defer func() { observe("remove", mode, start, err) }()

	name := e.productName(productID)
	defer func() {
		if err != nil {
			e.notifier.Notify(ctx, notify.Failure("remove", fmt.Sprintf("Could not remove %s from your cart", name)).ForProduct(productID))
		}
	}()

	if productID == "" {
		return apperrors.InvalidInput("product id is required")
	}
	if err := e.guardSync(); err != nil {
		return err
	}

	e.beginBusy()
	defer e.endBusy()

	if mode == domain.ModeAuthenticated {
		err := e.gateway.Remove(ctx, productID)
		e.wrote()
		if err != nil {
			return fmt.Errorf("remove %s from cart: %w", productID, err)
		}
		e.refresh(ctx, mode)
	} else {
		e.mutateGuest(ctx, func(c *domain.Cart) bool {
			return c.RemoveProduct(productID)
		})
	}

	e.notifier.Notify(ctx, notify.Success("remove", fmt.Sprintf("%s removed from your cart", name)).ForProduct(productID))
	return nil
}

// ClearCart empties the cart. The local cart is empty afterwards even when
// the cart API fails; the error is still returned and a fresh fetch will
// show whatever the server kept.
func (e *Engine) ClearCart(ctx context.Context) (err error) {
	mode := e.Mode()
	start := time.Now()
	defer func() { observe("clear", mode, start, err) }()

	if err := e.guardSync(); err != nil {
		e.notifier.Notify(ctx, notify.Failure("clear", "Could not clear your cart"))
		return err
	}

	e.beginBusy()
	defer e.endBusy()

	if mode == domain.ModeAuthenticated {
		epoch := e.currentEpoch()
		err = e.gateway.Clear(ctx)
		e.wrote()
		e.setCart(domain.NewCart(), epoch)
	} else {
		e.guestMu.Lock()
		e.guest.Erase(ctx)
		e.setCart(domain.NewCart(), e.currentEpoch())
		e.guestMu.Unlock()
	}

	if err != nil {
		e.logger.WarnContext(ctx, "remote cart clear failed, local cart emptied",
			slog.String("error", err.Error()),
		)
		e.notifier.Notify(ctx, notify.Failure("clear", "Your cart may not have been cleared on the server"))
		return fmt.Errorf("clear cart: %w", err)
	}
	e.notifier.Notify(ctx, notify.Success("clear", "Your cart is empty"))
	return nil
}
