package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/semilia/storefront/internal/domain"
	apperrors "github.com/semilia/storefront/pkg/errors"
)

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, nil)
		},
	}
}

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Name     string
	Price    int64
	ImageURL string
	Slug     string
	Quantity int
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Long: `Add a product to the cart.

Prices are in minor currency units: --price 4599 is 45.99.

Example:
  cartctl add sku-1042 --name "Linen Shirt" --price 4599 -q 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product := domain.Product{
				ID:       args[0],
				Name:     opts.Name,
				Price:    opts.Price,
				ImageURL: opts.ImageURL,
				Slug:     opts.Slug,
			}
			return runWith(cmd, opts.RootOptions, func(ctx context.Context, rt *runtime) error {
				return rt.engine.AddToCart(ctx, product, opts.Quantity)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "product name")
	cmd.Flags().Int64Var(&opts.Price, "price", 0, "unit price in minor units")
	cmd.Flags().StringVar(&opts.ImageURL, "image", "", "product image URL")
	cmd.Flags().StringVar(&opts.Slug, "slug", "", "product slug (derived from the name when empty)")
	cmd.Flags().IntVarP(&opts.Quantity, "quantity", "q", 1, "units to add")

	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <product-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a product from the cart",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, func(ctx context.Context, rt *runtime) error {
				return rt.engine.RemoveFromCart(ctx, args[0])
			})
		},
	}
}

// NewSetCommand creates the set command.
func NewSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <product-id> <quantity>",
		Short: "Set the quantity of a product; 0 removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return apperrors.InvalidInput("quantity must be a whole number, got " + strconv.Quote(args[1]))
			}
			return runWith(cmd, opts, func(ctx context.Context, rt *runtime) error {
				return rt.engine.UpdateQuantity(ctx, args[0], qty)
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every product from the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, func(ctx context.Context, rt *runtime) error {
				return rt.engine.ClearCart(ctx)
			})
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Move the local guest cart into your account",
		Long: `Move the local guest cart into your account.

Signing in with --token already moves the guest cart. Run sync again after a
transfer failed part way; only the items that were not sent are sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Token == "" {
				return apperrors.Unauthorized("sync needs --token")
			}
			return runWith(cmd, opts, func(ctx context.Context, rt *runtime) error {
				return rt.engine.SyncCart(ctx)
			})
		},
	}
}
