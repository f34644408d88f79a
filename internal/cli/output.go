package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/semilia/storefront/internal/cart"
	apperrors "github.com/semilia/storefront/pkg/errors"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the cart operation failed
	ExitCommandError = 2 // bad arguments or flags
)

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, apperrors.ErrInvalidInput):
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// render writes the cart in the requested format. A non-zero saved time is
// shown under the total in text output.
func render(w io.Writer, format string, st cart.State, saved time.Time) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	if st.Cart.IsEmpty() {
		_, err := fmt.Fprintf(w, "Your %s cart is empty.\n", st.Mode)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Cart (%s)\n", st.Mode)
	fmt.Fprintln(tw, "PRODUCT\tNAME\tQTY\tPRICE\tTOTAL")
	for _, it := range st.Cart.Items {
		name := "-"
		if it.Product.IsInline() {
			name = it.Product.Snapshot.DisplayName()
		}
		price, total := "-", "-"
		if it.UnitPrice() != 0 {
			price, total = formatPrice(it.UnitPrice()), formatPrice(it.LineTotal())
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", it.ProductID(), name, it.Quantity, price, total)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Total: %s (%d items)\n", formatPrice(st.Cart.TotalPrice), st.ItemCount); err != nil {
		return err
	}
	if saved.IsZero() {
		return nil
	}
	_, err := fmt.Fprintf(w, "Saved %s\n", saved.Local().Format("2006-01-02 15:04"))
	return err
}

// formatPrice renders minor units with two decimals.
func formatPrice(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
