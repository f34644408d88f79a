// Package cli implements cartctl, a terminal client that drives one cart
// engine against a local guest store and the remote cart API.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	pkgconfig "github.com/semilia/storefront/pkg/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	API      string
	Store    string
	Token    string
	Format   string // "json" | "text"
	LogLevel string
	Timeout  time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// envDefaults seeds the flags from CARTCTL_* variables.
type envDefaults struct {
	API      string        `env:"API_URL" envDefault:"http://localhost:8003/api/v1"`
	Store    string        `env:"STORE"`
	Token    string        `env:"TOKEN"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"warn"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// NewRootCommand creates the root command for cartctl.
func NewRootCommand() *cobra.Command {
	var defaults envDefaults
	envErr := pkgconfig.LoadPrefixed(&defaults, "CARTCTL_")
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cartctl",
		Short: "Manage a Semilia shopping cart from the terminal",
		Long: `Manage a Semilia shopping cart from the terminal.

Without --token the cart is a guest cart kept in a local file. With --token
the cart lives in your account; a guest cart left in the local file is moved
into the account first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Store == "" {
				opts.Store = defaultStorePath()
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.API, "api", defaults.API, "cart API base URL (CARTCTL_API_URL)")
	flags.StringVar(&opts.Store, "store", defaults.Store, "guest cart file (CARTCTL_STORE)")
	flags.StringVar(&opts.Token, "token", defaults.Token, "access token; signs in (CARTCTL_TOKEN)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.LogLevel, "log-level", defaults.LogLevel, "log level (debug|info|warn|error)")
	flags.DurationVar(&opts.Timeout, "timeout", defaults.Timeout, "timeout per cart API request")

	// Add subcommands
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))

	return cmd
}

// defaultStorePath places the guest cart in the user's config directory,
// falling back to the working directory.
func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "cartctl-guest.db"
	}
	return filepath.Join(dir, "semilia", "guest-cart.db")
}
