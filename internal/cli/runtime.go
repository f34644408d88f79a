package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/semilia/storefront/internal/auth"
	"github.com/semilia/storefront/internal/cart"
	"github.com/semilia/storefront/internal/domain"
	"github.com/semilia/storefront/internal/gateway"
	"github.com/semilia/storefront/internal/gueststore"
	sqlitestore "github.com/semilia/storefront/internal/gueststore/sqlite"
	"github.com/semilia/storefront/internal/notify"
	"github.com/semilia/storefront/pkg/database"
	"github.com/semilia/storefront/pkg/httpclient"
	"github.com/semilia/storefront/pkg/logger"
)

// runtime is one engine wired for a single command invocation.
type runtime struct {
	engine  *cart.Engine
	session *auth.Session
	guest   *gueststore.Store
	backend *sqlitestore.Backend
	db      *sql.DB
	logger  *slog.Logger
}

// openRuntime opens the guest store, connects the engine and, with a token,
// signs in. A sign-in whose cart transfer fails still counts: the failure is
// reported and the unsent items stay in the guest store for `cartctl sync`.
func openRuntime(ctx context.Context, opts *RootOptions, errOut io.Writer) (*runtime, error) {
	log := logger.NewConsole("cartctl", opts.LogLevel, errOut)

	db, err := database.OpenSQLite(ctx, opts.Store, nil)
	if err != nil {
		return nil, fmt.Errorf("open guest cart: %w", err)
	}
	backend, err := sqlitestore.NewBackend(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open guest cart: %w", err)
	}

	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = opts.Timeout
	hcfg.MaxRetries = 1
	hcfg.RetryWaitMin = 200 * time.Millisecond
	hcfg.RetryWaitMax = time.Second
	cb := httpclient.NewCircuitBreakerClient(
		httpclient.New(hcfg),
		httpclient.DefaultCircuitBreakerConfig("cart-api"),
		log,
	)

	session := auth.NewSession(auth.ClaimsReader{})
	guest := gueststore.New(backend, log)
	engine := cart.New(
		gateway.New(opts.API, cb, log).WithTokenSource(session),
		guest,
		session,
		notify.Multi{notify.NewLog(log), printer(errOut)},
		log,
	)
	session.AddObserver(engine)

	rt := &runtime{engine: engine, session: session, guest: guest, backend: backend, db: db, logger: log}

	if opts.Token == "" {
		err = engine.FetchCart(ctx)
	} else {
		var id auth.Identity
		id, err = session.Login(ctx, opts.Token)
		if !id.Authenticated() {
			rt.Close()
			return nil, fmt.Errorf("sign in: %w", err)
		}
	}
	if err != nil {
		log.WarnContext(ctx, "cart not fully loaded", slog.String("error", err.Error()))
	}
	return rt, nil
}

// Close releases the guest store.
func (rt *runtime) Close() {
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("close guest cart", slog.String("error", err.Error()))
	}
}

// savedAt returns when the guest cart was last written, or the zero time
// when there is no stored guest cart.
func (rt *runtime) savedAt(ctx context.Context) time.Time {
	ts, err := rt.backend.UpdatedAt(ctx, rt.guest.StorageKey())
	if err != nil {
		return time.Time{}
	}
	return ts
}

// printer shows notifications the way the storefront shows toasts.
func printer(w io.Writer) notify.Notifier {
	return notify.Func(func(_ context.Context, n notify.Notification) {
		mark := "✓"
		if n.Level == notify.LevelError {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s\n", mark, n.Message)
	})
}

// runWith opens a runtime for cmd, runs fn and prints the resulting cart.
func runWith(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	if fn != nil {
		if err := fn(ctx, rt); err != nil {
			return err
		}
	}
	st := rt.engine.State()
	var saved time.Time
	if st.Mode == domain.ModeGuest && !st.Cart.IsEmpty() {
		saved = rt.savedAt(ctx)
	}
	return render(cmd.OutOrStdout(), opts.Format, st, saved)
}
