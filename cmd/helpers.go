package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/internal/browser"
	"github.com/auxprotocol/auxcli/internal/browser/chrome"
	"github.com/auxprotocol/auxcli/internal/browser/static"
	"github.com/auxprotocol/auxcli/internal/config"
	"github.com/auxprotocol/auxcli/internal/engine"
	"github.com/auxprotocol/auxcli/internal/output"
	"github.com/auxprotocol/auxcli/internal/store"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const sessionCloseTimeout = 5 * time.Second

// readRequestInput resolves the request flag notation: "-" reads stdin,
// "@path" reads a file, anything else is taken as inline JSON.
func readRequestInput(cmd *cobra.Command, raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return nil, fmt.Errorf("a request is required: pass inline JSON, @file or - for stdin")
	case trimmed == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read request from stdin: %w", err)
		}
		return data, nil
	case strings.HasPrefix(trimmed, "@"):
		data, err := os.ReadFile(strings.TrimPrefix(trimmed, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read request file: %w", err)
		}
		return data, nil
	default:
		return []byte(trimmed), nil
	}
}

// openSession builds the configured capability backend. The chrome backend
// keeps the signal-aware context because its allocator lives until Close.
func openSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (browser.Capability, error) {
	switch cfg.Browser.Backend {
	case config.BackendChrome:
		return chrome.New(ctx, chrome.Config{
			Headless:          cfg.Browser.Headless,
			DisableGPU:        cfg.Browser.DisableGPU,
			ExecPath:          cfg.Browser.ExecPath,
			UserAgent:         cfg.Network.UserAgent,
			WindowWidth:       cfg.Browser.WindowWidth,
			WindowHeight:      cfg.Browser.WindowHeight,
			Args:              cfg.Browser.Args,
			NavigationTimeout: cfg.Network.NavigationTimeout,
			AllowedDomains:    cfg.Network.AllowedDomains,
			BlockedDomains:    cfg.Network.BlockedDomains,
		}, logger)
	case config.BackendStatic:
		return static.New(static.Config{
			UserAgent:         cfg.Network.UserAgent,
			AcceptLanguage:    cfg.Network.AcceptLanguage,
			NavigationTimeout: cfg.Network.NavigationTimeout,
			RequestsPerSecond: cfg.Network.RequestsPerSecond,
			AllowedDomains:    cfg.Network.AllowedDomains,
			BlockedDomains:    cfg.Network.BlockedDomains,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown browser backend %q", cfg.Browser.Backend)
	}
}

// closeSession tears a session down on its own clock so an interrupt during
// the operation still releases the browser.
func closeSession(session browser.Capability, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		logger.Warn("Error closing browser session", zap.Error(err))
	}
}

// runAgainst opens a fresh session, navigates to target and hands an engine
// to op. Every single-page operational command funnels through here.
func runAgainst(ctx context.Context, cfg *config.Config, logger *zap.Logger, target string, op func(context.Context, *engine.Engine) error) error {
	session, err := openSession(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}
	defer closeSession(session, logger)

	if err := session.Navigate(ctx, target, true); err != nil {
		return fmt.Errorf("failed to open %s: %w", target, err)
	}

	eng, err := engine.New(session, logger)
	if err != nil {
		return err
	}
	return op(ctx, eng)
}

// presentResult renders v in the requested format, to stdout or the --output
// path.
func presentResult(format, outputPath string, v any) error {
	presenter, err := output.New(format, outputPath)
	if err != nil {
		return err
	}
	if err := presenter.Write(v); err != nil {
		presenter.Close()
		return err
	}
	return presenter.Close()
}

// runArchiver wraps the optional Postgres store. A nil archiver is valid and
// records nothing.
type runArchiver struct {
	store *store.Store
	pool  *pgxpool.Pool
	log   *zap.Logger
}

// openRunArchive connects the archive when enabled. Failures here disable
// archiving for the invocation; an operation never fails because its record
// could not be written.
func openRunArchive(ctx context.Context, cfg *config.Config, logger *zap.Logger) *runArchiver {
	if !cfg.Archive.Enabled {
		return nil
	}
	pool, err := pgxpool.New(ctx, cfg.Archive.DSN)
	if err != nil {
		logger.Warn("Run archive disabled: invalid DSN", zap.Error(err))
		return nil
	}
	st, err := store.New(ctx, pool, cfg.Archive.WriteTimeout, logger)
	if err != nil {
		pool.Close()
		logger.Warn("Run archive disabled: database unreachable", zap.Error(err))
		return nil
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		logger.Warn("Run archive disabled: schema setup failed", zap.Error(err))
		return nil
	}
	return &runArchiver{store: st, pool: pool, log: logger}
}

func (a *runArchiver) Close() {
	if a == nil {
		return
	}
	a.pool.Close()
}

// Record persists one finished run, best-effort.
func (a *runArchiver) Record(run store.Run) {
	if a == nil {
		return
	}
	if err := a.store.RecordRun(run); err != nil {
		a.log.Warn("Failed to archive run",
			zap.String("operation", run.Operation),
			zap.Error(err))
	}
}

// newRunRecord assembles the archive row for a finished operation.
func newRunRecord(operation, target string, started time.Time, succeeded bool, request, result any) store.Run {
	return store.Run{
		ID:         uuid.New(),
		Operation:  operation,
		TargetURL:  target,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Succeeded:  succeeded,
		Request:    request,
		Result:     result,
	}
}
