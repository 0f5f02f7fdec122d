package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/user"
	"strings"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/config"
	wklog "github.com/amanthanvi/wardkeeper/internal/log"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/jonboulle/clockwork"
)

var (
	loadConfigFn = config.Load
	newClockFn   = clockwork.NewRealClock
)

// backend is everything a command needs once the database is open.
type backend struct {
	cfg      config.Config
	store    *storage.Store
	audit    *audit.Service
	services *app.Services
	logger   *slog.Logger
	clock    clockwork.Clock
}

func loadConfig(globals *GlobalOptions, flags config.FlagOverrides) (config.Config, error) {
	opts := config.LoadOptions{Flags: flags}
	if globals != nil {
		if configPath := strings.TrimSpace(globals.ConfigPath); configPath != "" {
			opts.ConfigPath = configPath
		}
		if dbPath := strings.TrimSpace(globals.DBPath); dbPath != "" && opts.Flags.DatabasePath == nil {
			opts.Flags.DatabasePath = &dbPath
		}
	}
	cfg, err := loadConfigFn(opts)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openBackend opens the store and wires the services over it. The returned
// close function releases the store and the log file.
func openBackend(cfg config.Config) (*backend, func() error, error) {
	logger, logCloser, err := wklog.New(wklog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	clock := newClockFn()
	store, err := storage.Open(cfg.Database.Path, storage.Options{
		BusyTimeout: cfg.Database.BusyTimeout,
		Clock:       clock,
	})
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, err
	}

	auditService, err := audit.NewService(store.Audit, clock)
	if err != nil {
		_ = store.Close()
		_ = logCloser.Close()
		return nil, nil, fmt.Errorf("init audit service: %w", err)
	}

	rt := &backend{
		cfg:    cfg,
		store:  store,
		audit:  auditService,
		logger: logger,
		clock:  clock,
		services: app.NewServices(store, app.Deps{
			Clock:  clock,
			Audit:  auditService,
			Logger: logger,
			Buffer: cfg.Scheduling.Buffer,
		}),
	}
	closeFn := func() error {
		storeErr := store.Close()
		logErr := logCloser.Close()
		if storeErr != nil {
			return fmt.Errorf("close storage: %w", storeErr)
		}
		return logErr
	}
	return rt, closeFn, nil
}

func withServices(cmdCtx context.Context, deps commandDeps, fn func(context.Context, *backend) error) (err error) {
	timeout := defaultCommandTimeout
	if deps.globals != nil && deps.globals.Timeout > 0 {
		timeout = deps.globals.Timeout
	}
	ctx, cancel := context.WithTimeout(cmdCtx, timeout)
	defer cancel()

	cfg, err := loadConfig(deps.globals, config.FlagOverrides{})
	if err != nil {
		return mapCommandError(err)
	}
	rt, closeFn, err := openBackend(cfg)
	if err != nil {
		return mapCommandError(err)
	}
	defer func() {
		if closeErr := closeFn(); err == nil && closeErr != nil {
			err = mapCommandError(closeErr)
		}
	}()

	ctx = audit.WithActor(ctx, cliActor())
	ctx = wklog.WithCorrelationID(ctx, wklog.NewCorrelationID())
	return mapCommandError(fn(ctx, rt))
}

func cliActor() string {
	current, err := user.Current()
	if err != nil || strings.TrimSpace(current.Username) == "" {
		return "cli:unknown"
	}
	return "cli:" + current.Username
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// parseTimeFlag accepts RFC3339, "YYYY-MM-DDTHH:MM", "YYYY-MM-DD HH:MM" or a
// bare date. A bare date means the start of that day in UTC, or its last
// second when endOfDay is set.
func parseTimeFlag(name, raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return time.Time{}, usageErrorf("--%s: invalid time %q, want RFC3339 or YYYY-MM-DD", name, raw)
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Second), nil
	}
	return day, nil
}

func optionalTimeFlag(name, raw string, endOfDay bool) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := parseTimeFlag(name, raw, endOfDay)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
