package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/config"
	"github.com/amanthanvi/wardkeeper/internal/debug"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/spf13/cobra"
)

func newDebugCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Diagnostics for support requests",
	}
	cmd.AddCommand(newDebugBundleCommand(deps))
	return cmd
}

func newDebugBundleCommand(deps commandDeps) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:     "bundle",
		Short:   "Write a JSON diagnostics bundle",
		Example: "  wardkeeper debug bundle --out ./wardkeeper-debug.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("debug bundle does not accept positional arguments")
			}
			if strings.TrimSpace(outputPath) == "" {
				return usageErrorf("debug bundle requires --out")
			}

			timeout := defaultCommandTimeout
			if deps.globals.Timeout > 0 {
				timeout = deps.globals.Timeout
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			bundle := collectDebugBundle(ctx, deps)
			if err := debug.WriteBundle(outputPath, bundle); err != nil {
				return mapCommandError(err)
			}
			if deps.globals.JSON {
				return printJSON(deps.out, map[string]any{
					"output_path": outputPath,
					"healthy":     bundle.Healthy(),
					"checks":      bundle.Checks,
				})
			}
			if deps.globals.Quiet {
				return nil
			}
			palette := newPalette(deps.globals)
			for _, check := range bundle.Checks {
				mark := palette.ok.Sprint("ok")
				if !check.OK {
					mark = palette.bad.Sprint("FAIL")
				}
				if _, err := fmt.Fprintf(deps.out, "%-12s %s %s\n", check.Name, mark, check.Message); err != nil {
					return mapCommandError(err)
				}
			}
			_, err := fmt.Fprintf(deps.out, "bundle written: %s\n", outputPath)
			return mapCommandError(err)
		},
	}
	cmd.Flags().StringVar(&outputPath, "out", "", "Bundle output path (must not exist)")
	return cmd
}

// collectDebugBundle never fails; every probe lands in the bundle as a check.
func collectDebugBundle(ctx context.Context, deps commandDeps) debug.Bundle {
	bundle := debug.NewBundle(newClockFn())
	bundle.Version = map[string]any{
		"version":    deps.build.Version,
		"commit":     deps.build.Commit,
		"build_time": deps.build.BuildTime,
	}

	cfg, err := loadConfig(deps.globals, config.FlagOverrides{})
	bundle.AddCheck("config", err)
	if err != nil {
		return bundle
	}

	info := map[string]any{
		"path":                cfg.Database.Path,
		"code_schema_version": storage.CurrentSchemaVersion(),
	}
	bundle.Database = info
	stat, err := os.Stat(cfg.Database.Path)
	if err != nil {
		bundle.AddCheck("database", err)
		bundle.Notes = append(bundle.Notes, "run `wardkeeper init` to create the database")
		return bundle
	}
	info["size_bytes"] = stat.Size()

	be, closeFn, err := openBackend(cfg)
	if err != nil {
		bundle.AddCheck("database", err)
		return bundle
	}
	defer func() { _ = closeFn() }()
	bundle.AddCheck("database", be.store.Ping(ctx))

	result, err := be.audit.Verify(ctx)
	if err == nil && !result.Valid {
		err = fmt.Errorf("audit chain invalid: %s", result.Error)
	}
	bundle.AddCheck("audit_chain", err)
	if result != nil {
		info["audit_events"] = result.EventCount
	}
	return bundle
}
