package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/config"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/spf13/cobra"
)

const defaultInitConfig = `[database]
path = ""
busy_timeout = "5s"

[scheduling]
buffer = "2h"

[server]
listen = "127.0.0.1:8080"
read_header_timeout = "5s"
shutdown_timeout = "10s"
# Requests per second per client address; 0 disables limiting.
rate_limit = 20.0
rate_burst = 40

[jobs]
enabled = true
sweep_interval = "15m"
no_show_grace = "30m"

[logging]
level = "info"
format = "text"
file = ""
max_size_mb = 10
max_files = 5
`

func newInitCommand(deps commandDeps) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and a default config",
		Example: "  wardkeeper init\n" +
			"  wardkeeper --db ./ward.db --config ./wardkeeper.toml init",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("init does not accept positional arguments")
			}

			configPath, err := config.ResolvePath(strings.TrimSpace(deps.globals.ConfigPath))
			if err != nil {
				return mapCommandError(err)
			}
			wroteConfig, err := writeDefaultConfig(configPath, force)
			if err != nil {
				return mapCommandError(err)
			}

			cfg, err := loadConfig(deps.globals, config.FlagOverrides{})
			if err != nil {
				return mapCommandError(err)
			}
			if err := app.BootstrapDatabase(cfg.Database.Path, storage.Options{BusyTimeout: cfg.Database.BusyTimeout}); err != nil {
				return mapCommandError(err)
			}

			if deps.globals.JSON {
				return printJSON(deps.out, map[string]any{
					"initialized":    true,
					"database_path":  cfg.Database.Path,
					"config_path":    configPath,
					"config_written": wroteConfig,
				})
			}
			if deps.globals.Quiet {
				return nil
			}

			if _, err := fmt.Fprintf(deps.out, "database ready: %s\n", cfg.Database.Path); err != nil {
				return mapCommandError(err)
			}
			if wroteConfig {
				_, err = fmt.Fprintf(deps.out, "wrote config: %s\n", configPath)
			} else {
				_, err = fmt.Fprintf(deps.out, "kept existing config: %s\n", configPath)
			}
			return mapCommandError(err)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

// writeDefaultConfig writes the default config unless one exists and
// overwrite is false. It reports whether the file was written.
func writeDefaultConfig(path string, overwrite bool) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, fmt.Errorf("%w: config path is required", app.ErrValidation)
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("init: stat config path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("init: create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultInitConfig), 0o600); err != nil {
		return false, fmt.Errorf("init: write config: %w", err)
	}
	return true, nil
}
