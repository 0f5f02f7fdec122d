package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/config"
	"github.com/spf13/cobra"
)

func newBackupCommand(deps commandDeps) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database into a checksummed archive",
		Example: "  wardkeeper backup --out ./wardkeeper-2030-03-10.tar.gz\n" +
			"  wardkeeper backup inspect ./wardkeeper-2030-03-10.tar.gz\n" +
			"  wardkeeper backup restore --from ./wardkeeper-2030-03-10.tar.gz --target ./restored.db",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("backup does not accept positional arguments")
			}
			if strings.TrimSpace(outputPath) == "" {
				return usageErrorf("backup requires --out")
			}
			configPath, err := config.ResolvePath(strings.TrimSpace(deps.globals.ConfigPath))
			if err != nil {
				return mapCommandError(err)
			}

			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				manifest, err := be.services.Backup.Create(ctx, app.BackupCreateRequest{
					OutputPath: outputPath,
					ConfigPath: configPath,
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"output_path": outputPath,
						"manifest":    manifest,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "backup created: %s (%d files, schema v%d)\n", outputPath, len(manifest.Files), manifest.SchemaVersion)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&outputPath, "out", "", "Archive output path (must not exist)")
	cmd.AddCommand(
		newBackupInspectCommand(deps),
		newBackupRestoreCommand(deps),
	)
	return cmd
}

func newBackupInspectCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Verify a backup archive and print its manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("backup inspect requires exactly one <archive>")
			}
			manifest, err := app.NewBackupService(nil, app.Deps{}).Inspect(args[0])
			if err != nil {
				return mapCommandError(err)
			}
			if deps.globals.JSON {
				return printJSON(deps.out, manifest)
			}
			if deps.globals.Quiet {
				return nil
			}
			if _, err := fmt.Fprintf(deps.out, "created=%s schema=v%d format=v%d\n", manifest.CreatedAt, manifest.SchemaVersion, manifest.Version); err != nil {
				return mapCommandError(err)
			}
			names := make([]string, 0, len(manifest.Files))
			for name := range manifest.Files {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				file := manifest.Files[name]
				if _, err := fmt.Fprintf(deps.out, "  %s size=%d sha256=%s\n", name, file.SizeBytes, file.SHA256); err != nil {
					return mapCommandError(err)
				}
			}
			return nil
		},
	}
}

func newBackupRestoreCommand(deps commandDeps) *cobra.Command {
	var (
		inputPath  string
		targetPath string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup archive into a new database file",
		Example: "  wardkeeper backup restore --from ./backup.tar.gz --target ./restored.db\n" +
			"  wardkeeper --db ./restored.db backup restore --from ./backup.tar.gz",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("backup restore does not accept positional arguments")
			}
			if strings.TrimSpace(inputPath) == "" {
				return usageErrorf("backup restore requires --from")
			}
			if strings.TrimSpace(targetPath) == "" {
				cfg, err := loadConfig(deps.globals, config.FlagOverrides{})
				if err != nil {
					return mapCommandError(err)
				}
				targetPath = cfg.Database.Path
			}

			manifest, err := app.NewBackupService(nil, app.Deps{}).Restore(cmd.Context(), app.BackupRestoreRequest{
				InputPath:  inputPath,
				TargetPath: targetPath,
			})
			if err != nil {
				return mapCommandError(err)
			}
			if deps.globals.JSON {
				return printJSON(deps.out, map[string]any{
					"restored":       true,
					"target_path":    targetPath,
					"schema_version": manifest.SchemaVersion,
				})
			}
			if deps.globals.Quiet {
				return nil
			}
			_, err = fmt.Fprintf(deps.out, "backup restored: %s\n", targetPath)
			return mapCommandError(err)
		},
	}
	cmd.Flags().StringVar(&inputPath, "from", "", "Backup archive path")
	cmd.Flags().StringVar(&targetPath, "target", "", "Database file to create (default: configured database path)")
	return cmd
}

func newAuditCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log operations",
		Example: "  wardkeeper audit ls --limit 50\n" +
			"  wardkeeper audit ls --action appointment.schedule --since 2030-03-01\n" +
			"  wardkeeper audit verify",
	}
	cmd.AddCommand(
		newAuditListCommand(deps),
		newAuditVerifyCommand(deps),
	)
	return cmd
}

func newAuditListCommand(deps commandDeps) *cobra.Command {
	var (
		action   string
		targetID string
		since    string
		until    string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("audit ls does not accept positional arguments")
			}
			if limit < 0 {
				return usageErrorf("audit ls --limit must not be negative")
			}
			filter := audit.Filter{Action: action, TargetID: targetID, Limit: limit}
			var err error
			if filter.Since, err = optionalTimeFlag("since", since, false); err != nil {
				return err
			}
			if filter.Until, err = optionalTimeFlag("until", until, true); err != nil {
				return err
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				events, err := be.audit.List(ctx, filter)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, events)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, event := range events {
					if _, err := fmt.Fprintf(
						deps.out,
						"%s %s actor=%s action=%s target=%s/%s result=%s\n",
						event.Timestamp.UTC().Format(displayTimeLayout),
						event.ID,
						event.Actor,
						event.Action,
						event.TargetType,
						event.TargetID,
						event.Result,
					); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "Only events with this action, e.g. patient.create")
	cmd.Flags().StringVar(&targetID, "target", "", "Only events for this target id")
	cmd.Flags().StringVar(&since, "since", "", "Earliest event time (date or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Latest event time (date or RFC3339)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of events")
	return cmd
}

func newAuditVerifyCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify audit hash chain integrity",
		Example: "  wardkeeper audit verify\n" +
			"  wardkeeper --json audit verify",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("audit verify does not accept positional arguments")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				result, err := be.audit.Verify(ctx)
				if err != nil {
					return err
				}
				if err := printVerifyResult(deps, result); err != nil {
					return err
				}
				if !result.Valid {
					return &ExitError{Code: ExitCodeConflict, Err: fmt.Errorf("audit chain invalid: %s", result.Error)}
				}
				return nil
			})
		},
	}
}

func printVerifyResult(deps commandDeps, result *audit.VerifyResult) error {
	if deps.globals.JSON {
		return printJSON(deps.out, result)
	}
	if deps.globals.Quiet {
		return nil
	}
	_, err := fmt.Fprintf(
		deps.out,
		"chain %s events=%d chain_tip=%s error=%s\n",
		newPalette(deps.globals).verdict(result.Valid),
		result.EventCount,
		result.ChainTip,
		result.Error,
	)
	return err
}
