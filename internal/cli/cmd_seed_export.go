package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/spf13/cobra"
)

func newSeedCommand(deps commandDeps) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML fixture through the regular services",
		Long: "Without --file the built-in demo fixture is loaded. Existing entities are\n" +
			"skipped and appointments refused by a scheduling rule are reported.",
		Example: "  wardkeeper seed\n" +
			"  wardkeeper seed --file ./clinic.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("seed does not accept positional arguments")
			}
			var (
				fixture *app.SeedFixture
				err     error
			)
			if strings.TrimSpace(file) == "" {
				fixture, err = app.DemoFixture()
			} else {
				fixture, err = app.LoadFixtureFile(file)
			}
			if err != nil {
				return mapCommandError(err)
			}

			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				report, err := be.services.Seed.Load(ctx, fixture)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, report)
				}
				if deps.globals.Quiet {
					return nil
				}
				if _, err := fmt.Fprintf(
					deps.out,
					"seeded hospitals=%d departments=%d rooms=%d doctors=%d patients=%d appointments=%d skipped=%d\n",
					report.Hospitals,
					report.Departments,
					report.Rooms,
					report.Doctors,
					report.Patients,
					report.Appointments,
					report.Skipped,
				); err != nil {
					return err
				}
				warn := newPalette(deps.globals).warn
				for _, rejection := range report.Rejected {
					if _, err := fmt.Fprintf(deps.out, "%s appointment #%d: %s\n", warn.Sprint("rejected"), rejection.Index, rejection.Reason); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Fixture file (YAML)")
	return cmd
}

func newExportCommand(deps commandDeps) *cobra.Command {
	var (
		from string
		to   string
		out  string
	)

	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Export appointments in a date range to an .xlsx workbook",
		Example: "  wardkeeper export --from 2030-03-01 --to 2030-03-31 --out march.xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("export does not accept positional arguments")
			}
			if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
				return usageErrorf("export requires --from and --to")
			}
			if strings.TrimSpace(out) == "" {
				return usageErrorf("export requires --out")
			}
			fromTime, err := parseTimeFlag("from", from, false)
			if err != nil {
				return err
			}
			toTime, err := parseTimeFlag("to", to, true)
			if err != nil {
				return err
			}
			if toTime.Before(fromTime) {
				return usageErrorf("export --to is before --from")
			}

			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				result, err := be.services.Export.Appointments(ctx, app.ExportRequest{
					From:       fromTime,
					To:         toTime,
					OutputPath: out,
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, result)
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(
					deps.out,
					"exported %d appointments for %d patients to %s (total %s)\n",
					result.Appointments,
					result.Patients,
					result.Path,
					result.Total.StringFixed(2),
				)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Last day, inclusive (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&out, "out", "", "Output .xlsx path")
	return cmd
}
