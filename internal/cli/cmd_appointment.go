package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newAppointmentCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "appointment",
		Aliases: []string{"appt"},
		Short:   "Appointment scheduling",
		Example: "  wardkeeper appointment schedule --patient 45678901 --doctor MP-12345 --room C-101 \\\n" +
			"      --at 2030-03-12T10:00:00Z --cost 15000\n" +
			"  wardkeeper appointment ls --from 2030-03-01 --to 2030-03-31 --status scheduled\n" +
			"  wardkeeper appointment status <id> completed",
	}
	cmd.AddCommand(
		newAppointmentScheduleCommand(deps),
		newAppointmentListCommand(deps),
		newAppointmentShowCommand(deps),
		newAppointmentStatusCommand(deps),
		newAppointmentCancelCommand(deps),
		newAppointmentSweepCommand(deps),
	)
	return cmd
}

func newAppointmentScheduleCommand(deps commandDeps) *cobra.Command {
	var (
		patient string
		doctor  string
		room    string
		at      string
		cost    string
		notes   string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Book an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("appointment schedule does not accept positional arguments")
			}
			required := []struct{ flag, value string }{
				{"patient", patient}, {"doctor", doctor}, {"room", room}, {"at", at}, {"cost", cost},
			}
			for _, r := range required {
				if strings.TrimSpace(r.value) == "" {
					return usageErrorf("appointment schedule requires --%s", r.flag)
				}
			}
			when, err := parseTimeFlag("at", at, false)
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(strings.TrimSpace(cost))
			if err != nil {
				return usageErrorf("--cost: invalid amount %q", cost)
			}

			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				view, err := be.services.Appointments.Schedule(ctx, app.ScheduleRequest{
					PatientDNI:    patient,
					DoctorLicense: doctor,
					RoomNumber:    room,
					At:            when,
					Cost:          amount,
					Notes:         notes,
				})
				if err != nil {
					return err
				}
				return printAppointment(deps, *view)
			})
		},
	}
	cmd.Flags().StringVar(&patient, "patient", "", "Patient dni")
	cmd.Flags().StringVar(&doctor, "doctor", "", "Doctor license")
	cmd.Flags().StringVar(&room, "room", "", "Room number")
	cmd.Flags().StringVar(&at, "at", "", "Start time, RFC3339 or \"YYYY-MM-DD HH:MM\" (UTC)")
	cmd.Flags().StringVar(&cost, "cost", "", "Cost, a positive decimal")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-text notes")
	return cmd
}

func newAppointmentListCommand(deps commandDeps) *cobra.Command {
	var (
		from   string
		to     string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List appointments by time",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("appointment ls does not accept positional arguments")
			}
			if limit < 0 {
				return usageErrorf("appointment ls --limit must not be negative")
			}
			filter := storage.AppointmentFilter{Limit: limit}
			var err error
			if filter.From, err = optionalTimeFlag("from", from, false); err != nil {
				return err
			}
			if filter.To, err = optionalTimeFlag("to", to, true); err != nil {
				return err
			}
			if status != "" {
				parsed, err := app.ParseAppointmentStatus(status)
				if err != nil {
					return mapCommandError(err)
				}
				filter.Status = parsed
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				views, err := be.services.Appointments.List(ctx, filter)
				if err != nil {
					return err
				}
				return printAppointments(deps, views)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Earliest start (date or RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Latest start (date or RFC3339, dates are inclusive)")
	cmd.Flags().StringVar(&status, "status", "", "Only appointments in this status")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of appointments")
	return cmd
}

func newAppointmentShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("appointment show requires exactly one <id>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				view, err := be.services.Appointments.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printAppointment(deps, *view)
			})
		},
	}
}

func newAppointmentStatusCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move an appointment to a new status",
		Long: "Allowed transitions: scheduled -> in_progress|completed|cancelled|no_show,\n" +
			"in_progress -> completed|cancelled. Other states are final.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("appointment status requires <id> and <status>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				view, err := be.services.Appointments.UpdateStatus(ctx, args[0], storage.AppointmentStatus(args[1]))
				if err != nil {
					return err
				}
				return printAppointment(deps, *view)
			})
		},
	}
}

func newAppointmentCancelCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an appointment and free its slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("appointment cancel requires exactly one <id>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				view, err := be.services.Appointments.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				return printAppointment(deps, *view)
			})
		},
	}
}

func newAppointmentSweepCommand(deps commandDeps) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark stale scheduled appointments as no_show",
		Example: "  wardkeeper appointment sweep\n" +
			"  wardkeeper appointment sweep --grace 1h",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("appointment sweep does not accept positional arguments")
			}
			graceSet := cmd.Flags().Changed("grace")
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				effective := be.cfg.Jobs.NoShowGrace
				if graceSet {
					effective = grace
				}
				marked, err := be.services.Appointments.MarkNoShows(ctx, effective)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"marked": marked, "grace": effective.String()})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "marked %d appointments as no_show\n", marked)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "Grace period after start (default from config)")
	return cmd
}

func printAppointment(deps commandDeps, view app.AppointmentView) error {
	if deps.globals.JSON {
		return printJSON(deps.out, toAppointmentOutputs([]app.AppointmentView{view})[0])
	}
	if deps.globals.Quiet {
		return nil
	}
	return printAppointmentLine(deps.out, newPalette(deps.globals), view)
}
