package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/spf13/cobra"
)

// personFlags binds the identity flags shared by doctor and patient add.
type personFlags struct {
	firstName string
	lastName  string
	dni       string
	birthDate string
	bloodType string
}

func (p *personFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.firstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&p.lastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&p.dni, "dni", "", "National id (7 or 8 digits)")
	cmd.Flags().StringVar(&p.birthDate, "birth-date", "", "Birth date YYYY-MM-DD")
	cmd.Flags().StringVar(&p.bloodType, "blood-type", "", "Blood type, e.g. O+")
}

func (p personFlags) input() (app.PersonInput, error) {
	birth, err := app.ParseDate(p.birthDate)
	if err != nil {
		return app.PersonInput{}, err
	}
	return app.PersonInput{
		FirstName: p.firstName,
		LastName:  p.lastName,
		DNI:       p.dni,
		BirthDate: birth,
		BloodType: storage.BloodType(strings.ToUpper(strings.TrimSpace(p.bloodType))),
	}, nil
}

func newDoctorCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Doctor management",
		Example: "  wardkeeper doctor add --first-name Juan --last-name Perez --dni 12345678 \\\n" +
			"      --birth-date 1975-04-12 --blood-type A+ --license MP-12345 --specialty cardiology\n" +
			"  wardkeeper doctor agenda MP-12345",
	}
	cmd.AddCommand(
		newDoctorAddCommand(deps),
		newDoctorListCommand(deps),
		newDoctorShowCommand(deps),
		newDoctorAssignCommand(deps),
		newDoctorRemoveCommand(deps),
		newDoctorAgendaCommand(deps),
	)
	return cmd
}

func newDoctorAddCommand(deps commandDeps) *cobra.Command {
	var (
		person     personFlags
		license    string
		specialty  string
		hospital   string
		department string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("doctor add does not accept positional arguments")
			}
			if strings.TrimSpace(license) == "" {
				return usageErrorf("doctor add requires --license")
			}
			if (hospital == "") != (department == "") {
				return usageErrorf("doctor add needs --hospital and --department together")
			}
			in, err := person.input()
			if err != nil {
				return mapCommandError(err)
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				doctor, err := be.services.Doctors.Create(ctx, app.CreateDoctorRequest{
					PersonInput: in,
					License:     license,
					Specialty:   storage.Specialty(specialty),
					Hospital:    hospital,
					Department:  department,
				})
				if err != nil {
					return err
				}
				return printDoctor(deps, be, *doctor)
			})
		},
	}
	person.bind(cmd)
	cmd.Flags().StringVar(&license, "license", "", "Professional license, e.g. MP-12345")
	cmd.Flags().StringVar(&specialty, "specialty", "", "Medical specialty")
	cmd.Flags().StringVar(&hospital, "hospital", "", "Hospital of --department")
	cmd.Flags().StringVar(&department, "department", "", "Department to join")
	return cmd
}

func newDoctorListCommand(deps commandDeps) *cobra.Command {
	var (
		specialty  string
		hospital   string
		department string
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List doctors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("doctor ls does not accept positional arguments")
			}
			if department != "" && hospital == "" {
				return usageErrorf("doctor ls --department requires --hospital")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				filter := storage.DoctorFilter{}
				if specialty != "" {
					parsed, err := app.ParseSpecialty(specialty)
					if err != nil {
						return err
					}
					filter.Specialty = parsed
				}
				if department != "" {
					dept, err := be.services.Departments.Get(ctx, hospital, department)
					if err != nil {
						return err
					}
					filter.DepartmentID = dept.ID
				}
				doctors, err := be.services.Doctors.List(ctx, filter)
				if err != nil {
					return err
				}
				now := be.clock.Now()
				if deps.globals.JSON {
					out := make([]doctorOutput, 0, len(doctors))
					for _, d := range doctors {
						out = append(out, toDoctorOutput(d, now))
					}
					return printJSON(deps.out, out)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, d := range doctors {
					if _, err := fmt.Fprintf(deps.out, "%s\t%s\t%s\n", d.License, d.FullName(), d.Specialty); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&specialty, "specialty", "", "Only doctors of this specialty")
	cmd.Flags().StringVar(&hospital, "hospital", "", "Hospital of --department")
	cmd.Flags().StringVar(&department, "department", "", "Only doctors in this department")
	return cmd
}

func newDoctorShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <license>",
		Short: "Show a doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("doctor show requires exactly one <license>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				doctor, err := be.services.Doctors.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printDoctor(deps, be, *doctor)
			})
		},
	}
}

func newDoctorAssignCommand(deps commandDeps) *cobra.Command {
	var (
		hospital   string
		department string
	)

	cmd := &cobra.Command{
		Use:   "assign <license>",
		Short: "Move a doctor into a department of matching specialty",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("doctor assign requires exactly one <license>")
			}
			if strings.TrimSpace(hospital) == "" || strings.TrimSpace(department) == "" {
				return usageErrorf("doctor assign requires --hospital and --department")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				doctor, err := be.services.Doctors.AssignDepartment(ctx, app.AssignDepartmentRequest{
					License:    args[0],
					Hospital:   hospital,
					Department: department,
				})
				if err != nil {
					return err
				}
				return printDoctor(deps, be, *doctor)
			})
		},
	}
	cmd.Flags().StringVar(&hospital, "hospital", "", "Hospital name")
	cmd.Flags().StringVar(&department, "department", "", "Department name")
	return cmd
}

func newDoctorRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <license>",
		Short: "Remove a doctor and cancel their upcoming appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("doctor rm requires exactly one <license>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				cancelled, err := be.services.Doctors.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				return printRemoval(deps, "doctor", args[0], cancelled)
			})
		},
	}
}

func newDoctorAgendaCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "agenda <license>",
		Short: "List a doctor's appointments, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("doctor agenda requires exactly one <license>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				views, err := be.services.Appointments.ForDoctor(ctx, args[0])
				if err != nil {
					return err
				}
				return printAppointments(deps, views)
			})
		},
	}
}

func printDoctor(deps commandDeps, be *backend, d storage.Doctor) error {
	if deps.globals.JSON {
		return printJSON(deps.out, toDoctorOutput(d, be.clock.Now()))
	}
	if deps.globals.Quiet {
		return nil
	}
	_, err := fmt.Fprintf(
		deps.out,
		"license=%s name=%q specialty=%s age=%d department_id=%s\n",
		d.License,
		d.FullName(),
		d.Specialty,
		d.Age(be.clock.Now()),
		d.DepartmentID,
	)
	return err
}

func printRemoval(deps commandDeps, kind, key string, cancelled int) error {
	if deps.globals.JSON {
		return printJSON(deps.out, map[string]any{
			"removed":                key,
			"cancelled_appointments": cancelled,
		})
	}
	if deps.globals.Quiet {
		return nil
	}
	_, err := fmt.Fprintf(deps.out, "%s removed: %s (cancelled %d appointments)\n", kind, key, cancelled)
	return err
}
