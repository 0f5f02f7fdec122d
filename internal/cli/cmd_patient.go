package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/spf13/cobra"
)

func newPatientCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Patient management",
		Example: "  wardkeeper patient add --first-name Maria --last-name Lopez --dni 45678901 \\\n" +
			"      --birth-date 1990-01-15 --blood-type O+ --phone 2615551234 --address \"San Martin 100\"\n" +
			"  wardkeeper patient ls --search lopez",
	}
	cmd.AddCommand(
		newPatientAddCommand(deps),
		newPatientListCommand(deps),
		newPatientShowCommand(deps),
		newPatientEditCommand(deps),
		newPatientRemoveCommand(deps),
		newPatientAppointmentsCommand(deps),
	)
	return cmd
}

func newPatientAddCommand(deps commandDeps) *cobra.Command {
	var (
		person   personFlags
		phone    string
		address  string
		hospital string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a patient and open their clinical history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("patient add does not accept positional arguments")
			}
			in, err := person.input()
			if err != nil {
				return mapCommandError(err)
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				patient, record, err := be.services.Patients.Create(ctx, app.CreatePatientRequest{
					PersonInput: in,
					Phone:       phone,
					Address:     address,
					Hospital:    hospital,
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"patient": toPatientOutput(*patient, be.clock.Now()),
						"record":  toRecordOutput(*record),
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "patient added: %s %s record=%s\n", patient.DNI, patient.FullName(), record.Number)
				return err
			})
		},
	}
	person.bind(cmd)
	cmd.Flags().StringVar(&phone, "phone", "", "Contact phone")
	cmd.Flags().StringVar(&address, "address", "", "Home address")
	cmd.Flags().StringVar(&hospital, "hospital", "", "Hospital the patient is registered at")
	return cmd
}

func newPatientListCommand(deps commandDeps) *cobra.Command {
	var (
		hospital string
		search   string
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("patient ls does not accept positional arguments")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				patients, err := be.services.Patients.List(ctx, hospital, search)
				if err != nil {
					return err
				}
				now := be.clock.Now()
				if deps.globals.JSON {
					out := make([]patientOutput, 0, len(patients))
					for _, p := range patients {
						out = append(out, toPatientOutput(p, now))
					}
					return printJSON(deps.out, out)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, p := range patients {
					if _, err := fmt.Fprintf(deps.out, "%s\t%s\t%d\n", p.DNI, p.FullName(), p.Age(now)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hospital, "hospital", "", "Only patients of this hospital")
	cmd.Flags().StringVar(&search, "search", "", "Match name or dni")
	return cmd
}

func newPatientShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <dni>",
		Short: "Show a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("patient show requires exactly one <dni>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				patient, err := be.services.Patients.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printPatient(deps, be, *patient)
			})
		},
	}
}

func newPatientEditCommand(deps commandDeps) *cobra.Command {
	var (
		firstName string
		lastName  string
		phone     string
		address   string
		hospital  string
	)

	cmd := &cobra.Command{
		Use:   "edit <dni>",
		Short: "Change a patient's name or contact data",
		Example: "  wardkeeper patient edit 45678901 --phone 2615550000\n" +
			"  wardkeeper patient edit 45678901 --hospital \"Hospital Central\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("patient edit requires exactly one <dni>")
			}
			req := app.UpdatePatientRequest{DNI: args[0]}
			flags := cmd.Flags()
			if flags.Changed("first-name") {
				req.FirstName = &firstName
			}
			if flags.Changed("last-name") {
				req.LastName = &lastName
			}
			if flags.Changed("phone") {
				req.Phone = &phone
			}
			if flags.Changed("address") {
				req.Address = &address
			}
			if flags.Changed("hospital") {
				req.Hospital = &hospital
			}
			if req.FirstName == nil && req.LastName == nil && req.Phone == nil && req.Address == nil && req.Hospital == nil {
				return usageErrorf("patient edit requires at least one field flag")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				patient, err := be.services.Patients.Update(ctx, req)
				if err != nil {
					return err
				}
				return printPatient(deps, be, *patient)
			})
		},
	}
	cmd.Flags().StringVar(&firstName, "first-name", "", "New first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "New last name")
	cmd.Flags().StringVar(&phone, "phone", "", "New phone")
	cmd.Flags().StringVar(&address, "address", "", "New address")
	cmd.Flags().StringVar(&hospital, "hospital", "", "New hospital (empty clears it)")
	return cmd
}

func newPatientRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <dni>",
		Short: "Remove a patient and cancel their upcoming appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("patient rm requires exactly one <dni>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				cancelled, err := be.services.Patients.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				return printRemoval(deps, "patient", args[0], cancelled)
			})
		},
	}
}

func newPatientAppointmentsCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "appointments <dni>",
		Short: "List a patient's appointments, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("patient appointments requires exactly one <dni>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				views, err := be.services.Appointments.ForPatient(ctx, args[0])
				if err != nil {
					return err
				}
				return printAppointments(deps, views)
			})
		},
	}
}

func printPatient(deps commandDeps, be *backend, p storage.Patient) error {
	now := be.clock.Now()
	if deps.globals.JSON {
		return printJSON(deps.out, toPatientOutput(p, now))
	}
	if deps.globals.Quiet {
		return nil
	}
	_, err := fmt.Fprintf(
		deps.out,
		"dni=%s name=%q age=%d blood_type=%s phone=%s address=%q\n",
		p.DNI,
		p.FullName(),
		p.Age(now),
		p.BloodType,
		p.Phone,
		p.Address,
	)
	return err
}

func newRecordCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Clinical history operations",
		Example: "  wardkeeper record show 45678901\n" +
			"  wardkeeper record diagnosis 45678901 \"Hypertension stage 1\"\n" +
			"  wardkeeper record allergy 45678901 Penicillin",
	}
	cmd.AddCommand(
		newRecordShowCommand(deps),
		newRecordEntryCommand(deps, storage.RecordEntryDiagnosis, "Append a diagnosis"),
		newRecordEntryCommand(deps, storage.RecordEntryTreatment, "Append a treatment"),
		newRecordEntryCommand(deps, storage.RecordEntryAllergy, "Append an allergy"),
	)
	return cmd
}

func newRecordShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <dni>",
		Short: "Show a patient's clinical history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("record show requires exactly one <dni>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				record, err := be.services.Patients.Record(ctx, args[0])
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, toRecordOutput(*record))
				}
				if deps.globals.Quiet {
					return nil
				}
				if _, err := fmt.Fprintf(deps.out, "record %s opened %s\n", record.Number, record.CreatedAt.UTC().Format(displayTimeLayout)); err != nil {
					return err
				}
				if err := printEntries(deps.out, "diagnoses", record.Diagnoses); err != nil {
					return err
				}
				if err := printEntries(deps.out, "treatments", record.Treatments); err != nil {
					return err
				}
				return printEntries(deps.out, "allergies", record.Allergies)
			})
		},
	}
}

func newRecordEntryCommand(deps commandDeps, kind storage.RecordEntryKind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(kind) + " <dni> <text>...",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return usageErrorf("record %s requires <dni> and <text>", kind)
			}
			text := strings.Join(args[1:], " ")
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				entry, err := be.services.Patients.AddEntry(ctx, args[0], kind, text)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, toEntryOutputs([]storage.RecordEntry{*entry})[0])
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "%s added to record of %s\n", kind, args[0])
				return err
			})
		},
	}
}
