package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/amanthanvi/wardkeeper/internal/app"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/spf13/cobra"
)

func newHospitalCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hospital",
		Short: "Hospital management",
		Example: "  wardkeeper hospital add --name \"Hospital Central\" --address \"Av. Siempre Viva 742\"\n" +
			"  wardkeeper hospital ls",
	}
	cmd.AddCommand(
		newHospitalAddCommand(deps),
		newHospitalListCommand(deps),
		newHospitalShowCommand(deps),
	)
	return cmd
}

func newHospitalAddCommand(deps commandDeps) *cobra.Command {
	var req app.CreateHospitalRequest

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("hospital add does not accept positional arguments")
			}
			if strings.TrimSpace(req.Name) == "" {
				return usageErrorf("hospital add requires --name")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				hospital, err := be.services.Hospitals.Create(ctx, req)
				if err != nil {
					return err
				}
				return printHospital(deps, *hospital)
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Hospital name")
	cmd.Flags().StringVar(&req.Address, "address", "", "Street address")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "Contact phone")
	return cmd
}

func newHospitalListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List hospitals",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("hospital ls does not accept positional arguments")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				hospitals, err := be.services.Hospitals.List(ctx)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					out := make([]hospitalOutput, 0, len(hospitals))
					for _, h := range hospitals {
						out = append(out, toHospitalOutput(h))
					}
					return printJSON(deps.out, out)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, h := range hospitals {
					if _, err := fmt.Fprintf(deps.out, "%s\t%s\n", h.Name, h.Address); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newHospitalShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("hospital show requires exactly one <name>")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				hospital, err := be.services.Hospitals.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printHospital(deps, *hospital)
			})
		},
	}
}

func printHospital(deps commandDeps, h storage.Hospital) error {
	if deps.globals.JSON {
		return printJSON(deps.out, toHospitalOutput(h))
	}
	if deps.globals.Quiet {
		return nil
	}
	_, err := fmt.Fprintf(deps.out, "id=%s name=%q address=%q phone=%q\n", h.ID, h.Name, h.Address, h.Phone)
	return err
}

func newDepartmentCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "department",
		Short: "Department management",
		Example: "  wardkeeper department add --hospital \"Hospital Central\" --name Cardiologia --specialty cardiology\n" +
			"  wardkeeper department ls --hospital \"Hospital Central\"",
	}
	cmd.AddCommand(
		newDepartmentAddCommand(deps),
		newDepartmentListCommand(deps),
	)
	return cmd
}

func newDepartmentAddCommand(deps commandDeps) *cobra.Command {
	var (
		hospital  string
		name      string
		specialty string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a department to a hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("department add does not accept positional arguments")
			}
			if strings.TrimSpace(hospital) == "" {
				return usageErrorf("department add requires --hospital")
			}
			if strings.TrimSpace(name) == "" {
				return usageErrorf("department add requires --name")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				department, err := be.services.Departments.Create(ctx, app.CreateDepartmentRequest{
					Hospital:  hospital,
					Name:      name,
					Specialty: storage.Specialty(specialty),
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, toDepartmentOutput(*department))
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "department added: %s (%s)\n", department.Name, department.Specialty)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&hospital, "hospital", "", "Hospital name")
	cmd.Flags().StringVar(&name, "name", "", "Department name")
	cmd.Flags().StringVar(&specialty, "specialty", "", "Medical specialty, e.g. cardiology")
	return cmd
}

func newDepartmentListCommand(deps commandDeps) *cobra.Command {
	var (
		hospital  string
		specialty string
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("department ls does not accept positional arguments")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				departments, err := be.services.Departments.List(ctx, hospital, storage.Specialty(specialty))
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					out := make([]departmentOutput, 0, len(departments))
					for _, d := range departments {
						out = append(out, toDepartmentOutput(d))
					}
					return printJSON(deps.out, out)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, d := range departments {
					if _, err := fmt.Fprintf(deps.out, "%s\t%s\n", d.Name, d.Specialty); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hospital, "hospital", "", "Only departments of this hospital")
	cmd.Flags().StringVar(&specialty, "specialty", "", "Only departments of this specialty")
	return cmd
}

func newRoomCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Room management",
		Example: "  wardkeeper room add --hospital \"Hospital Central\" --department Cardiologia --number C-101\n" +
			"  wardkeeper room ls",
	}
	cmd.AddCommand(
		newRoomAddCommand(deps),
		newRoomListCommand(deps),
	)
	return cmd
}

func newRoomAddCommand(deps commandDeps) *cobra.Command {
	var req app.CreateRoomRequest

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a room to a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("room add does not accept positional arguments")
			}
			if strings.TrimSpace(req.Number) == "" {
				return usageErrorf("room add requires --number")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				room, err := be.services.Rooms.Create(ctx, req)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, toRoomOutput(*room))
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "room added: %s\n", room.Number)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&req.Hospital, "hospital", "", "Hospital name")
	cmd.Flags().StringVar(&req.Department, "department", "", "Department name")
	cmd.Flags().StringVar(&req.Number, "number", "", "Room number")
	cmd.Flags().StringVar(&req.Kind, "kind", "", "Room kind, e.g. consulting room")
	return cmd
}

func newRoomListCommand(deps commandDeps) *cobra.Command {
	var (
		hospital   string
		department string
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("room ls does not accept positional arguments")
			}
			if department != "" && hospital == "" {
				return usageErrorf("room ls --department requires --hospital")
			}
			return withServices(cmd.Context(), deps, func(ctx context.Context, be *backend) error {
				rooms, err := be.services.Rooms.List(ctx, hospital, department)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					out := make([]roomOutput, 0, len(rooms))
					for _, r := range rooms {
						out = append(out, toRoomOutput(r))
					}
					return printJSON(deps.out, out)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, r := range rooms {
					if _, err := fmt.Fprintf(deps.out, "%s\t%s\n", r.Number, r.Kind); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hospital, "hospital", "", "Hospital of --department")
	cmd.Flags().StringVar(&department, "department", "", "Only rooms of this department")
	return cmd
}
