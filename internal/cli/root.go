package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"
)

const defaultCommandTimeout = 30 * time.Second

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// GlobalOptions are the persistent flags shared by every command.
type GlobalOptions struct {
	JSON       bool
	Quiet      bool
	NoColor    bool
	Timeout    time.Duration
	DBPath     string
	ConfigPath string
}

type commandDeps struct {
	out     io.Writer
	globals *GlobalOptions
	build   BuildInfo
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &GlobalOptions{}
	deps := commandDeps{out: out, globals: globals, build: build}

	cmd := &cobra.Command{
		Use:   "wardkeeper",
		Short: "Hospital administrative records",
		Long: "wardkeeper keeps hospitals, departments, rooms, doctors, patients,\n" +
			"clinical histories and appointments in an embedded SQLite database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)

	flags := cmd.PersistentFlags()
	flags.BoolVar(&globals.JSON, "json", false, "Print machine-readable JSON")
	flags.BoolVar(&globals.Quiet, "quiet", false, "Suppress non-error output")
	flags.BoolVar(&globals.NoColor, "no-color", false, "Disable colored output")
	flags.DurationVar(&globals.Timeout, "timeout", defaultCommandTimeout, "Per-command timeout")
	flags.StringVar(&globals.DBPath, "db", "", "Database file path (overrides config)")
	flags.StringVar(&globals.ConfigPath, "config", "", "Config file path")

	cmd.AddCommand(
		newInitCommand(deps),
		newServeCommand(deps),
		newVersionCommand(deps),
		newHospitalCommand(deps),
		newDepartmentCommand(deps),
		newRoomCommand(deps),
		newDoctorCommand(deps),
		newPatientCommand(deps),
		newRecordCommand(deps),
		newAppointmentCommand(deps),
		newSeedCommand(deps),
		newExportCommand(deps),
		newBackupCommand(deps),
		newAuditCommand(deps),
		newDebugCommand(deps),
	)
	cmd.InitDefaultCompletionCmd()
	return cmd
}
