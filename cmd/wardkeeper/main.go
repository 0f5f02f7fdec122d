package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/amanthanvi/wardkeeper/internal/cli"
	"github.com/amanthanvi/wardkeeper/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand(os.Stdout, cli.BuildInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		BuildTime: version.BuildTime,
	})
	cmd.SetErr(os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		_, _ = os.Stderr.WriteString("wardkeeper: " + err.Error() + "\n")
		var withExitCode interface{ ExitCode() int }
		if errors.As(err, &withExitCode) {
			os.Exit(withExitCode.ExitCode())
		}
		os.Exit(cli.ExitCodeGeneric)
	}
}
