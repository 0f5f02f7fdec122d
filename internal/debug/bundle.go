// Package debug assembles the support bundle an operator attaches to a bug report.
package debug

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
)

type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Bundle struct {
	GeneratedAt string         `json:"generated_at"`
	GOOS        string         `json:"goos"`
	GOARCH      string         `json:"goarch"`
	GoVersion   string         `json:"go_version"`
	Version     map[string]any `json:"version,omitempty"`
	Database    map[string]any `json:"database,omitempty"`
	Checks      []Check        `json:"checks,omitempty"`
	Notes       []string       `json:"notes,omitempty"`
}

func NewBundle(clock clockwork.Clock) Bundle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Bundle{
		GeneratedAt: clock.Now().UTC().Format(time.RFC3339Nano),
		GOOS:        runtime.GOOS,
		GOARCH:      runtime.GOARCH,
		GoVersion:   runtime.Version(),
	}
}

// AddCheck records the outcome of a probe. A nil err is a pass.
func (b *Bundle) AddCheck(name string, err error) {
	check := Check{Name: name, OK: err == nil, Message: "ok"}
	if err != nil {
		check.Message = err.Error()
	}
	b.Checks = append(b.Checks, check)
}

func (b Bundle) Healthy() bool {
	for _, check := range b.Checks {
		if !check.OK {
			return false
		}
	}
	return true
}

// WriteBundle refuses to overwrite an existing file so an earlier bundle is never lost.
func WriteBundle(outputPath string, bundle Bundle) error {
	if outputPath == "" {
		return fmt.Errorf("write debug bundle: output path is required")
	}
	if _, err := os.Stat(outputPath); err == nil {
		return fmt.Errorf("write debug bundle: %w", os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("write debug bundle: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o700); err != nil {
		return fmt.Errorf("write debug bundle: create output directory: %w", err)
	}

	payload, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("write debug bundle: marshal json: %w", err)
	}
	if err := os.WriteFile(outputPath, payload, 0o600); err != nil {
		return fmt.Errorf("write debug bundle: %w", err)
	}
	return nil
}
