package debug

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestWriteBundleWritesJSONFile(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2030, 3, 10, 8, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "nested", "bundle.json")
	bundle := NewBundle(clock)
	bundle.Version = map[string]any{"version": "1.2.3"}
	bundle.Database = map[string]any{"schema_version": 3}
	bundle.AddCheck("database", nil)

	require.NoError(t, WriteBundle(path, bundle))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Bundle
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, bundle.GOOS, decoded.GOOS)
	require.Equal(t, "2030-03-10T08:00:00Z", decoded.GeneratedAt)
	require.Equal(t, "1.2.3", decoded.Version["version"])
	require.Len(t, decoded.Checks, 1)
	require.True(t, decoded.Checks[0].OK)
}

func TestWriteBundleRequiresOutputPath(t *testing.T) {
	t.Parallel()

	err := WriteBundle("", NewBundle(nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "output path is required")
}

func TestWriteBundleRefusesOverwrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	err := WriteBundle(path, NewBundle(nil))
	require.ErrorIs(t, err, os.ErrExist)
}

func TestBundleHealthyReflectsFailedChecks(t *testing.T) {
	t.Parallel()

	bundle := NewBundle(nil)
	bundle.AddCheck("config", nil)
	require.True(t, bundle.Healthy())

	bundle.AddCheck("audit_chain", errors.New("hash mismatch at event 4"))
	require.False(t, bundle.Healthy())
	require.Equal(t, "hash mismatch at event 4", bundle.Checks[1].Message)
}
