package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactionClinicalFields(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"dni", "phone", "address", "birth_date", "diagnosis", "treatment", "allergy", "notes"} {
		out := logSingleField(t, key, "sensitive")
		require.Equalf(t, "[REDACTED]", out[key], "field %s", key)
	}
}

func TestRedactionIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	out := logSingleField(t, "DNI", "30111222")
	require.Equal(t, "[REDACTED]", out["DNI"])
}

func TestRedactionInsideGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("patient created", slog.Group("patient", slog.String("dni", "30111222"), slog.String("id", "p-1")))

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	group := out["patient"].(map[string]any)
	require.Equal(t, "[REDACTED]", group["dni"])
	require.Equal(t, "p-1", group["id"])
}

func TestRedactionAppliesToWithAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil))).With("phone", "261-111-2222")
	logger.Info("contact updated")

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	require.Equal(t, "[REDACTED]", out["phone"])
}

func TestNonSensitiveFieldsPassThrough(t *testing.T) {
	t.Parallel()
	out := logSingleField(t, "license", "MP-12345")
	require.Equal(t, "MP-12345", out["license"])
}

func TestCorrelationHandlerAddsID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))
	ctx := WithCorrelationID(context.Background(), "abcd1234")
	logger.InfoContext(ctx, "scheduled")

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	require.Equal(t, "abcd1234", out["correlation_id"])
}

func TestCorrelationHandlerWithoutID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(context.Background(), "scheduled")

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	_, present := out["correlation_id"]
	require.False(t, present)
}

func TestNewCorrelationIDIsEightHexChars(t *testing.T) {
	t.Parallel()

	id := NewCorrelationID()
	require.Len(t, id, 8)
	require.NotEqual(t, id, NewCorrelationID())
}

func TestNewLoggerJSONRedactsAndCorrelates(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "debug", Format: "json", Output: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer.Close() })

	logger.DebugContext(WithCorrelationID(context.Background(), "feedbeef"), "patient lookup", "dni", "30111222")

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	require.Equal(t, "[REDACTED]", out["dni"])
	require.Equal(t, "feedbeef", out["correlation_id"])
	require.Equal(t, "DEBUG", out["level"])
}

func TestNewLoggerRejectsUnknownLevelAndFormat(t *testing.T) {
	t.Parallel()

	_, _, err := New(Options{Level: "loud"})
	require.Error(t, err)

	_, _, err = New(Options{Format: "xml"})
	require.Error(t, err)
}

func TestNewLoggerWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "wardkeeper.log")
	logger, closer, err := New(Options{Format: "text", File: path})
	require.NoError(t, err)

	logger.Info("started")
	require.NoError(t, closer.Close())

	files, err := filepath.Glob(path)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestLogRotationCreatesNewFileAfterTenMiB(t *testing.T) {
	logDir := t.TempDir()
	logPath := filepath.Join(logDir, "wardkeeper.log")

	writer, err := NewRotatingWriter(RotationConfig{
		File:      logPath,
		MaxSizeMB: 10,
		MaxFiles:  5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	chunk := bytes.Repeat([]byte("a"), 1024*1024)
	for i := 0; i < 11; i++ {
		_, err = writer.Write(chunk)
		require.NoError(t, err)
	}

	files, err := filepath.Glob(filepath.Join(logDir, "wardkeeper*"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 2)
}

func TestRotatingWriterRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := NewRotatingWriter(RotationConfig{})
	require.Error(t, err)
}

func logSingleField(t *testing.T, key, value string) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewRedactingHandler(base))
	logger.Info("test", key, value)

	line := bytes.TrimSpace(buf.Bytes())
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(line, &out))
	return out
}
