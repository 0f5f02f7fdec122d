package app

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/storage"
)

const (
	backupFormatVersion = 1

	backupDBFileName       = "wardkeeper.db"
	backupConfigFileName   = "config.toml"
	backupManifestFileName = "manifest.json"

	// maxBackupFileSize caps backup archive reads at 1 GiB.
	maxBackupFileSize = 1 << 30

	maxTarEntrySize = 768 << 20
)

type BackupCreateRequest struct {
	OutputPath string
	// ConfigPath, when set and present, is archived next to the database.
	ConfigPath string
}

type BackupRestoreRequest struct {
	InputPath  string
	TargetPath string
}

type BackupManifest struct {
	Version       int                           `json:"version"`
	CreatedAt     string                        `json:"created_at"`
	SchemaVersion int                           `json:"schema_version"`
	Files         map[string]BackupManifestFile `json:"files"`
}

type BackupManifestFile struct {
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

type BackupService struct {
	store *storage.Store
	deps  Deps
}

func NewBackupService(store *storage.Store, deps Deps) *BackupService {
	return &BackupService{store: store, deps: deps.withDefaults()}
}

// Create writes a gzip'd tar holding a consistent database snapshot, an
// optional config file and a manifest of SHA-256 checksums.
func (s *BackupService) Create(ctx context.Context, req BackupCreateRequest) (*BackupManifest, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("create backup: store is nil")
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return nil, fmt.Errorf("%w: output path is required", ErrValidation)
	}
	if _, err := os.Stat(req.OutputPath); err == nil {
		return nil, fmt.Errorf("%w: output %s already exists", ErrValidation, req.OutputPath)
	}

	snapshotDir, err := os.MkdirTemp("", "wardkeeper-backup-*")
	if err != nil {
		return nil, fmt.Errorf("create backup: temp dir: %w", err)
	}
	defer os.RemoveAll(snapshotDir)

	snapshotPath := filepath.Join(snapshotDir, backupDBFileName)
	if err := s.store.Backup(ctx, snapshotPath); err != nil {
		return nil, fmt.Errorf("create backup: snapshot: %w", err)
	}
	dbBytes, err := os.ReadFile(snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("create backup: read snapshot: %w", err)
	}

	entries := map[string][]byte{
		backupDBFileName: dbBytes,
	}
	if req.ConfigPath != "" {
		configBytes, err := os.ReadFile(req.ConfigPath)
		switch {
		case err == nil:
			entries[backupConfigFileName] = configBytes
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("create backup: read config: %w", err)
		}
	}

	manifest := &BackupManifest{
		Version:       backupFormatVersion,
		CreatedAt:     s.deps.now().Format(time.RFC3339Nano),
		SchemaVersion: storage.CurrentSchemaVersion(),
		Files:         map[string]BackupManifestFile{},
	}
	for name, data := range entries {
		manifest.Files[name] = BackupManifestFile{
			SHA256:    sha256Hex(data),
			SizeBytes: int64(len(data)),
		}
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("create backup: marshal manifest: %w", err)
	}
	entries[backupManifestFileName] = manifestBytes

	payload, err := createTarGzEntries(entries)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o700); err != nil {
		return nil, fmt.Errorf("create backup: create output directory: %w", err)
	}
	if err := os.WriteFile(req.OutputPath, payload, 0o600); err != nil {
		return nil, fmt.Errorf("create backup: write output: %w", err)
	}

	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionBackupCreate,
		TargetType: "backup",
		TargetID:   filepath.Base(req.OutputPath),
		Details:    backupDetails{SizeBytes: int64(len(payload)), SchemaVersion: manifest.SchemaVersion},
	})
	return manifest, nil
}

// Inspect reads a backup archive and verifies every checksum in its manifest.
func (s *BackupService) Inspect(path string) (*BackupManifest, error) {
	manifest, _, err := readBackup(path)
	return manifest, err
}

// Restore writes the archived database to TargetPath, which must not exist.
// The target is opened once so migrations bring an older snapshot forward.
func (s *BackupService) Restore(ctx context.Context, req BackupRestoreRequest) (*BackupManifest, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return nil, fmt.Errorf("%w: input path is required", ErrValidation)
	}
	if strings.TrimSpace(req.TargetPath) == "" {
		return nil, fmt.Errorf("%w: target path is required", ErrValidation)
	}
	if _, err := os.Stat(req.TargetPath); err == nil {
		return nil, fmt.Errorf("%w: target %s already exists", ErrValidation, req.TargetPath)
	}

	manifest, entries, err := readBackup(req.InputPath)
	if err != nil {
		return nil, err
	}
	dbBytes, ok := entries[backupDBFileName]
	if !ok {
		return nil, fmt.Errorf("restore backup: database missing from archive")
	}
	if err := os.MkdirAll(filepath.Dir(req.TargetPath), 0o700); err != nil {
		return nil, fmt.Errorf("restore backup: create target directory: %w", err)
	}
	if err := os.WriteFile(req.TargetPath, dbBytes, 0o600); err != nil {
		return nil, fmt.Errorf("restore backup: write database: %w", err)
	}

	restored, err := storage.Open(req.TargetPath, storage.Options{})
	if err != nil {
		_ = os.Remove(req.TargetPath)
		return nil, fmt.Errorf("restore backup: open restored database: %w", err)
	}
	if err := restored.Close(); err != nil {
		return nil, fmt.Errorf("restore backup: close restored database: %w", err)
	}
	s.deps.Logger.InfoContext(ctx, "backup restored", "target", req.TargetPath, "schema_version", manifest.SchemaVersion)
	return manifest, nil
}

func readBackup(path string) (*BackupManifest, map[string][]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, fmt.Errorf("%w: backup path is required", ErrValidation)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read backup: %w", err)
	}
	if info.Size() > maxBackupFileSize {
		return nil, nil, fmt.Errorf("read backup: file exceeds %d MiB limit", maxBackupFileSize>>20)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read backup: %w", err)
	}

	entries, err := extractTarGzEntries(payload)
	if err != nil {
		return nil, nil, err
	}
	manifestRaw, ok := entries[backupManifestFileName]
	if !ok {
		return nil, nil, fmt.Errorf("read backup: manifest missing")
	}
	var manifest BackupManifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return nil, nil, fmt.Errorf("read backup: decode manifest: %w", err)
	}
	if manifest.Version != backupFormatVersion {
		return nil, nil, fmt.Errorf("read backup: unsupported backup version %d", manifest.Version)
	}
	for name, meta := range manifest.Files {
		data, ok := entries[name]
		if !ok {
			return nil, nil, fmt.Errorf("read backup: missing file %q from archive", name)
		}
		if got := sha256Hex(data); !strings.EqualFold(got, meta.SHA256) {
			return nil, nil, fmt.Errorf("read backup: checksum mismatch for %q", name)
		}
	}
	return &manifest, entries, nil
}

func createTarGzEntries(entries map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		data := entries[name]
		header := &tar.Header{
			Name:    name,
			Mode:    0o600,
			Size:    int64(len(data)),
			ModTime: time.Unix(0, 0).UTC(),
		}
		if err := tw.WriteHeader(header); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			return nil, fmt.Errorf("create tar.gz payload: write header %q: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			_ = tw.Close()
			_ = gz.Close()
			return nil, fmt.Errorf("create tar.gz payload: write file %q: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("create tar.gz payload: close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("create tar.gz payload: close gzip writer: %w", err)
	}
	return out.Bytes(), nil
}

func extractTarGzEntries(payload []byte) (map[string][]byte, error) {
	gzReader, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("extract tar.gz entries: gzip reader: %w", err)
	}
	defer gzReader.Close()

	tr := tar.NewReader(gzReader)
	entries := map[string][]byte{}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extract tar.gz entries: read header: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if header.Size > maxTarEntrySize {
			return nil, fmt.Errorf("extract tar.gz entries: %q exceeds %d MiB entry limit", header.Name, maxTarEntrySize>>20)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxTarEntrySize+1))
		if err != nil {
			return nil, fmt.Errorf("extract tar.gz entries: read %q: %w", header.Name, err)
		}
		if int64(len(data)) > maxTarEntrySize {
			return nil, fmt.Errorf("extract tar.gz entries: %q exceeded size limit during read", header.Name)
		}
		entries[header.Name] = data
	}
	return entries, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type backupDetails struct {
	SizeBytes     int64 `json:"size_bytes"`
	SchemaVersion int   `json:"schema_version"`
}
