package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

type Options struct {
	BusyTimeout time.Duration
	// Clock stamps row timestamps. Nil means wall time.
	Clock clockwork.Clock
}

type Store struct {
	db   *sql.DB
	path string

	Hospitals    HospitalRepository
	Departments  DepartmentRepository
	Rooms        RoomRepository
	Doctors      DoctorRepository
	Patients     PatientRepository
	Records      RecordRepository
	Appointments AppointmentRepository
	Audit        AuditRepository
}

func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open storage: empty path")
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open storage: create parent dir: %w", err)
	}

	db, err := sql.Open("sqlite", dataSourceName(path, opts))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	if err := RunMigrations(db, DefaultMigrations()); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureDBPermissions(path); err != nil {
		_ = db.Close()
		return nil, err
	}

	stamp := clocked{clock: opts.Clock}
	store := &Store{db: db, path: path}
	store.Hospitals = &hospitalRepository{db: db, clocked: stamp}
	store.Departments = &departmentRepository{db: db, clocked: stamp}
	store.Rooms = &roomRepository{db: db, clocked: stamp}
	store.Doctors = &doctorRepository{db: db, clocked: stamp}
	store.Patients = &patientRepository{db: db, clocked: stamp}
	store.Records = &recordRepository{db: db, clocked: stamp}
	store.Appointments = &appointmentRepository{db: db, clocked: stamp}
	store.Audit = &auditRepository{db: db, clocked: stamp}

	return store, nil
}

// dataSourceName applies pragmas per connection; immediate transactions take
// the write lock at BEGIN so availability checks and inserts cannot interleave.
func dataSourceName(path string, opts Options) string {
	query := url.Values{}
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "foreign_keys(1)")
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	query.Set("_txlock", "immediate")
	return "file:" + path + "?" + query.Encode()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ping storage: store is closed")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping storage: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the database to dest. dest must not exist.
func (s *Store) Backup(ctx context.Context, dest string) error {
	if dest == "" {
		return fmt.Errorf("backup storage: empty destination")
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup storage: %s: %w", dest, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("backup storage: stat destination: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return fmt.Errorf("backup storage: create parent dir: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("backup storage: %w", err)
	}
	if err := os.Chmod(dest, 0o600); err != nil {
		return fmt.Errorf("backup storage: set permissions: %w", err)
	}
	return nil
}

func ensureDBPermissions(path string) error {
	if err := os.Chmod(path, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set db file permissions: %w", err)
		}
	}

	walPath := path + "-wal"
	if err := os.Chmod(walPath, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set wal file permissions: %w", err)
		}
	}
	return nil
}
