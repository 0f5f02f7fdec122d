package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const (
	schemaVersionMetaKey = "schema_version"
	auditChainTipMetaKey = "audit_chain_tip"
)

type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

var defaultMigrations = []Migration{
	{
		Version:     1,
		Description: "create hospital tables",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				`CREATE TABLE IF NOT EXISTS hospitals (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					address TEXT NOT NULL DEFAULT '',
					phone TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS departments (
					id TEXT PRIMARY KEY,
					hospital_id TEXT NOT NULL,
					name TEXT NOT NULL,
					specialty TEXT NOT NULL,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					UNIQUE (hospital_id, name),
					FOREIGN KEY(hospital_id) REFERENCES hospitals(id)
				)`,
				`CREATE TABLE IF NOT EXISTS rooms (
					id TEXT PRIMARY KEY,
					department_id TEXT NOT NULL,
					number TEXT NOT NULL UNIQUE,
					kind TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					FOREIGN KEY(department_id) REFERENCES departments(id)
				)`,
				`CREATE TABLE IF NOT EXISTS doctors (
					id TEXT PRIMARY KEY,
					first_name TEXT NOT NULL,
					last_name TEXT NOT NULL,
					dni TEXT NOT NULL,
					birth_date TEXT NOT NULL,
					blood_type TEXT NOT NULL,
					license TEXT NOT NULL,
					specialty TEXT NOT NULL,
					department_id TEXT,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					deleted_at TEXT,
					FOREIGN KEY(department_id) REFERENCES departments(id)
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_doctors_license_live ON doctors(license) WHERE deleted_at IS NULL`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_doctors_dni_live ON doctors(dni) WHERE deleted_at IS NULL`,
				`CREATE TABLE IF NOT EXISTS patients (
					id TEXT PRIMARY KEY,
					first_name TEXT NOT NULL,
					last_name TEXT NOT NULL,
					dni TEXT NOT NULL,
					birth_date TEXT NOT NULL,
					blood_type TEXT NOT NULL,
					phone TEXT NOT NULL,
					address TEXT NOT NULL,
					hospital_id TEXT,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					deleted_at TEXT,
					FOREIGN KEY(hospital_id) REFERENCES hospitals(id)
				)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_patients_dni_live ON patients(dni) WHERE deleted_at IS NULL`,
				`CREATE TABLE IF NOT EXISTS medical_records (
					id TEXT PRIMARY KEY,
					patient_id TEXT NOT NULL UNIQUE,
					number TEXT NOT NULL UNIQUE,
					created_at TEXT NOT NULL,
					FOREIGN KEY(patient_id) REFERENCES patients(id) ON DELETE CASCADE
				)`,
				`CREATE TABLE IF NOT EXISTS record_entries (
					id TEXT PRIMARY KEY,
					record_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					text TEXT NOT NULL,
					created_at TEXT NOT NULL,
					FOREIGN KEY(record_id) REFERENCES medical_records(id) ON DELETE CASCADE
				)`,
				`CREATE INDEX IF NOT EXISTS idx_record_entries_record ON record_entries(record_id, kind, created_at)`,
				`CREATE TABLE IF NOT EXISTS appointments (
					id TEXT PRIMARY KEY,
					patient_id TEXT NOT NULL,
					doctor_id TEXT NOT NULL,
					room_id TEXT NOT NULL,
					at TEXT NOT NULL,
					cost TEXT NOT NULL,
					notes TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					FOREIGN KEY(patient_id) REFERENCES patients(id),
					FOREIGN KEY(doctor_id) REFERENCES doctors(id),
					FOREIGN KEY(room_id) REFERENCES rooms(id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_appointments_doctor_at ON appointments(doctor_id, at)`,
				`CREATE INDEX IF NOT EXISTS idx_appointments_room_at ON appointments(room_id, at)`,
				`CREATE INDEX IF NOT EXISTS idx_appointments_patient_at ON appointments(patient_id, at)`,
				`CREATE INDEX IF NOT EXISTS idx_appointments_status_at ON appointments(status, at)`,
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("apply migration v1 statement: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "add audit hash chain",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				`CREATE TABLE IF NOT EXISTS audit_events (
					id TEXT PRIMARY KEY,
					actor TEXT NOT NULL DEFAULT '',
					action TEXT NOT NULL,
					target_type TEXT NOT NULL DEFAULT '',
					target_id TEXT NOT NULL DEFAULT '',
					result TEXT NOT NULL DEFAULT '',
					details_json TEXT NOT NULL DEFAULT '{}',
					prev_hash TEXT NOT NULL DEFAULT '',
					event_hash TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_action_created_at ON audit_events(action, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_target_id_created_at ON audit_events(target_id, created_at)`,
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("apply migration v2 statement: %w", err)
				}
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO meta(key, value) VALUES(?, '')`, auditChainTipMetaKey); err != nil {
				return fmt.Errorf("initialize audit chain tip: %w", err)
			}
			return nil
		},
	},
}

func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

func CurrentSchemaVersion() int {
	return maxMigrationVersion(defaultMigrations)
}

func RunMigrations(db *sql.DB, migrations []Migration) error {
	if db == nil {
		return fmt.Errorf("run migrations: db is nil")
	}

	if err := ensureMigrationTables(db); err != nil {
		return err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	current, err := readSchemaVersion(db)
	if err != nil {
		return err
	}

	maxVersion := maxMigrationVersion(ordered)
	if current > maxVersion {
		return fmt.Errorf("%w: db=%d code=%d", ErrSchemaTooNew, current, maxVersion)
	}

	for _, migration := range ordered {
		if migration.Version <= current {
			continue
		}
		if err := applyMigration(db, migration); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", migration.Version, err)
	}
	defer rollback(tx)

	if err := migration.Up(tx); err != nil {
		return fmt.Errorf("migration v%d (%s): %w", migration.Version, migration.Description, err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_migrations(version, applied_at) VALUES (?, ?)`, migration.Version, fmtTime(time.Now())); err != nil {
		return fmt.Errorf("record schema migration v%d: %w", migration.Version, err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES(?, ?)`, schemaVersionMetaKey, strconv.Itoa(migration.Version)); err != nil {
		return fmt.Errorf("update schema version v%d: %w", migration.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", migration.Version, err)
	}
	return nil
}

func ensureMigrationTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`,
		`INSERT OR IGNORE INTO meta(key, value) VALUES('` + schemaVersionMetaKey + `', '0')`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure migration tables: %w", err)
		}
	}
	return nil
}

func readSchemaVersion(db *sql.DB) (int, error) {
	var versionStr string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, schemaVersionMetaKey).Scan(&versionStr); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", versionStr, err)
	}
	return version, nil
}

func maxMigrationVersion(migrations []Migration) int {
	max := 0
	for _, migration := range migrations {
		if migration.Version > max {
			max = migration.Version
		}
	}
	return max
}
