package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type patientRepository struct {
	db *sql.DB
	clocked
}

const patientColumns = `id, first_name, last_name, dni, birth_date, blood_type, phone, address, hospital_id, created_at, updated_at, deleted_at`

// Create inserts the patient and its medical record in one transaction.
func (r *patientRepository) Create(ctx context.Context, patient *Patient, record *MedicalRecord) error {
	if patient == nil {
		return fmt.Errorf("create patient: patient is nil")
	}
	if record == nil {
		return fmt.Errorf("create patient: medical record is nil")
	}
	if patient.DNI == "" {
		return fmt.Errorf("create patient: dni is required")
	}
	if record.Number == "" {
		return fmt.Errorf("create patient: record number is required")
	}

	patient.ID = ensureID(patient.ID)
	now := r.now()
	patient.CreatedAt = now
	patient.UpdatedAt = now
	patient.DeletedAt = nil

	record.ID = ensureID(record.ID)
	record.PatientID = patient.ID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create patient: begin tx: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO patients(`+patientColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`,
		patient.ID,
		patient.FirstName,
		patient.LastName,
		patient.DNI,
		fmtDate(patient.BirthDate),
		string(patient.BloodType),
		patient.Phone,
		patient.Address,
		nullableString(patient.HospitalID),
		fmtTime(now),
		fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("create patient: insert patient: %w", translateConstraint(err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO medical_records(id, patient_id, number, created_at)
		VALUES(?, ?, ?, ?)
	`, record.ID, record.PatientID, record.Number, fmtTime(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("create patient: insert record: %w", translateConstraint(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create patient: commit: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, dni string) (*Patient, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE dni = ? AND deleted_at IS NULL
	`, dni)
	return r.scanOne(row)
}

func (r *patientRepository) GetByID(ctx context.Context, id string) (*Patient, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = ?
	`, id)
	return r.scanOne(row)
}

func (r *patientRepository) scanOne(row *sql.Row) (*Patient, error) {
	patient, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return patient, nil
}

func (r *patientRepository) List(ctx context.Context, filter PatientFilter) ([]Patient, error) {
	query := `
		SELECT ` + patientColumns + `
		FROM patients
		WHERE deleted_at IS NULL
	`
	args := []any{}
	if filter.HospitalID != "" {
		query += ` AND hospital_id = ? `
		args = append(args, filter.HospitalID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := containsPattern(strings.ToLower(search))
		query += ` AND (lower(first_name) LIKE ? ESCAPE '\' OR lower(last_name) LIKE ? ESCAPE '\' OR dni LIKE ? ESCAPE '\') `
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY last_name ASC, first_name ASC `

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	out := []Patient{}
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("list patients: %w", err)
		}
		out = append(out, *patient)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list patients: iterate: %w", err)
	}
	return out, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *Patient) error {
	if patient == nil {
		return fmt.Errorf("update patient: patient is nil")
	}
	if patient.ID == "" {
		return fmt.Errorf("update patient: id is required")
	}

	patient.UpdatedAt = r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE patients
		SET first_name = ?, last_name = ?, phone = ?, address = ?, hospital_id = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`,
		patient.FirstName,
		patient.LastName,
		patient.Phone,
		patient.Address,
		nullableString(patient.HospitalID),
		fmtTime(patient.UpdatedAt),
		patient.ID,
	)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update patient: rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes the patient and cancels their scheduled appointments at
// or after cancelFrom. It returns the number of cancelled appointments.
func (r *patientRepository) Delete(ctx context.Context, dni string, cancelFrom time.Time) (int, error) {
	return softDeleteWithAppointments(ctx, r.db, "patients", "dni", "patient_id", dni, r.now(), cancelFrom)
}

func scanPatient(scanner rowScanner) (*Patient, error) {
	var (
		patient   Patient
		birthDate string
		bloodType string
		hospital  sql.NullString
		created   string
		updated   string
		deleted   sql.NullString
	)
	if err := scanner.Scan(
		&patient.ID,
		&patient.FirstName,
		&patient.LastName,
		&patient.DNI,
		&birthDate,
		&bloodType,
		&patient.Phone,
		&patient.Address,
		&hospital,
		&created,
		&updated,
		&deleted,
	); err != nil {
		return nil, err
	}

	patient.BloodType = BloodType(bloodType)
	patient.HospitalID = hospital.String

	var err error
	if patient.BirthDate, err = parseDate(birthDate); err != nil {
		return nil, err
	}
	if patient.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if patient.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if patient.DeletedAt, err = parseNullableTime(deleted); err != nil {
		return nil, err
	}
	return &patient, nil
}
