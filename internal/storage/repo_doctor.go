package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type doctorRepository struct {
	db *sql.DB
	clocked
}

const doctorColumns = `id, first_name, last_name, dni, birth_date, blood_type, license, specialty, department_id, created_at, updated_at, deleted_at`

func (r *doctorRepository) Create(ctx context.Context, doctor *Doctor) error {
	if doctor == nil {
		return fmt.Errorf("create doctor: doctor is nil")
	}
	if doctor.License == "" {
		return fmt.Errorf("create doctor: license is required")
	}

	doctor.ID = ensureID(doctor.ID)
	now := r.now()
	doctor.CreatedAt = now
	doctor.UpdatedAt = now
	doctor.DeletedAt = nil

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO doctors(`+doctorColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`,
		doctor.ID,
		doctor.FirstName,
		doctor.LastName,
		doctor.DNI,
		fmtDate(doctor.BirthDate),
		string(doctor.BloodType),
		doctor.License,
		string(doctor.Specialty),
		nullableString(doctor.DepartmentID),
		fmtTime(now),
		fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("create doctor: %w", translateConstraint(err))
	}
	return nil
}

func (r *doctorRepository) Get(ctx context.Context, license string) (*Doctor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE license = ? AND deleted_at IS NULL
	`, license)
	return r.scanOne(row)
}

func (r *doctorRepository) GetByID(ctx context.Context, id string) (*Doctor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = ?
	`, id)
	return r.scanOne(row)
}

func (r *doctorRepository) scanOne(row *sql.Row) (*Doctor, error) {
	doctor, err := scanDoctor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return doctor, nil
}

func (r *doctorRepository) List(ctx context.Context, filter DoctorFilter) ([]Doctor, error) {
	query := `
		SELECT ` + doctorColumns + `
		FROM doctors
		WHERE deleted_at IS NULL
	`
	args := []any{}
	if filter.Specialty != "" {
		query += ` AND specialty = ? `
		args = append(args, string(filter.Specialty))
	}
	if filter.DepartmentID != "" {
		query += ` AND department_id = ? `
		args = append(args, filter.DepartmentID)
	}
	query += ` ORDER BY last_name ASC, first_name ASC `

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	out := []Doctor{}
	for rows.Next() {
		doctor, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("list doctors: %w", err)
		}
		out = append(out, *doctor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list doctors: iterate: %w", err)
	}
	return out, nil
}

func (r *doctorRepository) SetDepartment(ctx context.Context, doctorID, departmentID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE doctors
		SET department_id = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, nullableString(departmentID), fmtTime(r.now()), doctorID)
	if err != nil {
		return fmt.Errorf("set doctor department: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set doctor department: rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes the doctor and cancels their scheduled appointments at
// or after cancelFrom. It returns the number of cancelled appointments.
func (r *doctorRepository) Delete(ctx context.Context, license string, cancelFrom time.Time) (int, error) {
	return softDeleteWithAppointments(ctx, r.db, "doctors", "license", "doctor_id", license, r.now(), cancelFrom)
}

// softDeleteWithAppointments marks the live row matching keyColumn as deleted
// and cancels its future scheduled appointments in one transaction.
func softDeleteWithAppointments(ctx context.Context, db *sql.DB, table, keyColumn, fkColumn, key string, deletedAt, cancelFrom time.Time) (int, error) {
	op := "delete " + table[:len(table)-1]

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer rollback(tx)

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE `+keyColumn+` = ? AND deleted_at IS NULL`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("%s: lookup: %w", op, err)
	}

	now := fmtTime(deletedAt)
	if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, id); err != nil {
		return 0, fmt.Errorf("%s: mark deleted: %w", op, err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE appointments
		SET status = ?, updated_at = ?
		WHERE `+fkColumn+` = ? AND status = ? AND at >= ?
	`, string(AppointmentCancelled), now, id, string(AppointmentScheduled), fmtTime(cancelFrom))
	if err != nil {
		return 0, fmt.Errorf("%s: cancel appointments: %w", op, err)
	}
	cancelled, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", op, err)
	}
	return int(cancelled), nil
}

func scanDoctor(scanner rowScanner) (*Doctor, error) {
	var (
		doctor     Doctor
		birthDate  string
		bloodType  string
		specialty  string
		department sql.NullString
		created    string
		updated    string
		deleted    sql.NullString
	)
	if err := scanner.Scan(
		&doctor.ID,
		&doctor.FirstName,
		&doctor.LastName,
		&doctor.DNI,
		&birthDate,
		&bloodType,
		&doctor.License,
		&specialty,
		&department,
		&created,
		&updated,
		&deleted,
	); err != nil {
		return nil, err
	}

	doctor.BloodType = BloodType(bloodType)
	doctor.Specialty = Specialty(specialty)
	doctor.DepartmentID = department.String

	var err error
	if doctor.BirthDate, err = parseDate(birthDate); err != nil {
		return nil, err
	}
	if doctor.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if doctor.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if doctor.DeletedAt, err = parseNullableTime(deleted); err != nil {
		return nil, err
	}
	return &doctor, nil
}
