package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type appointmentRepository struct {
	db *sql.DB
	clocked
}

const appointmentColumns = `id, patient_id, doctor_id, room_id, at, cost, notes, status, created_at, updated_at`

// CreateIfAvailable inserts the appointment unless the doctor or the room
// already has a non-cancelled appointment within buffer of its time, bounds
// inclusive. The check and the insert share one write transaction.
func (r *appointmentRepository) CreateIfAvailable(ctx context.Context, appointment *Appointment, buffer time.Duration) error {
	if appointment == nil {
		return fmt.Errorf("create appointment: appointment is nil")
	}
	if appointment.PatientID == "" || appointment.DoctorID == "" || appointment.RoomID == "" {
		return fmt.Errorf("create appointment: patient, doctor and room ids are required")
	}
	if appointment.At.IsZero() {
		return fmt.Errorf("create appointment: time is required")
	}

	appointment.ID = ensureID(appointment.ID)
	if appointment.Status == "" {
		appointment.Status = AppointmentScheduled
	}
	now := r.now()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create appointment: begin tx: %w", err)
	}
	defer rollback(tx)

	lower := fmtTime(appointment.At.Add(-buffer))
	upper := fmtTime(appointment.At.Add(buffer))

	busy, err := countOverlapping(ctx, tx, "doctor_id", appointment.DoctorID, lower, upper)
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	if busy > 0 {
		return ErrDoctorBusy
	}

	busy, err = countOverlapping(ctx, tx, "room_id", appointment.RoomID, lower, upper)
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	if busy > 0 {
		return ErrRoomBusy
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO appointments(`+appointmentColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		appointment.ID,
		appointment.PatientID,
		appointment.DoctorID,
		appointment.RoomID,
		fmtTime(appointment.At),
		appointment.Cost.String(),
		appointment.Notes,
		string(appointment.Status),
		fmtTime(now),
		fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("create appointment: insert: %w", translateConstraint(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create appointment: commit: %w", err)
	}
	return nil
}

func countOverlapping(ctx context.Context, tx *sql.Tx, column, id, lower, upper string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE `+column+` = ? AND status <> ? AND at BETWEEN ? AND ?
	`, id, string(AppointmentCancelled), lower, upper).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count appointments by %s: %w", column, err)
	}
	return count, nil
}

func (r *appointmentRepository) Get(ctx context.Context, id string) (*Appointment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = ?
	`, id)

	appointment, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appointment, nil
}

func (r *appointmentRepository) List(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE 1=1
	`
	args := make([]any, 0, 4)
	if filter.From != nil {
		query += ` AND at >= ? `
		args = append(args, fmtTime(*filter.From))
	}
	if filter.To != nil {
		query += ` AND at <= ? `
		args = append(args, fmtTime(*filter.To))
	}
	if filter.Status != "" {
		query += ` AND status = ? `
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY at ASC LIMIT ? `
	args = append(args, limit)

	return r.query(ctx, "list appointments", query, args...)
}

// ListByPatient returns the patient's appointments, newest first.
func (r *appointmentRepository) ListByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	return r.query(ctx, "list patient appointments", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = ?
		ORDER BY at DESC
	`, patientID)
}

// ListByDoctor returns the doctor's appointments, oldest first.
func (r *appointmentRepository) ListByDoctor(ctx context.Context, doctorID string) ([]Appointment, error) {
	return r.query(ctx, "list doctor appointments", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = ?
		ORDER BY at ASC
	`, doctorID)
}

// ListStale returns scheduled appointments whose time is before the cutoff.
func (r *appointmentRepository) ListStale(ctx context.Context, before time.Time) ([]Appointment, error) {
	return r.query(ctx, "list stale appointments", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ? AND at < ?
		ORDER BY at ASC
	`, string(AppointmentScheduled), fmtTime(before))
}

// UpdateStatus moves the appointment from one status to another. It fails with
// ErrConflict when the stored status is no longer from.
func (r *appointmentRepository) UpdateStatus(ctx context.Context, id string, from, to AppointmentStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE appointments
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), fmtTime(r.now()), id, string(from))
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update appointment status: rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("update appointment status: %w: status is no longer %s", ErrConflict, from)
}

func (r *appointmentRepository) query(ctx context.Context, op, query string, args ...any) ([]Appointment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []Appointment{}
	for rows.Next() {
		appointment, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *appointment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return out, nil
}

func scanAppointment(scanner rowScanner) (*Appointment, error) {
	var (
		appointment Appointment
		at          string
		cost        string
		status      string
		created     string
		updated     string
	)
	if err := scanner.Scan(
		&appointment.ID,
		&appointment.PatientID,
		&appointment.DoctorID,
		&appointment.RoomID,
		&at,
		&cost,
		&appointment.Notes,
		&status,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}

	appointment.Status = AppointmentStatus(status)

	var err error
	if appointment.Cost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("parse cost %q: %w", cost, err)
	}
	if appointment.At, err = parseTime(at); err != nil {
		return nil, err
	}
	if appointment.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if appointment.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &appointment, nil
}
