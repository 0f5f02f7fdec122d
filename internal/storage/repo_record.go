package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type recordRepository struct {
	db *sql.DB
	clocked
}

func (r *recordRepository) GetByPatientID(ctx context.Context, patientID string) (*MedicalRecord, error) {
	var (
		record  MedicalRecord
		created string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, patient_id, number, created_at
		FROM medical_records
		WHERE patient_id = ?
	`, patientID).Scan(&record.ID, &record.PatientID, &record.Number, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get medical record: %w", err)
	}
	if record.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, text, created_at
		FROM record_entries
		WHERE record_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, record.ID)
	if err != nil {
		return nil, fmt.Errorf("get medical record: entries: %w", err)
	}
	defer rows.Close()

	record.Diagnoses = []RecordEntry{}
	record.Treatments = []RecordEntry{}
	record.Allergies = []RecordEntry{}
	for rows.Next() {
		var (
			entry   RecordEntry
			kind    string
			created string
		)
		if err := rows.Scan(&entry.ID, &kind, &entry.Text, &created); err != nil {
			return nil, fmt.Errorf("get medical record: scan entry: %w", err)
		}
		entry.Kind = RecordEntryKind(kind)
		if entry.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		switch entry.Kind {
		case RecordEntryDiagnosis:
			record.Diagnoses = append(record.Diagnoses, entry)
		case RecordEntryTreatment:
			record.Treatments = append(record.Treatments, entry)
		case RecordEntryAllergy:
			record.Allergies = append(record.Allergies, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get medical record: iterate entries: %w", err)
	}
	return &record, nil
}

func (r *recordRepository) AddEntry(ctx context.Context, recordID string, entry *RecordEntry) error {
	if entry == nil {
		return fmt.Errorf("add record entry: entry is nil")
	}
	if entry.Text == "" {
		return fmt.Errorf("add record entry: text is required")
	}
	switch entry.Kind {
	case RecordEntryDiagnosis, RecordEntryTreatment, RecordEntryAllergy:
	default:
		return fmt.Errorf("add record entry: unknown kind %q", entry.Kind)
	}

	entry.ID = ensureID(entry.ID)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO record_entries(id, record_id, kind, text, created_at)
		VALUES(?, ?, ?, ?, ?)
	`, entry.ID, recordID, string(entry.Kind), entry.Text, fmtTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("add record entry: %w", translateConstraint(err))
	}
	return nil
}
