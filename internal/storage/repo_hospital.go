package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type hospitalRepository struct {
	db *sql.DB
	clocked
}

func (r *hospitalRepository) Create(ctx context.Context, hospital *Hospital) error {
	if hospital == nil {
		return fmt.Errorf("create hospital: hospital is nil")
	}
	if hospital.Name == "" {
		return fmt.Errorf("create hospital: name is required")
	}

	hospital.ID = ensureID(hospital.ID)
	now := r.now()
	hospital.CreatedAt = now
	hospital.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hospitals(id, name, address, phone, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, hospital.ID, hospital.Name, hospital.Address, hospital.Phone, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("create hospital: %w", translateConstraint(err))
	}
	return nil
}

func (r *hospitalRepository) Get(ctx context.Context, name string) (*Hospital, error) {
	return r.getWhere(ctx, `name = ?`, name)
}

func (r *hospitalRepository) GetByID(ctx context.Context, id string) (*Hospital, error) {
	return r.getWhere(ctx, `id = ?`, id)
}

func (r *hospitalRepository) getWhere(ctx context.Context, clause string, arg any) (*Hospital, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, address, phone, created_at, updated_at
		FROM hospitals
		WHERE `+clause, arg)

	hospital, err := scanHospital(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get hospital: %w", err)
	}
	return hospital, nil
}

func (r *hospitalRepository) List(ctx context.Context) ([]Hospital, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, address, phone, created_at, updated_at
		FROM hospitals
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	defer rows.Close()

	out := []Hospital{}
	for rows.Next() {
		hospital, err := scanHospital(rows)
		if err != nil {
			return nil, fmt.Errorf("list hospitals: %w", err)
		}
		out = append(out, *hospital)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list hospitals: iterate: %w", err)
	}
	return out, nil
}

func scanHospital(scanner rowScanner) (*Hospital, error) {
	var (
		hospital Hospital
		created  string
		updated  string
	)
	if err := scanner.Scan(&hospital.ID, &hospital.Name, &hospital.Address, &hospital.Phone, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if hospital.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if hospital.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &hospital, nil
}
