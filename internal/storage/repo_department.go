package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type departmentRepository struct {
	db *sql.DB
	clocked
}

func (r *departmentRepository) Create(ctx context.Context, department *Department) error {
	if department == nil {
		return fmt.Errorf("create department: department is nil")
	}
	if department.HospitalID == "" {
		return fmt.Errorf("create department: hospital id is required")
	}
	if department.Name == "" {
		return fmt.Errorf("create department: name is required")
	}

	department.ID = ensureID(department.ID)
	now := r.now()
	department.CreatedAt = now
	department.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO departments(id, hospital_id, name, specialty, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, department.ID, department.HospitalID, department.Name, string(department.Specialty), fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("create department: %w", translateConstraint(err))
	}
	return nil
}

func (r *departmentRepository) Get(ctx context.Context, hospitalID, name string) (*Department, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, hospital_id, name, specialty, created_at, updated_at
		FROM departments
		WHERE hospital_id = ? AND name = ?
	`, hospitalID, name)
	return r.scanOne(row)
}

func (r *departmentRepository) GetByID(ctx context.Context, id string) (*Department, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, hospital_id, name, specialty, created_at, updated_at
		FROM departments
		WHERE id = ?
	`, id)
	return r.scanOne(row)
}

func (r *departmentRepository) scanOne(row *sql.Row) (*Department, error) {
	department, err := scanDepartment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get department: %w", err)
	}
	return department, nil
}

func (r *departmentRepository) List(ctx context.Context, filter DepartmentFilter) ([]Department, error) {
	query := `
		SELECT id, hospital_id, name, specialty, created_at, updated_at
		FROM departments
		WHERE 1=1
	`
	args := []any{}
	if filter.HospitalID != "" {
		query += ` AND hospital_id = ? `
		args = append(args, filter.HospitalID)
	}
	if filter.Specialty != "" {
		query += ` AND specialty = ? `
		args = append(args, string(filter.Specialty))
	}
	query += ` ORDER BY name ASC `

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	out := []Department{}
	for rows.Next() {
		department, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("list departments: %w", err)
		}
		out = append(out, *department)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list departments: iterate: %w", err)
	}
	return out, nil
}

func scanDepartment(scanner rowScanner) (*Department, error) {
	var (
		department Department
		specialty  string
		created    string
		updated    string
	)
	if err := scanner.Scan(&department.ID, &department.HospitalID, &department.Name, &specialty, &created, &updated); err != nil {
		return nil, err
	}
	department.Specialty = Specialty(specialty)
	var err error
	if department.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if department.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &department, nil
}
