package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type roomRepository struct {
	db *sql.DB
	clocked
}

func (r *roomRepository) Create(ctx context.Context, room *Room) error {
	if room == nil {
		return fmt.Errorf("create room: room is nil")
	}
	if room.Number == "" {
		return fmt.Errorf("create room: number is required")
	}
	if room.DepartmentID == "" {
		return fmt.Errorf("create room: department id is required")
	}

	room.ID = ensureID(room.ID)
	now := r.now()
	room.CreatedAt = now
	room.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rooms(id, department_id, number, kind, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, room.ID, room.DepartmentID, room.Number, room.Kind, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("create room: %w", translateConstraint(err))
	}
	return nil
}

func (r *roomRepository) Get(ctx context.Context, number string) (*Room, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, department_id, number, kind, created_at, updated_at
		FROM rooms
		WHERE number = ?
	`, number)
	return r.scanOne(row)
}

func (r *roomRepository) GetByID(ctx context.Context, id string) (*Room, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, department_id, number, kind, created_at, updated_at
		FROM rooms
		WHERE id = ?
	`, id)
	return r.scanOne(row)
}

func (r *roomRepository) scanOne(row *sql.Row) (*Room, error) {
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

func (r *roomRepository) List(ctx context.Context, filter RoomFilter) ([]Room, error) {
	query := `
		SELECT id, department_id, number, kind, created_at, updated_at
		FROM rooms
		WHERE 1=1
	`
	args := []any{}
	if filter.DepartmentID != "" {
		query += ` AND department_id = ? `
		args = append(args, filter.DepartmentID)
	}
	query += ` ORDER BY number ASC `

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	out := []Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}
		out = append(out, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rooms: iterate: %w", err)
	}
	return out, nil
}

func scanRoom(scanner rowScanner) (*Room, error) {
	var (
		room    Room
		created string
		updated string
	)
	if err := scanner.Scan(&room.ID, &room.DepartmentID, &room.Number, &room.Kind, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if room.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if room.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &room, nil
}
