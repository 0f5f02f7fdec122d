package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type auditRepository struct {
	db *sql.DB
	clocked
}

// ChainLink builds the next audit event from the tip it must extend. The
// returned event carries PrevHash and EventHash; EventHash becomes the new tip.
type ChainLink func(prevTip string) (*AuditEvent, error)

// Append runs link against the stored tip and persists the event and the new
// tip in one write transaction, so writers sharing the file never fork the chain.
func (r *auditRepository) Append(ctx context.Context, link ChainLink) (*AuditEvent, error) {
	if link == nil {
		return nil, fmt.Errorf("append audit event: link is nil")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append audit event: begin tx: %w", err)
	}
	defer rollback(tx)

	var tip string
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, auditChainTipMetaKey).Scan(&tip)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("append audit event: read chain tip: %w", err)
	}

	event, err := link(tip)
	if err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	switch {
	case event == nil:
		return nil, fmt.Errorf("append audit event: event is nil")
	case event.Action == "":
		return nil, fmt.Errorf("append audit event: action is required")
	case event.EventHash == "":
		return nil, fmt.Errorf("append audit event: event hash is required")
	case event.PrevHash != tip:
		return nil, fmt.Errorf("append audit event: %w: event links %q, tip is %q", ErrConflict, event.PrevHash, tip)
	}
	event.ID = ensureID(event.ID)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now()
	}
	if event.DetailsJSON == "" {
		event.DetailsJSON = "{}"
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events(
			id, actor, action, target_type, target_id, result, details_json, prev_hash, event_hash, created_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Actor, event.Action, event.TargetType, event.TargetID, event.Result, event.DetailsJSON, event.PrevHash, event.EventHash, fmtTime(event.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key, value) VALUES(?, ?)`, auditChainTipMetaKey, event.EventHash); err != nil {
		return nil, fmt.Errorf("append audit event: write chain tip: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append audit event: commit: %w", err)
	}
	return event, nil
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT id, actor, action, target_type, target_id, result, details_json, prev_hash, event_hash, created_at
		FROM audit_events
		WHERE 1=1
	`
	args := make([]any, 0, 5)
	if filter.Action != "" {
		query += ` AND action = ? `
		args = append(args, filter.Action)
	}
	if filter.TargetID != "" {
		query += ` AND target_id = ? `
		args = append(args, filter.TargetID)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ? `
		args = append(args, fmtTime(*filter.Since))
	}
	if filter.Until != nil {
		query += ` AND created_at <= ? `
		args = append(args, fmtTime(*filter.Until))
	}
	query += ` ORDER BY rowid ASC LIMIT ? `
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		var (
			event   AuditEvent
			created string
		)
		if err := rows.Scan(
			&event.ID,
			&event.Actor,
			&event.Action,
			&event.TargetType,
			&event.TargetID,
			&event.Result,
			&event.DetailsJSON,
			&event.PrevHash,
			&event.EventHash,
			&created,
		); err != nil {
			return nil, fmt.Errorf("list audit events: scan row: %w", err)
		}
		event.CreatedAt, err = parseTime(created)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: iterate: %w", err)
	}
	return events, nil
}

func (r *auditRepository) ChainTip(ctx context.Context) (string, error) {
	var tip string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, auditChainTipMetaKey).Scan(&tip)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read audit chain tip: %w", err)
	}
	return tip, nil
}
