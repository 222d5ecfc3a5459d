package rule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository is the persistence contract for rule definitions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context) ([]*Rule, error)
	Create(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository stores rules in SQLite. Triggers, nodes, and sinks
// are serialized as JSON columns; the structure is opaque to SQL.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const ruleColumns = "id, name, enabled, triggers, nodes, sinks, version, created_at, updated_at"

// GetByID loads one rule.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Rule, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM rules WHERE id = ?", id)
	return scanRule(row)
}

// List loads all rules.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Rule, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+ruleColumns+" FROM rules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("rule: list: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		ru, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, ru)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rule: list: %w", err)
	}
	return rules, nil
}

// Create inserts a rule.
func (r *SQLiteRepository) Create(ctx context.Context, ru *Rule) error {
	triggers, nodes, sinks, err := marshalRule(ru)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, enabled, triggers, nodes, sinks, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ru.ID, ru.Name, boolToInt(ru.Enabled), triggers, nodes, sinks, ru.Version,
		ru.CreatedAt.UTC().Format(time.RFC3339), ru.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrExists, ru.ID)
		}
		return fmt.Errorf("rule: create: %w", err)
	}
	return nil
}

// Update replaces a rule definition.
func (r *SQLiteRepository) Update(ctx context.Context, ru *Rule) error {
	triggers, nodes, sinks, err := marshalRule(ru)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE rules
		SET name = ?, enabled = ?, triggers = ?, nodes = ?, sinks = ?, version = ?, updated_at = ?
		WHERE id = ?`,
		ru.Name, boolToInt(ru.Enabled), triggers, nodes, sinks, ru.Version,
		ru.UpdatedAt.UTC().Format(time.RFC3339), ru.ID,
	)
	if err != nil {
		return fmt.Errorf("rule: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rule: update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, ru.ID)
	}
	return nil
}

// Delete removes a rule.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("rule: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rule: delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(scanner rowScanner) (*Rule, error) {
	ru := &Rule{}
	var enabled int
	var triggers, nodes, sinks, createdAt, updatedAt string

	err := scanner.Scan(&ru.ID, &ru.Name, &enabled, &triggers, &nodes, &sinks,
		&ru.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rule: scan: %w", err)
	}

	ru.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(triggers), &ru.Triggers); err != nil {
		return nil, fmt.Errorf("rule: scan triggers: %w", err)
	}
	if err := json.Unmarshal([]byte(nodes), &ru.Nodes); err != nil {
		return nil, fmt.Errorf("rule: scan nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(sinks), &ru.Sinks); err != nil {
		return nil, fmt.Errorf("rule: scan sinks: %w", err)
	}
	if ru.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("rule: scan created_at: %w", err)
	}
	if ru.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("rule: scan updated_at: %w", err)
	}
	return ru, nil
}

func marshalRule(ru *Rule) (triggers, nodes, sinks string, err error) {
	tb, err := json.Marshal(ru.Triggers)
	if err != nil {
		return "", "", "", fmt.Errorf("rule: marshal triggers: %w", err)
	}
	nb, err := json.Marshal(ru.Nodes)
	if err != nil {
		return "", "", "", fmt.Errorf("rule: marshal nodes: %w", err)
	}
	sb, err := json.Marshal(ru.Sinks)
	if err != nil {
		return "", "", "", fmt.Errorf("rule: marshal sinks: %w", err)
	}
	return string(tb), string(nb), string(sb), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
