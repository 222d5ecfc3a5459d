package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/point"
)

// Repository is the persistence contract for device definitions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Device, error)
	List(ctx context.Context) ([]*Device, error)
	Create(ctx context.Context, d *Device) error
	Update(ctx context.Context, d *Device) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository stores devices and their points in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = "id, name, slug, protocol, config, enabled, poll_interval, created_at, updated_at"

// GetByID loads one device with its points.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadPoints(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// List loads all devices with their points.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Device, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("device: list: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("device: list: %w", err)
	}

	for _, d := range devices {
		if err := r.loadPoints(ctx, d); err != nil {
			return nil, err
		}
	}
	return devices, nil
}

// Create inserts a device and its points in one transaction.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("device: create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (id, name, slug, protocol, config, enabled, poll_interval, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Slug, string(d.Protocol), configText(d.Config),
		boolToInt(d.Enabled), d.PollInterval,
		d.CreatedAt.UTC().Format(time.RFC3339), d.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrExists, d.Slug)
		}
		return fmt.Errorf("device: create: %w", err)
	}

	if err := insertPoints(ctx, tx, d); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("device: create: %w", err)
	}
	return nil
}

// Update replaces a device definition and its point set.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("device: update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE devices
		SET name = ?, slug = ?, protocol = ?, config = ?, enabled = ?, poll_interval = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, d.Slug, string(d.Protocol), configText(d.Config),
		boolToInt(d.Enabled), d.PollInterval,
		d.UpdatedAt.UTC().Format(time.RFC3339), d.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrExists, d.Slug)
		}
		return fmt.Errorf("device: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("device: update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, d.ID)
	}

	// Point sets are small; replace wholesale rather than diffing.
	if _, err := tx.ExecContext(ctx, "DELETE FROM points WHERE device_id = ?", d.ID); err != nil {
		return fmt.Errorf("device: update points: %w", err)
	}
	if err := insertPoints(ctx, tx, d); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("device: update: %w", err)
	}
	return nil
}

// Delete removes a device; points cascade.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("device: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("device: delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (r *SQLiteRepository) loadPoints(ctx context.Context, d *Device) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, address, data_type, access, scale, offset_value, sort_order
		FROM points WHERE device_id = ? ORDER BY sort_order, name`, d.ID)
	if err != nil {
		return fmt.Errorf("device: load points: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		pt := &point.Point{DeviceID: d.ID}
		var dataType, access string
		if err := rows.Scan(&pt.ID, &pt.Name, &pt.Address, &dataType, &access,
			&pt.Scale, &pt.Offset, &pt.SortOrder); err != nil {
			return fmt.Errorf("device: scan point: %w", err)
		}
		pt.DataType = point.DataType(dataType)
		pt.Access = point.Access(access)
		d.Points = append(d.Points, pt)
	}
	return rows.Err()
}

func insertPoints(ctx context.Context, tx *sql.Tx, d *Device) error {
	for _, pt := range d.Points {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO points (id, device_id, name, address, data_type, access, scale, offset_value, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pt.ID, d.ID, pt.Name, pt.Address, string(pt.DataType), string(pt.Access),
			pt.Scale, pt.Offset, pt.SortOrder,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: point address %s", ErrExists, pt.Address)
			}
			return fmt.Errorf("device: insert point: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	d := &Device{}
	var protocol, config, createdAt, updatedAt string
	var enabled int

	err := scanner.Scan(&d.ID, &d.Name, &d.Slug, &protocol, &config,
		&enabled, &d.PollInterval, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("device: scan: %w", err)
	}

	d.Protocol = Protocol(protocol)
	d.Config = json.RawMessage(config)
	d.Enabled = enabled != 0
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("device: scan created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("device: scan updated_at: %w", err)
	}
	return d, nil
}

func configText(cfg json.RawMessage) string {
	if len(cfg) == 0 {
		return "{}"
	}
	return string(cfg)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
