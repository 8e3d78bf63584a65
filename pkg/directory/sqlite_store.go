package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"github.com/rs/zerolog"

	"github.com/aesdetic/ledmesh/pkg/models"
)

const (
	dbOperationTimeout = 5 * time.Second
)

// SQLiteStore persists the device directory across restarts.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the directory database at path.
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToOpenDB, err)
	}

	const schema = `
        CREATE TABLE IF NOT EXISTS devices (
            id TEXT PRIMARY KEY,
            name TEXT,
            display_name TEXT,
            host TEXT NOT NULL,
            port INTEGER,
            version TEXT,
            led_count INTEGER,
            first_seen TIMESTAMP,
            last_seen TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_devices_host ON devices(host);
    `

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToInit, err)
	}

	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) UpsertDevice(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		return ErrMissingID
	}

	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	// Display name and first-seen survive rediscovery; everything else is
	// refreshed from the probe.
	const query = `
        INSERT INTO devices (
            id, name, display_name, host, port, version, led_count, first_seen, last_seen
        ) VALUES (?, ?, '', ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = CASE WHEN excluded.name != '' THEN excluded.name ELSE devices.name END,
            host = excluded.host,
            port = excluded.port,
            version = excluded.version,
            led_count = excluded.led_count,
            last_seen = excluded.last_seen
    `

	_, err := s.db.ExecContext(ctx, query,
		device.ID, device.Name, device.Host, device.Port,
		device.Version, device.LEDCount, device.FirstSeen, device.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", errSaveDevice, err)
	}

	return nil
}

func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	const query = `
        SELECT id, name, display_name, host, port, version, led_count, first_seen, last_seen
        FROM devices WHERE id = ?
    `

	device, err := scanDevice(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}

		return nil, fmt.Errorf("%w: %w", errScanRow, err)
	}

	return device, nil
}

func (s *SQLiteStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	const query = `
        SELECT id, name, display_name, host, port, version, led_count, first_seen, last_seen
        FROM devices ORDER BY last_seen DESC
    `

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errQueryDevices, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.log.Warn().Err(err).Msg("error closing rows")
		}
	}()

	var devices []models.Device

	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errScanRow, err)
		}

		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errQueryDevices, err)
	}

	return devices, nil
}

func (s *SQLiteStore) RemoveDevice(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: %w", errSaveDevice, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

func (s *SQLiteStore) SetDisplayName(ctx context.Context, id, name string) error {
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, "UPDATE devices SET display_name = ? WHERE id = ?", name, id)
	if err != nil {
		return fmt.Errorf("%w: %w", errSaveDevice, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device

	err := row.Scan(
		&d.ID, &d.Name, &d.DisplayName, &d.Host, &d.Port,
		&d.Version, &d.LEDCount, &d.FirstSeen, &d.LastSeen,
	)
	if err != nil {
		return nil, err
	}

	return &d, nil
}
