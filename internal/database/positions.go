package database

import (
	"database/sql"
	"fmt"
	"time"

	"enduro-tracker/internal/track"
)

// Position is one decoded GNSS fix. Immutable after insert; the only write
// path besides the decoder is the bulk retention delete.
type Position struct {
	ID         int64
	DeviceID   string
	TEpoch     int64
	Lat        float64
	Lon        float64
	Ele        *float64
	Sog        *float64
	Cog        *float64
	Fx         *int64
	Hdop       *float64
	Nsat       *int64
	ReceivedAt int64
}

// Fix converts a stored position into the track builder's value type
func (p *Position) Fix() track.Fix {
	return track.Fix{
		Epoch: p.TEpoch,
		Lat:   p.Lat,
		Lon:   p.Lon,
		Ele:   p.Ele,
		Sog:   p.Sog,
		Cog:   p.Cog,
		Fx:    p.Fx,
		Hdop:  p.Hdop,
		Nsat:  p.Nsat,
	}
}

// Fixes converts a slice of positions for the track builder
func Fixes(positions []*Position) []track.Fix {
	fixes := make([]track.Fix, 0, len(positions))
	for _, p := range positions {
		fixes = append(fixes, p.Fix())
	}
	return fixes
}

const insertPositionSQL = `
	INSERT INTO points (device_id, t_epoch, lat, lon, ele, sog, cog, fx, hdop, nsat, received_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertPositions bulk-inserts decoded positions. The fast path is one
// transaction with plain inserts; if any row collides with the
// (device_id, t_epoch) uniqueness constraint the whole batch is retried
// row-by-row with INSERT OR IGNORE so a single duplicate cannot abort the
// batch. Returns the number of rows actually inserted; duplicates are
// silently skipped (first write wins).
func (db *DB) InsertPositions(positions []*Position) (int, error) {
	if len(positions) == 0 {
		return 0, nil
	}
	now := time.Now().Unix()

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(insertPositionSQL)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to prepare position insert: %w", err)
	}

	fastPathOK := true
	for _, p := range positions {
		if _, err := stmt.Exec(p.DeviceID, p.TEpoch, p.Lat, p.Lon, p.Ele, p.Sog, p.Cog, p.Fx, p.Hdop, p.Nsat, now); err != nil {
			fastPathOK = false
			break
		}
	}
	stmt.Close()

	if fastPathOK {
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("failed to commit position batch: %w", err)
		}
		return len(positions), nil
	}

	// Slow path: a collision (or other row-level failure) aborted the batch.
	// Re-insert one by one, skipping duplicates.
	tx.Rollback()
	return db.insertPositionsOneByOne(positions, now)
}

func (db *DB) insertPositionsOneByOne(positions []*Position, now int64) (int, error) {
	inserted := 0
	for _, p := range positions {
		result, err := db.conn.Exec(`
			INSERT OR IGNORE INTO points (device_id, t_epoch, lat, lon, ele, sog, cog, fx, hdop, nsat, received_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.DeviceID, p.TEpoch, p.Lat, p.Lon, p.Ele, p.Sog, p.Cog, p.Fx, p.Hdop, p.Nsat, now)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert position (device=%s t=%d): %w", p.DeviceID, p.TEpoch, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

// PositionsForDevice returns all positions for a device ordered by timestamp
func (db *DB) PositionsForDevice(deviceID string) ([]*Position, error) {
	rows, err := db.conn.Query(`
		SELECT id, device_id, t_epoch, lat, lon, ele, sog, cog, fx, hdop, nsat, received_at
		FROM points
		WHERE device_id = ?
		ORDER BY t_epoch ASC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// MaxEpochForDevice returns the newest position timestamp for a device, or
// nil when the device has no positions
func (db *DB) MaxEpochForDevice(deviceID string) (*int64, error) {
	var max sql.NullInt64
	err := db.conn.QueryRow(`SELECT MAX(t_epoch) FROM points WHERE device_id = ?`, deviceID).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("failed to query max epoch: %w", err)
	}
	if !max.Valid {
		return nil, nil
	}
	return &max.Int64, nil
}

// DistinctPositionDevices lists every device that has at least one position
func (db *DB) DistinctPositionDevices() ([]string, error) {
	rows, err := db.conn.Query(`SELECT device_id FROM points GROUP BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct devices: %w", err)
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan device id: %w", err)
		}
		if d != "" {
			devices = append(devices, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}
	return devices, nil
}

// DeletePositionsByRange removes positions with start <= t_epoch <= end,
// optionally scoped to one device (empty deviceID means all devices).
// Returns the number of rows deleted.
func (db *DB) DeletePositionsByRange(start, end int64, deviceID string) (int64, error) {
	if start >= end {
		return 0, fmt.Errorf("start epoch %d must be less than end epoch %d", start, end)
	}

	query := `DELETE FROM points WHERE t_epoch >= ? AND t_epoch <= ?`
	args := []interface{}{start, end}
	if deviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}

	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete positions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// PreviewDeletePositions is the dry-run companion of DeletePositionsByRange:
// it returns the would-be-deleted count plus a bounded sample without
// touching any rows.
func (db *DB) PreviewDeletePositions(start, end int64, deviceID string, sampleLimit int) (int64, []*Position, error) {
	if start >= end {
		return 0, nil, fmt.Errorf("start epoch %d must be less than end epoch %d", start, end)
	}

	where := ` WHERE t_epoch >= ? AND t_epoch <= ?`
	args := []interface{}{start, end}
	if deviceID != "" {
		where += ` AND device_id = ?`
		args = append(args, deviceID)
	}

	var count int64
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM points`+where, args...).Scan(&count); err != nil {
		return 0, nil, fmt.Errorf("failed to count positions: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT id, device_id, t_epoch, lat, lon, ele, sog, cog, fx, hdop, nsat, received_at
		FROM points`+where+` ORDER BY t_epoch ASC LIMIT ?`, append(args, sampleLimit)...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query position sample: %w", err)
	}
	defer rows.Close()

	sample, err := scanPositions(rows)
	if err != nil {
		return 0, nil, err
	}
	return count, sample, nil
}

func scanPositions(rows *sql.Rows) ([]*Position, error) {
	var positions []*Position
	for rows.Next() {
		var p Position
		var ele, sog, cog, hdop sql.NullFloat64
		var fx, nsat sql.NullInt64

		err := rows.Scan(&p.ID, &p.DeviceID, &p.TEpoch, &p.Lat, &p.Lon, &ele, &sog, &cog, &fx, &hdop, &nsat, &p.ReceivedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if ele.Valid {
			p.Ele = &ele.Float64
		}
		if sog.Valid {
			p.Sog = &sog.Float64
		}
		if cog.Valid {
			p.Cog = &cog.Float64
		}
		if fx.Valid {
			p.Fx = &fx.Int64
		}
		if hdop.Valid {
			p.Hdop = &hdop.Float64
		}
		if nsat.Valid {
			p.Nsat = &nsat.Int64
		}
		positions = append(positions, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}
