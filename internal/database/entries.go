package database

import (
	"database/sql"
	"fmt"
)

// RaceEntry is one rider's participation in one race category, bound to a
// tracker device for its duration. Timing marks per phase come from two
// sources: the start/finish gate hardware and the device's own button press.
type RaceEntry struct {
	ID                int64
	RiderID           int64
	DeviceID          string
	CategoryID        int64
	Active            bool
	Recording         bool
	StartGateEpoch    *int64
	StartDeviceEpoch  *int64
	FinishGateEpoch   *int64
	FinishDeviceEpoch *int64
}

// Window resolves the entry's timing window. Per side, a gate mark beats a
// device mark; a missing side leaves the window open on that side.
func (e *RaceEntry) Window() (start, finish *int64) {
	start = e.StartDeviceEpoch
	if e.StartGateEpoch != nil {
		start = e.StartGateEpoch
	}
	finish = e.FinishDeviceEpoch
	if e.FinishGateEpoch != nil {
		finish = e.FinishGateEpoch
	}
	return start, finish
}

const raceEntryColumns = `id, rider_id, device_id, category_id, active, recording,
	start_gate_epoch, start_device_epoch, finish_gate_epoch, finish_device_epoch`

// CreateRaceEntry registers a rider/device/category binding and returns the
// new entry
func (db *DB) CreateRaceEntry(riderID int64, deviceID string, categoryID int64) (*RaceEntry, error) {
	result, err := db.conn.Exec(`
		INSERT INTO race_entries (rider_id, device_id, category_id)
		VALUES (?, ?, ?)
	`, riderID, deviceID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to create race entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get race entry id: %w", err)
	}
	return db.GetRaceEntry(id)
}

// GetRaceEntry retrieves one entry by id, or nil if absent
func (db *DB) GetRaceEntry(id int64) (*RaceEntry, error) {
	row := db.conn.QueryRow(`SELECT `+raceEntryColumns+` FROM race_entries WHERE id = ?`, id)
	entry, err := scanRaceEntryRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get race entry: %w", err)
	}
	return entry, nil
}

// EntriesForDevice returns every entry ever bound to a device, oldest first
func (db *DB) EntriesForDevice(deviceID string) ([]*RaceEntry, error) {
	rows, err := db.conn.Query(`
		SELECT `+raceEntryColumns+`
		FROM race_entries
		WHERE device_id = ?
		ORDER BY id ASC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries for device: %w", err)
	}
	defer rows.Close()

	var entries []*RaceEntry
	for rows.Next() {
		e, err := scanRaceEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating race entries: %w", err)
	}
	return entries, nil
}

// LatestEntryForDevice resolves the entry a device's live telemetry belongs
// to: the most recently created binding wins. Returns nil when the device has
// no entries.
func (db *DB) LatestEntryForDevice(deviceID string) (*RaceEntry, error) {
	row := db.conn.QueryRow(`
		SELECT `+raceEntryColumns+`
		FROM race_entries
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, deviceID)

	entry, err := scanRaceEntryRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest entry for device: %w", err)
	}
	return entry, nil
}

// Timing mark phases and sources
const (
	PhaseStart  = "start"
	PhaseFinish = "finish"

	SourceGate   = "gate"
	SourceDevice = "device"
)

// SetTimingMark records one timing mark on an entry. Marks overwrite: the
// last report for a given phase+source wins.
func (db *DB) SetTimingMark(entryID int64, phase, source string, epoch int64) error {
	var column string
	switch {
	case phase == PhaseStart && source == SourceGate:
		column = "start_gate_epoch"
	case phase == PhaseStart && source == SourceDevice:
		column = "start_device_epoch"
	case phase == PhaseFinish && source == SourceGate:
		column = "finish_gate_epoch"
	case phase == PhaseFinish && source == SourceDevice:
		column = "finish_device_epoch"
	default:
		return fmt.Errorf("invalid timing mark phase=%q source=%q", phase, source)
	}

	result, err := db.conn.Exec(`UPDATE race_entries SET `+column+` = ? WHERE id = ?`, epoch, entryID)
	if err != nil {
		return fmt.Errorf("failed to set timing mark: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("race entry %d not found", entryID)
	}
	return nil
}

// SetManualTimes applies an operator correction to an entry's window. Manual
// times write the gate columns so they take precedence over device marks;
// a nil value clears that side.
func (db *DB) SetManualTimes(entryID int64, start, finish *int64) error {
	result, err := db.conn.Exec(`
		UPDATE race_entries SET start_gate_epoch = ?, finish_gate_epoch = ? WHERE id = ?
	`, start, finish, entryID)
	if err != nil {
		return fmt.Errorf("failed to set manual times: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("race entry %d not found", entryID)
	}
	return nil
}

// SetEntryRecording toggles whether the entry's device log should be archived
func (db *DB) SetEntryRecording(entryID int64, recording bool) error {
	result, err := db.conn.Exec(`UPDATE race_entries SET recording = ? WHERE id = ?`, recording, entryID)
	if err != nil {
		return fmt.Errorf("failed to set recording flag: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("race entry %d not found", entryID)
	}
	return nil
}

type raceEntryScanner interface {
	Scan(dest ...interface{}) error
}

func scanRaceEntryRow(row *sql.Row) (*RaceEntry, error) {
	return scanRaceEntryFrom(row)
}

func scanRaceEntry(rows *sql.Rows) (*RaceEntry, error) {
	e, err := scanRaceEntryFrom(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan race entry: %w", err)
	}
	return e, nil
}

func scanRaceEntryFrom(s raceEntryScanner) (*RaceEntry, error) {
	var e RaceEntry
	var startGate, startDevice, finishGate, finishDevice sql.NullInt64

	err := s.Scan(&e.ID, &e.RiderID, &e.DeviceID, &e.CategoryID, &e.Active, &e.Recording,
		&startGate, &startDevice, &finishGate, &finishDevice)
	if err != nil {
		return nil, err
	}
	if startGate.Valid {
		e.StartGateEpoch = &startGate.Int64
	}
	if startDevice.Valid {
		e.StartDeviceEpoch = &startDevice.Int64
	}
	if finishGate.Valid {
		e.FinishGateEpoch = &finishGate.Int64
	}
	if finishDevice.Valid {
		e.FinishDeviceEpoch = &finishDevice.Int64
	}
	return &e, nil
}
