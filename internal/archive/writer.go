package archive

import (
	"fmt"
	"log/slog"

	"enduro-tracker/internal/database"
	"enduro-tracker/internal/metrics"
	"enduro-tracker/internal/track"
)

// Writer turns uploaded device text logs into archived track snapshots. The
// archive is append-only: a re-upload or timing correction appends a new
// snapshot, and readers take the highest id per entry.
type Writer struct {
	db      *database.DB
	logger  *slog.Logger
	creator string
}

// NewWriter creates an archive writer. creator is stamped into generated GPX.
func NewWriter(db *database.DB, creator string) *Writer {
	return &Writer{
		db:      db,
		logger:  slog.Default(),
		creator: creator,
	}
}

// ArchiveDeviceLog processes a full device text log: for every race entry
// the device has served it filters the log to the entry's timing window and
// archives the result. Entries that already have a snapshot are skipped,
// except the device's most recent entry, which is always rebuilt so a
// re-upload with more data wins. Returns the number of snapshots written.
func (w *Writer) ArchiveDeviceLog(deviceID, rawText string) (int, error) {
	fixes := track.ParseTextLog(rawText)
	if len(fixes) == 0 {
		return 0, fmt.Errorf("device log contains no usable fixes")
	}

	entries, err := w.db.EntriesForDevice(deviceID)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("device %s has no race entries", deviceID)
	}

	archived, err := w.db.ArchivedEntryIDs(deviceID)
	if err != nil {
		return 0, err
	}

	// EntriesForDevice orders by id ascending
	latestID := entries[len(entries)-1].ID

	written := 0
	for _, entry := range entries {
		if archived[entry.ID] && entry.ID != latestID {
			metrics.ArchiveEntriesSkippedTotal.Inc()
			continue
		}

		n, err := w.archiveEntry(entry, fixes, &rawText)
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// RebuildEntry recomputes an entry's snapshot from the raw text of its latest
// archive, re-filtering against the entry's current timing window. Called
// after a manual timing correction.
func (w *Writer) RebuildEntry(entryID int64) error {
	entry, err := w.db.GetRaceEntry(entryID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("race entry %d not found", entryID)
	}

	latest, err := w.db.LatestArchiveForEntry(entryID)
	if err != nil {
		return err
	}
	if latest == nil || latest.RawText == nil {
		// Nothing to rebuild from; the correction still affects the live view
		w.logger.Info("No archived raw log to rebuild from", "race_entry_id", entryID)
		return nil
	}

	fixes := track.ParseTextLog(*latest.RawText)
	winStart, winFinish := entry.Window()
	windowed := track.FilterWindow(fixes, winStart, winFinish)
	if len(windowed) == 0 {
		return fmt.Errorf("corrected window leaves no fixes for entry %d", entryID)
	}

	if err := w.writeSnapshot(entry.ID, windowed, latest.RawText, metrics.TriggerRebuild); err != nil {
		return err
	}

	w.logger.Info("Rebuilt archive snapshot after correction",
		"race_entry_id", entryID,
		"fixes", len(windowed))
	return nil
}

func (w *Writer) archiveEntry(entry *database.RaceEntry, fixes []track.Fix, rawText *string) (int, error) {
	winStart, winFinish := entry.Window()
	windowed := track.FilterWindow(fixes, winStart, winFinish)
	if len(windowed) == 0 {
		// The log does not overlap this entry's window; leave it for a
		// later upload that does
		metrics.ArchiveEntriesSkippedTotal.Inc()
		w.logger.Info("Skipping entry with no fixes in window", "race_entry_id", entry.ID)
		return 0, nil
	}

	if err := w.writeSnapshot(entry.ID, windowed, rawText, metrics.TriggerUpload); err != nil {
		return 0, err
	}

	w.logger.Info("Archived track snapshot",
		"race_entry_id", entry.ID,
		"device_id", entry.DeviceID,
		"fixes", len(windowed))
	return 1, nil
}

func (w *Writer) writeSnapshot(entryID int64, fixes []track.Fix, rawText *string, trigger string) error {
	gpx, err := track.ToGPX(fixes, w.creator)
	if err != nil {
		return fmt.Errorf("failed to build gpx: %w", err)
	}
	geojson, err := track.ToGeoJSON(fixes)
	if err != nil {
		return fmt.Errorf("failed to build geojson: %w", err)
	}

	if _, err := w.db.InsertTrackArchive(entryID, geojson, gpx, rawText); err != nil {
		return err
	}
	metrics.ArchiveRowsWrittenTotal.WithLabelValues(trigger).Inc()
	return nil
}
