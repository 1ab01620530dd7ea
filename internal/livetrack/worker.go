package livetrack

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"enduro-tracker/internal/database"
	"enduro-tracker/internal/metrics"
	"enduro-tracker/internal/track"
)

// Worker keeps the live track cache fresh. Each tick it scans every device
// with telemetry and rebuilds the cached GeoJSON for the device's current
// race entry, but only when the device has produced a position newer than the
// per-device watermark. The watermark advances only after a successful cache
// write, so a failed write is retried on the next tick.
type Worker struct {
	db           *database.DB
	logger       *slog.Logger
	pollInterval time.Duration

	// lastMax is the per-device watermark: the newest t_epoch whose track
	// has been written to the cache. Only this goroutine touches it.
	lastMax map[string]int64
}

// NewWorker creates a live cache worker
func NewWorker(db *database.DB, pollInterval time.Duration) *Worker {
	return &Worker{
		db:           db,
		logger:       slog.Default(),
		pollInterval: pollInterval,
		lastMax:      make(map[string]int64),
	}
}

// Start runs refresh ticks until the context is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting live cache worker", "poll_interval", w.pollInterval)
	metrics.CacheWorkerActive.Set(1)
	defer metrics.CacheWorkerActive.Set(0)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping live cache worker")
			return ctx.Err()
		case <-ticker.C:
			w.Tick()
		}
	}
}

// Tick refreshes every device once. Per-device failures are logged and
// isolated; one broken device never stalls the rest.
func (w *Worker) Tick() {
	devices, err := w.db.DistinctPositionDevices()
	if err != nil {
		w.logger.Error("Failed to list devices for cache refresh", "error", err)
		return
	}

	for _, deviceID := range devices {
		outcome, err := w.refreshDevice(deviceID)
		if err != nil {
			metrics.CacheTickOutcomesTotal.WithLabelValues(metrics.OutcomeError).Inc()
			w.logger.Error("Failed to refresh live track", "device_id", deviceID, "error", err)
			continue
		}
		metrics.CacheTickOutcomesTotal.WithLabelValues(outcome).Inc()
	}
}

// refreshDevice rebuilds one device's live track if it has new telemetry.
// Returns the outcome label for metrics. The watermark advances only after
// the cache row has actually been written; an empty window leaves it
// untouched so late-arriving marks or positions still trigger a rebuild.
func (w *Worker) refreshDevice(deviceID string) (string, error) {
	maxEpoch, err := w.db.MaxEpochForDevice(deviceID)
	if err != nil {
		return "", err
	}
	if maxEpoch == nil {
		return metrics.OutcomeNoNewData, nil
	}
	if last, ok := w.lastMax[deviceID]; ok && *maxEpoch <= last {
		return metrics.OutcomeNoNewData, nil
	}

	entry, err := w.db.LatestEntryForDevice(deviceID)
	if err != nil {
		return "", err
	}
	if entry == nil {
		// Telemetry from an unassigned device is stored but not published
		return metrics.OutcomeNoEntry, nil
	}

	start := time.Now()

	positions, err := w.db.PositionsForDevice(deviceID)
	if err != nil {
		return "", err
	}

	winStart, winFinish := entry.Window()
	fixes := track.FilterWindow(database.Fixes(positions), winStart, winFinish)
	if len(fixes) == 0 {
		// Nothing inside the window yet. Do not advance the watermark: the
		// next position (or a corrected mark) must retrigger the rebuild.
		return metrics.OutcomeNoWindow, nil
	}

	geojson, err := track.ToGeoJSON(fixes)
	if err != nil {
		return "", fmt.Errorf("failed to build live geojson: %w", err)
	}

	etag := contentETag(geojson)
	if err := w.db.UpsertTrackCache(entry.ID, geojson, &etag); err != nil {
		return "", fmt.Errorf("failed to write track cache: %w", err)
	}

	w.lastMax[deviceID] = *maxEpoch
	metrics.CacheRebuildDuration.Observe(time.Since(start).Seconds())
	w.logger.Debug("Refreshed live track",
		"device_id", deviceID,
		"race_entry_id", entry.ID,
		"fixes", len(fixes),
		"max_epoch", *maxEpoch)

	return metrics.OutcomeRefreshed, nil
}

// contentETag derives a strong validator from the serialized track so
// clients can cheaply poll with If-None-Match
func contentETag(geojson string) string {
	return strconv.FormatUint(xxhash.Sum64String(geojson), 16)
}
