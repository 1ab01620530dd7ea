package livetrack

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enduro-tracker/internal/database"
	"enduro-tracker/internal/metrics"
)

func newTestWorker(t *testing.T) (*Worker, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Init())

	return NewWorker(db, time.Second), db
}

func seedEntry(t *testing.T, db *database.DB, deviceID string) *database.RaceEntry {
	t.Helper()

	_, err := db.RegisterDevice(deviceID, nil)
	require.NoError(t, err)
	rider, err := db.CreateRider("Test Rider", nil, nil, nil)
	require.NoError(t, err)
	race, err := db.CreateRace("Test Race", nil, nil, nil, nil)
	require.NoError(t, err)
	category, err := db.FindOrCreateCategory(race.ID, "Open")
	require.NoError(t, err)
	entry, err := db.CreateRaceEntry(rider.ID, deviceID, category.ID)
	require.NoError(t, err)
	return entry
}

func insertPositions(t *testing.T, db *database.DB, deviceID string, epochs ...int64) {
	t.Helper()

	batch := make([]*database.Position, 0, len(epochs))
	for i, e := range epochs {
		batch = append(batch, &database.Position{
			DeviceID: deviceID,
			TEpoch:   e,
			Lat:      37.4 + float64(i)*0.0001,
			Lon:      -122.0 + float64(i)*0.0001,
		})
	}
	_, err := db.InsertPositions(batch)
	require.NoError(t, err)
}

func TestRefreshDeviceWritesCache(t *testing.T) {
	w, db := newTestWorker(t)
	entry := seedEntry(t, db, "TRK-001")
	insertPositions(t, db, "TRK-001", 100, 200, 300)

	outcome, err := w.refreshDevice("TRK-001")
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeRefreshed, outcome)

	cached, err := db.GetTrackCache(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Contains(t, cached.GeoJSON, `"LineString"`)
	require.NotNil(t, cached.ETag)
	assert.NotEmpty(t, *cached.ETag)
}

func TestWatermarkSuppressesRedundantRebuilds(t *testing.T) {
	w, db := newTestWorker(t)
	entry := seedEntry(t, db, "TRK-001")
	insertPositions(t, db, "TRK-001", 100, 200)

	outcome, err := w.refreshDevice("TRK-001")
	require.NoError(t, err)
	require.Equal(t, metrics.OutcomeRefreshed, outcome)

	// Prove the second tick performs zero writes: remove the cache row and
	// verify it stays absent
	require.NoError(t, db.DeleteTrackCache(entry.ID))

	outcome, err = w.refreshDevice("TRK-001")
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeNoNewData, outcome)

	cached, err := db.GetTrackCache(entry.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)

	// A newer position reactivates the rebuild
	insertPositions(t, db, "TRK-001", 300)

	outcome, err = w.refreshDevice("TRK-001")
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeRefreshed, outcome)

	cached, err = db.GetTrackCache(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
}

func TestRefreshDeviceNoEntry(t *testing.T) {
	w, db := newTestWorker(t)
	insertPositions(t, db, "TRK-001", 100)

	outcome, err := w.refreshDevice("TRK-001")
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeNoEntry, outcome)
}

func TestRefreshDeviceWindowTrim(t *testing.T) {
	w, db := newTestWorker(t)
	entry := seedEntry(t, db, "TRK-001")
	insertPositions(t, db, "TRK-001", 100, 200, 300, 400)

	require.NoError(t, db.SetTimingMark(entry.ID, database.PhaseStart, database.SourceGate, 150))
	require.NoError(t, db.SetTimingMark(entry.ID, database.PhaseFinish, database.SourceGate, 350))

	outcome, err := w.refreshDevice("TRK-001")
	require.NoError(t, err)
	require.Equal(t, metrics.OutcomeRefreshed, outcome)

	cached, err := db.GetTrackCache(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)

	// Only the two fixes inside [150, 350] survive
	assert.Equal(t, 2, countCoordinates(t, cached.GeoJSON))
}

func TestRefreshDeviceEmptyWindowDoesNotAdvanceWatermark(t *testing.T) {
	w, db := newTestWorker(t)
	entry := seedEntry(t, db, "TRK-001")
	insertPositions(t, db, "TRK-001", 100, 200)

	// Window entirely after current telemetry
	require.NoError(t, db.SetTimingMark(entry.ID, database.PhaseStart, database.SourceGate, 1000))

	outcome, err := w.refreshDevice("TRK-001")
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeNoWindow, outcome)

	cached, err := db.GetTrackCache(entry.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)

	// Watermark must not have advanced: a position inside the window now
	// triggers a rebuild even though max epoch previously seen was 200
	insertPositions(t, db, "TRK-001", 1100)

	outcome, err = w.refreshDevice("TRK-001")
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeRefreshed, outcome)
}

func TestTickIsolatesDevices(t *testing.T) {
	w, db := newTestWorker(t)

	// One device with an entry, one without; the tick must refresh the
	// first regardless of the second
	entry := seedEntry(t, db, "TRK-001")
	insertPositions(t, db, "TRK-001", 100)
	insertPositions(t, db, "TRK-002", 100)

	w.Tick()

	cached, err := db.GetTrackCache(entry.ID)
	require.NoError(t, err)
	assert.NotNil(t, cached)
}

func TestETagChangesWithContent(t *testing.T) {
	w, db := newTestWorker(t)
	entry := seedEntry(t, db, "TRK-001")
	insertPositions(t, db, "TRK-001", 100)

	_, err := w.refreshDevice("TRK-001")
	require.NoError(t, err)
	first, err := db.GetTrackCache(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ETag)

	insertPositions(t, db, "TRK-001", 200)
	_, err = w.refreshDevice("TRK-001")
	require.NoError(t, err)
	second, err := db.GetTrackCache(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, second.ETag)

	assert.NotEqual(t, *first.ETag, *second.ETag)
}

func countCoordinates(t *testing.T, geojson string) int {
	t.Helper()

	var fc struct {
		Features []struct {
			Geometry struct {
				Coordinates [][2]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal([]byte(geojson), &fc))
	require.Len(t, fc.Features, 1)
	return len(fc.Features[0].Geometry.Coordinates)
}
