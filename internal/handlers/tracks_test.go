package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enduro-tracker/internal/archive"
	"enduro-tracker/internal/database"
)

func newTracksHandler(t *testing.T) (*TracksHandler, *database.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewTracksHandler(db, archive.NewWriter(db, "enduro-tracker")), db
}

func getWithID(h http.HandlerFunc, id string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetPathValue("id", id)
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func TestHandleLive(t *testing.T) {
	h, db := newTracksHandler(t)
	entry := seedEntry(t, db, "TRK-001")

	t.Run("NotCached", func(t *testing.T) {
		w := getWithID(h.HandleLive, fmt.Sprint(entry.ID))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("ServesCachedWithETag", func(t *testing.T) {
		etag := "abc123"
		require.NoError(t, db.UpsertTrackCache(entry.ID, `{"type":"FeatureCollection"}`, &etag))

		w := getWithID(h.HandleLive, fmt.Sprint(entry.ID))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, `"abc123"`, w.Header().Get("ETag"))
		assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"type":"FeatureCollection"}`, w.Body.String())
	})

	t.Run("NotModified", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.SetPathValue("id", fmt.Sprint(entry.ID))
		r.Header.Set("If-None-Match", `"abc123"`)
		w := httptest.NewRecorder()

		h.HandleLive(w, r)
		assert.Equal(t, http.StatusNotModified, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("BadID", func(t *testing.T) {
		w := getWithID(h.HandleLive, "not-a-number")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleArchive(t *testing.T) {
	h, db := newTracksHandler(t)
	entry := seedEntry(t, db, "TRK-001")

	t.Run("NotArchived", func(t *testing.T) {
		w := getWithID(h.HandleArchive, fmt.Sprint(entry.ID))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	_, err := db.InsertTrackArchive(entry.ID, `{"v":1}`, "<gpx-old/>", nil)
	require.NoError(t, err)
	_, err = db.InsertTrackArchive(entry.ID, `{"v":2}`, "<gpx-new/>", nil)
	require.NoError(t, err)

	t.Run("ServesLatestGeoJSON", func(t *testing.T) {
		w := getWithID(h.HandleArchive, fmt.Sprint(entry.ID))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"v":2}`, w.Body.String())
	})

	t.Run("GPXFormat", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/?format=gpx", nil)
		r.SetPathValue("id", fmt.Sprint(entry.ID))
		w := httptest.NewRecorder()

		h.HandleArchive(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/gpx+xml", w.Header().Get("Content-Type"))
		assert.Equal(t, "<gpx-new/>", w.Body.String())
	})
}

func TestHandleDevicePreview(t *testing.T) {
	h, db := newTracksHandler(t)

	t.Run("NoPositions", func(t *testing.T) {
		w := getWithID(h.HandleDevicePreview, "TRK-001")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("BuildsTrackIgnoringEntries", func(t *testing.T) {
		// No race entry exists for this device; the preview still works
		_, err := db.InsertPositions([]*database.Position{
			{DeviceID: "TRK-001", TEpoch: 100, Lat: 37.4, Lon: -122.0},
			{DeviceID: "TRK-001", TEpoch: 200, Lat: 37.41, Lon: -122.01},
		})
		require.NoError(t, err)

		w := getWithID(h.HandleDevicePreview, "TRK-001")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"LineString"`)
	})
}

func TestHandleManualTimes(t *testing.T) {
	h, db := newTracksHandler(t)
	entry := seedEntry(t, db, "TRK-001")

	raw := "[100,374000000,-1220000000,null,null,null,null,null,null]\n" +
		"[200,374000100,-1220000100,null,null,null,null,null,null]\n" +
		"[300,374000200,-1220000200,null,null,null,null,null,null]\n"
	writer := archive.NewWriter(db, "enduro-tracker")
	_, err := writer.ArchiveDeviceLog("TRK-001", raw)
	require.NoError(t, err)

	postTimes := func(id, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.SetPathValue("id", id)
		w := httptest.NewRecorder()
		h.HandleManualTimes(w, r)
		return w
	}

	t.Run("CorrectsWindowAndRebuilds", func(t *testing.T) {
		w := postTimes(fmt.Sprint(entry.ID), `{"start_epoch":150,"finish_epoch":250}`)
		require.Equal(t, http.StatusNoContent, w.Code)

		got, err := db.GetRaceEntry(entry.ID)
		require.NoError(t, err)
		require.NotNil(t, got.StartGateEpoch)
		assert.Equal(t, int64(150), *got.StartGateEpoch)

		latest, err := db.LatestArchiveForEntry(entry.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(latest.GPX, "<trkpt"))
	})

	t.Run("InvertedWindowRejected", func(t *testing.T) {
		w := postTimes(fmt.Sprint(entry.ID), `{"start_epoch":300,"finish_epoch":100}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("UnknownEntry", func(t *testing.T) {
		w := postTimes("99999", `{"start_epoch":1,"finish_epoch":2}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("WindowExcludingAllFixesRejected", func(t *testing.T) {
		w := postTimes(fmt.Sprint(entry.ID), `{"start_epoch":5000,"finish_epoch":6000}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}
