package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enduro-tracker/internal/archive"
	"enduro-tracker/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Init())
	return db
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

func newIngestHandler(t *testing.T) (*IngestHandler, *database.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewIngestHandler(db, archive.NewWriter(db, "enduro-tracker")), db
}

func TestHandleUpload(t *testing.T) {
	h, db := newIngestHandler(t)

	t.Run("Accepted", func(t *testing.T) {
		body := `{"device_id":"TRK-001","f":[[1718000000,374000000,-1220000000,null,null,null,null,null,null]]}`
		r := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader(body))
		w := httptest.NewRecorder()

		h.HandleUpload(w, r)
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp struct {
			Accepted int   `json:"accepted"`
			ID       int64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Accepted)
		assert.NotZero(t, resp.ID)

		// The stored payload is the canonical re-marshaled form with the
		// fix numbers preserved verbatim
		stored, err := db.GetRawPayload(resp.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "TRK-001", stored.DeviceID)
		assert.Equal(t, body, stored.PayloadJSON)
		assert.Nil(t, stored.ProcessedAt)
	})

	t.Run("CanonicalFormStableAcrossKeyOrder", func(t *testing.T) {
		reordered := `{"f":[[1718000000,374000000,-1220000000,null,null,null,null,null,null]],"device_id":"TRK-001"}`
		r := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader(reordered))
		w := httptest.NewRecorder()

		h.HandleUpload(w, r)
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp struct {
			ID int64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

		stored, err := db.GetRawPayload(resp.ID)
		require.NoError(t, err)
		assert.Equal(t,
			`{"device_id":"TRK-001","f":[[1718000000,374000000,-1220000000,null,null,null,null,null,null]]}`,
			stored.PayloadJSON)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader(`{"device_id":`))
		w := httptest.NewRecorder()

		h.HandleUpload(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("SchemaViolations", func(t *testing.T) {
		cases := []string{
			`{"f":[[1,2,3,null,null,null,null,null,null]]}`, // no device_id
			`{"device_id":"","f":[]}`,                       // empty device_id
			`{"device_id":"TRK-001"}`,                       // no fix list
			`{"device_id":"TRK-001","f":"nope"}`,            // wrong type
			`[1,2,3]`,                                       // not an object
		}
		for _, body := range cases {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader(body))
			w := httptest.NewRecorder()

			h.HandleUpload(w, r)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "body: %s", body)
		}
	})

	t.Run("EmptyFixListAccepted", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader(`{"device_id":"TRK-001","f":[]}`))
		w := httptest.NewRecorder()

		h.HandleUpload(w, r)
		assert.Equal(t, http.StatusAccepted, w.Code)
	})
}

func TestHandleUploadText(t *testing.T) {
	h, db := newIngestHandler(t)
	entry := seedEntry(t, db, "TRK-001")
	require.NoError(t, db.SetManualTimes(entry.ID, i64(100), i64(300)))

	t.Run("ArchivesLog", func(t *testing.T) {
		payload := map[string]string{
			"device_id": "TRK-001",
			"log": "[100,374000000,-1220000000,null,null,null,null,null,null]\n" +
				"[200,374000100,-1220000100,null,null,null,null,null,null]\n" +
				"[400,374000200,-1220000200,null,null,null,null,null,null]\n",
		}
		body, _ := json.Marshal(payload)
		r := httptest.NewRequest(http.MethodPost, "/api/v1/upload-text", strings.NewReader(string(body)))
		w := httptest.NewRecorder()

		h.HandleUploadText(w, r)
		require.Equal(t, http.StatusOK, w.Code)

		snapshot, err := db.LatestArchiveForEntry(entry.ID)
		require.NoError(t, err)
		require.NotNil(t, snapshot)
		assert.Equal(t, 2, strings.Count(snapshot.GPX, "<trkpt"))
	})

	t.Run("MissingFields", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/upload-text", strings.NewReader(`{"device_id":"TRK-001"}`))
		w := httptest.NewRecorder()

		h.HandleUploadText(w, r)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("UnusableLog", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/upload-text",
			strings.NewReader(`{"device_id":"TRK-001","log":"garbage"}`))
		w := httptest.NewRecorder()

		h.HandleUploadText(w, r)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestHandleTimingMark(t *testing.T) {
	h, db := newIngestHandler(t)
	entry := seedEntry(t, db, "TRK-001")

	t.Run("RecordsMark", func(t *testing.T) {
		body := `{"device_id":"TRK-001","epoch":1718000100,"phase":"start","source":"gate"}`
		r := httptest.NewRequest(http.MethodPost, "/api/v1/timing-mark", strings.NewReader(body))
		w := httptest.NewRecorder()

		h.HandleTimingMark(w, r)
		require.Equal(t, http.StatusOK, w.Code)

		got, err := db.GetRaceEntry(entry.ID)
		require.NoError(t, err)
		require.NotNil(t, got.StartGateEpoch)
		assert.Equal(t, int64(1718000100), *got.StartGateEpoch)
	})

	t.Run("LastReportWins", func(t *testing.T) {
		body := `{"device_id":"TRK-001","epoch":1718000105,"phase":"start","source":"gate"}`
		r := httptest.NewRequest(http.MethodPost, "/api/v1/timing-mark", strings.NewReader(body))
		w := httptest.NewRecorder()

		h.HandleTimingMark(w, r)
		require.Equal(t, http.StatusOK, w.Code)

		got, err := db.GetRaceEntry(entry.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1718000105), *got.StartGateEpoch)
	})

	t.Run("InvalidPhase", func(t *testing.T) {
		body := `{"device_id":"TRK-001","epoch":1,"phase":"lap","source":"gate"}`
		r := httptest.NewRequest(http.MethodPost, "/api/v1/timing-mark", strings.NewReader(body))
		w := httptest.NewRecorder()

		h.HandleTimingMark(w, r)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("UnknownDevice", func(t *testing.T) {
		body := `{"device_id":"TRK-404","epoch":1,"phase":"start","source":"gate"}`
		r := httptest.NewRequest(http.MethodPost, "/api/v1/timing-mark", strings.NewReader(body))
		w := httptest.NewRecorder()

		h.HandleTimingMark(w, r)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func i64(v int64) *int64 { return &v }
