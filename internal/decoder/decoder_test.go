package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enduro-tracker/internal/database"
)

func newTestDecoder(t *testing.T) (*Decoder, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Init())

	return NewDecoder(db, 100, time.Second), db
}

func TestProcessBatchDecodesFixes(t *testing.T) {
	d, db := newTestDecoder(t)

	payload := `{"device_id":"TRK-001","f":[` +
		`[1718000000,374000000,-1220000000,1520,830,1805,1,12,8],` +
		`[1718000001,374000120,-1220000340,null,null,null,null,null,null]]}`
	_, err := db.InsertRawPayload("TRK-001", payload)
	require.NoError(t, err)

	processed, err := d.ProcessBatch()
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	positions, err := db.PositionsForDevice("TRK-001")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	p := positions[0]
	assert.Equal(t, int64(1718000000), p.TEpoch)
	assert.InDelta(t, 37.4, p.Lat, 1e-9)
	assert.InDelta(t, -122.0, p.Lon, 1e-9)
	require.NotNil(t, p.Ele)
	assert.InDelta(t, 152.0, *p.Ele, 1e-9)
	require.NotNil(t, p.Sog)
	assert.InDelta(t, 8.3, *p.Sog, 1e-9)
	require.NotNil(t, p.Fx)
	assert.Equal(t, int64(1), *p.Fx)
	require.NotNil(t, p.Nsat)
	assert.Equal(t, int64(8), *p.Nsat)

	assert.Nil(t, positions[1].Ele)

	// Payload is marked processed without a parse error
	backlog, err := db.CountUnprocessedRawPayloads()
	require.NoError(t, err)
	assert.Zero(t, backlog)
}

func TestProcessBatchIdempotent(t *testing.T) {
	d, db := newTestDecoder(t)

	payload := `{"device_id":"TRK-001","f":[[1718000000,374000000,-1220000000,null,null,null,null,null,null]]}`

	// Same payload submitted twice, as after an upload retry
	_, err := db.InsertRawPayload("TRK-001", payload)
	require.NoError(t, err)
	_, err = db.InsertRawPayload("TRK-001", payload)
	require.NoError(t, err)

	processed, err := d.ProcessBatch()
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	positions, err := db.PositionsForDevice("TRK-001")
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestProcessBatchMalformedPayload(t *testing.T) {
	d, db := newTestDecoder(t)

	badID, err := db.InsertRawPayload("TRK-001", `{"device_id":`)
	require.NoError(t, err)
	noDeviceID, err := db.InsertRawPayload("TRK-001", `{"f":[[1,2,3,null,null,null,null,null,null]]}`)
	require.NoError(t, err)
	goodID, err := db.InsertRawPayload("TRK-001",
		`{"device_id":"TRK-001","f":[[1718000000,374000000,-1220000000,null,null,null,null,null,null]]}`)
	require.NoError(t, err)

	processed, err := d.ProcessBatch()
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	// Malformed payloads are marked processed with a parse error and never
	// block the good one
	bad, err := db.GetRawPayload(badID)
	require.NoError(t, err)
	require.NotNil(t, bad.ProcessedAt)
	require.NotNil(t, bad.ParseError)

	missing, err := db.GetRawPayload(noDeviceID)
	require.NoError(t, err)
	require.NotNil(t, missing.ProcessedAt)
	require.NotNil(t, missing.ParseError)
	assert.Contains(t, *missing.ParseError, "device_id")

	good, err := db.GetRawPayload(goodID)
	require.NoError(t, err)
	require.NotNil(t, good.ProcessedAt)
	assert.Nil(t, good.ParseError)

	positions, err := db.PositionsForDevice("TRK-001")
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestProcessBatchDropsBadFixesSilently(t *testing.T) {
	d, db := newTestDecoder(t)

	// Missing utc and wrong-length fixes are sensor dropouts, not errors
	payload := `{"device_id":"TRK-001","f":[` +
		`[null,374000000,-1220000000,null,null,null,null,null,null],` +
		`[1718000001,374000120],` +
		`[1718000002,374000250,-1220000710,null,null,null,null,null,null]]}`
	id, err := db.InsertRawPayload("TRK-001", payload)
	require.NoError(t, err)

	processed, err := d.ProcessBatch()
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	p, err := db.GetRawPayload(id)
	require.NoError(t, err)
	require.NotNil(t, p.ProcessedAt)
	assert.Nil(t, p.ParseError)

	positions, err := db.PositionsForDevice("TRK-001")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(1718000002), positions[0].TEpoch)
}

func TestProcessBatchEmpty(t *testing.T) {
	d, _ := newTestDecoder(t)

	processed, err := d.ProcessBatch()
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestProcessBatchRespectsBatchSize(t *testing.T) {
	d, db := newTestDecoder(t)
	d.batchSize = 2

	payload := `{"device_id":"TRK-001","f":[]}`
	for i := 0; i < 3; i++ {
		_, err := db.InsertRawPayload("TRK-001", payload)
		require.NoError(t, err)
	}

	processed, err := d.ProcessBatch()
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	backlog, err := db.CountUnprocessedRawPayloads()
	require.NoError(t, err)
	assert.Equal(t, 1, backlog)
}
