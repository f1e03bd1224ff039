package events

import (
	"testing"

	"github.com/lancachetools/lansync/internal/common/cnst"
	"github.com/stretchr/testify/assert"
)

func TestDecodeProgress(t *testing.T) {
	p := DecodeProgress([]byte(`{
		"operationId": "op-1",
		"percentComplete": 42.5,
		"status": "running",
		"message": "Clearing cache",
		"directoriesProcessed": 128,
		"totalDirectories": 256,
		"bytesDeleted": 1048576,
		"filesDeleted": 2048
	}`))

	assert.Equal(t, "op-1", p.OperationID)
	assert.Equal(t, 42.5, p.PercentComplete)
	assert.Equal(t, "running", p.Status)
	assert.Equal(t, "Clearing cache", p.Message)
	assert.Equal(t, float64(128), p.Details["directoriesProcessed"])
	assert.Equal(t, float64(256), p.Details["totalDirectories"])
	// standard fields never leak into details
	assert.NotContains(t, p.Details, "operationId")
	assert.NotContains(t, p.Details, "status")
}

func TestDecodeProgress_MissingFieldsDefault(t *testing.T) {
	p := DecodeProgress([]byte(`{}`))
	assert.Zero(t, p.PercentComplete)
	assert.Empty(t, p.Status)
	assert.Empty(t, p.Message)
	assert.Nil(t, p.Details)
}

func TestDecodeProgress_ClampsPercent(t *testing.T) {
	assert.Equal(t, 100.0, DecodeProgress([]byte(`{"percentComplete": 180}`)).PercentComplete)
	assert.Equal(t, 0.0, DecodeProgress([]byte(`{"percentComplete": -3}`)).PercentComplete)
}

func TestDecodeProgress_MalformedPayload(t *testing.T) {
	p := DecodeProgress([]byte(`{not valid json`))
	assert.Zero(t, p.PercentComplete)
	assert.Empty(t, p.OperationID)
}

func TestDecodeComplete(t *testing.T) {
	c := DecodeComplete([]byte(`{"operationId":"op-2","success":false,"cancelled":true,"message":"Cancelled by user"}`))
	assert.Equal(t, "op-2", c.OperationID)
	assert.False(t, c.Success)
	assert.True(t, c.Cancelled)
	assert.Equal(t, "Cancelled by user", c.Message)
}

func TestDecodeComplete_SuccessDefaultsTrue(t *testing.T) {
	c := DecodeComplete([]byte(`{"message":"done"}`))
	assert.True(t, c.Success)
	assert.False(t, c.Cancelled)
}

func TestDecodeStarted_EntityVariants(t *testing.T) {
	assert.Equal(t, "steam", DecodeStarted([]byte(`{"service":"steam"}`)).Entity)
	assert.Equal(t, "wsus", DecodeStarted([]byte(`{"serviceName":"wsus"}`)).Entity)
	assert.Equal(t, "730", DecodeStarted([]byte(`{"gameId":730}`)).Entity)
	assert.Empty(t, DecodeStarted([]byte(`{}`)).Entity)
}

func TestDecodeEntityEvent(t *testing.T) {
	e := DecodeEntityEvent([]byte(`{"eventId":7,"downloadId":42,"name":"LAN party"}`))
	assert.Equal(t, int64(7), e.EventID)
	assert.Equal(t, int64(42), e.DownloadID)
	assert.Equal(t, "LAN party", e.Name)

	// falls back to "id" when "eventId" is absent
	e = DecodeEntityEvent([]byte(`{"id":9}`))
	assert.Equal(t, int64(9), e.EventID)
}

func TestDecodePreferencesUpdated(t *testing.T) {
	p := DecodePreferencesUpdated([]byte(`{"sessionId":"s1","preferences":{"use24HourFormat":true,"theme":"dark"}}`))
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, true, p.Preferences["use24HourFormat"])
	assert.Equal(t, "dark", p.Preferences["theme"])
}

func TestDecodePollingRate(t *testing.T) {
	assert.Equal(t, 15, DecodePollingRate([]byte(`{"intervalSeconds":15}`)).IntervalSeconds)
	assert.Equal(t, 30, DecodePollingRate([]byte(`{"rate":30}`)).IntervalSeconds)
}

func TestJobEvent(t *testing.T) {
	kind, phase, ok := JobEvent(cnst.EventDepotMappingStarted)
	assert.True(t, ok)
	assert.Equal(t, cnst.JobDepotMapping, kind)
	assert.Equal(t, PhaseStarted, phase)

	kind, phase, ok = JobEvent(cnst.EventCacheClearComplete)
	assert.True(t, ok)
	assert.Equal(t, cnst.JobCacheClearing, kind)
	assert.Equal(t, PhaseComplete, phase)

	_, _, ok = JobEvent(cnst.EventDownloadsRefresh)
	assert.False(t, ok)

	_, _, ok = JobEvent("SomethingElse")
	assert.False(t, ok)
}
