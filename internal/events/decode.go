package events

import (
	"time"

	"github.com/tidwall/gjson"
)

// Standard fields shared by the job lifecycle payloads. Everything else on a
// progress or complete payload is job-specific detail and is preserved as-is.
var standardFields = map[string]struct{}{
	"operationId":     {},
	"entity":          {},
	"service":         {},
	"serviceName":     {},
	"gameId":          {},
	"percentComplete": {},
	"status":          {},
	"message":         {},
	"success":         {},
	"cancelled":       {},
	"timestamp":       {},
}

// DecodeStarted decodes an OperationStarted payload.
func DecodeStarted(payload []byte) OperationStarted {
	j := gjson.ParseBytes(payload)
	return OperationStarted{
		OperationID: j.Get("operationId").String(),
		Entity:      entity(j),
		Message:     j.Get("message").String(),
		Timestamp:   timestamp(j),
	}
}

// DecodeProgress decodes an OperationProgress payload.
func DecodeProgress(payload []byte) OperationProgress {
	j := gjson.ParseBytes(payload)
	return OperationProgress{
		OperationID:     j.Get("operationId").String(),
		Entity:          entity(j),
		PercentComplete: clampPercent(j.Get("percentComplete").Float()),
		Status:          j.Get("status").String(),
		Message:         j.Get("message").String(),
		Details:         details(j),
	}
}

// DecodeComplete decodes an OperationComplete payload. A payload with no
// success field defaults to success=true: the servers emit the field only on
// failure paths in some versions.
func DecodeComplete(payload []byte) OperationComplete {
	j := gjson.ParseBytes(payload)
	success := true
	if v := j.Get("success"); v.Exists() {
		success = v.Bool()
	}
	return OperationComplete{
		OperationID: j.Get("operationId").String(),
		Entity:      entity(j),
		Success:     success,
		Cancelled:   j.Get("cancelled").Bool(),
		Message:     j.Get("message").String(),
		Details:     details(j),
	}
}

// DecodeEntityEvent decodes EventCreated/Updated/Deleted and DownloadTagged
// payloads.
func DecodeEntityEvent(payload []byte) EntityEvent {
	j := gjson.ParseBytes(payload)
	return EntityEvent{
		EventID:    firstInt(j, "eventId", "id"),
		DownloadID: j.Get("downloadId").Int(),
		Name:       j.Get("name").String(),
		StartTime:  timeField(j, "startTime"),
		EndTime:    timeField(j, "endTime"),
	}
}

// DecodePreferencesUpdated decodes a UserPreferencesUpdated payload.
func DecodePreferencesUpdated(payload []byte) PreferencesUpdated {
	j := gjson.ParseBytes(payload)
	prefs := make(map[string]any)
	j.Get("preferences").ForEach(func(key, value gjson.Result) bool {
		prefs[key.String()] = value.Value()
		return true
	})
	return PreferencesUpdated{
		SessionID:   j.Get("sessionId").String(),
		Preferences: prefs,
	}
}

// DecodePollingRate decodes the guest polling rate events.
func DecodePollingRate(payload []byte) PollingRateChanged {
	j := gjson.ParseBytes(payload)
	return PollingRateChanged{
		SessionID:       j.Get("sessionId").String(),
		IntervalSeconds: int(firstInt(j, "intervalSeconds", "rate")),
	}
}

// DecodeSteamSession decodes SteamSessionError and SteamAutoLogout payloads.
func DecodeSteamSession(payload []byte) SteamSession {
	j := gjson.ParseBytes(payload)
	return SteamSession{
		Message: j.Get("message").String(),
		Reason:  j.Get("reason").String(),
	}
}

func entity(j gjson.Result) string {
	for _, field := range []string{"entity", "service", "serviceName", "gameId"} {
		if v := j.Get(field); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func details(j gjson.Result) map[string]any {
	var out map[string]any
	j.ForEach(func(key, value gjson.Result) bool {
		if _, standard := standardFields[key.String()]; standard {
			return true
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[key.String()] = value.Value()
		return true
	})
	return out
}

func timestamp(j gjson.Result) time.Time {
	if t := timeField(j, "timestamp"); !t.IsZero() {
		return t
	}
	return time.Now()
}

func timeField(j gjson.Result, field string) time.Time {
	v := j.Get(field)
	if !v.Exists() {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
		return t
	}
	return time.Time{}
}

func firstInt(j gjson.Result, fields ...string) int64 {
	for _, field := range fields {
		if v := j.Get(field); v.Exists() {
			return v.Int()
		}
	}
	return 0
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
