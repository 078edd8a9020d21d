package router

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Subscribe payloads arrive either as a bare JSON string ("R1") or as an
// object ({"routeId": "R1"}); both forms are accepted.
func idFromPayload(payload json.RawMessage, key string) string {
	result := gjson.ParseBytes(payload)
	if result.Type == gjson.String {
		return result.String()
	}
	if v := result.Get(key); v.Exists() {
		return v.String()
	}
	return ""
}

func routeIDFromPayload(payload json.RawMessage) string {
	return idFromPayload(payload, "routeId")
}

func vehicleIDFromPayload(payload json.RawMessage) string {
	return idFromPayload(payload, "vehicleId")
}
