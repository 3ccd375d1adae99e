package domain

import "encoding/json"

// DeviceAttributes is the posture snapshot a client reports with each
// request. Named optional fields (not a free-form map) keep the risk rules
// exhaustively testable. Zero values are the documented defaults: antivirus
// off, unknown OS, unknown reputation and location.
type DeviceAttributes struct {
	Antivirus    bool   `json:"antivirus"`
	OS           string `json:"os"`
	IPReputation string `json:"ipReputation"`
	Location     string `json:"location"`
}

// ParseDeviceAttributes decodes the x-device-info header payload. Malformed
// or missing JSON degrades to the zero snapshot, never an error: a client
// that cannot report posture is scored, not rejected outright.
func ParseDeviceAttributes(raw string) DeviceAttributes {
	var attrs DeviceAttributes
	if raw == "" {
		return attrs
	}
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return DeviceAttributes{}
	}
	return attrs
}

// Snapshot renders the attributes as the flat key/value map recorded in
// audit events and committed into block digests.
func (d DeviceAttributes) Snapshot() map[string]string {
	av := "false"
	if d.Antivirus {
		av = "true"
	}
	return map[string]string{
		"antivirus":    av,
		"os":           d.OS,
		"ipReputation": d.IPReputation,
		"location":     d.Location,
	}
}
