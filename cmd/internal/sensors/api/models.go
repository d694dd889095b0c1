package sensorsapi

import (
	"encoding/json"

	"motionhub/cmd/internal/sensors"
)

type createDeviceRequest struct {
	Name     string `json:"name"`
	DeviceID string `json:"device_id"`
	Location string `json:"location"`
	IsActive *bool  `json:"is_active"`
}

type updateDeviceRequest struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
	IsActive *bool   `json:"is_active"`
}

type rotateTokenResponse struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// ingestRequest is the JSON body of the esp32 endpoints. Scalars stay raw so numbers and numeric
// strings are both accepted.
type ingestRequest struct {
	DeviceID    string          `json:"device_id"`
	Timestamp   json.RawMessage `json:"timestamp"`
	Temperature json.RawMessage `json:"temperature"`
	Humidity    json.RawMessage `json:"humidity"`
	Image       string          `json:"image"`
}

func viewOf(acc sensors.Accepted) sensors.ObservationView {
	return sensors.ObservationView{
		Observation:    acc.Observation,
		DeviceID:       acc.Device.DeviceID,
		DeviceName:     acc.Device.Name,
		DeviceLocation: acc.Device.Location,
	}
}
