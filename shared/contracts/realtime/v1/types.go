// Package v1 defines the motionhub realtime protocol v1 contract.
//
// Messages are flat JSON objects discriminated by "type". The package is shared between the
// server, the smoke tool and tests so the wire format has a single authoritative definition.
package v1

import (
	"encoding/json"
	"errors"
	"strings"
)

// Subprotocol is offered by browser dashboards. Embedded clients may omit it.
const Subprotocol = "motionhub.realtime.v1"

// GroupSensorData is the single broadcast group every authenticated session joins.
const GroupSensorData = "sensor_data"

// CloseAuthFailed is the private-range close status sent when the handshake credential
// cannot be resolved.
const CloseAuthFailed = 4003

// Type constants (wire-stable).
const (
	// TypeConnectionEstablished acknowledges a successful, authenticated connect (server -> client).
	TypeConnectionEstablished = "connection_established"

	// TypeMotionEvent is a motion observation (client -> server, and broadcast server -> clients).
	TypeMotionEvent = "motion_event"
	// TypeSensorData is a periodic temperature/humidity reading (both directions).
	TypeSensorData = "sensor_data"

	// TypeMotionEventReceived acknowledges a persisted motion event to its sender.
	TypeMotionEventReceived = "motion_event_received"
	// TypeSensorDataReceived acknowledges a persisted sensor reading to its sender.
	TypeSensorDataReceived = "sensor_data_received"

	// TypeError reports a per-message failure; the session stays open.
	TypeError = "error"
)

// Error codes carried by ErrorMessage.Code.
const (
	CodeBadJSON             = "bad_json"
	CodeMissingType         = "missing_type"
	CodeUnknownType         = "unknown_type"
	CodeMissingDeviceID     = "missing_device_id"
	CodeUnknownDevice       = "unknown_device"
	CodeInvalidValue        = "invalid_value"
	CodePersistFailed       = "persist_failed"
	CodeDeviceOwnerConflict = "device_owner_conflict"
	CodeDeviceInactive      = "device_inactive"
	CodeRateLimited         = "rate_limited"
	CodeInternal            = "internal"
)

// IsEventType reports whether typ is one of the recognized inbound event kinds.
func IsEventType(typ string) bool {
	switch typ {
	case TypeMotionEvent, TypeSensorData:
		return true
	default:
		return false
	}
}

// ReceivedType returns the acknowledgement type for an inbound event kind.
func ReceivedType(kind string) string {
	return kind + "_received"
}

// ErrMissingType is returned by DecodeHeader for a JSON object without a "type".
var ErrMissingType = errors.New("missing field: type")

// Header is decoded first to route a frame by its discriminator.
type Header struct {
	Type string `json:"type"`
}

// DecodeHeader extracts and validates the type discriminator of a raw frame.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, err
	}
	if strings.TrimSpace(h.Type) == "" {
		return Header{}, ErrMissingType
	}
	return h, nil
}

// EventIn is an inbound motion_event / sensor_data frame.
//
// Timestamp is kept raw: devices without a wall clock send their uptime (a JSON number or an
// "uptime..." string) and the server substitutes its own receipt time. Temperature and Humidity
// are raw because firmware sends them as numbers or numeric strings.
type EventIn struct {
	Type        string          `json:"type"`
	DeviceID    string          `json:"device_id"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
	Temperature json.RawMessage `json:"temperature,omitempty"`
	Humidity    json.RawMessage `json:"humidity,omitempty"`
}

// EventOut is the broadcast form of an accepted event.
type EventOut struct {
	Type        string   `json:"type"`
	ID          string   `json:"id,omitempty"`
	DeviceID    string   `json:"device_id"`
	Timestamp   string   `json:"timestamp"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

// Ack is used for connection_established and *_received replies.
type Ack struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorMessage is the error reply. Code is stable; Message is human readable; Detail is only
// populated when the server runs with debug diagnostics enabled.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
