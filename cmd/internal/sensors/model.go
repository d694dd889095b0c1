package sensors

import "time"

// Kind names an observation type. Values match the realtime wire types.
type Kind string

const (
	KindMotion Kind = "motion_event"
	KindSensor Kind = "sensor_data"
)

func (k Kind) Valid() bool { return k == KindMotion || k == KindSensor }

// Device is one physical sensor unit. DeviceID is the external identifier the hardware reports;
// ID is the row key that observations reference.
type Device struct {
	ID        string    `db:"id" json:"id"`
	DeviceID  string    `db:"device_id" json:"device_id"`
	Name      string    `db:"name" json:"name"`
	Location  string    `db:"location" json:"location"`
	OwnerID   string    `db:"owner_id" json:"-"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	TokenHash *string   `db:"token_hash" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasToken reports whether a device token has been assigned.
func (d Device) HasToken() bool { return d.TokenHash != nil && *d.TokenHash != "" }

// Observation is a stored motion event or sensor reading. ImageRef is only ever set on motion events.
type Observation struct {
	ID          string    `db:"id" json:"id"`
	DeviceRef   string    `db:"device_ref" json:"device"`
	Timestamp   time.Time `db:"ts" json:"timestamp"`
	Temperature *float64  `db:"temperature" json:"temperature"`
	Humidity    *float64  `db:"humidity" json:"humidity"`
	ImageRef    *string   `db:"image_ref" json:"image,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ObservationView is an Observation joined with its device for listings.
type ObservationView struct {
	Observation
	DeviceID       string `db:"device_id" json:"device_id"`
	DeviceName     string `db:"device_name" json:"device_name"`
	DeviceLocation string `db:"device_location" json:"device_location"`
}
