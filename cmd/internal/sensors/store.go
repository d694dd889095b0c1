package sensors

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NewDevice registers a device. TokenHash is optional.
type NewDevice struct {
	DeviceID  string
	Name      string
	Location  string
	OwnerID   string
	IsActive  bool
	TokenHash *string
	Now       time.Time
}

// DevicePatch updates mutable device fields; nil leaves a field unchanged.
type DevicePatch struct {
	Name     *string
	Location *string
	IsActive *bool
}

// EnsureDeviceInput describes a get-or-create with a lazily assigned token.
type EnsureDeviceInput struct {
	DeviceID  string
	OwnerID   string
	Name      string
	Location  string
	TokenHash string
	Now       time.Time
}

// EnsureResult reports which parts of an ensure call changed state.
type EnsureResult struct {
	Created  bool
	TokenSet bool
}

// NewObservation is a validated observation ready to persist.
type NewObservation struct {
	Kind        Kind
	DeviceRef   string
	Timestamp   time.Time
	Temperature *float64
	Humidity    *float64
	ImageRef    *string
	Now         time.Time
}

// Filter scopes observation listings. Zero fields do not filter. To is exclusive.
type Filter struct {
	OwnerID   string
	DeviceRef string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// Store persists devices and observations.
type Store interface {
	CreateDevice(ctx context.Context, in NewDevice) (Device, error)
	DeviceByRef(ctx context.Context, id string) (Device, error)
	DeviceByExternalID(ctx context.Context, deviceID string) (Device, error)
	DeviceByTokenHash(ctx context.Context, tokenHash string) (Device, error)
	ListDevices(ctx context.Context, ownerID string) ([]Device, error)
	UpdateDevice(ctx context.Context, id string, p DevicePatch, now time.Time) (Device, error)
	SetDeviceOwner(ctx context.Context, id, ownerID string, now time.Time) (Device, error)
	// SetDeviceToken replaces the device token digest unconditionally.
	SetDeviceToken(ctx context.Context, id, tokenHash string, now time.Time) error
	// DeleteDevice removes the device and, by cascade, its observations.
	DeleteDevice(ctx context.Context, id string) error

	// EnsureDevice gets or creates the device by external id. An existing device keeps its owner,
	// name and location; its token digest is written only when none is set.
	EnsureDevice(ctx context.Context, in EnsureDeviceInput) (Device, EnsureResult, error)

	InsertObservation(ctx context.Context, in NewObservation) (Observation, error)
	// ListObservations returns newest first.
	ListObservations(ctx context.Context, kind Kind, f Filter) ([]ObservationView, error)
}

const maxDeviceField = 100

func prepareDevice(in NewDevice) (NewDevice, error) {
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	switch {
	case in.DeviceID == "":
		return in, fmt.Errorf("%w: device_id is required", ErrInvalidInput)
	case len(in.DeviceID) > maxDeviceField || len(in.Name) > maxDeviceField || len(in.Location) > maxDeviceField:
		return in, fmt.Errorf("%w: device fields are limited to %d characters", ErrInvalidInput, maxDeviceField)
	case strings.TrimSpace(in.OwnerID) == "":
		return in, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if in.Name == "" {
		in.Name = "Device " + in.DeviceID
	}
	in.Now = nowOr(in.Now)
	return in, nil
}

func applyDevicePatch(d *Device, p DevicePatch) error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" || len(name) > maxDeviceField {
			return fmt.Errorf("%w: name must be 1..%d characters", ErrInvalidInput, maxDeviceField)
		}
		d.Name = name
	}
	if p.Location != nil {
		loc := strings.TrimSpace(*p.Location)
		if len(loc) > maxDeviceField {
			return fmt.Errorf("%w: location is limited to %d characters", ErrInvalidInput, maxDeviceField)
		}
		d.Location = loc
	}
	if p.IsActive != nil {
		d.IsActive = *p.IsActive
	}
	return nil
}
