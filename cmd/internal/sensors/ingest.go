package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	rtv1 "motionhub/shared/contracts/realtime/v1"
)

// Principal is who submits an observation. An empty AccountID is an anonymous submitter, which may
// only report for devices that already exist. Device is set when the credential was a device token.
type Principal struct {
	AccountID string
	Device    *Device
}

// EventInput is an observation as received from a transport, before validation.
type EventInput struct {
	Kind        Kind
	DeviceID    string
	Timestamp   json.RawMessage
	Temperature json.RawMessage
	Humidity    json.RawMessage
	ImageRef    string
	// Transport labels metrics and logs ("ws", "http").
	Transport string
}

// Accepted is a persisted observation together with the device it was attributed to.
type Accepted struct {
	Kind            Kind
	Observation     Observation
	Device          Device
	TimestampSource TimestampSource
}

// Broadcast renders the realtime message for an accepted observation.
func (a Accepted) Broadcast() rtv1.EventOut {
	return rtv1.EventOut{
		Type:        string(a.Kind),
		ID:          a.Observation.ID,
		DeviceID:    a.Device.DeviceID,
		Timestamp:   a.Observation.Timestamp.UTC().Format(time.RFC3339Nano),
		Temperature: a.Observation.Temperature,
		Humidity:    a.Observation.Humidity,
	}
}

// Mirror receives every accepted observation after it is stored. Failures never fail ingestion.
type Mirror interface {
	Mirror(ctx context.Context, a Accepted) error
}

const maxImageRef = 512

type Ingestor struct {
	store   Store
	policy  OwnerConflictPolicy
	mirror  Mirror
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time
}

type IngestorOption func(*Ingestor)

func WithMirror(m Mirror) IngestorOption { return func(i *Ingestor) { i.mirror = m } }

func WithMetrics(m *Metrics) IngestorOption { return func(i *Ingestor) { i.metrics = m } }

func WithLogger(l *slog.Logger) IngestorOption {
	return func(i *Ingestor) {
		if l != nil {
			i.log = l
		}
	}
}

func WithClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}

func NewIngestor(store Store, policy OwnerConflictPolicy, opts ...IngestorOption) *Ingestor {
	if policy == "" {
		policy = OwnerConflictReject
	}
	in := &Ingestor{
		store:  store,
		policy: policy,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		if o != nil {
			o(in)
		}
	}
	return in
}

// Policy returns the configured owner-conflict policy.
func (in *Ingestor) Policy() OwnerConflictPolicy { return in.policy }

// Ingest validates, attributes and persists one observation. Errors are *IngestError.
func (in *Ingestor) Ingest(ctx context.Context, p Principal, ev EventInput) (Accepted, error) {
	acc, err := in.ingest(ctx, p, ev)
	result := "ok"
	if err != nil {
		result = AsIngestError(err).Code
	}
	in.metrics.observe(ev.Kind, ev.Transport, result)
	return acc, err
}

func (in *Ingestor) ingest(ctx context.Context, p Principal, ev EventInput) (Accepted, error) {
	if !ev.Kind.Valid() {
		return Accepted{}, ingestErr(rtv1.CodeUnknownType, "unknown message type: "+string(ev.Kind), nil)
	}

	deviceID := strings.TrimSpace(ev.DeviceID)
	if deviceID == "" && p.Device != nil {
		deviceID = p.Device.DeviceID
	}
	if deviceID == "" {
		return Accepted{}, ingestErr(rtv1.CodeMissingDeviceID, "device_id is required", nil)
	}
	if len(deviceID) > maxDeviceField {
		return Accepted{}, ingestErr(rtv1.CodeInvalidValue, "device_id is too long", nil)
	}

	temp, err := ParseScalar(ev.Temperature)
	if err != nil {
		return Accepted{}, ingestErr(rtv1.CodeInvalidValue, "temperature must be a number", err)
	}
	hum, err := ParseScalar(ev.Humidity)
	if err != nil {
		return Accepted{}, ingestErr(rtv1.CodeInvalidValue, "humidity must be a number", err)
	}

	var image *string
	if ev.Kind == KindMotion {
		if ref := strings.TrimSpace(ev.ImageRef); ref != "" {
			if len(ref) > maxImageRef {
				return Accepted{}, ingestErr(rtv1.CodeInvalidValue, "image reference is too long", nil)
			}
			image = &ref
		}
	}

	now := in.now().UTC()
	ts, src := ParseTimestamp(ev.Timestamp, now)

	dev, err := in.resolveDevice(ctx, p, deviceID, now)
	if err != nil {
		return Accepted{}, err
	}

	obs, err := in.store.InsertObservation(ctx, NewObservation{
		Kind:        ev.Kind,
		DeviceRef:   dev.ID,
		Timestamp:   ts,
		Temperature: temp,
		Humidity:    hum,
		ImageRef:    image,
		Now:         now,
	})
	if err != nil {
		in.log.Error("ingest.persist.fail", "kind", ev.Kind, "device_id", deviceID, "err", err)
		return Accepted{}, ingestErr(rtv1.CodePersistFailed, "could not store event", err)
	}

	acc := Accepted{Kind: ev.Kind, Observation: obs, Device: dev, TimestampSource: src}
	if in.mirror != nil {
		if err := in.mirror.Mirror(ctx, acc); err != nil {
			in.log.Warn("ingest.mirror.fail", "kind", ev.Kind, "device_id", deviceID, "err", err)
		}
	}
	in.log.Debug("ingest.ok",
		"kind", ev.Kind,
		"device_id", deviceID,
		"transport", ev.Transport,
		"server_time", src == TimestampServer,
	)
	return acc, nil
}

// resolveDevice finds the device by external id, creating it for the reporting account on first
// contact and applying the owner-conflict policy to devices owned by another account.
func (in *Ingestor) resolveDevice(ctx context.Context, p Principal, deviceID string, now time.Time) (Device, error) {
	dev, err := in.store.DeviceByExternalID(ctx, deviceID)
	if errors.Is(err, ErrNotFound) {
		if p.AccountID == "" {
			return Device{}, ingestErr(rtv1.CodeUnknownDevice, "device with this id does not exist", nil)
		}
		dev, err = in.store.CreateDevice(ctx, NewDevice{
			DeviceID: deviceID,
			OwnerID:  p.AccountID,
			IsActive: true,
			Now:      now,
		})
		if errors.Is(err, ErrConflict) {
			// Lost a first-contact race; the winner's row is authoritative.
			dev, err = in.store.DeviceByExternalID(ctx, deviceID)
		} else if err == nil {
			in.metrics.deviceCreated()
			in.log.Info("ingest.device.create", "device_id", deviceID, "owner_id", p.AccountID)
			return dev, nil
		}
	}
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return Device{}, ingestErr(rtv1.CodeInvalidValue, "invalid device_id", err)
		}
		return Device{}, ingestErr(rtv1.CodePersistFailed, "could not resolve device", err)
	}

	if p.AccountID != "" && dev.OwnerID != p.AccountID {
		if in.policy != OwnerConflictReassign {
			return Device{}, ingestErr(rtv1.CodeDeviceOwnerConflict,
				"device is registered to another account",
				OwnerConflictError{DeviceID: deviceID, OwnerID: dev.OwnerID})
		}
		prev := dev.OwnerID
		dev, err = in.store.SetDeviceOwner(ctx, dev.ID, p.AccountID, now)
		if err != nil {
			return Device{}, ingestErr(rtv1.CodePersistFailed, "could not reassign device", err)
		}
		in.metrics.deviceReassigned()
		in.log.Info("ingest.device.reassign", "device_id", deviceID, "from_owner", prev, "to_owner", p.AccountID)
	}

	if !dev.IsActive {
		return Device{}, ingestErr(rtv1.CodeDeviceInactive, "device is inactive", ErrInactive)
	}
	return dev, nil
}
