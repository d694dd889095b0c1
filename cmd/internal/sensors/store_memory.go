package sensors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"motionhub/cmd/identity/ids"
)

// MemoryStore is an in-process Store used when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	devices    map[string]*Device // row id -> device
	byExternal map[string]string  // device_id -> row id
	byToken    map[string]string  // token digest -> row id
	obs        map[Kind][]Observation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:    make(map[string]*Device),
		byExternal: make(map[string]string),
		byToken:    make(map[string]string),
		obs:        make(map[Kind][]Observation),
	}
}

func (s *MemoryStore) CreateDevice(ctx context.Context, in NewDevice) (Device, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}
	in, err := prepareDevice(in)
	if err != nil {
		return Device{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(in)
}

func (s *MemoryStore) createLocked(in NewDevice) (Device, error) {
	if _, ok := s.byExternal[in.DeviceID]; ok {
		return Device{}, ConflictError{Field: "device_id"}
	}
	if in.TokenHash != nil {
		if _, ok := s.byToken[*in.TokenHash]; ok {
			return Device{}, ConflictError{Field: "token"}
		}
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Device{}, err
	}
	d := &Device{
		ID:        id,
		DeviceID:  in.DeviceID,
		Name:      in.Name,
		Location:  in.Location,
		OwnerID:   in.OwnerID,
		IsActive:  in.IsActive,
		TokenHash: copyString(in.TokenHash),
		CreatedAt: in.Now,
		UpdatedAt: in.Now,
	}
	s.devices[id] = d
	s.byExternal[d.DeviceID] = id
	if d.TokenHash != nil {
		s.byToken[*d.TokenHash] = id
	}
	return cloneDevice(d), nil
}

func (s *MemoryStore) DeviceByRef(ctx context.Context, id string) (Device, error) {
	return s.lookup(ctx, func() (string, bool) { return id, true })
}

func (s *MemoryStore) DeviceByExternalID(ctx context.Context, deviceID string) (Device, error) {
	return s.lookup(ctx, func() (string, bool) {
		id, ok := s.byExternal[strings.TrimSpace(deviceID)]
		return id, ok
	})
}

func (s *MemoryStore) DeviceByTokenHash(ctx context.Context, tokenHash string) (Device, error) {
	return s.lookup(ctx, func() (string, bool) {
		id, ok := s.byToken[tokenHash]
		return id, ok
	})
}

func (s *MemoryStore) lookup(ctx context.Context, key func() (string, bool)) (Device, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := key()
	if !ok {
		return Device{}, ErrNotFound
	}
	d, ok := s.devices[id]
	if !ok {
		return Device{}, ErrNotFound
	}
	return cloneDevice(d), nil
}

func (s *MemoryStore) ListDevices(ctx context.Context, ownerID string) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Device, 0)
	for _, d := range s.devices {
		if ownerID == "" || d.OwnerID == ownerID {
			out = append(out, cloneDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateDevice(ctx context.Context, id string, p DevicePatch, now time.Time) (Device, error) {
	return s.mutate(ctx, id, now, func(d *Device) error { return applyDevicePatch(d, p) })
}

func (s *MemoryStore) SetDeviceOwner(ctx context.Context, id, ownerID string, now time.Time) (Device, error) {
	return s.mutate(ctx, id, now, func(d *Device) error {
		d.OwnerID = ownerID
		return nil
	})
}

func (s *MemoryStore) SetDeviceToken(ctx context.Context, id, tokenHash string, now time.Time) error {
	if strings.TrimSpace(tokenHash) == "" {
		return fmt.Errorf("%w: empty token hash", ErrInvalidInput)
	}
	_, err := s.mutate(ctx, id, now, func(d *Device) error {
		if other, ok := s.byToken[tokenHash]; ok && other != d.ID {
			return ConflictError{Field: "token"}
		}
		if d.TokenHash != nil {
			delete(s.byToken, *d.TokenHash)
		}
		d.TokenHash = &tokenHash
		s.byToken[tokenHash] = d.ID
		return nil
	})
	return err
}

func (s *MemoryStore) mutate(ctx context.Context, id string, now time.Time, fn func(*Device) error) (Device, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return Device{}, ErrNotFound
	}
	next := cloneDevice(d)
	if err := fn(&next); err != nil {
		return Device{}, err
	}
	next.UpdatedAt = now
	*d = next
	return cloneDevice(d), nil
}

func (s *MemoryStore) DeleteDevice(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.devices, id)
	delete(s.byExternal, d.DeviceID)
	if d.TokenHash != nil {
		delete(s.byToken, *d.TokenHash)
	}
	for kind, rows := range s.obs {
		kept := rows[:0]
		for _, o := range rows {
			if o.DeviceRef != id {
				kept = append(kept, o)
			}
		}
		s.obs[kind] = kept
	}
	return nil
}

func (s *MemoryStore) EnsureDevice(ctx context.Context, in EnsureDeviceInput) (Device, EnsureResult, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, EnsureResult{}, err
	}
	if strings.TrimSpace(in.TokenHash) == "" {
		return Device{}, EnsureResult{}, fmt.Errorf("%w: empty token hash", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byExternal[strings.TrimSpace(in.DeviceID)]; ok {
		d := s.devices[id]
		if d.HasToken() {
			return cloneDevice(d), EnsureResult{}, nil
		}
		if _, taken := s.byToken[in.TokenHash]; taken {
			return Device{}, EnsureResult{}, ConflictError{Field: "token"}
		}
		tok := in.TokenHash
		d.TokenHash = &tok
		d.UpdatedAt = nowOr(in.Now)
		s.byToken[tok] = d.ID
		return cloneDevice(d), EnsureResult{TokenSet: true}, nil
	}

	tok := in.TokenHash
	nd, err := prepareDevice(NewDevice{
		DeviceID: in.DeviceID, Name: in.Name, Location: in.Location, OwnerID: in.OwnerID,
		IsActive: true, TokenHash: &tok, Now: in.Now,
	})
	if err != nil {
		return Device{}, EnsureResult{}, err
	}
	d, err := s.createLocked(nd)
	if err != nil {
		return Device{}, EnsureResult{}, err
	}
	return d, EnsureResult{Created: true, TokenSet: true}, nil
}

func (s *MemoryStore) InsertObservation(ctx context.Context, in NewObservation) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}
	if !in.Kind.Valid() {
		return Observation{}, fmt.Errorf("%w: kind %q", ErrInvalidInput, in.Kind)
	}
	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Observation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[in.DeviceRef]; !ok {
		return Observation{}, ErrNotFound
	}
	o := Observation{
		ID:          id,
		DeviceRef:   in.DeviceRef,
		Timestamp:   in.Timestamp.UTC(),
		Temperature: copyFloat(in.Temperature),
		Humidity:    copyFloat(in.Humidity),
		CreatedAt:   now,
	}
	if in.Kind == KindMotion {
		o.ImageRef = copyString(in.ImageRef)
	}
	s.obs[in.Kind] = append(s.obs[in.Kind], o)
	return o, nil
}

func (s *MemoryStore) ListObservations(ctx context.Context, kind Kind, f Filter) ([]ObservationView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ObservationView, 0)
	for _, o := range s.obs[kind] {
		d, ok := s.devices[o.DeviceRef]
		if !ok {
			continue
		}
		if f.OwnerID != "" && d.OwnerID != f.OwnerID {
			continue
		}
		if f.DeviceRef != "" && o.DeviceRef != f.DeviceRef {
			continue
		}
		if f.From != nil && o.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && !o.Timestamp.Before(*f.To) {
			continue
		}
		out = append(out, ObservationView{
			Observation: o, DeviceID: d.DeviceID, DeviceName: d.Name, DeviceLocation: d.Location,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func cloneDevice(d *Device) Device {
	out := *d
	out.TokenHash = copyString(d.TokenHash)
	return out
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
