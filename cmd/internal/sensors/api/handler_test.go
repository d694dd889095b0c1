package sensorsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motionhub/cmd/identity"
	"motionhub/cmd/internal/auth/session"
	"motionhub/cmd/internal/sensors"
	"motionhub/cmd/security/token"
	rtv1 "motionhub/shared/contracts/realtime/v1"
)

type recordingPublisher struct {
	mu  sync.Mutex
	got []rtv1.EventOut
}

func (p *recordingPublisher) Publish(_ context.Context, group string, msg []byte) error {
	var out rtv1.EventOut
	if err := json.Unmarshal(msg, &out); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if group == rtv1.GroupSensorData {
		p.got = append(p.got, out)
	}
	return nil
}

type apiFixture struct {
	t        *testing.T
	srv      *httptest.Server
	accounts *identity.MemoryStore
	devices  *sensors.MemoryStore
	hasher   token.Hasher
	pub      *recordingPublisher
}

func newAPIFixture(t *testing.T, cfg Config) *apiFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &apiFixture{
		t:        t,
		accounts: identity.NewMemoryStore(),
		devices:  sensors.NewMemoryStore(),
		hasher:   token.NewHasher(nil),
		pub:      &recordingPublisher{},
	}
	resolver := session.NewResolver(f.accounts, f.devices, f.hasher, nil)
	tokens := session.NewDeviceTokens(f.devices, f.accounts, f.hasher, 20)
	auth := session.NewAuthenticator(resolver, tokens, nil, log)
	ing := sensors.NewIngestor(f.devices, sensors.OwnerConflictReject, sensors.WithLogger(log))

	h := NewHandler(log, f.devices, ing, f.pub, tokens, auth, cfg)
	root := chi.NewRouter()
	root.Mount("/api", h.Routes())
	f.srv = httptest.NewServer(root)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) account(email, tok string) identity.Account {
	f.t.Helper()
	a, err := f.accounts.CreateAccount(context.Background(), identity.CreateAccountInput{Email: email})
	require.NoError(f.t, err)
	require.NoError(f.t, f.accounts.SetAPIToken(context.Background(), a.ID, f.hasher.Hash(tok), time.Now()))
	return a
}

func (f *apiFixture) do(method, path, auth, contentType string, body io.Reader) (*http.Response, []byte) {
	f.t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	require.NoError(f.t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp, b
}

func (f *apiFixture) doJSON(method, path, auth string, v any) (*http.Response, []byte) {
	f.t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(f.t, err)
		body = bytes.NewReader(b)
	}
	return f.do(method, path, auth, "application/json", body)
}

func errorCode(t *testing.T, b []byte) string {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(b, &e), string(b))
	return e.Error.Code
}

func TestDevices_CRUDIsOwnerScoped(t *testing.T) {
	f := newAPIFixture(t, Config{})
	f.account("alice@example.com", "alice")
	f.account("bob@example.com", "bob")

	resp, b := f.doJSON(http.MethodPost, "/api/devices/", "Token alice", map[string]any{"device_id": "ESP32_001", "location": "Hall"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(b))
	var dev sensors.Device
	require.NoError(t, json.Unmarshal(b, &dev))
	assert.Equal(t, "Device ESP32_001", dev.Name)
	assert.True(t, dev.IsActive)
	assert.NotContains(t, string(b), "owner")

	resp, b = f.doJSON(http.MethodPost, "/api/devices", "Token bob", map[string]any{"device_id": "ESP32_001"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", errorCode(t, b))

	resp, b = f.doJSON(http.MethodPost, "/api/devices", "Token bob", map[string]any{"device_id": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", errorCode(t, b))

	resp, b = f.doJSON(http.MethodGet, "/api/devices/", "Token bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(b))

	resp, _ = f.doJSON(http.MethodGet, "/api/devices/"+dev.ID+"/", "Token bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, b = f.doJSON(http.MethodPatch, "/api/devices/"+dev.ID+"/", "Token alice", map[string]any{"name": "Porch", "is_active": false})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(b))
	require.NoError(t, json.Unmarshal(b, &dev))
	assert.Equal(t, "Porch", dev.Name)
	assert.Equal(t, "Hall", dev.Location)
	assert.False(t, dev.IsActive)

	resp, _ = f.doJSON(http.MethodDelete, "/api/devices/"+dev.ID+"/", "Token bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.doJSON(http.MethodDelete, "/api/devices/"+dev.ID+"/", "Token alice", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.doJSON(http.MethodGet, "/api/devices/"+dev.ID, "Token alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDevices_RequireAuthentication(t *testing.T) {
	f := newAPIFixture(t, Config{})
	for _, auth := range []string{"", "Token nope", "Basic abc"} {
		resp, _ := f.doJSON(http.MethodGet, "/api/devices/", auth, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, auth)
	}
}

func TestDevices_DeviceTokenCannotManageAccount(t *testing.T) {
	f := newAPIFixture(t, Config{})
	alice := f.account("alice@example.com", "alice")
	ctx := context.Background()
	dev, err := f.devices.CreateDevice(ctx, sensors.NewDevice{DeviceID: "ESP32_001", OwnerID: alice.ID, IsActive: true})
	require.NoError(t, err)
	require.NoError(t, f.devices.SetDeviceToken(ctx, dev.ID, f.hasher.Hash("firmware-token"), time.Now()))
	camera, err := f.devices.CreateDevice(ctx, sensors.NewDevice{DeviceID: "CAMERA_9", OwnerID: alice.ID, IsActive: true})
	require.NoError(t, err)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/devices/"},
		{http.MethodGet, "/api/devices/" + camera.ID + "/"},
		{http.MethodPatch, "/api/devices/" + camera.ID + "/"},
		{http.MethodDelete, "/api/devices/" + camera.ID + "/"},
		{http.MethodPost, "/api/devices/" + camera.ID + "/token"},
		{http.MethodGet, "/api/sensor-data/"},
		{http.MethodGet, "/api/motion-events/"},
	} {
		resp, b := f.doJSON(tc.method, tc.path, "Device-Token firmware-token", map[string]any{})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, tc.method+" "+tc.path)
		assert.Equal(t, session.ReasonCredentialNotAllowed, errorCode(t, b), tc.method+" "+tc.path)
	}

	_, err = f.devices.DeviceByRef(ctx, camera.ID)
	require.NoError(t, err, "device must survive a device-token delete attempt")

	resp, b := f.doJSON(http.MethodPost, "/api/esp32/motion-event/", "Device-Token firmware-token", map[string]any{})
	assert.Equal(t, http.StatusCreated, resp.StatusCode, string(b))
}

func TestDevices_RotateTokenThenIngestWithIt(t *testing.T) {
	f := newAPIFixture(t, Config{})
	alice := f.account("alice@example.com", "alice")
	dev, err := f.devices.CreateDevice(context.Background(), sensors.NewDevice{DeviceID: "ESP32_007", OwnerID: alice.ID, IsActive: true})
	require.NoError(t, err)

	resp, b := f.doJSON(http.MethodPost, "/api/devices/"+dev.ID+"/token", "Token alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(b))
	var rot rotateTokenResponse
	require.NoError(t, json.Unmarshal(b, &rot))
	assert.Equal(t, "ESP32_007", rot.DeviceID)
	assert.Len(t, rot.Token, 40)

	// The device token supplies the device id.
	resp, b = f.doJSON(http.MethodPost, "/api/esp32/sensor-data/", "Device-Token "+rot.Token, map[string]any{"temperature": 19.5})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(b))
	var view sensors.ObservationView
	require.NoError(t, json.Unmarshal(b, &view))
	assert.Equal(t, "ESP32_007", view.DeviceID)
	require.NotNil(t, view.Temperature)
	assert.InDelta(t, 19.5, *view.Temperature, 1e-9)
}

func TestIngest_FormBodiesAndBroadcast(t *testing.T) {
	f := newAPIFixture(t, Config{})
	f.account("alice@example.com", "alice")

	form := url.Values{"device_id": {"ESP32_001"}, "timestamp": {"2024-07-04T10:00:00Z"}, "temperature": {"22.1"}, "humidity": {"40"}}
	resp, b := f.do(http.MethodPost, "/api/esp32/sensor-data/", "Token alice", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(b))

	var mp bytes.Buffer
	mw := multipart.NewWriter(&mp)
	require.NoError(t, mw.WriteField("device_id", "ESP32_001"))
	require.NoError(t, mw.WriteField("timestamp", "uptime_12345"))
	require.NoError(t, mw.WriteField("image", "motion_events/cap1.jpg"))
	require.NoError(t, mw.Close())
	resp, b = f.do(http.MethodPost, "/api/esp32/motion-event/", "Token alice", mw.FormDataContentType(), &mp)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(b))
	var view sensors.ObservationView
	require.NoError(t, json.Unmarshal(b, &view))
	require.NotNil(t, view.ImageRef)
	assert.Equal(t, "motion_events/cap1.jpg", *view.ImageRef)
	assert.WithinDuration(t, time.Now(), view.Timestamp, 5*time.Second)

	require.Len(t, f.pub.got, 2)
	assert.Equal(t, rtv1.TypeSensorData, f.pub.got[0].Type)
	assert.Equal(t, "2024-07-04T10:00:00Z", f.pub.got[0].Timestamp)
	assert.Equal(t, rtv1.TypeMotionEvent, f.pub.got[1].Type)

	resp, b = f.do(http.MethodPost, "/api/esp32/sensor-data/", "Token alice", "application/x-www-form-urlencoded", strings.NewReader("device_id=ESP32_001&temperature=hot"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, rtv1.CodeInvalidValue, errorCode(t, b))
	assert.Len(t, f.pub.got, 2)
}

func TestIngest_Anonymous(t *testing.T) {
	closed := newAPIFixture(t, Config{})
	resp, _ := closed.doJSON(http.MethodPost, "/api/esp32/sensor-data/", "", map[string]any{"device_id": "X"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	open := newAPIFixture(t, Config{AllowAnonymousIngest: true})
	alice := open.account("alice@example.com", "alice")
	_, err := open.devices.CreateDevice(context.Background(), sensors.NewDevice{DeviceID: "KNOWN", OwnerID: alice.ID, IsActive: true})
	require.NoError(t, err)

	resp, b := open.doJSON(http.MethodPost, "/api/esp32/sensor-data/", "", map[string]any{"device_id": "UNKNOWN"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, rtv1.CodeUnknownDevice, errorCode(t, b))

	resp, b = open.doJSON(http.MethodPost, "/api/esp32/sensor-data/", "", map[string]any{"device_id": "KNOWN", "humidity": "55"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode, string(b))
}

func TestObservations_ListAndDateFilter(t *testing.T) {
	f := newAPIFixture(t, Config{})
	alice := f.account("alice@example.com", "alice")
	bob := f.account("bob@example.com", "bob")
	ctx := context.Background()

	da, err := f.devices.CreateDevice(ctx, sensors.NewDevice{DeviceID: "A", Name: "Kitchen", Location: "Ground", OwnerID: alice.ID, IsActive: true})
	require.NoError(t, err)
	db, err := f.devices.CreateDevice(ctx, sensors.NewDevice{DeviceID: "B", OwnerID: bob.ID, IsActive: true})
	require.NoError(t, err)

	days := []time.Time{
		time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 23, 59, 0, 0, time.UTC),
		time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
	}
	for _, ts := range days {
		_, err := f.devices.InsertObservation(ctx, sensors.NewObservation{Kind: sensors.KindMotion, DeviceRef: da.ID, Timestamp: ts})
		require.NoError(t, err)
	}
	_, err = f.devices.InsertObservation(ctx, sensors.NewObservation{Kind: sensors.KindMotion, DeviceRef: db.ID, Timestamp: days[0]})
	require.NoError(t, err)

	resp, b := f.doJSON(http.MethodGet, "/api/motion-events/", "Token alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []sensors.ObservationView
	require.NoError(t, json.Unmarshal(b, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "Kitchen", rows[0].DeviceName)
	assert.Equal(t, "Ground", rows[0].DeviceLocation)
	assert.True(t, rows[0].Timestamp.After(rows[2].Timestamp))

	resp, b = f.doJSON(http.MethodGet, "/api/devices/"+da.ID+"/motion_events/?start_date=2024-03-02&end_date=2024-03-02", "Token alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(b, &rows))
	require.Len(t, rows, 1)
	assert.True(t, days[1].Equal(rows[0].Timestamp))

	// Bad dates are ignored.
	resp, b = f.doJSON(http.MethodGet, "/api/devices/"+da.ID+"/motion_events?start_date=yesterday", "Token alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(b, &rows))
	assert.Len(t, rows, 3)

	resp, b = f.doJSON(http.MethodGet, "/api/sensor-data/", "Token alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(b))

	resp, _ = f.doJSON(http.MethodGet, "/api/devices/"+db.ID+"/sensor_data/", "Token alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFilterFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?start_date=2024-01-05&end_date=2024-01-06&limit=5000", nil)
	f := filterFromQuery(r)
	require.NotNil(t, f.From)
	require.NotNil(t, f.To)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), *f.From)
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), *f.To)
	assert.Equal(t, maxListLimit, f.Limit)
}
