package sensorsapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"motionhub/cmd/internal/auth/session"
	"motionhub/cmd/internal/sensors"
	rtv1 "motionhub/shared/contracts/realtime/v1"
)

const (
	defaultMaxBodyBytes = 1 << 20
	maxListLimit        = 1000
	dateLayout          = "2006-01-02"
)

// Ingester persists one device observation.
type Ingester interface {
	Ingest(ctx context.Context, p sensors.Principal, ev sensors.EventInput) (sensors.Accepted, error)
}

// Publisher forwards accepted observations to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, group string, msg []byte) error
}

// TokenRotator issues a fresh device token.
type TokenRotator interface {
	Rotate(ctx context.Context, deviceRef string) (string, error)
}

type Config struct {
	// AllowAnonymousIngest lets the esp32 endpoints accept requests without credentials for
	// devices that already exist and are active.
	AllowAnonymousIngest bool
	MaxBodyBytes         int64
}

type Handler struct {
	log     *slog.Logger
	store   sensors.Store
	ingest  Ingester
	pub     Publisher
	tokens  TokenRotator
	auth    session.CredentialAuthenticator
	cfg     Config
	nowFunc func() time.Time
}

func NewHandler(log *slog.Logger, store sensors.Store, ingest Ingester, pub Publisher, tokens TokenRotator, auth session.CredentialAuthenticator, cfg Config) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		log:     log,
		store:   store,
		ingest:  ingest,
		pub:     pub,
		tokens:  tokens,
		auth:    auth,
		cfg:     cfg,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Routes returns the router to mount under /api. Trailing slashes are optional.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	h.Register(r)
	return r
}

// Register adds the device, listing and ingestion routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(h.auth, true, h.log, session.AccountKinds...))

		r.Get("/devices", h.handleListDevices)
		r.Post("/devices", h.handleCreateDevice)
		r.Route("/devices/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetDevice)
			r.Patch("/", h.handleUpdateDevice)
			r.Delete("/", h.handleDeleteDevice)
			r.Post("/token", h.handleRotateToken)
			r.Get("/motion_events", h.handleDeviceObservations(sensors.KindMotion))
			r.Get("/sensor_data", h.handleDeviceObservations(sensors.KindSensor))
		})

		r.Get("/motion-events", h.handleListObservations(sensors.KindMotion))
		r.Get("/sensor-data", h.handleListObservations(sensors.KindSensor))
	})

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(h.auth, false, h.log))

		r.Post("/esp32/motion-event", h.handleIngest(sensors.KindMotion))
		r.Post("/esp32/sensor-data", h.handleIngest(sensors.KindSensor))
	})
}

// ---- devices ----

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	id, _ := session.FromContext(r.Context())
	list, err := h.store.ListDevices(r.Context(), id.Account.ID)
	if err != nil {
		h.internal(w, r, "devices.list.fail", err)
		return
	}
	if list == nil {
		list = []sensors.Device{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	id, _ := session.FromContext(r.Context())

	var req createDeviceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	dev, err := h.store.CreateDevice(r.Context(), sensors.NewDevice{
		DeviceID: req.DeviceID,
		Name:     req.Name,
		Location: req.Location,
		OwnerID:  id.Account.ID,
		IsActive: active,
		Now:      h.nowFunc(),
	})
	if err != nil {
		h.storeError(w, r, "devices.create.fail", err)
		return
	}
	h.log.Info("devices.create", "device_id", dev.DeviceID, "owner_id", id.Account.ID)
	writeJSON(w, http.StatusCreated, dev)
}

func (h *Handler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (h *Handler) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}
	var req updateDeviceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	updated, err := h.store.UpdateDevice(r.Context(), dev.ID, sensors.DevicePatch{
		Name:     req.Name,
		Location: req.Location,
		IsActive: req.IsActive,
	}, h.nowFunc())
	if err != nil {
		h.storeError(w, r, "devices.update.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteDevice(r.Context(), dev.ID); err != nil {
		h.storeError(w, r, "devices.delete.fail", err)
		return
	}
	h.log.Info("devices.delete", "device_id", dev.DeviceID, "owner_id", dev.OwnerID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}
	tok, err := h.tokens.Rotate(r.Context(), dev.ID)
	if err != nil {
		h.storeError(w, r, "devices.token.rotate.fail", err)
		return
	}
	h.log.Info("devices.token.rotate", "device_id", dev.DeviceID)
	writeJSON(w, http.StatusOK, rotateTokenResponse{DeviceID: dev.DeviceID, Token: tok})
}

// ownedDevice loads {id} and checks it belongs to the caller. Other accounts' devices are reported
// as missing so ids cannot be guessed.
func (h *Handler) ownedDevice(w http.ResponseWriter, r *http.Request) (sensors.Device, bool) {
	id, _ := session.FromContext(r.Context())
	dev, err := h.store.DeviceByRef(r.Context(), chi.URLParam(r, "id"))
	if err == nil && dev.OwnerID != id.Account.ID {
		err = sensors.ErrNotFound
	}
	if err != nil {
		h.storeError(w, r, "devices.get.fail", err)
		return sensors.Device{}, false
	}
	return dev, true
}

// ---- observations ----

func (h *Handler) handleDeviceObservations(kind sensors.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dev, ok := h.ownedDevice(w, r)
		if !ok {
			return
		}
		f := filterFromQuery(r)
		f.DeviceRef = dev.ID
		h.listObservations(w, r, kind, f)
	}
}

func (h *Handler) handleListObservations(kind sensors.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := session.FromContext(r.Context())
		f := filterFromQuery(r)
		f.OwnerID = id.Account.ID
		h.listObservations(w, r, kind, f)
	}
}

func (h *Handler) listObservations(w http.ResponseWriter, r *http.Request, kind sensors.Kind, f sensors.Filter) {
	rows, err := h.store.ListObservations(r.Context(), kind, f)
	if err != nil {
		h.internal(w, r, "observations.list.fail", err)
		return
	}
	if rows == nil {
		rows = []sensors.ObservationView{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// filterFromQuery reads start_date and end_date (YYYY-MM-DD, UTC, end inclusive) and limit.
// Unparseable values are ignored.
func filterFromQuery(r *http.Request) sensors.Filter {
	q := r.URL.Query()
	var f sensors.Filter
	if d, err := time.Parse(dateLayout, strings.TrimSpace(q.Get("start_date"))); err == nil {
		f.From = &d
	}
	if d, err := time.Parse(dateLayout, strings.TrimSpace(q.Get("end_date"))); err == nil {
		end := d.AddDate(0, 0, 1)
		f.To = &end
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		f.Limit = min(n, maxListLimit)
	}
	return f
}

// ---- ingestion ----

func (h *Handler) handleIngest(kind sensors.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p sensors.Principal
		if id, ok := session.FromContext(r.Context()); ok {
			p = id.Principal()
		} else if !h.cfg.AllowAnonymousIngest {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication credentials were not provided")
			return
		}

		ev, err := h.readEvent(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
		ev.Kind = kind
		ev.Transport = "http"

		acc, err := h.ingest.Ingest(r.Context(), p, ev)
		if err != nil {
			ie := sensors.AsIngestError(err)
			status := ingestStatus(ie.Code)
			if status >= http.StatusInternalServerError {
				h.log.Error("esp32.ingest.fail", "kind", kind, "device_id", ev.DeviceID, "err", err)
			}
			writeError(w, status, ie.Code, ie.Message)
			return
		}

		if h.pub != nil {
			msg, err := json.Marshal(acc.Broadcast())
			if err == nil {
				err = h.pub.Publish(r.Context(), rtv1.GroupSensorData, msg)
			}
			if err != nil {
				h.log.Warn("esp32.publish.fail", "kind", kind, "device_id", acc.Device.DeviceID, "err", err)
			}
		}
		writeJSON(w, http.StatusCreated, viewOf(acc))
	}
}

// readEvent accepts JSON, urlencoded and multipart bodies.
func (h *Handler) readEvent(w http.ResponseWriter, r *http.Request) (sensors.EventInput, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req ingestRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			return sensors.EventInput{}, errors.New("invalid JSON body")
		}
		return sensors.EventInput{
			DeviceID:    req.DeviceID,
			Timestamp:   req.Timestamp,
			Temperature: req.Temperature,
			Humidity:    req.Humidity,
			ImageRef:    req.Image,
		}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	var err error
	if ct == "multipart/form-data" {
		err = r.ParseMultipartForm(h.cfg.MaxBodyBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return sensors.EventInput{}, errors.New("invalid form body")
	}
	return sensors.EventInput{
		DeviceID:    r.PostFormValue("device_id"),
		Timestamp:   formValue(r, "timestamp"),
		Temperature: formValue(r, "temperature"),
		Humidity:    formValue(r, "humidity"),
		ImageRef:    r.PostFormValue("image"),
	}, nil
}

func formValue(r *http.Request, key string) json.RawMessage {
	v := strings.TrimSpace(r.PostFormValue(key))
	if v == "" {
		return nil
	}
	return sensors.StringValue(v)
}

func ingestStatus(code string) int {
	switch code {
	case rtv1.CodeDeviceOwnerConflict:
		return http.StatusConflict
	case rtv1.CodeDeviceInactive:
		return http.StatusForbidden
	case rtv1.CodePersistFailed, rtv1.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// ---- error mapping ----

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, event string, err error) {
	var ce sensors.ConflictError
	switch {
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, "conflict", "a device with this "+ce.Field+" already exists")
	case errors.Is(err, sensors.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "conflict")
	case errors.Is(err, sensors.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "device not found")
	case errors.Is(err, sensors.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", strings.TrimPrefix(err.Error(), sensors.ErrInvalidInput.Error()+": "))
	default:
		h.internal(w, r, event, err)
	}
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, event string, err error) {
	h.log.Error(event, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}
