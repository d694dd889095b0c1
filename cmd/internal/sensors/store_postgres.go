package sensors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"motionhub/cmd/identity"
	"motionhub/cmd/identity/ids"
)

// PostgresStore implements Store over PostgreSQL. The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("sensors: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "motion"
	}
	if !identity.ValidSchemaName(schema) {
		return nil, fmt.Errorf("sensors: invalid schema identifier %q", schema)
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

const deviceColumns = `id, device_id, name, location, owner_id, is_active, token_hash, created_at, updated_at`

func (s *PostgresStore) CreateDevice(ctx context.Context, in NewDevice) (Device, error) {
	in, err := prepareDevice(in)
	if err != nil {
		return Device{}, err
	}
	return s.insertDevice(ctx, s.pool, in)
}

func (s *PostgresStore) insertDevice(ctx context.Context, q pgxscan.Querier, in NewDevice) (Device, error) {
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Device{}, err
	}
	var d Device
	err = pgxscan.Get(ctx, q, &d,
		`INSERT INTO `+s.table("devices")+` (
		     id, device_id, name, location, owner_id, is_active, token_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		   RETURNING `+deviceColumns,
		id, in.DeviceID, in.Name, in.Location, in.OwnerID, in.IsActive, in.TokenHash, in.Now,
	)
	if err != nil {
		return Device{}, classify("sensors.CreateDevice", err)
	}
	return d, nil
}

func (s *PostgresStore) DeviceByRef(ctx context.Context, id string) (Device, error) {
	return s.getDevice(ctx, "id", id)
}

func (s *PostgresStore) DeviceByExternalID(ctx context.Context, deviceID string) (Device, error) {
	return s.getDevice(ctx, "device_id", strings.TrimSpace(deviceID))
}

func (s *PostgresStore) DeviceByTokenHash(ctx context.Context, tokenHash string) (Device, error) {
	return s.getDevice(ctx, "token_hash", tokenHash)
}

func (s *PostgresStore) getDevice(ctx context.Context, column, value string) (Device, error) {
	var d Device
	err := pgxscan.Get(ctx, s.pool, &d,
		`SELECT `+deviceColumns+` FROM `+s.table("devices")+` WHERE `+pgx.Identifier{column}.Sanitize()+` = $1`, value)
	if err != nil {
		return Device{}, classify("sensors.DeviceBy"+column, err)
	}
	return d, nil
}

func (s *PostgresStore) ListDevices(ctx context.Context, ownerID string) ([]Device, error) {
	out := make([]Device, 0)
	query := `SELECT ` + deviceColumns + ` FROM ` + s.table("devices")
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = $1`
		args = append(args, ownerID)
	}
	if err := pgxscan.Select(ctx, s.pool, &out, query+` ORDER BY id`, args...); err != nil {
		return nil, fmt.Errorf("sensors.ListDevices: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateDevice(ctx context.Context, id string, p DevicePatch, now time.Time) (Device, error) {
	return s.mutateDevice(ctx, "sensors.UpdateDevice", id, now, func(d *Device) error { return applyDevicePatch(d, p) })
}

func (s *PostgresStore) SetDeviceOwner(ctx context.Context, id, ownerID string, now time.Time) (Device, error) {
	return s.mutateDevice(ctx, "sensors.SetDeviceOwner", id, now, func(d *Device) error {
		d.OwnerID = ownerID
		return nil
	})
}

func (s *PostgresStore) mutateDevice(ctx context.Context, op, id string, now time.Time, fn func(*Device) error) (Device, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Device{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var d Device
	if err := pgxscan.Get(ctx, tx, &d,
		`SELECT `+deviceColumns+` FROM `+s.table("devices")+` WHERE id = $1 FOR UPDATE`, id); err != nil {
		return Device{}, classify(op, err)
	}
	if err := fn(&d); err != nil {
		return Device{}, err
	}
	d.UpdatedAt = now

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.table("devices")+`
		    SET name = $2, location = $3, is_active = $4, owner_id = $5, updated_at = $6
		  WHERE id = $1`,
		id, d.Name, d.Location, d.IsActive, d.OwnerID, now,
	); err != nil {
		return Device{}, classify(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Device{}, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

func (s *PostgresStore) SetDeviceToken(ctx context.Context, id, tokenHash string, now time.Time) error {
	if strings.TrimSpace(tokenHash) == "" {
		return fmt.Errorf("%w: empty token hash", ErrInvalidInput)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("devices")+` SET token_hash = $2, updated_at = $3 WHERE id = $1`, id, tokenHash, now)
	if err != nil {
		return classify("sensors.SetDeviceToken", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("devices")+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("sensors.DeleteDevice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) EnsureDevice(ctx context.Context, in EnsureDeviceInput) (Device, EnsureResult, error) {
	const op = "sensors.EnsureDevice"
	if strings.TrimSpace(in.TokenHash) == "" {
		return Device{}, EnsureResult{}, fmt.Errorf("%w: empty token hash", ErrInvalidInput)
	}
	tok := in.TokenHash
	nd, err := prepareDevice(NewDevice{
		DeviceID: in.DeviceID, Name: in.Name, Location: in.Location, OwnerID: in.OwnerID,
		IsActive: true, TokenHash: &tok, Now: in.Now,
	})
	if err != nil {
		return Device{}, EnsureResult{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Device{}, EnsureResult{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var d Device
	var res EnsureResult
	err = pgxscan.Get(ctx, tx, &d,
		`SELECT `+deviceColumns+` FROM `+s.table("devices")+` WHERE device_id = $1 FOR UPDATE`, nd.DeviceID)
	switch {
	case pgxscan.NotFound(err):
		if d, err = s.insertDevice(ctx, tx, nd); err != nil {
			return Device{}, EnsureResult{}, err
		}
		res = EnsureResult{Created: true, TokenSet: true}
	case err != nil:
		return Device{}, EnsureResult{}, classify(op, err)
	case !d.HasToken():
		if _, err := tx.Exec(ctx,
			`UPDATE `+s.table("devices")+` SET token_hash = $2, updated_at = $3 WHERE id = $1`,
			d.ID, tok, nd.Now); err != nil {
			return Device{}, EnsureResult{}, classify(op, err)
		}
		d.TokenHash, d.UpdatedAt = &tok, nd.Now
		res = EnsureResult{TokenSet: true}
	}

	if err := tx.Commit(ctx); err != nil {
		return Device{}, EnsureResult{}, classify(op, err)
	}
	return d, res, nil
}

func (s *PostgresStore) InsertObservation(ctx context.Context, in NewObservation) (Observation, error) {
	const op = "sensors.InsertObservation"
	table, err := s.observationTable(in.Kind)
	if err != nil {
		return Observation{}, err
	}
	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Observation{}, err
	}

	var o Observation
	if in.Kind == KindMotion {
		err = pgxscan.Get(ctx, s.pool, &o,
			`INSERT INTO `+table+` (id, device_ref, ts, temperature, humidity, image_ref, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, device_ref, ts, temperature, humidity, image_ref, created_at`,
			id, in.DeviceRef, in.Timestamp.UTC(), in.Temperature, in.Humidity, in.ImageRef, now)
	} else {
		err = pgxscan.Get(ctx, s.pool, &o,
			`INSERT INTO `+table+` (id, device_ref, ts, temperature, humidity, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, device_ref, ts, temperature, humidity, NULL::text AS image_ref, created_at`,
			id, in.DeviceRef, in.Timestamp.UTC(), in.Temperature, in.Humidity, now)
	}
	if err != nil {
		return Observation{}, classify(op, err)
	}
	o.Timestamp, o.CreatedAt = o.Timestamp.UTC(), o.CreatedAt.UTC()
	return o, nil
}

func (s *PostgresStore) ListObservations(ctx context.Context, kind Kind, f Filter) ([]ObservationView, error) {
	table, err := s.observationTable(kind)
	if err != nil {
		return nil, err
	}
	image := "NULL::text"
	if kind == KindMotion {
		image = "o.image_ref"
	}

	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerID != "" {
		add("d.owner_id = $%d", f.OwnerID)
	}
	if f.DeviceRef != "" {
		add("o.device_ref = $%d", f.DeviceRef)
	}
	if f.From != nil {
		add("o.ts >= $%d", f.From.UTC())
	}
	if f.To != nil {
		add("o.ts < $%d", f.To.UTC())
	}

	query := `SELECT o.id, o.device_ref, o.ts, o.temperature, o.humidity, ` + image + ` AS image_ref, o.created_at,
	                 d.device_id, d.name AS device_name, d.location AS device_location
	            FROM ` + table + ` o
	            JOIN ` + s.table("devices") + ` d ON d.id = o.device_ref`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY o.ts DESC, o.id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	out := make([]ObservationView, 0)
	if err := pgxscan.Select(ctx, s.pool, &out, query, args...); err != nil {
		return nil, fmt.Errorf("sensors.ListObservations: %w", err)
	}
	for i := range out {
		out[i].Timestamp, out[i].CreatedAt = out[i].Timestamp.UTC(), out[i].CreatedAt.UTC()
	}
	return out, nil
}

func (s *PostgresStore) observationTable(kind Kind) (string, error) {
	switch kind {
	case KindMotion:
		return s.table("motion_events"), nil
	case KindSensor:
		return s.table("sensor_readings"), nil
	default:
		return "", fmt.Errorf("%w: kind %q", ErrInvalidInput, kind)
	}
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// classify maps driver errors onto the package sentinels.
func classify(op string, err error) error {
	if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			field := "unique"
			switch c := strings.ToLower(pgErr.ConstraintName); {
			case strings.Contains(c, "device_id"):
				field = "device_id"
			case strings.Contains(c, "token"):
				field = "token"
			}
			return ConflictError{Field: field}
		case "23503":
			return fmt.Errorf("%w: referenced row missing", ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
