// Package timeseries mirrors accepted observations into InfluxDB for dashboards and retention
// policies that the relational store does not serve.
package timeseries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"motionhub/cmd/internal/sensors"
)

// Config selects the InfluxDB target. An empty URL disables the mirror.
type Config struct {
	URL          string
	Token        string
	Org          string
	Bucket       string
	WriteTimeout time.Duration
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.URL) != "" }

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	var missing []string
	if strings.TrimSpace(c.Token) == "" {
		missing = append(missing, "token")
	}
	if strings.TrimSpace(c.Org) == "" {
		missing = append(missing, "org")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("timeseries: influx %s required when url is set", strings.Join(missing, ", "))
	}
	return nil
}

// InfluxSink writes one point per accepted observation. It implements sensors.Mirror.
type InfluxSink struct {
	client  influxdb2.Client
	writer  api.WriteAPIBlocking
	timeout time.Duration
}

func NewInfluxSink(cfg Config) (*InfluxSink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("timeseries: influx url not configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &InfluxSink{
		client:  client,
		writer:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		timeout: timeout,
	}, nil
}

func (s *InfluxSink) Mirror(ctx context.Context, a sensors.Accepted) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writer.WritePoint(ctx, Point(a)); err != nil {
		return fmt.Errorf("timeseries: write %s: %w", a.Kind, err)
	}
	return nil
}

// Ping reports whether the InfluxDB server answers.
func (s *InfluxSink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("timeseries: influx not ready")
	}
	return nil
}

func (s *InfluxSink) Close() { s.client.Close() }

// Point renders an observation. The measurement is the observation kind; absent scalars are
// omitted rather than written as zero.
func Point(a sensors.Accepted) *write.Point {
	p := influxdb2.NewPointWithMeasurement(string(a.Kind)).
		AddTag("device_id", a.Device.DeviceID).
		SetTime(a.Observation.Timestamp)
	if loc := strings.TrimSpace(a.Device.Location); loc != "" {
		p.AddTag("location", loc)
	}
	if a.Observation.Temperature != nil {
		p.AddField("temperature", *a.Observation.Temperature)
	}
	if a.Observation.Humidity != nil {
		p.AddField("humidity", *a.Observation.Humidity)
	}
	if a.Kind == sensors.KindMotion {
		p.AddField("motion", 1)
	}
	p.AddField("server_time", a.TimestampSource == sensors.TimestampServer)
	return p
}
