package timeseries

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motionhub/cmd/internal/sensors"
)

func TestPoint(t *testing.T) {
	t.Parallel()

	temp := 21.5
	ts := time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)
	line := write.PointToLineProtocol(Point(sensors.Accepted{
		Kind:        sensors.KindSensor,
		Device:      sensors.Device{DeviceID: "ESP32_001", Location: "Living Room"},
		Observation: sensors.Observation{Timestamp: ts, Temperature: &temp},
	}), time.Second)

	assert.True(t, strings.HasPrefix(line, `sensor_data,device_id=ESP32_001,location=Living\ Room `), line)
	assert.Contains(t, line, "temperature=21.5")
	assert.NotContains(t, line, "humidity")
	assert.NotContains(t, line, "motion=")
	assert.Contains(t, line, "server_time=false")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), " 1720094400"), line)
}

func TestPoint_MotionWithoutLocation(t *testing.T) {
	t.Parallel()

	line := write.PointToLineProtocol(Point(sensors.Accepted{
		Kind:            sensors.KindMotion,
		Device:          sensors.Device{DeviceID: "D"},
		TimestampSource: sensors.TimestampServer,
	}), time.Second)

	assert.True(t, strings.HasPrefix(line, "motion_event,device_id=D "), line)
	assert.Contains(t, line, "motion=1i")
	assert.Contains(t, line, "server_time=true")
}

func TestConfig(t *testing.T) {
	t.Parallel()

	assert.False(t, Config{}.Enabled())
	require.NoError(t, Config{}.Validate())

	err := Config{URL: "http://influx:8086", Org: "home"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
	assert.Contains(t, err.Error(), "bucket")

	_, err = NewInfluxSink(Config{})
	assert.Error(t, err)

	s, err := NewInfluxSink(Config{URL: "http://127.0.0.1:1", Token: "t", Org: "o", Bucket: "b"})
	require.NoError(t, err)
	s.Close()
}
