// Package main provides a CI-friendly websocket smoke test for motionhub realtime.
//
// It validates:
//   - authenticated handshake and connection_established
//   - sensor_data persisted, acknowledged and broadcast to a second session
//   - per-frame errors keep the session open
//   - motion_event acknowledged and broadcast
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	flag "github.com/spf13/pflag"

	rtv1 "motionhub/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20

// frame is the union of every server message field the smoke test inspects.
type frame struct {
	Type        string   `json:"type"`
	Message     string   `json:"message"`
	Code        string   `json:"code"`
	DeviceID    string   `json:"device_id"`
	Timestamp   string   `json:"timestamp"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

type smokeClient struct {
	name  string
	conn  *websocket.Conn
	inbox chan frame
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.StringP("url", "u", "ws://127.0.0.1:8000/ws/sensors/", "websocket URL")
		tok      = flag.StringP("token", "t", os.Getenv("MOTION_SMOKE_TOKEN"), "API, access or device token (defaults to $MOTION_SMOKE_TOKEN)")
		origin   = flag.String("origin", "", "Origin header to send; empty mimics an embedded device")
		deviceID = flag.StringP("device", "d", "SMOKE_001", "device_id to report as")
		timeout  = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose  = flag.BoolP("verbose", "v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid --url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid --origin: %v", err)
	}
	if strings.TrimSpace(*tok) == "" {
		fatalf("--token or MOTION_SMOKE_TOKEN is required")
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *tok, *origin, *timeout)
	defer closeWS(a.conn)
	b := mustConnect(root, "B", *wsURL, *tok, *origin, *timeout)
	defer closeWS(b.conn)
	if *verbose {
		fmt.Println("connected: A, B")
	}

	// Uptime timestamps are replaced by server receipt time.
	mustWrite(root, a, map[string]any{
		"type":        rtv1.TypeSensorData,
		"device_id":   *deviceID,
		"timestamp":   "uptime_12345",
		"temperature": 21.5,
		"humidity":    "40.5",
	}, *timeout)
	skipBroadcast := map[string]struct{}{rtv1.TypeSensorData: {}}
	a.mustReadUntilType(root, rtv1.TypeSensorDataReceived, *timeout, skipBroadcast)

	got := b.mustReadUntilType(root, rtv1.TypeSensorData, *timeout, nil)
	if got.DeviceID != *deviceID {
		fatalf("sensor_data broadcast: device_id=%q want=%q", got.DeviceID, *deviceID)
	}
	if got.Temperature == nil || *got.Temperature != 21.5 || got.Humidity == nil || *got.Humidity != 40.5 {
		fatalf("sensor_data broadcast: unexpected values %+v", got)
	}
	if _, err := time.Parse(time.RFC3339Nano, got.Timestamp); err != nil {
		fatalf("sensor_data broadcast: timestamp %q is not RFC3339: %v", got.Timestamp, err)
	}
	if *verbose {
		fmt.Printf("sensor_data ok: ts=%s\n", got.Timestamp)
	}

	mustWrite(root, a, map[string]any{"type": "door_open", "device_id": *deviceID}, *timeout)
	errFrame := a.mustReadUntilType(root, rtv1.TypeError, *timeout, skipBroadcast)
	if errFrame.Code != rtv1.CodeUnknownType {
		fatalf("unknown type: code=%q want=%q", errFrame.Code, rtv1.CodeUnknownType)
	}

	mustWrite(root, a, map[string]any{
		"type":      rtv1.TypeMotionEvent,
		"device_id": *deviceID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, *timeout)
	a.mustReadUntilType(root, rtv1.TypeMotionEventReceived, *timeout, map[string]struct{}{
		rtv1.TypeSensorData:  {},
		rtv1.TypeMotionEvent: {},
	})
	motion := b.mustReadUntilType(root, rtv1.TypeMotionEvent, *timeout, nil)
	if motion.DeviceID != *deviceID {
		fatalf("motion_event broadcast: device_id=%q want=%q", motion.DeviceID, *deviceID)
	}

	fmt.Printf("OK: device_id=%s url=%s\n", *deviceID, *wsURL)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, tok, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Token "+tok)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{rtv1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	assertSubprotocol(resp, rtv1.Subprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	c.mustReadUntilType(parent, rtv1.TypeConnectionEstablished, stepTimeout, nil)
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != "" && got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				if websocket.CloseStatus(err) == rtv1.CloseAuthFailed {
					err = fmt.Errorf("authentication failed: %w", err)
				}
				c.fail(err)
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if f.Type == "" {
				c.fail(fmt.Errorf("frame without type: %s", data))
				return
			}

			select {
			case c.inbox <- f:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if f.Type == wantType {
				return f
			}
			if f.Type == rtv1.TypeError {
				fatalf("server error (%s): code=%q msg=%q", c.name, f.Code, f.Message)
			}
			if _, ok := skipTypes[f.Type]; ok {
				continue
			}
			fatalf("unexpected frame type (%s): got=%q want=%q", c.name, f.Type, wantType)
		}
	}
}

func mustWrite(parent context.Context, c *smokeClient, msg any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(msg)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
