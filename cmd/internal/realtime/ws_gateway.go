package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"motionhub/cmd/internal/auth/session"
	"motionhub/cmd/internal/sensors"
	rtv1 "motionhub/shared/contracts/realtime/v1"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
)

// Ingester persists one inbound event.
type Ingester interface {
	Ingest(ctx context.Context, p sensors.Principal, ev sensors.EventInput) (sensors.Accepted, error)
}

// WSGateway is the websocket entrypoint for sensor sessions.
//
// A session authenticates once from the handshake credential, joins the sensor_data group and then
// handles frames strictly in arrival order: persist, publish to the group, acknowledge.
type WSGateway struct {
	log     *slog.Logger
	auth    session.CredentialAuthenticator
	ingest  Ingester
	group   Group
	metrics *Metrics
	cfg     GatewayConfig

	// Derived for websocket.Accept, which authorizes cross-origin requests only through
	// OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway. A nil group falls back to an in-memory Hub.
func NewWSGateway(log *slog.Logger, auth session.CredentialAuthenticator, ingest Ingester, group Group, cfg GatewayConfig, m *Metrics) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if group == nil {
		group = NewHub(log, m)
	}
	cfg = cfg.normalized()
	return &WSGateway{
		log:            log,
		auth:           auth,
		ingest:         ingest,
		group:          group,
		metrics:        m,
		cfg:            cfg,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}
}

func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request, authenticates it and runs the session until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.connect("origin_rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{rtv1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		g.metrics.connect("accept_failed")
		return
	}

	// The handshake is always accepted so the client can observe the close status; a failed
	// credential gets 4003 and no application message.
	id, err := g.auth.Authenticate(r.Context(), credentialFromRequest(r))
	if err != nil {
		if reason, ok := session.IsAuthFailure(err); ok {
			g.log.Info("ws.auth.reject", "reason", reason, "remote", r.RemoteAddr)
			g.metrics.connect("auth_failed")
			_ = conn.Close(websocket.StatusCode(rtv1.CloseAuthFailed), "authentication failed")
			return
		}
		g.log.Error("ws.auth.fail", "remote", r.RemoteAddr, "err", err)
		g.metrics.connect("error")
		_ = conn.Close(websocket.StatusInternalError, "authentication unavailable")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	sessionID, err := NewSessionID(now)
	if err != nil {
		g.log.Error("ws.session.id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(id.Account.ID, sessionID, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Queued before joining so it is always the first frame the client sees.
	g.send(client, rtv1.Ack{Type: rtv1.TypeConnectionEstablished, Message: "Connected to WebSocket server"})

	if err := g.group.Join(ctx, rtv1.GroupSensorData, client); err != nil {
		g.log.Error("ws.join.fail", "session_id", sessionID, "err", err)
		g.metrics.connect("error")
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	g.metrics.connect("ok")
	g.metrics.sessionOpened()
	defer g.metrics.sessionClosed()

	log := g.log.With("session_id", sessionID, "account_id", id.Account.ID)
	attrs := []any{"credential", id.Kind, "remote", r.RemoteAddr}
	if id.Device != nil {
		attrs = append(attrs, "device_id", id.Device.DeviceID)
	}
	log.Info("ws.session.open", attrs...)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			// Leave before closing the client so publishers never hold a closed member.
			if err := g.group.Leave(context.WithoutCancel(ctx), rtv1.GroupSensorData, sessionID); err != nil {
				log.Warn("ws.leave.fail", "err", err)
			}
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			log.Info("ws.session.close", "code", int(code), "reason", reason)
		})
	}

	// closeRequest asks the writer to drain the queue and write final before closing.
	type closeRequest struct {
		final  []byte
		code   websocket.StatusCode
		reason string
	}
	closeAfterFlush := make(chan closeRequest, 1)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case req := <-closeAfterFlush:
				for flushing := true; flushing; {
					select {
					case msg := <-client.Send:
						if err := writeFrame(ctx, conn, msg, g.cfg.WriteTimeout); err != nil {
							shutdown(websocket.StatusAbnormalClosure, "write failed")
							return
						}
					default:
						flushing = false
					}
				}
				if req.final != nil {
					if err := writeFrame(ctx, conn, req.final, g.cfg.WriteTimeout); err != nil {
						log.Info("ws.write.fail", "err", err)
					}
				}
				shutdown(req.code, req.reason)
				return
			case msg := <-client.Send:
				if err := writeFrame(ctx, conn, msg, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		data, err := g.readFrame(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if ok, retry := rl.Allow(time.Now().UTC()); !ok {
			g.metrics.frame("", rtv1.CodeRateLimited)
			// Stop broadcasts first so the queue only holds replies already owed to this client.
			if err := g.group.Leave(context.WithoutCancel(ctx), rtv1.GroupSensorData, sessionID); err != nil {
				log.Warn("ws.leave.fail", "err", err)
			}
			final, _ := json.Marshal(rtv1.ErrorMessage{
				Type:    rtv1.TypeError,
				Code:    rtv1.CodeRateLimited,
				Message: "too many events",
				Detail:  fmt.Sprintf("retry after %s", retry.Round(time.Millisecond)),
			})
			closeAfterFlush <- closeRequest{final: final, code: websocket.StatusPolicyViolation, reason: "rate limited"}
			<-writerDone
			break readLoop
		}

		g.handleFrame(ctx, log, client, id, data)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// handleFrame processes one inbound frame. Every failure is reported to the sender and never ends
// the session.
func (g *WSGateway) handleFrame(ctx context.Context, log *slog.Logger, client *Client, id session.Identity, data []byte) {
	hdr, err := rtv1.DecodeHeader(data)
	if err != nil {
		if errors.Is(err, rtv1.ErrMissingType) {
			g.sendError(client, rtv1.CodeMissingType, "message type is required", "")
			g.metrics.frame("", rtv1.CodeMissingType)
			return
		}
		log.Debug("ws.frame.bad_json", "err", err)
		g.sendError(client, rtv1.CodeBadJSON, "invalid JSON", g.detail(err))
		g.metrics.frame("", rtv1.CodeBadJSON)
		return
	}
	if !rtv1.IsEventType(hdr.Type) {
		g.sendError(client, rtv1.CodeUnknownType, "unknown message type: "+hdr.Type, "")
		g.metrics.frame("", rtv1.CodeUnknownType)
		return
	}

	var in rtv1.EventIn
	if err := json.Unmarshal(data, &in); err != nil {
		log.Debug("ws.frame.invalid", "type", hdr.Type, "err", err)
		g.sendError(client, rtv1.CodeInvalidValue, "malformed event fields", g.detail(err))
		g.metrics.frame(hdr.Type, rtv1.CodeInvalidValue)
		return
	}

	acc, err := g.ingest.Ingest(ctx, id.Principal(), sensors.EventInput{
		Kind:        sensors.Kind(hdr.Type),
		DeviceID:    in.DeviceID,
		Timestamp:   in.Timestamp,
		Temperature: in.Temperature,
		Humidity:    in.Humidity,
		Transport:   "ws",
	})
	if err != nil {
		ie := sensors.AsIngestError(err)
		log.Debug("ws.event.reject", "type", hdr.Type, "device_id", in.DeviceID, "code", ie.Code, "err", err)
		g.sendError(client, ie.Code, ie.Message, g.detail(err))
		g.metrics.frame(hdr.Type, ie.Code)
		return
	}

	out, err := json.Marshal(acc.Broadcast())
	if err == nil {
		err = g.group.Publish(ctx, rtv1.GroupSensorData, out)
	}
	if err != nil {
		log.Warn("ws.publish.fail", "type", hdr.Type, "device_id", acc.Device.DeviceID, "err", err)
		g.metrics.publishFailed()
	}

	g.send(client, rtv1.Ack{Type: rtv1.ReceivedType(hdr.Type), Message: receivedMessage(acc.Kind)})
	g.metrics.frame(hdr.Type, "ok")
}

func receivedMessage(k sensors.Kind) string {
	if k == sensors.KindMotion {
		return "Motion event received"
	}
	return "Sensor data received"
}

func (g *WSGateway) detail(err error) string {
	if !g.cfg.Diagnostics || err == nil {
		return ""
	}
	return err.Error()
}

// ---- send helpers ----

func (g *WSGateway) sendError(client *Client, code, msg, detail string) {
	g.send(client, rtv1.ErrorMessage{Type: rtv1.TypeError, Code: code, Message: msg, Detail: detail})
}

// send queues v for the client. Replies share the bounded queue with broadcasts and are dropped
// the same way when it is full.
func (g *WSGateway) send(client *Client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		g.log.Error("ws.encode.fail", "session_id", client.SessionID, "err", err)
		return
	}
	if !client.Deliver(b) {
		g.log.Debug("ws.send.drop", "session_id", client.SessionID)
	}
}

// ---- frame IO ----

func credentialFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	cred, _ := session.CredentialFromHeader(r.Header.Get("Authorization"))
	return cred
}

func (g *WSGateway) readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	if g.cfg.ReadIdleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		defer cancel()
	}
	_, data, err := conn.Read(ctx)
	return data, err
}

func writeFrame(parent context.Context, conn *websocket.Conn, msg []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins turns the allowlist into host patterns for
// websocket.Accept so the two origin checks agree.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
