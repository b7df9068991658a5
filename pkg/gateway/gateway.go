package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/HossamElDeenKamal2003/backend-kapso/pkg/presence"
	"github.com/HossamElDeenKamal2003/backend-kapso/pkg/registry"
	"github.com/HossamElDeenKamal2003/backend-kapso/pkg/relay"
	"github.com/HossamElDeenKamal2003/backend-kapso/pkg/token"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Path is the websocket endpoint clients connect to.
const Path = "/messages"

// HeaderServerAccess is the shared transport-access secret header required
// in addition to the user credential.
const HeaderServerAccess = "x-server-access"

// Config tunes the gateway. Zero values fall back to the defaults the
// original deployment ran with.
type Config struct {
	ServerAccessSecret string
	PingInterval       time.Duration // keep-alive probe interval
	PongWait           time.Duration // inactivity beyond this forces disconnect
	WriteWait          time.Duration
	MaxMessageSize     int64
	SendBuffer         int
}

func (c Config) withDefaults() Config {
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PongWait == 0 {
		c.PongWait = c.PingInterval + 10*time.Second
	}
	if c.WriteWait == 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 20000
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 64
	}
	return c
}

// Presence is the directory surface the gateway needs for registration,
// heartbeat refresh, and cleanup.
type Presence interface {
	Set(userID, routingKey string) error
	DeleteRoute(userID, routingKey string) error
	AddToSet(name, userID string) error
	RemoveFromSet(name, userID string) error
}

// LastSeenStore stamps the user's last-seen time on connect and disconnect.
type LastSeenStore interface {
	TouchLastConnect(ctx context.Context, userID string) error
}

// HandlerFunc processes one inbound client event. Returning a *ClientError
// sends an error event and keeps the connection open; any other error sends
// a generic error event (the triggering action failed, the connection
// survives).
type HandlerFunc func(ctx context.Context, sender token.Identity, data json.RawMessage) error

// ClientError carries localized messages for an error event.
type ClientError struct {
	Messages []map[string]string
}

func (e *ClientError) Error() string {
	return "client error"
}

// NewClientError builds a single-message client error.
func NewClientError(messages ...map[string]string) *ClientError {
	return &ClientError{Messages: messages}
}

var genericErrorMessage = map[string]string{
	"ar": "حدث خطا ما",
	"en": "Something went wrong",
}

type errorEvent struct {
	Messages []map[string]string `json:"messages"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Gateway accepts inbound websocket connections, authenticates them,
// registers presence, and dispatches inbound client events to domain
// handlers. One goroutine per connection reads (events processed strictly
// in arrival order); a second drains the outbound queue.
type Gateway struct {
	cfg       Config
	validator token.Validator
	registry  *registry.Registry
	presence  Presence
	store     LastSeenStore
	handlers  map[string]HandlerFunc
	upgrader  websocket.Upgrader

	connectCounter    metric.Int64Counter
	disconnectCounter metric.Int64Counter
	authRejectCounter metric.Int64Counter
	eventCounter      metric.Int64Counter
	heartbeatCounter  metric.Int64Counter
}

func New(cfg Config, validator token.Validator, reg *registry.Registry, pres Presence, store LastSeenStore, meter metric.Meter) *Gateway {
	connectCounter, _ := meter.Int64Counter("gateway_connects_total",
		metric.WithDescription("Total accepted connections"))
	disconnectCounter, _ := meter.Int64Counter("gateway_disconnects_total",
		metric.WithDescription("Total disconnects"))
	authRejectCounter, _ := meter.Int64Counter("gateway_auth_rejections_total",
		metric.WithDescription("Total rejected handshakes"))
	eventCounter, _ := meter.Int64Counter("gateway_events_total",
		metric.WithDescription("Total inbound client events"))
	heartbeatCounter, _ := meter.Int64Counter("gateway_heartbeats_total",
		metric.WithDescription("Total heartbeats (pongs) received"))

	return &Gateway{
		cfg:       cfg.withDefaults(),
		validator: validator,
		registry:  reg,
		presence:  pres,
		store:     store,
		handlers:  make(map[string]HandlerFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		connectCounter:    connectCounter,
		disconnectCounter: disconnectCounter,
		authRejectCounter: authRejectCounter,
		eventCounter:      eventCounter,
		heartbeatCounter:  heartbeatCounter,
	}
}

// Handle registers a domain handler for an inbound event name. Call before
// serving; not safe concurrently with ServeWS.
func (g *Gateway) Handle(event string, h HandlerFunc) {
	g.handlers[event] = h
}

// ServeWS is the http handler for the websocket endpoint. A bad transport
// secret is rejected before the upgrade, closed immediately with no event.
// A bad bearer credential after the upgrade gets an error event, then close.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(HeaderServerAccess)), []byte(g.cfg.ServerAccessSecret)) != 1 {
		g.authRejectCounter.Add(r.Context(), 1, metric.WithAttributes(attribute.String("reason", "server_access")))
		slog.Warn("Rejected connection with invalid server access secret", "remote", r.RemoteAddr)
		http.Error(w, "invalid connection", http.StatusForbidden)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	g.serve(ws, r)
}

func (g *Gateway) serve(ws *websocket.Conn, r *http.Request) {
	life := newLifecycle()

	identity, err := g.authenticate(r)
	if err != nil {
		g.authRejectCounter.Add(r.Context(), 1, metric.WithAttributes(attribute.String("reason", "credential")))
		slog.Warn("Rejected connection with invalid credential", "remote", r.RemoteAddr, "error", err)
		// Auth failures always close, but the client gets to know why.
		frame, _ := relay.EncodeFrame("error", errorEvent{Messages: []map[string]string{
			{"ar": genericErrorMessage["ar"], "en": "Invalid token"},
		}})
		ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
		ws.WriteMessage(websocket.TextMessage, frame)
		ws.Close()
		life.transition(StateClosed)
		return
	}
	life.transition(StateAuthenticated)

	c := registry.NewConn(identity.UserID, g.cfg.SendBuffer)
	if displaced := g.registry.Register(c); displaced != nil {
		displaced.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Presence writes are best-effort and not transactional with the accept:
	// a failure here leaves the client connected but unroutable until the
	// next heartbeat refresh.
	if err := g.presence.Set(identity.UserID, c.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to register presence", "user", identity.UserID, "error", err)
	}
	if err := g.presence.AddToSet(presence.SetConnected, identity.UserID); err != nil {
		slog.ErrorContext(ctx, "Failed to add to connected set", "user", identity.UserID, "error", err)
	}
	if err := g.store.TouchLastConnect(ctx, identity.UserID); err != nil {
		slog.WarnContext(ctx, "Failed to update last connect", "user", identity.UserID, "error", err)
	}

	life.transition(StateActive)
	g.connectCounter.Add(ctx, 1)
	slog.InfoContext(ctx, "Connected", "user", identity.UserID, "conn", c.ID)

	// Cleanup always runs, even when the disconnect interrupts an in-flight
	// store call.
	defer g.cleanup(c, identity, life)

	go g.writePump(ws, c)
	g.readPump(ctx, ws, c, identity)
}

func (g *Gateway) authenticate(r *http.Request) (token.Identity, error) {
	auth := r.Header.Get("Authorization")
	parts := strings.Split(auth, " ")
	raw := parts[len(parts)-1]
	if raw == "" {
		return token.Identity{}, errors.New("missing bearer credential")
	}
	return g.validator.Validate(raw)
}

func (g *Gateway) cleanup(c *registry.Conn, identity token.Identity, life *lifecycle) {
	life.transition(StateClosed)
	c.Close()

	// Only the still-current connection tears down shared presence state:
	// a displaced connection's late disconnect must not unroute the newer
	// one (last registration wins).
	if g.registry.Remove(c) {
		if err := g.presence.DeleteRoute(identity.UserID, c.ID); err != nil {
			slog.Error("Failed to delete presence record", "user", identity.UserID, "error", err)
		}
		if err := g.presence.RemoveFromSet(presence.SetConnected, identity.UserID); err != nil {
			slog.Error("Failed to remove from connected set", "user", identity.UserID, "error", err)
		}
	}
	if err := g.store.TouchLastConnect(context.Background(), identity.UserID); err != nil {
		slog.Warn("Failed to update last connect", "user", identity.UserID, "error", err)
	}

	g.disconnectCounter.Add(context.Background(), 1)
	slog.Info("Disconnected", "user", identity.UserID, "conn", c.ID)
}

// readPump consumes inbound frames strictly in arrival order. A pong doubles
// as the heartbeat that refreshes the presence TTL.
func (g *Gateway) readPump(ctx context.Context, ws *websocket.Conn, c *registry.Conn, identity token.Identity) {
	ws.SetReadLimit(g.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		g.heartbeat(ctx, c, identity)
		return nil
	})

	for {
		select {
		case <-c.Done():
			return
		default:
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "Read error", "user", identity.UserID, "error", err)
			}
			return
		}
		g.dispatch(ctx, c, identity, data)
	}
}

// heartbeat restarts the TTL window on both shared presence records. The
// connected-set marker expires on the same bucket TTL as the route, so a
// long-lived connection must re-Put both or it drops out of the connected
// set while still routable.
func (g *Gateway) heartbeat(ctx context.Context, c *registry.Conn, identity token.Identity) {
	g.heartbeatCounter.Add(ctx, 1)
	if err := g.presence.Set(identity.UserID, c.ID); err != nil {
		slog.WarnContext(ctx, "Heartbeat presence refresh failed", "user", identity.UserID, "error", err)
	}
	if err := g.presence.AddToSet(presence.SetConnected, identity.UserID); err != nil {
		slog.WarnContext(ctx, "Heartbeat connected-set refresh failed", "user", identity.UserID, "error", err)
	}
}

// dispatch validates the envelope and routes the event to its handler.
// Validation and business failures answer with an error event; the
// connection stays open either way.
func (g *Gateway) dispatch(ctx context.Context, c *registry.Conn, identity token.Identity, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		g.sendError(c, map[string]string{"ar": genericErrorMessage["ar"], "en": "Invalid event"})
		return
	}

	g.eventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", env.Event)))

	handler, ok := g.handlers[env.Event]
	if !ok {
		g.sendError(c, map[string]string{"ar": genericErrorMessage["ar"], "en": "Unknown event: " + env.Event})
		return
	}

	if err := handler(ctx, identity, env.Data); err != nil {
		var ce *ClientError
		if errors.As(err, &ce) {
			g.sendError(c, ce.Messages...)
			return
		}
		slog.ErrorContext(ctx, "Event handler failed", "event", env.Event, "user", identity.UserID, "error", err)
		g.sendError(c, genericErrorMessage)
	}
}

func (g *Gateway) sendError(c *registry.Conn, messages ...map[string]string) {
	frame, err := relay.EncodeFrame("error", errorEvent{Messages: messages})
	if err != nil {
		return
	}
	c.Enqueue(frame)
}

// writePump drains the outbound queue and runs the keep-alive probe. It owns
// all writes to the socket.
func (g *Gateway) writePump(ws *websocket.Conn, c *registry.Conn) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()
	defer ws.Close()

	for {
		select {
		case frame := <-c.Outbound():
			ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done():
			ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
