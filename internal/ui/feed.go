// Package ui exposes a voice session to a local presentation layer over a
// websocket. Each connection receives the current snapshot on connect and
// every snapshot after it, and may send control actions back.
package ui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/voice"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 1024
)

// Actions accepted from clients.
const (
	ActionListen = "listen"
	ActionStop   = "stop"
	ActionReset  = "reset"
)

// Session is the part of the voice controller the feed drives.
type Session interface {
	Current() voice.Snapshot
	Subscribe() (<-chan voice.Snapshot, func())
	StartListening()
	StopListening()
	StopSpeaking()
	Reset()
}

// Command is a client control message.
type Command struct {
	Action string `json:"action"`
}

// errorMessage is sent for a command the feed cannot act on.
type errorMessage struct {
	Error string `json:"error"`
}

// Feed serves the websocket presentation feed.
type Feed struct {
	session  Session
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewFeed creates a feed for session. Only same-host origins are accepted.
func NewFeed(session Session) *Feed {
	return &Feed{
		session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: observability.WithComponent("ui"),
	}
}

// NewHandler routes /ws to the feed and, when enabled, /metrics to
// Prometheus.
func NewHandler(feed *Feed, metricsEnabled bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", feed)
	mux.Handle("/health", observability.HealthCheckHandler("voice-client"))
	if metricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ServeHTTP upgrades the request and streams snapshots until either side
// closes.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	logger := f.logger.With().Str("remote_addr", r.RemoteAddr).Logger()
	logger.Info().Msg("Presentation client connected")

	snapshots, unsubscribe := f.session.Subscribe()
	defer unsubscribe()

	c := &client{conn: conn, logger: logger}
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.readCommands(c)
	}()

	f.writeSnapshots(r.Context(), c, snapshots, done)
	logger.Info().Msg("Presentation client disconnected")
}

// client serialises writes to one connection.
type client struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger zerolog.Logger
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (f *Feed) writeSnapshots(ctx context.Context, c *client, snapshots <-chan voice.Snapshot, done <-chan struct{}) {
	// Subscribing first and skipping by sequence means the initial snapshot
	// is never followed by an older one.
	current := f.session.Current()
	if err := c.writeJSON(current); err != nil {
		return
	}
	last := current.Seq

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case snap := <-snapshots:
			if snap.Seq <= last {
				continue
			}
			last = snap.Seq
			if err := c.writeJSON(snap); err != nil {
				c.logger.Debug().Err(err).Msg("Snapshot write failed")
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (f *Feed) readCommands(c *client) {
	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.writeJSON(errorMessage{Error: "invalid command"})
			continue
		}
		if !f.dispatch(cmd.Action) {
			c.writeJSON(errorMessage{Error: "unknown action"})
		}
	}
}

// dispatch applies a client action. The controller ignores actions that
// do not fit its state, so stop is sent to both listening and speaking.
func (f *Feed) dispatch(action string) bool {
	switch action {
	case ActionListen:
		f.session.StartListening()
	case ActionStop:
		f.session.StopListening()
		f.session.StopSpeaking()
	case ActionReset:
		f.session.Reset()
	default:
		return false
	}
	f.logger.Debug().Str("action", action).Msg("Client action")
	return true
}
