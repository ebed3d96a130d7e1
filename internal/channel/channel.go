// Package channel runs the session-authenticated control channel between
// the controller and the browser capture client.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxkey/voxkey/internal/fsm"
	"github.com/voxkey/voxkey/internal/protocol"
	"github.com/voxkey/voxkey/internal/token"
)

// ErrBind marks a fatal startup failure to claim the websocket port.
var ErrBind = errors.New("control channel bind failed")

// Sink receives transcripts that survived trimming and validation.
type Sink interface {
	HandleTranscript(ctx context.Context, text string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(context.Context, string)

func (f SinkFunc) HandleTranscript(ctx context.Context, text string) {
	f(ctx, text)
}

// Options carries the channel's bind target and timing policy.
type Options struct {
	BindAddress  string
	Port         int
	AuthTimeout  time.Duration
	PingInterval time.Duration

	// ReconnectURL is handed to clients that fail authentication so a
	// well-behaved page can resynchronize with the current session.
	ReconnectURL string
}

// Server owns the connected-client set and the health monitor. All set
// mutation paths (auth success, teardown, prune-on-send-failure, and
// health-triggered clear) serialize on one mutex.
type Server struct {
	opts    Options
	session token.Session
	sink    Sink
	logger  *slog.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server

	baseCtx context.Context
	addr    string

	mu            sync.Mutex
	clients       map[string]*client
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// client is one accepted transport-level link.
type client struct {
	id       string
	conn     *websocket.Conn
	remote   string
	state    fsm.State
	lastSeen time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// send serializes v onto the connection; gorilla permits one concurrent
// writer, so every write funnels through the client's write mutex.
func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("send to client %s: %w", c.id, err)
	}
	return nil
}

// close tears the transport down; safe to call any number of times.
func (c *client) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// New constructs a control-channel server bound to the given sink.
func New(opts Options, session token.Session, sink Sink, logger *slog.Logger) *Server {
	if sink == nil {
		sink = SinkFunc(func(context.Context, string) {})
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}

	s := &Server{
		opts:    opts,
		session: session,
		sink:    sink,
		logger:  logger,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			// The channel is loopback-only and session-token gated; the
			// page is served from a different local port, so origin
			// checks cannot be host-equality based.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(opts.BindAddress, fmt.Sprintf("%d", opts.Port)),
		Handler: mux,
	}

	return s
}

// Start claims the websocket port and begins accepting connections. A
// bind failure is fatal and wrapped with ErrBind; serve errors after a
// successful bind are logged only.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrBind, s.httpServer.Addr, err)
	}

	s.baseCtx = ctx
	s.addr = listener.Addr().String()
	s.logger.Info("control channel listening", "addr", s.addr)

	go func() {
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("control channel serve failed", "error", serveErr.Error())
		}
	}()

	return nil
}

// Shutdown stops the monitor, drops every client, and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopMonitorLocked()
	for id, c := range s.clients {
		c.close()
		delete(s.clients, id)
	}
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// Addr reports the bound listen address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// ClientCount reports the size of the connected-client set.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Broadcast sends one command to every authenticated client concurrently
// and returns the number of successful sends. A failed send prunes that
// client without aborting the others. An empty set yields 0, which the
// caller must treat as command-undelivered, never as fatal.
func (s *Server) Broadcast(commandType string) int {
	cmd := protocol.NewCommand(commandType)

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		s.logger.Warn("broadcast with no connected clients", "command", commandType)
		return 0
	}

	type sendResult struct {
		id  string
		err error
	}

	results := make(chan sendResult, len(targets))
	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			results <- sendResult{id: c.id, err: c.send(cmd)}
		}(c)
	}
	wg.Wait()
	close(results)

	sent := 0
	for result := range results {
		if result.err == nil {
			sent++
			continue
		}
		s.logger.Warn("broadcast send failed; pruning client",
			"command", commandType,
			"client", result.id,
			"error", result.err.Error(),
		)
		s.removeClient(result.id)
	}

	s.logger.Debug("broadcast complete", "command", commandType, "sent", sent)
	return sent
}

// handleWebSocket upgrades one connection and walks it through the
// authentication handshake before admitting it to the client set.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		remote: r.RemoteAddr,
		state:  fsm.StateUnauth,
	}
	s.logger.Info("connection attempt", "client", c.id, "remote", c.remote)

	c.state, _ = fsm.Transition(c.state, fsm.EventOpen)

	if !s.authenticate(c) {
		c.state, _ = fsm.Transition(c.state, fsm.EventAuthReject)
		c.close()
		return
	}

	c.state, _ = fsm.Transition(c.state, fsm.EventAuthAccept)
	s.register(c)
	s.readLoop(c)
}

// authenticate enforces the first-message handshake within the bounded
// wait. It reports admission; a false return means the connection must
// be failed closed.
func (s *Server) authenticate(c *client) bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.AuthTimeout))
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		s.logger.Warn("authentication timeout or transport error",
			"client", c.id, "remote", c.remote, "error", err.Error())
		return false
	}

	event, err := protocol.ParseEvent(frame)
	if err != nil {
		s.logger.Warn("malformed authentication message",
			"client", c.id, "remote", c.remote, "error", err.Error())
		return false
	}

	if event.Type != protocol.TypeAuth || !s.session.Validate(event.Token) {
		// Hand back the live token so a stale page can reconnect with
		// the right credential.
		reply := protocol.NewAuthFailed(
			"Invalid authentication token",
			s.session.String(),
			s.opts.ReconnectURL,
		)
		if sendErr := c.send(reply); sendErr != nil {
			s.logger.Warn("auth failure reply not delivered", "client", c.id, "error", sendErr.Error())
		}
		s.logger.Warn("authentication rejected", "client", c.id, "remote", c.remote)
		return false
	}

	if err := c.send(protocol.NewAuthSuccess()); err != nil {
		s.logger.Warn("auth success reply not delivered", "client", c.id, "error", err.Error())
		return false
	}

	s.logger.Info("client authenticated", "client", c.id, "remote", c.remote)
	return true
}

// register inserts an authenticated client into the set, starting the
// health monitor when the set becomes non-empty.
func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.lastSeen = time.Now()
	s.clients[c.id] = c
	if len(s.clients) == 1 {
		s.startMonitorLocked()
	}
}

// readLoop processes authenticated frames in arrival order until the
// transport closes.
func (s *Server) readLoop(c *client) {
	defer func() {
		s.removeClient(c.id)
		c.close()
		c.state, _ = fsm.Transition(c.state, fsm.EventClose)
	}()

	_ = c.conn.SetReadDeadline(time.Time{})
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("client transport error", "client", c.id, "error", err.Error())
			} else {
				s.logger.Info("client disconnected", "client", c.id)
			}
			return
		}

		event, err := protocol.ParseEvent(frame)
		if err != nil {
			// Protocol error: drop the message, keep the connection.
			s.logger.Warn("dropping malformed client message", "client", c.id, "error", err.Error())
			continue
		}

		s.dispatch(c, event)
	}
}

// dispatch routes one authenticated event.
func (s *Server) dispatch(c *client, event protocol.Event) {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}

	switch event.Type {
	case protocol.TypeReady:
		s.logger.Info("capture client ready", "client", c.id)
		if err := c.send(protocol.NewAcknowledge("Controller connected")); err != nil {
			s.logger.Warn("acknowledge not delivered", "client", c.id, "error", err.Error())
		}
	case protocol.TypeTranscriptReady:
		trimmed := strings.TrimSpace(event.Text)
		if trimmed == "" {
			s.logger.Warn("discarding empty transcript", "client", c.id)
			return
		}
		s.logger.Info("transcript received", "client", c.id, "length", len(trimmed))
		s.sink.HandleTranscript(ctx, trimmed)
	case protocol.TypePong:
		s.touch(c)
	case protocol.TypeSpeechStarted:
		s.logger.Info("speech started", "client", c.id)
	case protocol.TypeSpeechEnded:
		s.logger.Info("speech ended", "client", c.id)
	case protocol.TypeSpeechError:
		s.logger.Warn("speech recognition error", "client", c.id, "error", event.Error)
	default:
		s.logger.Info("ignoring unknown message type", "client", c.id, "type", event.Type)
	}
}

// touch refreshes a client's liveness timestamp.
func (s *Server) touch(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.clients[c.id]; ok {
		current.lastSeen = time.Now()
	}
}

// removeClient deregisters one client; idempotent. The monitor stops
// when the set empties.
func (s *Server) removeClient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return
	}
	delete(s.clients, id)
	c.close()
	if len(s.clients) == 0 {
		s.stopMonitorLocked()
	}
}

// startMonitorLocked launches the health monitor; caller holds s.mu.
func (s *Server) startMonitorLocked() {
	if s.monitorCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.monitorCancel = cancel
	s.monitorDone = done

	interval := s.opts.PingInterval
	go s.monitorLoop(ctx, interval, done)
	s.logger.Info("health monitor started", "interval", interval.String())
}

// stopMonitorLocked cancels the health monitor; caller holds s.mu. Safe
// to call with an in-flight ping: sends to removed clients are
// best-effort and ignored.
func (s *Server) stopMonitorLocked() {
	if s.monitorCancel == nil {
		return
	}
	s.monitorCancel()
	s.monitorCancel = nil
	s.monitorDone = nil
	s.logger.Info("health monitor stopped")
}

// monitorLoop pings all clients on a fixed cadence. A broadcast that
// reaches zero clients is treated as total link loss and clears the
// whole set rather than waiting out per-client failures.
func (s *Server) monitorLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.ClientCount() == 0 {
				continue
			}
			s.logger.Debug("health check ping")
			if sent := s.Broadcast(protocol.TypePing); sent == 0 {
				s.logger.Warn("health check reached no clients; clearing client set")
				s.clearClients()
			}
		}
	}
}

// clearClients drops every remaining client after a failed health check.
func (s *Server) clearClients() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.clients {
		c.close()
		delete(s.clients, id)
	}
	s.stopMonitorLocked()
}
