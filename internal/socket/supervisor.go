package socket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/bbsync/internal/bus"
	"github.com/matheus3301/bbsync/internal/status"
	"go.uber.org/zap"
)

// Defaults for the reconnect policy and heartbeat.
const (
	PingInterval         = 30 * time.Second
	ReconnectDelay       = 5 * time.Second
	MaxReconnectAttempts = 10
)

// Config tunes the supervisor. Zero values select the defaults above.
type Config struct {
	RetryDelay   time.Duration
	MaxAttempts  int
	PingInterval time.Duration
}

// Supervisor owns the single long-lived socket session to the bridge:
// handshake on open, heartbeat replies, bounded-retry reconnection, and
// publication of decoded events plus connection-state transitions on the
// bus. Exactly one transport session is active at a time.
type Supervisor struct {
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	retryDelay   time.Duration
	maxAttempts  int
	pingInterval time.Duration

	mu              sync.Mutex
	conn            *websocket.Conn
	wsURL           string
	password        string
	shouldReconnect bool
	attempts        int
	retryTimer      *time.Timer
	gen             int // session generation; stale read loops no-op

	writeMu sync.Mutex
}

// NewSupervisor creates a supervisor in the Disconnected state.
func NewSupervisor(cfg Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Supervisor {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = ReconnectDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxReconnectAttempts
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = PingInterval
	}
	return &Supervisor{
		bus:          b,
		machine:      machine,
		logger:       logger,
		retryDelay:   cfg.RetryDelay,
		maxAttempts:  cfg.MaxAttempts,
		pingInterval: cfg.PingInterval,
	}
}

// Connect opens a session to the given server. Idempotent while connected.
// Calling Connect resets the retry counter, so a supervisor settled in
// Error after exhausting its attempts starts retrying again.
func (s *Supervisor) Connect(serverURL, password string) error {
	wsURL, err := socketURL(serverURL)
	if err != nil {
		return fmt.Errorf("socket url: %w", err)
	}

	s.mu.Lock()
	if s.machine.Current() == status.Connected {
		s.mu.Unlock()
		s.logger.Debug("already connected")
		return nil
	}
	s.wsURL = wsURL
	s.password = password
	s.shouldReconnect = true
	s.attempts = 0
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.mu.Unlock()

	go s.dial()
	return nil
}

// Disconnect closes the active session and cancels any pending retry.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.shouldReconnect = false
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.gen++
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}

	if s.machine.Current() != status.Disconnected {
		_ = s.machine.Transition(status.Disconnected)
	}
	s.bus.Publish(bus.Event{Kind: bus.KindSocketDisconnected, Timestamp: time.Now(), Payload: "client disconnect"})
	s.logger.Info("socket disconnected")
}

// Emit sends an outbound event frame ("42" + JSON [name, payload]).
func (s *Supervisor) Emit(name string, payload any) error {
	body, err := json.Marshal([]any{name, payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.writeFrame(frameEventPrefix + string(body))
}

// SendTypingIndicator reports this client's typing state for a chat.
func (s *Supervisor) SendTypingIndicator(chatGUID string, display bool) error {
	return s.Emit("typing-indicator", map[string]any{
		"chatGuid": chatGUID,
		"display":  display,
	})
}

// SendReadReceipt reports that a message has been read on this device.
func (s *Supervisor) SendReadReceipt(chatGUID, messageGUID string) error {
	return s.Emit("mark-chat-read", map[string]any{
		"chatGuid":    chatGUID,
		"messageGuid": messageGUID,
	})
}

func (s *Supervisor) dial() {
	s.mu.Lock()
	if !s.shouldReconnect {
		s.mu.Unlock()
		return
	}
	wsURL := s.wsURL
	password := s.password
	s.mu.Unlock()

	if err := s.machine.Transition(status.Connecting); err != nil {
		// Another path already moved the machine (e.g. connected meanwhile).
		return
	}

	header := http.Header{}
	header.Set("password", password)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.logger.Warn("socket dial failed", zap.Error(err))
		_ = s.machine.Fail(err.Error())
		s.bus.Publish(bus.Event{Kind: bus.KindSocketError, Timestamp: time.Now(), Payload: err.Error()})
		s.attemptReconnect()
		return
	}

	s.mu.Lock()
	if !s.shouldReconnect {
		// Disconnect landed while the handshake was in flight; it wins.
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.attempts = 0
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	// Acknowledge the default namespace before anything else.
	if err := s.writeFrame(frameHandshakePrefix); err != nil {
		s.logger.Warn("handshake write failed", zap.Error(err))
		_ = conn.Close()
		_ = s.machine.Fail(err.Error())
		s.attemptReconnect()
		return
	}

	_ = s.machine.Transition(status.Connected)
	s.bus.Publish(bus.Event{Kind: bus.KindSocketConnected, Timestamp: time.Now()})
	s.logger.Info("socket connected", zap.String("url", wsURL))

	go s.pingLoop(conn, gen)
	s.readLoop(conn, gen)
}

func (s *Supervisor) readLoop(conn *websocket.Conn, gen int) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleFrame(string(data))
	}
}

// handleFrame decodes one frame and reacts. Malformed frames are logged
// and discarded; nothing here may terminate the read loop.
func (s *Supervisor) handleFrame(frame string) {
	res, err := DecodeFrame(frame)
	if err != nil {
		s.logger.Warn("discarding malformed frame", zap.Error(err))
		return
	}
	switch {
	case res.Pong:
		if err := s.writeFrame(framePong); err != nil {
			s.logger.Warn("pong write failed", zap.Error(err))
		}
	case res.Handshake:
		s.logger.Debug("session namespace acknowledged")
	case res.Event != nil:
		s.bus.Publish(bus.Event{Kind: res.Kind, Timestamp: time.Now(), Payload: res.Event})
	}
}

func (s *Supervisor) handleClose(gen int, err error) {
	s.mu.Lock()
	if gen != s.gen {
		// A newer session or an explicit Disconnect superseded this one.
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	shouldReconnect := s.shouldReconnect
	s.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) || !shouldReconnect {
		s.logger.Info("socket closed", zap.Error(err))
		if s.machine.Current() != status.Disconnected {
			_ = s.machine.Transition(status.Disconnected)
		}
		s.bus.Publish(bus.Event{Kind: bus.KindSocketDisconnected, Timestamp: time.Now(), Payload: err.Error()})
	} else {
		s.logger.Warn("socket failure", zap.Error(err))
		_ = s.machine.Fail(err.Error())
		s.bus.Publish(bus.Event{Kind: bus.KindSocketError, Timestamp: time.Now(), Payload: err.Error()})
	}

	s.attemptReconnect()
}

// attemptReconnect schedules the next dial. No-op when reconnection is
// disabled or the attempt budget is spent; in the latter case the machine
// settles in Error until the next explicit Connect.
func (s *Supervisor) attemptReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.shouldReconnect {
		return
	}
	if s.attempts >= s.maxAttempts {
		s.logger.Error("max reconnect attempts reached", zap.Int("attempts", s.attempts))
		_ = s.machine.Fail("max reconnection attempts reached")
		return
	}

	s.attempts++
	s.logger.Info("scheduling reconnect",
		zap.Int("attempt", s.attempts),
		zap.Int("max", s.maxAttempts),
		zap.Duration("delay", s.retryDelay))

	s.retryTimer = time.AfterFunc(s.retryDelay, func() {
		s.mu.Lock()
		ok := s.shouldReconnect
		s.mu.Unlock()
		if ok {
			s.dial()
		}
	})
}

func (s *Supervisor) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		stale := gen != s.gen
		s.mu.Unlock()
		if stale {
			return
		}
		// Control frames may be written concurrently with WriteMessage.
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
			return
		}
	}
}

func (s *Supervisor) writeFrame(frame string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("socket not connected")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// socketURL converts the configured http(s) server URL into the session
// endpoint's ws(s) URL.
func socketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/socket.io/"
	u.RawQuery = "EIO=4&transport=websocket"
	return u.String(), nil
}
