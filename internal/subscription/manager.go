// Package subscription owns the context event channel: one live WebSocket
// subscription per context identifier, reconnect with capped backoff, and
// strictly ordered dispatch to the single consumer.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"blockroute/go-coordinator/internal/contextstore"
)

type Config struct {
	Endpoint            string        `yaml:"endpoint"`
	ReconnectInterval   time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax time.Duration `yaml:"reconnectBackoffMax"`
	MaxReconnectTries   int           `yaml:"maxReconnectTries"`
	Buffer              int           `yaml:"buffer"`
}

func DefaultConfig() Config {
	return Config{
		ReconnectInterval:   1 * time.Second,
		ReconnectBackoffMax: 30 * time.Second,
		MaxReconnectTries:   8,
		Buffer:              64,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		cfg.ReconnectBackoffMax = def.ReconnectBackoffMax
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		cfg.ReconnectBackoffMax = cfg.ReconnectInterval
	}
	if cfg.MaxReconnectTries <= 0 {
		cfg.MaxReconnectTries = def.MaxReconnectTries
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	return cfg
}

// NextRetryDelay doubles from the base interval and saturates at the cap.
func NextRetryDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Conn is the slice of a websocket connection the manager uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Envelope wraps a decoded event for the consumer. GapBefore is set on the
// first event after a reconnect: frames pushed during the outage are gone
// (the channel is push-only, not a durable log), so the consumer must
// reconcile against the authoritative stores.
type Envelope struct {
	Event     contextstore.Event
	GapBefore bool
}

var ErrChannelDisconnected = errors.New("event channel disconnected")

type Manager struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	mu         sync.Mutex
	conn       Conn
	contextIDs []string
	cancel     context.CancelFunc
	running    bool
	lastErr    error

	// writeMu serializes outbound frames; the websocket permits only one
	// concurrent writer per connection.
	writeMu sync.Mutex

	wg        sync.WaitGroup
	events    chan Envelope
	closeOnce sync.Once
}

func (m *Manager) writeJSON(conn Conn, v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return newManagerWithDialer(cfg, logger, gorillaDialer{})
}

func newManagerWithDialer(cfg Config, logger *slog.Logger, dialer Dialer) *Manager {
	cfg = normalizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		logger: logger,
		events: make(chan Envelope, cfg.Buffer),
	}
}

// Events is the ordered stream. Dispatch is serialized: a slow consumer
// delays subsequent events rather than growing an internal queue.
func (m *Manager) Events() <-chan Envelope {
	return m.events
}

// Err reports why the stream ended, if it ended abnormally.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Start opens the channel and subscribes to contextID. Calling Start again
// for an already-subscribed context while connected is a no-op.
func (m *Manager) Start(ctx context.Context, contextID string) error {
	if contextID == "" {
		return errors.New("context id is required")
	}

	m.mu.Lock()
	if m.lastErr != nil {
		m.mu.Unlock()
		return m.lastErr
	}
	for _, existing := range m.contextIDs {
		if existing == contextID {
			running := m.running
			m.mu.Unlock()
			if running {
				return nil
			}
			return ErrChannelDisconnected
		}
	}
	alreadyRunning := m.running
	m.contextIDs = append(m.contextIDs, contextID)
	conn := m.conn
	m.mu.Unlock()

	if alreadyRunning {
		// Channel is live; just extend the subscription.
		if conn != nil {
			return m.writeJSON(conn, contextstore.NewSubscribeMessage(contextID))
		}
		return nil
	}

	conn, err := m.dialer.Dial(ctx, m.cfg.Endpoint)
	if err != nil {
		m.mu.Lock()
		m.contextIDs = nil
		m.mu.Unlock()
		return err
	}
	if err := m.writeJSON(conn, contextstore.NewSubscribeMessage(contextID)); err != nil {
		_ = conn.Close()
		m.mu.Lock()
		m.contextIDs = nil
		m.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.conn = conn
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// Stop tears the channel down. Safe on every exit path and idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.running = false
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.closeOnce.Do(func() { close(m.events) })
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	gapPending := false

	for {
		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("event channel read failed", "error", err)
			if !m.reconnect(ctx) {
				return
			}
			gapPending = true
			continue
		}

		event, err := contextstore.DecodeEvent(raw)
		if err != nil {
			var unknown *contextstore.UnknownEventError
			if errors.As(err, &unknown) {
				m.logger.Debug("skipping unknown event frame", "type", unknown.Type, "kind", unknown.Kind)
			} else {
				m.logger.Warn("dropping undecodable event frame", "error", err)
			}
			continue
		}

		env := Envelope{Event: event, GapBefore: gapPending}
		gapPending = false
		select {
		case <-ctx.Done():
			return
		case m.events <- env:
		}
	}
}

// reconnect retries with exponential backoff up to the configured bound,
// re-issuing the subscribe message on success. Returns false when the
// manager should give up (stopped, or attempts exhausted).
func (m *Manager) reconnect(ctx context.Context) bool {
	m.mu.Lock()
	old := m.conn
	m.conn = nil
	contextIDs := append([]string(nil), m.contextIDs...)
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	for attempt := 1; attempt <= m.cfg.MaxReconnectTries; attempt++ {
		delay := NextRetryDelay(attempt, m.cfg.ReconnectInterval, m.cfg.ReconnectBackoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		conn, err := m.dialer.Dial(ctx, m.cfg.Endpoint)
		if err != nil {
			m.logger.Warn("event channel reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		if err := m.writeJSON(conn, contextstore.NewSubscribeMessage(contextIDs...)); err != nil {
			_ = conn.Close()
			m.logger.Warn("event channel resubscribe failed", "attempt", attempt, "error", err)
			continue
		}

		m.mu.Lock()
		if !m.running {
			m.mu.Unlock()
			_ = conn.Close()
			return false
		}
		m.conn = conn
		m.mu.Unlock()
		m.logger.Info("event channel reconnected", "attempt", attempt, "context_ids", len(contextIDs))
		return true
	}

	m.mu.Lock()
	m.lastErr = ErrChannelDisconnected
	m.running = false
	m.mu.Unlock()
	m.logger.Error("event channel gave up reconnecting", "attempts", m.cfg.MaxReconnectTries)
	m.closeOnce.Do(func() { close(m.events) })
	return false
}
