// Package session maintains the client's live connection to the sync
// gateway: a websocket for push events, with exponential-backoff reconnects
// and a change-log polling fallback while disconnected.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/studyflow/tracker-sync/internal/domain"
	"github.com/studyflow/tracker-sync/internal/logger"
)

// TableChange mirrors the per-table answer of GET /api/v1/changes/check
type TableChange struct {
	HasChanges   bool      `json:"has_changes"`
	LastModified time.Time `json:"last_modified"`
	ChangeCount  uint64    `json:"change_count"`
}

// checkResponse is the polling endpoint's envelope
type checkResponse struct {
	Tables map[string]TableChange `json:"tables"`
}

// Config holds the session configuration
type Config struct {
	WebSocketURL string // e.g. ws://host:port/ws
	APIBaseURL   string // e.g. http://host:port
	ActorID      string
	PollInterval time.Duration
	HTTPTimeout  time.Duration
}

// Callbacks are the session's outbound contract. OnEvent receives live push
// events; OnTableChanged fires when a poll discovers the table moved and the
// caller should refetch its current state.
type Callbacks struct {
	OnEvent        func(event *domain.CRUDEvent)
	VisibleTables  func() []string
	OnTableChanged func(table string, change TableChange)
}

// Session is the client's connection manager
type Session struct {
	cfg        Config
	callbacks  Callbacks
	dialer     *websocket.Dialer
	httpClient *http.Client
	since      time.Time
}

// New creates a session. Run must be called to start it.
func New(cfg Config, callbacks Callbacks) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Session{
		cfg:        cfg,
		callbacks:  callbacks,
		dialer:     websocket.DefaultDialer,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Run connects and keeps the session alive until the context is canceled.
// While the websocket is down the session degrades to polling: queued local
// strategies keep working, and reconnection triggers an immediate poll of all
// visible tables instead of replaying missed events.
func (s *Session) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry forever

	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("Failed to connect, staying in polling fallback", zap.Error(err))
			if err := s.degraded(ctx, bo.NextBackOff()); err != nil {
				return err
			}
			continue
		}

		bo.Reset()
		logger.Info("Connected to sync gateway", zap.String("url", s.cfg.WebSocketURL))

		// Catch up on anything missed while disconnected, then go live
		s.pollVisible(ctx)
		s.readLoop(ctx, conn)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("Disconnected from sync gateway")
	}
}

// Poll runs one polling cycle immediately, e.g. when the app foregrounds
func (s *Session) Poll(ctx context.Context) {
	s.pollVisible(ctx)
}

// dial attempts one websocket connection
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.WebSocketURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("actor_id", s.cfg.ActorID)
	u.RawQuery = q.Encode()

	conn, resp, err := s.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop consumes push events until the connection drops
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer func() {
		close(done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var event domain.CRUDEvent
		if err := conn.ReadJSON(&event); err != nil {
			return
		}

		if !event.Valid() {
			logger.Warn("Dropping malformed event", zap.String("type", event.Type))
			continue
		}

		// Suppress our own echoes; the local state was already updated by
		// the mutation's response
		if s.cfg.ActorID != "" && event.Context.ActorID == s.cfg.ActorID {
			continue
		}

		if s.callbacks.OnEvent != nil {
			s.callbacks.OnEvent(&event)
		}
	}
}

// degraded polls visible tables until the reconnect delay elapses
func (s *Session) degraded(ctx context.Context, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		s.pollVisible(ctx)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err()
		}
		sleep := s.cfg.PollInterval
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// pollVisible checks the change log for every table the client has visible
func (s *Session) pollVisible(ctx context.Context) {
	if s.callbacks.VisibleTables == nil {
		return
	}
	tables := s.callbacks.VisibleTables()
	if len(tables) == 0 {
		return
	}

	requestedAt := time.Now().UTC()

	endpoint := fmt.Sprintf("%s/api/v1/changes/check?tables=%s",
		strings.TrimRight(s.cfg.APIBaseURL, "/"),
		url.QueryEscape(strings.Join(tables, ",")),
	)
	if !s.since.IsZero() {
		endpoint += "&since=" + url.QueryEscape(s.since.Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		logger.Error(fmt.Errorf("failed to build poll request: %w", err))
		return
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		logger.Warn("Change-log poll failed", zap.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("Change-log poll rejected", zap.Int("status", resp.StatusCode))
		return
	}

	var body checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		logger.Warn("Failed to decode poll response", zap.Error(err))
		return
	}

	for table, change := range body.Tables {
		if !change.HasChanges {
			continue
		}
		logger.Debug("Table changed, refetch needed",
			zap.String("table", table),
			zap.Uint64("change_count", change.ChangeCount),
		)
		if s.callbacks.OnTableChanged != nil {
			s.callbacks.OnTableChanged(table, change)
		}
	}

	s.since = requestedAt
}
