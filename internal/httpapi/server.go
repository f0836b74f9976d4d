package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/convoflow/convosync/internal/forward"
	"github.com/convoflow/convosync/internal/history"
	"github.com/convoflow/convosync/internal/syncer"
)

type EventType string

const (
	EventStatus       EventType = "status"
	EventRunStarted   EventType = "run_started"
	EventRunComplete  EventType = "run_complete"
	EventFilesChanged EventType = "files_changed"
)

// Event is one websocket broadcast frame.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func NewEvent(kind EventType, payload any) Event {
	evt := Event{Type: kind, Timestamp: time.Now().UTC()}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			evt.Data = data
		}
	}
	return evt
}

type ServerConfig struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Metrics      *Metrics
	Logger       zerolog.Logger
}

// Server is the watch-mode status surface: health and status JSON, the
// recent run history, Prometheus metrics, a websocket live feed and a
// small dashboard. It reads everything it reports from the history store.
type Server struct {
	cfg            ServerConfig
	history        *history.Store
	metrics        *Metrics
	metricsHandler http.Handler
	logger         zerolog.Logger
	startedAt      time.Time

	listener   net.Listener
	httpServer *http.Server

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool
	broadcast chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(hist *history.Store) *Server {
	return NewServerWithConfig(hist, ServerConfig{})
}

func NewServerWithConfig(hist *history.Store, cfg ServerConfig) *Server {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8787"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:            cfg,
		history:        hist,
		metrics:        cfg.Metrics,
		metricsHandler: cfg.Metrics.Handler(),
		logger:         cfg.Logger,
		startedAt:      time.Now(),
		clients:        map[*websocket.Conn]bool{},
		broadcast:      make(chan Event, 100),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start listens on the configured address and begins serving. It returns
// once the listener is bound; serving continues in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("status server stopped")
		}
	}()
	return nil
}

// Stop closes all websocket clients and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var err error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Listen
}

// ObserveRun records a finished run in the metrics registry and pushes a
// run_complete event to websocket clients.
func (s *Server) ObserveRun(sum syncer.RunSummary) {
	s.metrics.ObserveRun(sum)
	s.Broadcast(NewEvent(EventRunComplete, sum))
}

func (s *Server) ObserveForward(snap forward.MetricsSnapshot) {
	s.metrics.ObserveForward(snap)
}

// Broadcast queues an event for all connected clients. Events are dropped
// when the channel is full rather than blocking the caller.
func (s *Server) Broadcast(evt Event) {
	select {
	case s.broadcast <- evt:
	case <-s.ctx.Done():
	default:
		s.logger.Warn().Str("type", string(evt.Type)).Msg("broadcast channel full, dropping event")
	}
}

func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	switch r.URL.Path {
	case "/":
		s.handleDashboard(w, r)
	case "/healthz":
		s.handleHealthz(w, r)
	case "/api/status":
		s.handleStatus(w, r)
	case "/api/history":
		s.handleHistory(w, r)
	case "/metrics":
		s.metricsHandler.ServeHTTP(w, r)
	case "/ws":
		s.handleWebSocket(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	}
	if state, err := s.history.Snapshot(); err == nil && !state.LastSync.IsZero() {
		body["last_sync"] = state.LastSync
	}
	writeJSON(w, http.StatusOK, body)
}

type statusResponse struct {
	Status           string             `json:"status"`
	UptimeSeconds    float64            `json:"uptime_seconds"`
	LastSync         *time.Time         `json:"last_sync,omitempty"`
	ProcessedCount   int                `json:"processed_count"`
	RunsRecorded     int                `json:"runs_recorded"`
	LastRun          *history.RunRecord `json:"last_run,omitempty"`
	WebsocketClients int                `json:"websocket_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state, err := s.history.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "state_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.buildStatus(state))
}

func (s *Server) buildStatus(state *history.State) statusResponse {
	resp := statusResponse{
		Status:           "ok",
		UptimeSeconds:    time.Since(s.startedAt).Seconds(),
		ProcessedCount:   len(state.ProcessedKeys),
		RunsRecorded:     len(state.SyncHistory),
		WebsocketClients: s.ClientCount(),
	}
	if !state.LastSync.IsZero() {
		last := state.LastSync
		resp.LastSync = &last
	}
	if n := len(state.SyncHistory); n > 0 {
		run := state.SyncHistory[n-1]
		resp.LastRun = &run
	}
	return resp
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	state, err := s.history.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "state_unavailable", err.Error())
		return
	}
	limit := len(state.SyncHistory)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	// Newest first.
	runs := make([]history.RunRecord, 0, limit)
	for i := len(state.SyncHistory) - 1; i >= 0 && len(runs) < limit; i-- {
		runs = append(runs, state.SyncHistory[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Debug().Int("clients", count).Msg("websocket client connected")

	// Initial frame so the client can render without waiting for a run.
	if state, err := s.history.Snapshot(); err == nil {
		welcome := NewEvent(EventStatus, s.buildStatus(state))
		if data, err := json.Marshal(welcome); err == nil {
			ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, data)
			cancel()
		}
	}

	s.wg.Add(1)
	go s.readLoop(conn)
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt := <-s.broadcast:
			if evt.Timestamp.IsZero() {
				evt.Timestamp = time.Now().UTC()
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error().Err(err).Msg("marshal broadcast event")
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

// readLoop drains client frames so pings are answered; inbound messages
// are otherwise ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, known := s.clients[conn]
	if known {
		delete(s.clients, conn)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()
	if known {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug().Int("clients", count).Msg("websocket client disconnected")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
