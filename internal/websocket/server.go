package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/svirmi/webdesk/internal/config"
	"github.com/svirmi/webdesk/internal/logger"
	"github.com/svirmi/webdesk/internal/protocol"
	"github.com/svirmi/webdesk/internal/sequence"
	"github.com/svirmi/webdesk/internal/status"
	"github.com/svirmi/webdesk/internal/storage"
	"github.com/svirmi/webdesk/internal/view"
)

// Setting keys read by the panel and indicator endpoints.
const (
	SettingCompact = "status_compact"
	SettingDetails = "status_details"
	SettingCorner  = "indicator_corner"
)

const defaultUserID = "default"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// Store is the persistence the server needs.
type Store interface {
	GetSetting(ctx context.Context, userID, key string) (string, error)
	PutSetting(ctx context.Context, userID, key, value string) error
	History(ctx context.Context, limit int) ([]storage.ConnectionEvent, error)
}

type Server struct {
	cfg       *config.Config
	hub       *Hub
	source    view.Source
	store     Store
	upstream  UpstreamStats
	processor *protocol.Processor
	router    *mux.Router
	server    *http.Server
	startTime time.Time
	logger    zerolog.Logger
}

// NewServer wires the routes. upstream may be nil.
func NewServer(cfg *config.Config, hub *Hub, source view.Source, store Store, upstream UpstreamStats) *Server {
	s := &Server{
		cfg:       cfg,
		hub:       hub,
		source:    source,
		store:     store,
		upstream:  upstream,
		processor: protocol.NewProcessor(cfg.MaxMessageSize),
		router:    mux.NewRouter(),
		startTime: time.Now(),
		logger:    logger.GetLogger("websocket_server"),
	}

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/connection", s.handleConnection).Methods(http.MethodGet)
	api.HandleFunc("/connection/reconnect", s.handleReconnect).Methods(http.MethodPost)
	api.HandleFunc("/connection/panel", s.handlePanel).Methods(http.MethodGet)
	api.HandleFunc("/connection/indicator", s.handleIndicator).Methods(http.MethodGet)
	api.HandleFunc("/connection/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", s.handleGetSetting).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", s.handlePutSetting).Methods(http.MethodPut)

	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.WSPort,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info().Str("addr", s.cfg.WSPort).Msg("Starting WebSocket server")

	go s.hub.Run(ctx)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown plays the shutdown sequence to every session and then stops
// the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Int("clients", s.hub.ClientCount()).Msg("Shutting down WebSocket server")

	err := sequence.Run(ctx, sequence.Shutdown(s.cfg.SequenceStep), func(p sequence.Progress) {
		raw, err := protocol.Encode(protocol.TypeSequence, p)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to encode shutdown stage")
			return
		}
		s.hub.Broadcast(raw)
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Shutdown sequence interrupted")
	}

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub.Full() {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	userID := userIDFrom(r)
	panelOpts := s.panelOptions(r, userID)
	corner := s.corner(r, userID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := NewClient(s.hub, conn, s.processor, s.cfg.BufferSize, userID, r.UserAgent())
	if err := s.hub.Register(client); err != nil {
		s.logger.Warn().Err(err).Msg("Rejected WebSocket connection")
		client.Reject(s.cfg.WriteTimeout, err)
		return
	}

	client.Mount(s.source, panelOpts, corner)

	go client.WritePump(s.cfg.WriteTimeout, s.cfg.PingInterval)
	go client.ReadPump(s.cfg.PongWait, s.cfg.MaxMessageSize)
	go client.PlaySequence(sequence.Login(s.cfg.SequenceStep))

	s.logger.Info().
		Str("remote_addr", conn.RemoteAddr().String()).
		Str("client_id", client.id).
		Msg("New WebSocket connection established")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.collectMetrics())
}

type connectionResponse struct {
	Snapshot  status.Snapshot     `json:"snapshot"`
	Panel     view.PanelModel     `json:"panel"`
	Indicator view.IndicatorModel `json:"indicator"`
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	snap := s.source.Status()
	s.writeJSON(w, http.StatusOK, connectionResponse{
		Snapshot:  snap,
		Panel:     view.BuildPanelModel(snap, s.panelOptions(r, userID)),
		Indicator: view.BuildIndicatorModel(snap, s.corner(r, userID)),
	})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.source.ForceReconnect()
	s.writeJSON(w, http.StatusAccepted, s.source.Status())
}

// handlePanel mounts a panel for the duration of the request.
func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	panel := view.NewPanel(s.panelOptions(r, userIDFrom(r)))
	panel.Mount(s.source, nil)
	defer panel.Unmount()

	s.writeHTML(w, panel.Render)
}

func (s *Server) handleIndicator(w http.ResponseWriter, r *http.Request) {
	ind := view.NewIndicator(s.corner(r, userIDFrom(r)))
	ind.Mount(s.source, nil)
	defer ind.Unmount()

	s.writeHTML(w, ind.Render)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.store.History(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load connection history")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

type settingBody struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, err := s.store.GetSetting(r.Context(), userIDFrom(r), key)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "setting not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to read setting")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, settingBody{Key: key, Value: value})
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var body settingBody
	if err := json.NewDecoder(io.LimitReader(r.Body, s.cfg.MaxMessageSize)).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := validateSetting(key, body.Value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.PutSetting(r.Context(), userIDFrom(r), key, body.Value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write setting")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, settingBody{Key: key, Value: body.Value})
}

func validateSetting(key, value string) error {
	switch key {
	case SettingCorner:
		_, err := view.ParseCorner(value)
		return err
	case SettingCompact, SettingDetails:
		_, err := strconv.ParseBool(value)
		return err
	}
	return nil
}

// panelOptions reads compact, details, and class from the query, falling
// back to stored settings and then to an expanded panel with details.
func (s *Server) panelOptions(r *http.Request, userID string) view.PanelOptions {
	q := r.URL.Query()
	return view.PanelOptions{
		Compact:     s.boolOption(r.Context(), q.Get("compact"), userID, SettingCompact, false),
		ShowDetails: s.boolOption(r.Context(), q.Get("details"), userID, SettingDetails, true),
		Class:       q.Get("class"),
	}
}

func (s *Server) boolOption(ctx context.Context, raw, userID, key string, fallback bool) bool {
	if raw == "" {
		raw = s.setting(ctx, userID, key)
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	return fallback
}

func (s *Server) corner(r *http.Request, userID string) view.Corner {
	raw := r.URL.Query().Get("corner")
	if raw == "" {
		raw = s.setting(r.Context(), userID, SettingCorner)
	}
	if raw == "" {
		raw = s.cfg.IndicatorCorner
	}
	c, err := view.ParseCorner(raw)
	if err != nil {
		return view.BottomRight
	}
	return c
}

func (s *Server) setting(ctx context.Context, userID, key string) string {
	if s.store == nil {
		return ""
	}
	v, err := s.store.GetSetting(ctx, userID, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to read setting")
		}
		return ""
	}
	return v
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) writeHTML(w http.ResponseWriter, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		s.logger.Error().Err(err).Msg("Failed to render view")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// userIDFrom reads X-User-ID, then the user query parameter, since browsers
// cannot set headers on websocket upgrades.
func userIDFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("user")); id != "" {
		return id
	}
	return defaultUserID
}
