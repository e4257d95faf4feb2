package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/pitchcoach/internal/coach"
	"github.com/antoniostano/pitchcoach/internal/config"
	"github.com/antoniostano/pitchcoach/internal/history"
	"github.com/antoniostano/pitchcoach/internal/observability"
	"github.com/antoniostano/pitchcoach/internal/protocol"
	"github.com/antoniostano/pitchcoach/internal/session"
	"github.com/antoniostano/pitchcoach/internal/voice"
)

// Coach runs live sessions.
type Coach interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
	Destroy(sessionID, reason string) error
	EndUser(userID, reason string) int
	Snapshot(sessionID string) (coach.State, bool)
}

// Deps are the collaborators behind the HTTP surface. Nil collaborators disable their routes.
type Deps struct {
	Sessions    *session.Manager
	Coach       Coach
	Exchange    coach.Exchanger
	Scorer      coach.Scorer
	History     history.Store
	Synthesizer voice.Synthesizer
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

type Server struct {
	cfg      config.Config
	deps     Deps
	logger   *slog.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  observability.OrDefault(deps.Logger).With("component", "httpapi"),
		metrics: deps.Metrics,
		static:  newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a trainee's microphone session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/scenarios", s.handleListScenarios)
		r.Get("/scenarios/{id}", s.handleGetScenario)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/ws", s.handleSessionWS)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/sessions/{id}/destroy", s.handleDestroySession)

		r.Post("/chat", s.handleChat)
		r.Post("/tts", s.handleTTS)
		r.Post("/feedback", s.handleFeedback)

		r.Get("/users/{userID}/conversations", s.handleListConversations)
		r.Get("/users/{userID}/conversations/latest", s.handleLatestConversation)
		r.Get("/users/{userID}/conversations/{id}", s.handleGetConversation)
		r.Delete("/users/{userID}/data", s.handleDeleteUserData)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"history_store": s.historyMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status, code := "ready", http.StatusOK
	if s.deps.Sessions == nil || s.deps.Coach == nil {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":          status,
		"history_store":   s.historyMode(),
		"active_sessions": s.activeSessions(),
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.deps.Coach == nil || s.deps.Sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "coach not configured")
		return
	}

	sess, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "session is no longer active")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.deps.Coach.RunConnection(ctx, sess, inbound, outbound); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("session connection ended with error", "session_id", sessionID, "error", err)
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, outbound, runDone, cancel)
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				s.metrics.ObserveSessionEvent("outbound_drop")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case <-runDone:
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

// wsWriter is the write side of a websocket connection.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// writeLoop is the only writer on conn. It closes conn when a write fails or the session ends
// so the read loop unblocks.
func (s *Server) writeLoop(ctx context.Context, conn wsWriter, outbound <-chan any, runDone <-chan struct{}, cancel context.CancelFunc) {
	write := func(msg any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.metrics.ObserveSessionEvent("ws_write_error")
			return false
		}
		if t, ok := messageTypeOf(msg); ok {
			s.metrics.ObserveMessage("outbound", string(t))
		}
		return true
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-runDone:
			// Flush what the session queued before it ended, then hang up.
			for {
				select {
				case msg := <-outbound:
					if !write(msg) {
						_ = conn.Close()
						return
					}
				default:
					deadline := time.Now().Add(time.Second)
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"), deadline)
					_ = conn.Close()
					return
				}
			}
		case msg := <-outbound:
			if !write(msg) {
				cancel()
				_ = conn.Close()
				return
			}
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) historyMode() string {
	switch s.deps.History.(type) {
	case nil:
		return "disabled"
	case *history.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

func (s *Server) activeSessions() int {
	if s.deps.Sessions == nil {
		return 0
	}
	return s.deps.Sessions.ActiveCount()
}

// accessLog logs one line per request. chi's wrapper keeps http.Hijacker for websocket upgrades.
func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientHello:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientText:
		return m.Type, true
	case protocol.STTResult:
		return m.Type, true
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.PlaybackEvent:
		return m.Type, true
	case protocol.PhaseChanged:
		return m.Type, true
	case protocol.TurnAppended:
		return m.Type, true
	case protocol.STTPartial:
		return m.Type, true
	case protocol.RecognizerControl:
		return m.Type, true
	case protocol.AssistantAudio:
		return m.Type, true
	case protocol.PlaybackStop:
		return m.Type, true
	case protocol.FeedbackReady:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
