package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antoniostano/pitchcoach/internal/feedback"
	"github.com/antoniostano/pitchcoach/internal/observability"
	"github.com/antoniostano/pitchcoach/internal/protocol"
	"github.com/antoniostano/pitchcoach/internal/session"
	"github.com/antoniostano/pitchcoach/internal/voice"
)

const outboundTimeout = 600 * time.Millisecond

var (
	ErrSessionInUse    = errors.New("session already has a live connection")
	errOutboundTimeout = errors.New("outbound queue full")
)

// EngineFactory builds the speech engine for one connection. control relays recognizer
// start/stop/abort requests to the browser and must not block.
type EngineFactory func(control voice.ControlFunc) voice.SpeechEngine

// ClientEngines runs recognition in the browser.
func ClientEngines(control voice.ControlFunc) voice.SpeechEngine {
	return voice.NewClientSpeechEngine(control)
}

// ElevenLabsEngines runs recognition server side from streamed microphone audio.
func ElevenLabsEngines(cfg voice.ElevenLabsConfig) EngineFactory {
	return func(voice.ControlFunc) voice.SpeechEngine {
		return voice.NewElevenLabsSpeechEngine(cfg)
	}
}

type ServiceDeps struct {
	Exchange        Exchanger
	Scorer          Scorer
	History         ConversationSaver
	Sessions        *session.Manager
	Synthesizer     voice.Synthesizer
	NewEngine       EngineFactory
	PlaybackTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *observability.Metrics
}

type liveSession struct {
	userID     string
	controller *Controller
}

// Service attaches websocket connections to session controllers.
type Service struct {
	deps    ServiceDeps
	logger  *slog.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	live map[string]liveSession
}

func NewService(deps ServiceDeps) *Service {
	if deps.NewEngine == nil {
		deps.NewEngine = ClientEngines
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = voice.NewMockSynthesizer()
	}
	s := &Service{
		deps:    deps,
		logger:  observability.OrDefault(deps.Logger).With("component", "coach_service"),
		metrics: deps.Metrics,
		live:    make(map[string]liveSession),
	}
	if deps.Sessions != nil {
		deps.Sessions.SetExpireHook(func(sess *session.Session) {
			s.teardownLive(sess.ID, session.ReasonExpired)
			s.metrics.ObserveSessionEvent("expired")
			s.metrics.SetActiveSessions(deps.Sessions.ActiveCount())
		})
	}
	return s
}

// RunConnection drives one session over a message stream until the stream closes, ctx is
// cancelled or the session is torn down.
func (s *Service) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := func(sendCtx context.Context, msg any) error {
		timer := time.NewTimer(outboundTimeout)
		defer timer.Stop()
		select {
		case outbound <- msg:
			return nil
		case <-sendCtx.Done():
			return sendCtx.Err()
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.metrics.ObserveSessionEvent("outbound_drop")
			return errOutboundTimeout
		}
	}
	emit := func(msg any) { _ = send(ctx, msg) }
	// release outlives the connection context so playback_stop still reaches the browser
	// while a teardown is in progress.
	release := func(sendCtx context.Context, msg any) error {
		timer := time.NewTimer(outboundTimeout)
		defer timer.Stop()
		select {
		case outbound <- msg:
			return nil
		case <-sendCtx.Done():
			return sendCtx.Err()
		case <-timer.C:
			s.metrics.ObserveSessionEvent("outbound_drop")
			return errOutboundTimeout
		}
	}

	if sess.Status != session.StatusActive {
		emit(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      "session_ended",
			Source:    "coach",
			Detail:    "session is no longer active",
		})
		return ErrSessionEnded
	}

	engine := s.deps.NewEngine(func(action string, capture uint64) {
		emit(protocol.RecognizerControl{
			Type:      protocol.TypeRecognizerControl,
			SessionID: sess.ID,
			Action:    action,
			CaptureID: capture,
		})
	})

	c := NewController(sess, Deps{
		Exchange: s.deps.Exchange,
		Scorer:   s.deps.Scorer,
		History:  s.deps.History,
		Emit:     emit,
		Notify: func(reason string) {
			s.endSession(sess.ID, reason)
			emit(protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: sess.ID,
				Code:      "session_ended",
				Detail:    reason,
			})
		},
		Saved: func(conversationID string) {
			if s.deps.Sessions != nil {
				_ = s.deps.Sessions.AttachConversation(sess.ID, conversationID)
			}
		},
		Logger:  s.deps.Logger,
		Metrics: s.metrics,
	})
	player := voice.NewClientPlayer(sess.ID, send, release, s.deps.PlaybackTimeout)
	syn := voice.NewSpeechSynthesizer(s.deps.Synthesizer, player, c.SpeechDone, s.deps.Logger, s.metrics)
	rec := voice.NewTurnRecognizer(engine, c.RecognizerHooks(), s.deps.Logger)
	c.Bind(rec, syn)

	if !s.register(sess, c) {
		c.cancelWork()
		emit(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      "session_in_use",
			Source:    "coach",
			Detail:    ErrSessionInUse.Error(),
		})
		return ErrSessionInUse
	}
	defer s.unregister(sess.ID, c)

	s.metrics.ObserveSessionEvent("connected")
	logger := s.logger.With("session_id", sess.ID)
	logger.Info("session connected", "scenario", sess.ScenarioID)

	go c.Run(ctx)

	for {
		select {
		case <-c.Done():
			return nil
		case <-ctx.Done():
			c.Teardown(session.ReasonDisconnect)
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				c.Teardown(session.ReasonDisconnect)
				return nil
			}
			if s.deps.Sessions != nil {
				_ = s.deps.Sessions.Touch(sess.ID)
			}
			s.route(ctx, c, engine, player, emit, sess.ID, msg)
		}
	}
}

func (s *Service) route(ctx context.Context, c *Controller, engine voice.SpeechEngine, player *voice.ClientPlayer, emit func(any), sessionID string, msg any) {
	switch m := msg.(type) {
	case protocol.ClientHello:
		if ce, ok := engine.(*voice.ClientSpeechEngine); ok {
			ce.SetSupported(m.SpeechSupported)
		}
		c.Mount()
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionMicToggle:
			c.ToggleMic()
		case protocol.ActionStopSpeaking:
			c.StopSpeaking()
		case protocol.ActionRequestFeedback:
			if err := c.RequestFeedback(ctx); err != nil && !errors.Is(err, ErrSessionEnded) {
				emit(feedbackRefusal(sessionID, err))
			}
		case protocol.ActionEndSession:
			c.Teardown(session.ReasonEndRequested)
		case protocol.ActionHidden:
			c.Teardown(session.ReasonHidden)
		}
	case protocol.ClientText:
		c.SubmitText(m.Text)
	case protocol.STTResult:
		ce, ok := engine.(*voice.ClientSpeechEngine)
		if !ok {
			return
		}
		if m.Text != "" {
			ce.Push(m.CaptureID, voice.Recognition{Text: m.Text, Final: m.Final})
		}
		switch {
		case m.Error != "":
			ce.End(m.CaptureID, fmt.Errorf("browser recognizer: %s", m.Error))
		case m.Ended:
			ce.End(m.CaptureID, nil)
		}
	case protocol.ClientAudioChunk:
		sink, ok := engine.(voice.AudioSink)
		if !ok {
			return
		}
		if err := sink.SendAudio(ctx, m.PCM16Base64, m.SampleRate); err != nil {
			s.metrics.ObserveProviderError("stt", "send_audio_failed")
			emit(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "stt_send_audio_failed",
				Source:    "stt",
				Retryable: true,
				Detail:    err.Error(),
			})
		}
	case protocol.PlaybackEvent:
		player.Ack(m)
	}
}

func feedbackRefusal(sessionID string, err error) protocol.ErrorEvent {
	code := "feedback_unavailable"
	switch {
	case errors.Is(err, feedback.ErrTranscriptTooShort):
		code = "transcript_too_short"
	case errors.Is(err, ErrFeedbackInProgress):
		code = "feedback_in_progress"
	}
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "feedback",
		Retryable: true,
		Detail:    err.Error(),
	}
}

// Destroy tears down a session's live connection, or just ends the session when nothing is
// connected.
func (s *Service) Destroy(sessionID, reason string) error {
	if s.teardownLive(sessionID, reason) {
		return nil
	}
	if s.deps.Sessions == nil {
		return session.ErrNotFound
	}
	if _, err := s.deps.Sessions.Get(sessionID); err != nil {
		return err
	}
	s.endSession(sessionID, reason)
	return nil
}

// EndUser tears down every session owned by userID.
func (s *Service) EndUser(userID, reason string) int {
	s.mu.Lock()
	var owned []*Controller
	for _, l := range s.live {
		if l.userID == userID {
			owned = append(owned, l.controller)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, c := range owned {
		if c.Teardown(reason) {
			n++
		}
	}
	if s.deps.Sessions != nil {
		n += len(s.deps.Sessions.EndUser(userID, reason))
		s.metrics.SetActiveSessions(s.deps.Sessions.ActiveCount())
	}
	return n
}

// Shutdown tears down all live sessions.
func (s *Service) Shutdown() {
	s.mu.Lock()
	all := make([]*Controller, 0, len(s.live))
	for _, l := range s.live {
		all = append(all, l.controller)
	}
	s.mu.Unlock()

	for _, c := range all {
		c.Teardown(session.ReasonShutdown)
	}
}

// Snapshot returns the live state of a connected session.
func (s *Service) Snapshot(sessionID string) (State, bool) {
	s.mu.Lock()
	l, ok := s.live[sessionID]
	s.mu.Unlock()
	if !ok {
		return State{}, false
	}
	return l.controller.Snapshot(), true
}

func (s *Service) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Service) teardownLive(sessionID, reason string) bool {
	s.mu.Lock()
	l, ok := s.live[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	l.controller.Teardown(reason)
	return true
}

func (s *Service) endSession(sessionID, reason string) {
	if s.deps.Sessions == nil {
		return
	}
	if _, ended, err := s.deps.Sessions.End(sessionID, reason); err == nil && ended {
		s.metrics.ObserveSessionEvent("ended")
	}
	s.metrics.SetActiveSessions(s.deps.Sessions.ActiveCount())
}

func (s *Service) register(sess *session.Session, c *Controller) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.live[sess.ID]; busy {
		return false
	}
	s.live[sess.ID] = liveSession{userID: sess.UserID, controller: c}
	return true
}

func (s *Service) unregister(sessionID string, c *Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.live[sessionID]; ok && l.controller == c {
		delete(s.live, sessionID)
	}
}
