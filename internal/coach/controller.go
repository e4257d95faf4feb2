// Package coach runs the turn-taking state machine of a practice session.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/pitchcoach/internal/feedback"
	"github.com/antoniostano/pitchcoach/internal/history"
	"github.com/antoniostano/pitchcoach/internal/observability"
	"github.com/antoniostano/pitchcoach/internal/policy"
	"github.com/antoniostano/pitchcoach/internal/protocol"
	"github.com/antoniostano/pitchcoach/internal/scenario"
	"github.com/antoniostano/pitchcoach/internal/session"
	"github.com/antoniostano/pitchcoach/internal/transcript"
	"github.com/antoniostano/pitchcoach/internal/voice"
)

// releaseTimeout bounds how long teardown waits for playback to be released.
const releaseTimeout = 3 * time.Second

var (
	ErrSessionEnded        = errors.New("session has ended")
	ErrFeedbackInProgress  = errors.New("feedback already in progress")
	ErrFeedbackUnavailable = errors.New("feedback unavailable in this mode")
)

// Exchanger produces the simulated customer's next turn. It never fails.
type Exchanger interface {
	Exchange(ctx context.Context, turns []transcript.Turn, scenarioID string) transcript.Turn
}

type Scorer interface {
	Score(ctx context.Context, turns []transcript.Turn, scenarioID string) (feedback.Feedback, error)
}

type ConversationSaver interface {
	Save(ctx context.Context, c history.Conversation) (history.Conversation, error)
}

// Recognizer is the capture side of a session.
type Recognizer interface {
	Supported() bool
	Start(ctx context.Context) bool
	Stop()
	ForceStop()
	Capturing() bool
	Generation() uint64
}

// Speaker is the playback side of a session.
type Speaker interface {
	Speak(ctx context.Context, text string) string
	Stop()
	Speaking() bool
	// Wait blocks until the last utterance has released its audio.
	Wait(ctx context.Context) error
}

// Deps are the collaborators of one Controller.
type Deps struct {
	Exchange Exchanger
	Scorer   Scorer
	History  ConversationSaver
	// Emit delivers a server message to the trainee's view. It must not block indefinitely.
	Emit func(msg any)
	// Notify is the external teardown notification. It runs at most once per controller,
	// after voice I/O has stopped.
	Notify func(reason string)
	// Saved is told which conversation row the feedback was stored under.
	Saved   func(conversationID string)
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// State is a point-in-time copy of the controller.
type State struct {
	SessionID       string             `json:"session_id"`
	ScenarioID      string             `json:"scenario"`
	Phase           Phase              `json:"phase"`
	Mode            Mode               `json:"mode"`
	Turns           []transcript.Turn  `json:"turns"`
	Capturing       bool               `json:"capturing"`
	Speaking        bool               `json:"speaking"`
	FeedbackPending bool               `json:"feedback_pending"`
	Feedback        *feedback.Feedback `json:"feedback,omitempty"`
	EndReason       string             `json:"end_reason,omitempty"`
}

type event interface{}

type (
	evMount           struct{}
	evMicToggle       struct{}
	evStopSpeaking    struct{}
	evText            struct{ text string }
	evSegment         struct{ seg voice.Segment }
	evPartial         struct{ text string }
	evRecognizerEnd   struct{ err error }
	evSpeechDone      struct{ res voice.SpeechResult }
	evFeedbackRequest struct{ reply chan error }
)

type evExchangeDone struct {
	epoch uint64
	turn  transcript.Turn
}

type evFeedbackDone struct {
	fb             feedback.Feedback
	conversationID string
	err            error
}

// Controller owns one session's transcript and phase. Every transition runs on the Run loop;
// asynchronous work reports back through the mailbox.
type Controller struct {
	sessionID      string
	userID         string
	scenarioID     string
	conversationID string

	deps   Deps
	logger *slog.Logger
	box    *mailbox

	workCtx    context.Context
	cancelWork context.CancelFunc

	teardownOnce sync.Once
	done         chan struct{}

	mu              sync.Mutex
	rec             Recognizer
	syn             Speaker
	phase           Phase
	mode            Mode
	transcript      *transcript.Transcript
	epoch           uint64
	listenGen       uint64
	utterance       string
	feedbackPending bool
	feedback        *feedback.Feedback
	endReason       string
}

func NewController(sess *session.Session, deps Deps) *Controller {
	if deps.Emit == nil {
		deps.Emit = func(any) {}
	}
	if deps.Notify == nil {
		deps.Notify = func(string) {}
	}
	if deps.Saved == nil {
		deps.Saved = func(string) {}
	}
	workCtx, cancel := context.WithCancel(context.Background())
	tr, _ := transcript.New()
	return &Controller{
		sessionID:      sess.ID,
		userID:         sess.UserID,
		scenarioID:     sess.ScenarioID,
		conversationID: sess.ConversationID,
		deps:           deps,
		logger:         observability.OrDefault(deps.Logger).With("component", "coach", "session_id", sess.ID),
		box:            newMailbox(),
		workCtx:        workCtx,
		cancelWork:     cancel,
		done:           make(chan struct{}),
		phase:          PhaseInitializing,
		mode:           ModeInteractive,
		transcript:     tr,
	}
}

// Bind attaches the voice components. It must be called before Run.
func (c *Controller) Bind(rec Recognizer, syn Speaker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec = rec
	c.syn = syn
}

// RecognizerHooks route recognizer output into the controller's mailbox.
func (c *Controller) RecognizerHooks() voice.RecognizerHooks {
	return voice.RecognizerHooks{
		OnSegment: func(seg voice.Segment) { c.box.put(evSegment{seg: seg}) },
		OnPartial: func(text string) { c.box.put(evPartial{text: text}) },
		OnEnded:   func(err error) { c.box.put(evRecognizerEnd{err: err}) },
	}
}

// SpeechDone is the synthesizer's completion callback.
func (c *Controller) SpeechDone(res voice.SpeechResult) {
	c.box.put(evSpeechDone{res: res})
}

func (c *Controller) Mount() bool        { return c.box.put(evMount{}) }
func (c *Controller) ToggleMic() bool    { return c.box.put(evMicToggle{}) }
func (c *Controller) StopSpeaking() bool { return c.box.put(evStopSpeaking{}) }

// SubmitText queues a typed trainee turn.
func (c *Controller) SubmitText(text string) bool {
	return c.box.put(evText{text: text})
}

// Done is closed once the session has been torn down.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run processes events until ctx is cancelled or the session is torn down.
func (c *Controller) Run(ctx context.Context) {
	defer c.cancelWork()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-c.box.signal:
			for _, ev := range c.box.drain() {
				c.handle(ev)
			}
		}
	}
}

// RequestFeedback stops voice I/O and scores the transcript in the background. It fails
// without any state change when the transcript has fewer than two turns.
func (c *Controller) RequestFeedback(ctx context.Context) error {
	reply := make(chan error, 1)
	if !c.box.put(evFeedbackRequest{reply: reply}) {
		return ErrSessionEnded
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Teardown stops the recognizer and synthesizer, then fires the teardown notification.
// Concurrent and repeated calls notify exactly once; the first caller gets true.
func (c *Controller) Teardown(reason string) bool {
	first := false
	c.teardownOnce.Do(func() {
		first = true

		c.mu.Lock()
		from := c.phase
		c.phase = PhaseIdle
		c.mode = ModeEnded
		c.endReason = reason
		c.epoch++
		rec, syn := c.rec, c.syn
		c.mu.Unlock()

		c.box.close()
		c.cancelWork()
		if rec != nil {
			rec.ForceStop()
		}
		if syn != nil {
			syn.Stop()
			waitCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			if err := syn.Wait(waitCtx); err != nil {
				c.logger.Warn("speech release timed out", "error", err)
			}
			cancel()
		}

		c.deps.Metrics.ObservePhase(from.String(), PhaseIdle.String())
		c.deps.Metrics.ObserveTeardown(reason)
		c.logger.Info("session torn down", "reason", reason, "phase", from.String())
		c.emitPhase(PhaseIdle, ModeEnded, false, false)

		c.deps.Notify(reason)
		close(c.done)
	})
	return first
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		SessionID:       c.sessionID,
		ScenarioID:      c.scenarioID,
		Phase:           c.phase,
		Mode:            c.mode,
		Turns:           c.transcript.Turns(),
		FeedbackPending: c.feedbackPending,
		EndReason:       c.endReason,
	}
	if c.rec != nil {
		st.Capturing = c.rec.Capturing()
	}
	if c.syn != nil {
		st.Speaking = c.syn.Speaking()
	}
	if c.feedback != nil {
		fb := *c.feedback
		st.Feedback = &fb
	}
	return st
}

func (c *Controller) handle(ev event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeEnded {
		if req, ok := ev.(evFeedbackRequest); ok {
			req.reply <- ErrSessionEnded
		}
		return
	}

	switch e := ev.(type) {
	case evMount:
		c.onMount()
	case evMicToggle:
		c.onMicToggle()
	case evStopSpeaking:
		if c.phase == PhaseSpeaking {
			c.syn.Stop()
			c.setPhase(PhaseIdle)
		}
	case evText:
		c.onText(e.text)
	case evSegment:
		c.onSegment(e.seg)
	case evPartial:
		if c.phase == PhaseListening {
			c.deps.Emit(protocol.STTPartial{
				Type:      protocol.TypeSTTPartial,
				SessionID: c.sessionID,
				Text:      e.text,
				TSMs:      time.Now().UnixMilli(),
			})
		}
	case evRecognizerEnd:
		if c.phase == PhaseListening {
			if e.err != nil {
				c.emitError("recognizer_error", "stt", true, e.err.Error())
			}
			c.setPhase(PhaseIdle)
		}
	case evExchangeDone:
		c.onExchangeDone(e)
	case evSpeechDone:
		c.onSpeechDone(e.res)
	case evFeedbackRequest:
		e.reply <- c.onFeedbackRequest()
	case evFeedbackDone:
		c.onFeedbackDone(e)
	}
}

func (c *Controller) onMount() {
	if c.phase != PhaseInitializing {
		return
	}
	if c.rec == nil || !c.rec.Supported() {
		c.mode = ModeUnsupported
		c.setPhase(PhaseIdle)
		c.deps.Emit(protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: c.sessionID,
			Code:      "speech_unsupported",
			Detail:    "speech recognition is not available in this environment",
		})
		return
	}

	c.appendTurn(transcript.Customer(scenario.OpeningLine(c.scenarioID)))
	c.speakLast()
}

func (c *Controller) onMicToggle() {
	if c.mode != ModeInteractive {
		return
	}
	switch c.phase {
	case PhaseListening:
		c.rec.Stop()
		c.setPhase(PhaseIdle)
	case PhaseIdle, PhaseSpeaking:
		if c.phase == PhaseSpeaking || c.syn.Speaking() {
			c.syn.Stop()
			c.utterance = ""
		}
		if !c.rec.Start(c.workCtx) {
			c.emitError("recognizer_unavailable", "stt", true, "speech capture could not start")
			c.setPhase(PhaseIdle)
			return
		}
		c.listenGen = c.rec.Generation()
		c.setPhase(PhaseListening)
	}
}

func (c *Controller) onText(text string) {
	text = strings.TrimSpace(text)
	if text == "" || c.mode != ModeInteractive {
		return
	}
	switch c.phase {
	case PhaseIdle:
	case PhaseListening:
		c.rec.Stop()
	default:
		c.emitError("busy", "coach", true, fmt.Sprintf("cannot accept text while %s", c.phase))
		return
	}
	c.acceptTraineeTurn(text)
}

func (c *Controller) onSegment(seg voice.Segment) {
	if c.phase != PhaseListening || seg.Generation != c.listenGen {
		return
	}
	c.rec.Stop()
	c.acceptTraineeTurn(seg.Text)
}

func (c *Controller) acceptTraineeTurn(text string) {
	if !c.appendTurn(transcript.Trainee(text)) {
		c.setPhase(PhaseIdle)
		return
	}
	c.logger.Debug("trainee turn", "text", policy.LogSnippet(text, 80))
	c.setPhase(PhaseProcessing)

	c.epoch++
	epoch := c.epoch
	turns := c.transcript.Turns()
	go func() {
		turn := c.deps.Exchange.Exchange(c.workCtx, turns, c.scenarioID)
		c.box.put(evExchangeDone{epoch: epoch, turn: turn})
	}()
}

func (c *Controller) onExchangeDone(e evExchangeDone) {
	if e.epoch != c.epoch || c.phase != PhaseProcessing {
		return
	}
	if !c.appendTurn(e.turn) {
		c.appendTurn(transcript.Customer(scenario.FallbackLine(c.scenarioID)))
	}
	c.speakLast()
}

func (c *Controller) speakLast() {
	last, _ := c.transcript.Last()
	c.setPhase(PhaseSpeaking)
	c.utterance = c.syn.Speak(c.workCtx, last.Text)
	if c.utterance == "" {
		c.setPhase(PhaseIdle)
	}
}

func (c *Controller) onSpeechDone(res voice.SpeechResult) {
	if c.phase != PhaseSpeaking || res.UtteranceID != c.utterance {
		return
	}
	if res.Err != nil {
		c.emitError("tts_failed", "tts", true, res.Err.Error())
	}
	c.utterance = ""
	c.setPhase(PhaseIdle)
}

func (c *Controller) onFeedbackRequest() error {
	if c.mode != ModeInteractive {
		return ErrFeedbackUnavailable
	}
	if c.feedbackPending {
		return ErrFeedbackInProgress
	}
	if c.transcript.Len() < feedback.MinTurns {
		return feedback.ErrTranscriptTooShort
	}

	c.syn.Stop()
	c.rec.Stop()
	c.epoch++
	c.utterance = ""
	c.setPhase(PhaseIdle)
	c.feedbackPending = true

	turns := c.transcript.Turns()
	go func() {
		fb, err := c.deps.Scorer.Score(c.workCtx, turns, c.scenarioID)
		if err != nil {
			c.box.put(evFeedbackDone{err: err})
			return
		}
		convID := c.persist(turns, fb)
		c.box.put(evFeedbackDone{fb: fb, conversationID: convID})
	}()
	return nil
}

func (c *Controller) persist(turns []transcript.Turn, fb feedback.Feedback) string {
	if c.deps.History == nil || c.userID == "" {
		return ""
	}
	saved, err := c.deps.History.Save(c.workCtx, history.Conversation{
		ID:         c.conversationID,
		UserID:     c.userID,
		ScenarioID: c.scenarioID,
		Messages:   turns,
		Feedback:   &fb,
	})
	if err != nil {
		c.logger.Error("persist conversation failed", "conversation_id", c.conversationID, "error", err)
		return ""
	}
	return saved.ID
}

func (c *Controller) onFeedbackDone(e evFeedbackDone) {
	c.feedbackPending = false
	if e.err != nil {
		c.logger.Warn("feedback failed, session stays resumable", "error", e.err)
		c.emitError("feedback_failed", "feedback", true, "Failed to generate feedback. Please try again.")
		return
	}

	fb := e.fb
	c.feedback = &fb
	c.mode = ModeFeedback
	if e.conversationID != "" {
		c.deps.Saved(e.conversationID)
	}
	c.deps.Emit(protocol.FeedbackReady{
		Type:           protocol.TypeFeedbackReady,
		SessionID:      c.sessionID,
		ConversationID: e.conversationID,
		Rating:         feedback.Rating(fb.Score),
		Feedback:       fb,
	})
	c.emitPhase(c.phase, c.mode, false, false)
}

func (c *Controller) appendTurn(t transcript.Turn) bool {
	if err := c.transcript.Append(t); err != nil {
		c.logger.Warn("turn rejected", "speaker", t.Speaker, "error", err)
		return false
	}
	c.deps.Emit(protocol.TurnAppended{
		Type:      protocol.TypeTurnAppended,
		SessionID: c.sessionID,
		Index:     c.transcript.Len() - 1,
		Turn:      t,
	})
	return true
}

func (c *Controller) setPhase(to Phase) {
	from := c.phase
	c.phase = to
	if from != to {
		c.deps.Metrics.ObservePhase(from.String(), to.String())
	}
	capturing := c.rec != nil && c.rec.Capturing()
	speaking := c.syn != nil && c.syn.Speaking()
	c.emitPhase(to, c.mode, capturing, speaking)
}

func (c *Controller) emitPhase(p Phase, m Mode, capturing, speaking bool) {
	c.deps.Emit(protocol.PhaseChanged{
		Type:      protocol.TypePhaseChanged,
		SessionID: c.sessionID,
		Phase:     p.String(),
		Mode:      m.String(),
		Capturing: capturing,
		Speaking:  speaking,
	})
}

func (c *Controller) emitError(code, source string, retryable bool, detail string) {
	c.deps.Emit(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}
