package coach

// Phase is the voice-interaction state of a session. Exactly one is active at a time.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseIdle
	PhaseListening
	PhaseProcessing
	PhaseSpeaking
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseProcessing:
		return "processing"
	case PhaseSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Mode is what the trainee's view is showing.
type Mode int

const (
	ModeInteractive Mode = iota
	// ModeUnsupported means speech capture is unavailable; the session is not interactive.
	ModeUnsupported
	ModeFeedback
	ModeEnded
)

func (m Mode) String() string {
	switch m {
	case ModeInteractive:
		return "interactive"
	case ModeUnsupported:
		return "unsupported"
	case ModeFeedback:
		return "feedback"
	case ModeEnded:
		return "ended"
	default:
		return "unknown"
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }
