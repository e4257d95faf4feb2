package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/pitchcoach/internal/feedback"
	"github.com/antoniostano/pitchcoach/internal/transcript"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientHello      MessageType = "client_hello"
	TypeClientControl    MessageType = "client_control"
	TypeClientText       MessageType = "client_text"
	TypeSTTResult        MessageType = "stt_result"
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypePlaybackEvent    MessageType = "playback_event"

	TypePhaseChanged      MessageType = "phase_changed"
	TypeTurnAppended      MessageType = "turn_appended"
	TypeSTTPartial        MessageType = "stt_partial"
	TypeRecognizerControl MessageType = "recognizer_control"
	TypeAssistantAudio    MessageType = "assistant_audio"
	TypePlaybackStop      MessageType = "playback_stop"
	TypeFeedbackReady     MessageType = "feedback_ready"
	TypeSystemEvent       MessageType = "system_event"
	TypeErrorEvent        MessageType = "error_event"
)

// Client control actions.
const (
	ActionMicToggle       = "mic_toggle"
	ActionStopSpeaking    = "stop_speaking"
	ActionRequestFeedback = "request_feedback"
	ActionEndSession      = "end_session"
	ActionHidden          = "hidden"
)

// Playback event kinds reported by the browser.
const (
	PlaybackEnded = "ended"
	PlaybackError = "error"
)

// Recognizer control actions relayed to the browser.
const (
	RecognizerStart = "start"
	RecognizerStop  = "stop"
	RecognizerAbort = "abort"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientHello struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	SpeechSupported bool        `json:"speech_supported"`
	UserAgent       string      `json:"user_agent,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// STTResult is a browser speech recognition result.
type STTResult struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Final     bool        `json:"final"`
	CaptureID uint64      `json:"capture_id"`
	Error     string      `json:"error,omitempty"`
	Ended     bool        `json:"ended,omitempty"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type PlaybackEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID string      `json:"utterance_id"`
	Event       string      `json:"event"`
	Detail      string      `json:"detail,omitempty"`
}

type PhaseChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Phase     string      `json:"phase"`
	Mode      string      `json:"mode"`
	Capturing bool        `json:"capturing"`
	Speaking  bool        `json:"speaking"`
}

type TurnAppended struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Index     int             `json:"index"`
	Turn      transcript.Turn `json:"turn"`
}

type STTPartial struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type RecognizerControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	CaptureID uint64      `json:"capture_id"`
}

type AssistantAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID string      `json:"utterance_id"`
	MIMEType    string      `json:"mime_type"`
	AudioBase64 string      `json:"audio_base64"`
}

type PlaybackStop struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID string      `json:"utterance_id"`
}

type FeedbackReady struct {
	Type           MessageType       `json:"type"`
	SessionID      string            `json:"session_id"`
	ConversationID string            `json:"conversation_id"`
	Rating         string            `json:"rating"`
	Feedback       feedback.Feedback `json:"feedback"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientHello:
		var msg ClientHello
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_hello")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeSTTResult:
		var msg STTResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid stt_result")
		}
		return msg, nil
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypePlaybackEvent:
		var msg PlaybackEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.UtteranceID == "" || msg.Event == "" {
			return nil, errors.New("invalid playback_event")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
