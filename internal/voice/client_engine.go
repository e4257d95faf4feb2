package voice

import (
	"context"
	"sync"

	"github.com/antoniostano/pitchcoach/internal/protocol"
)

const clientResultBuffer = 32

// ControlFunc relays a recognizer action for one capture to the browser. It must not block.
type ControlFunc func(action string, capture uint64)

// ClientSpeechEngine relays speech recognition running in the browser. Capability comes from
// the client hello. Every Start opens a new capture id; the browser echoes it on each result
// and results carrying any other id are dropped.
type ClientSpeechEngine struct {
	control ControlFunc

	mu        sync.Mutex
	supported bool
	capture   uint64
	results   chan Recognition
}

// NewClientSpeechEngine wraps a non-blocking control relay.
func NewClientSpeechEngine(control ControlFunc) *ClientSpeechEngine {
	if control == nil {
		control = func(string, uint64) {}
	}
	return &ClientSpeechEngine{control: control}
}

func (e *ClientSpeechEngine) SetSupported(supported bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.supported = supported
}

func (e *ClientSpeechEngine) Supported() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.supported
}

// Capture returns the id of the most recently started capture.
func (e *ClientSpeechEngine) Capture() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capture
}

func (e *ClientSpeechEngine) Start(_ context.Context) (<-chan Recognition, error) {
	e.mu.Lock()
	if !e.supported {
		e.mu.Unlock()
		return nil, ErrSpeechUnsupported
	}
	e.closeLocked()
	e.capture++
	id := e.capture
	e.results = make(chan Recognition, clientResultBuffer)
	ch := e.results
	e.mu.Unlock()

	e.control(protocol.RecognizerStart, id)
	return ch, nil
}

func (e *ClientSpeechEngine) Stop() {
	e.control(protocol.RecognizerStop, e.Capture())
}

func (e *ClientSpeechEngine) Abort() {
	e.mu.Lock()
	e.closeLocked()
	id := e.capture
	e.mu.Unlock()
	e.control(protocol.RecognizerAbort, id)
}

// Push delivers a browser result to the capture it belongs to. It reports false when that
// capture is no longer open or the buffer is full.
func (e *ClientSpeechEngine) Push(capture uint64, rec Recognition) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.results == nil || capture != e.capture {
		return false
	}
	select {
	case e.results <- rec:
		return true
	default:
		return false
	}
}

// End reports that the browser engine for capture stopped on its own, optionally with an
// error. Ends from an older capture are ignored.
func (e *ClientSpeechEngine) End(capture uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.results == nil || capture != e.capture {
		return
	}
	if err != nil {
		select {
		case e.results <- Recognition{Err: err}:
		default:
		}
	}
	e.closeLocked()
}

func (e *ClientSpeechEngine) closeLocked() {
	if e.results != nil {
		close(e.results)
		e.results = nil
	}
}
