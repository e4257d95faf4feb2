package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antoniostano/pitchcoach/internal/protocol"
)

const defaultPlaybackTimeout = 60 * time.Second

var ErrPlaybackTimeout = errors.New("playback did not finish in time")

// Sender delivers a server message to the connected browser.
type Sender func(ctx context.Context, msg any) error

// ClientPlayer ships audio to the browser and waits for its playback_event.
type ClientPlayer struct {
	sessionID string
	send      Sender
	release   Sender
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan error
}

// NewClientPlayer builds a player. release carries playback_stop and must keep working after
// the play context is cancelled; nil reuses send.
func NewClientPlayer(sessionID string, send, release Sender, timeout time.Duration) *ClientPlayer {
	if timeout <= 0 {
		timeout = defaultPlaybackTimeout
	}
	if release == nil {
		release = send
	}
	return &ClientPlayer{
		sessionID: sessionID,
		send:      send,
		release:   release,
		timeout:   timeout,
		pending:   make(map[string]chan error),
	}
}

func (p *ClientPlayer) Play(ctx context.Context, id string, a Audio) error {
	done := make(chan error, 1)
	p.mu.Lock()
	p.pending[id] = done
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	err := p.send(ctx, protocol.AssistantAudio{
		Type:        protocol.TypeAssistantAudio,
		SessionID:   p.sessionID,
		UtteranceID: id,
		MIMEType:    a.MIMEType,
		AudioBase64: base64.StdEncoding.EncodeToString(a.Data),
	})
	if err != nil {
		return fmt.Errorf("send audio: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.stop(id)
		return ctx.Err()
	case <-timer.C:
		p.stop(id)
		return ErrPlaybackTimeout
	}
}

// stop tells the browser to stop the utterance and drop its object URL.
func (p *ClientPlayer) stop(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = p.release(ctx, protocol.PlaybackStop{
		Type:        protocol.TypePlaybackStop,
		SessionID:   p.sessionID,
		UtteranceID: id,
	})
}

// Ack resolves a pending Play from a browser playback_event. It reports whether the
// utterance was still pending.
func (p *ClientPlayer) Ack(ev protocol.PlaybackEvent) bool {
	p.mu.Lock()
	done, ok := p.pending[ev.UtteranceID]
	p.mu.Unlock()
	if !ok {
		return false
	}

	var err error
	if ev.Event != protocol.PlaybackEnded {
		err = fmt.Errorf("client playback %s: %s", ev.Event, ev.Detail)
	}
	select {
	case done <- err:
	default:
	}
	return true
}
