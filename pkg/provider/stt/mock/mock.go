// Package mock holds scriptable doubles of the stt interfaces.
//
// A test drives a [Session] by pushing results and ending it, and inspects
// the audio the code under test sent:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	// ... start the code under test ...
//	sess.Push(stt.Result{Seq: 1, Alternatives: []string{"hæ"}})
//	sess.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/embla/pkg/provider/stt"
)

// StreamCall is one StartStream invocation.
type StreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider opens mock streams. By default every StartStream returns Session,
// or a fresh [Session] when Session is nil.
type Provider struct {
	// Session is returned by every StartStream when Queue is nil.
	Session stt.SessionHandle

	// Queue, when set, supplies one session per StartStream. The call blocks
	// until a session arrives or its context ends, like a recognizer that
	// is slow to accept a connection.
	Queue chan stt.SessionHandle

	// StartStreamErr fails every StartStream.
	StartStreamErr error

	mu    sync.Mutex
	calls []StreamCall
}

// StartStream implements [stt.Provider].
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	p.calls = append(p.calls, StreamCall{Ctx: ctx, Cfg: cfg})
	sess, queue, err := p.Session, p.Queue, p.StartStreamErr
	p.mu.Unlock()

	switch {
	case err != nil:
		return nil, err
	case queue != nil:
		select {
		case s := <-queue:
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case sess != nil:
		return sess, nil
	default:
		return NewSession(), nil
	}
}

// Calls returns the StartStream invocations so far.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StreamCall(nil), p.calls...)
}

// LastConfig returns the config of the most recent StartStream, or the zero
// config when there was none.
func (p *Provider) LastConfig() stt.StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return stt.StreamConfig{}
	}
	return p.calls[len(p.calls)-1].Cfg
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle. Tests drive it with
// Push and End; everything the code under test does to it is recorded.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// --- Call records ---

	// SendAudioCalls records a copy of every chunk passed to SendAudio, in order.
	SendAudioCalls [][]byte

	// CloseSendCallCount is the number of times CloseSend was called.
	CloseSendCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	results chan stt.Result
	ended   bool
	err     error
	sent    chan struct{}
}

// NewSession returns a Session with a buffered results channel.
func NewSession() *Session {
	return &Session{
		results: make(chan stt.Result, 64),
		sent:    make(chan struct{}, 1),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = append(s.SendAudioCalls, append([]byte(nil), chunk...))
	select {
	case s.sent <- struct{}{}:
	default:
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	if s.ended {
		return stt.ErrSessionClosed
	}
	return nil
}

// CloseSend records the call.
func (s *Session) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseSendCallCount++
	return nil
}

// Results implements stt.SessionHandle.
func (s *Session) Results() <-chan stt.Result { return s.results }

// Err implements stt.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and ends the stream cleanly if it is still open.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// Push delivers a result to the consumer. Results pushed after End are
// dropped.
func (s *Session) Push(r stt.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.results <- r
}

// End closes the results channel with err as the stream's end reason. Only
// the first call has any effect.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.results)
}

// Sent returns a channel that receives a value after SendAudio is called.
// Consecutive calls may coalesce into a single notification.
func (s *Session) Sent() <-chan struct{} { return s.sent }

// Chunks returns a copy of the audio received so far. Thread-safe.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.SendAudioCalls...)
}

// CloseCount returns the number of Close calls. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
