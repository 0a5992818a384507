package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/embla/pkg/provider/stt"
	"github.com/coder/websocket"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1, InterimResults: true}, nil)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "is", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "alternatives", "", q.Get("alternatives"))
	assertEqual(t, "utterance_end_ms", "", q.Get("utterance_end_ms"))
}

func TestBuildURL_Options(t *testing.T) {
	p, err := New("key", WithModel("nova-2"), WithLanguage("en-US"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		Language:        "is-IS",
		MaxAlternatives: 3,
		SingleUtterance: true,
		Keywords:        []stt.KeywordBoost{{Keyword: "Embla", Boost: 5}, {Keyword: "Greynir", Boost: 2.5}},
	}, nil)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()
	assertEqual(t, "model", "nova-2", q.Get("model"))
	assertEqual(t, "language", "is-IS", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "alternatives", "3", q.Get("alternatives"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "utterance_end_ms", "1000", q.Get("utterance_end_ms"))
	assertEqual(t, "keywords", "Embla:5,Greynir:2.5", strings.Join(q["keywords"], ","))
}

func TestBuildURL_Opus(t *testing.T) {
	p, _ := New("key", WithOpus())
	framer, err := newOpusFramer(44100)
	if err != nil {
		t.Fatalf("newOpusFramer: %v", err)
	}
	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 44100}, framer)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	assertEqual(t, "encoding", "opus", u.Query().Get("encoding"))
	assertEqual(t, "sample_rate", "48000", u.Query().Get("sample_rate"))
}

func TestWithEndpoint_ConvertsScheme(t *testing.T) {
	p, _ := New("key", WithEndpoint("https://dg.example.com/v1/listen/"))
	assertEqual(t, "endpoint", "wss://dg.example.com/v1/listen", p.endpoint)
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// ---- result assembly ----

func results(t *testing.T, raw string) deepgramResponse {
	t.Helper()
	var resp deepgramResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func TestAssembler_CumulativeSegments(t *testing.T) {
	var a assembler

	r, ok := a.results(results(t, `{"type":"Results","channel":{"alternatives":[{"transcript":"hvað er","confidence":0.6}]}}`))
	if !ok || r.Best() != "hvað er" || r.IsFinal || r.Seq != 1 || r.Stability != 0.6 {
		t.Fatalf("interim: got %+v ok=%v", r, ok)
	}

	r, ok = a.results(results(t, `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hvað er","confidence":0.9}]}}`))
	if !ok || r.IsFinal || r.Stability != 1 || r.Seq != 2 {
		t.Fatalf("segment final: got %+v ok=%v", r, ok)
	}

	// An empty interim carries nothing new.
	if _, ok := a.results(results(t, `{"type":"Results","channel":{"alternatives":[{"transcript":""}]}}`)); ok {
		t.Fatal("empty interim should be skipped")
	}

	r, ok = a.results(results(t, `{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"klukkan","confidence":0.95},{"transcript":"klukka","confidence":0.4}]}}`))
	if !ok {
		t.Fatal("speech final skipped")
	}
	if !r.IsFinal || r.Seq != 3 {
		t.Errorf("speech final: got %+v", r)
	}
	want := []string{"hvað er klukkan", "hvað er klukka"}
	if strings.Join(r.Alternatives, "|") != strings.Join(want, "|") {
		t.Errorf("alternatives = %q, want %q", r.Alternatives, want)
	}

	// Already finalised: UtteranceEnd adds nothing.
	if _, ok := a.utteranceEnd(); ok {
		t.Error("utterance end after speech_final should be skipped")
	}
}

func TestAssembler_UtteranceEndFinalises(t *testing.T) {
	var a assembler
	a.results(results(t, `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"góðan dag","confidence":0.8}]}}`))

	r, ok := a.utteranceEnd()
	if !ok {
		t.Fatal("expected a final result on utterance end")
	}
	if !r.IsFinal || r.Best() != "góðan dag" || r.Seq != 2 {
		t.Errorf("got %+v", r)
	}
}

// ---- streaming against a local server ----

// fakeDeepgram is a minimal Deepgram listen endpoint. It replies with the
// scripted messages once it has received the given number of audio messages,
// and finishes the stream when the client sends CloseStream.
type fakeDeepgram struct {
	t          *testing.T
	replyAfter int
	replies    []string
	onClose    []string
	abort      bool // close with an error status instead of replying on CloseStream

	mu       sync.Mutex
	audio    [][]byte
	rawQuery string
	auth     string
}

func (f *fakeDeepgram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.rawQuery = r.URL.RawQuery
	f.auth = r.Header.Get("Authorization")
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			f.mu.Lock()
			f.audio = append(f.audio, msg)
			n := len(f.audio)
			f.mu.Unlock()
			if n == f.replyAfter {
				if f.abort {
					conn.Close(websocket.StatusInternalError, "upstream failure")
					return
				}
				for _, reply := range f.replies {
					_ = conn.Write(ctx, websocket.MessageText, []byte(reply))
				}
			}
			continue
		}
		if strings.Contains(string(msg), "CloseStream") {
			for _, reply := range f.onClose {
				_ = conn.Write(ctx, websocket.MessageText, []byte(reply))
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func startFake(t *testing.T, f *fakeDeepgram) *Provider {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	p, err := New("secret", WithEndpoint(srv.URL+"/v1/listen"), WithKeepAlive(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func collect(t *testing.T, h stt.SessionHandle) []stt.Result {
	t.Helper()
	var out []stt.Result
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-h.Results():
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatal("timed out waiting for results to close")
			return out
		}
	}
}

func TestSession_StreamsAndFinishes(t *testing.T) {
	t.Parallel()

	fake := &fakeDeepgram{
		t:          t,
		replyAfter: 3,
		replies: []string{
			`{"type":"Results","channel":{"alternatives":[{"transcript":"hvað er","confidence":0.5}]}}`,
		},
		onClose: []string{
			`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"hvað er klukkan","confidence":0.97}]}}`,
		},
	}
	p := startFake(t, fake)

	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, InterimResults: true})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	for i := range 3 {
		if err := h.SendAudio([]byte{byte(i), 0}); err != nil {
			t.Fatalf("SendAudio %d: %v", i, err)
		}
	}

	first := <-h.Results()
	if first.Best() != "hvað er" || first.IsFinal {
		t.Fatalf("first result = %+v", first)
	}

	if err := h.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
	if err := h.SendAudio([]byte{1, 2}); err != stt.ErrSessionClosed {
		t.Errorf("SendAudio after CloseSend: got %v, want ErrSessionClosed", err)
	}

	rest := collect(t, h)
	if len(rest) != 1 || !rest[0].IsFinal || rest[0].Best() != "hvað er klukkan" || rest[0].Seq != 2 {
		t.Fatalf("remaining results = %+v", rest)
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err() after clean end = %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.auth != "Token secret" {
		t.Errorf("Authorization = %q", fake.auth)
	}
	for i, chunk := range fake.audio {
		if chunk[0] != byte(i) {
			t.Errorf("audio chunk %d out of order: %v", i, chunk)
		}
	}
}

func TestSession_DroppedConnectionSurfacesError(t *testing.T) {
	t.Parallel()

	fake := &fakeDeepgram{t: t, replyAfter: 1, abort: true}
	p := startFake(t, fake)

	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	if err := h.SendAudio([]byte{0, 0}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if got := collect(t, h); len(got) != 0 {
		t.Errorf("unexpected results: %+v", got)
	}
	if h.Err() == nil {
		t.Fatal("expected a stream error after the server aborted")
	}
}

func TestSession_ServerErrorMessage(t *testing.T) {
	t.Parallel()

	fake := &fakeDeepgram{
		t:          t,
		replyAfter: 1,
		replies:    []string{`{"type":"Error","description":"Insufficient credits"}`},
	}
	p := startFake(t, fake)

	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	_ = h.SendAudio([]byte{0, 0})
	collect(t, h)
	if err := h.Err(); err == nil || !strings.Contains(err.Error(), "Insufficient credits") {
		t.Fatalf("Err() = %v, want server description", err)
	}
}

func TestSession_CloseIsIdempotentAndQuiet(t *testing.T) {
	t.Parallel()

	p := startFake(t, &fakeDeepgram{t: t})
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-h.Results(); ok {
		t.Error("Results should be closed after Close")
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err() after Close = %v, want nil", err)
	}
}

func TestOpusFramer(t *testing.T) {
	f, err := newOpusFramer(16000)
	if err != nil {
		t.Fatalf("newOpusFramer: %v", err)
	}
	// 25 ms of audio: one full 20 ms frame plus 5 ms pending.
	pkts, err := f.push(make([]byte, 400*2))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(pkts))
	}
	tail, err := f.flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if tail == nil {
		t.Error("expected the pending 5 ms to be flushed as a packet")
	}
	if again, _ := f.flush(); again != nil {
		t.Error("second flush should be empty")
	}
}

// assertEqual is a simple helper for comparing string values in tests.
func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
