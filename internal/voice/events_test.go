package voice

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/MrWong99/embla/pkg/audio"
	"github.com/MrWong99/embla/pkg/query"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type delegateCalls struct {
	calls []string
	kind  Kind
	msg   string
	ans   query.Answer
}

func (d *delegateCalls) OnRecordingStarted()         { d.calls = append(d.calls, "started") }
func (d *delegateCalls) OnRecordingStopped()         { d.calls = append(d.calls, "stopped") }
func (d *delegateCalls) OnInterimResults(c []string) { d.calls = append(d.calls, "interim:"+c[0]) }
func (d *delegateCalls) OnTranscripts(c []string)    { d.calls = append(d.calls, "transcripts:"+c[0]) }
func (d *delegateCalls) OnAnswer(a query.Answer)     { d.calls = append(d.calls, "answer"); d.ans = a }
func (d *delegateCalls) OnError(k Kind, m string) {
	d.calls = append(d.calls, "error")
	d.kind, d.msg = k, m
}
func (d *delegateCalls) OnTerminated() { d.calls = append(d.calls, "terminated") }

func TestFromDelegate(t *testing.T) {
	t.Parallel()

	d := &delegateCalls{}
	sub := FromDelegate(d)
	ans := query.Answer{Text: "Já", Command: "play", Audio: audio.AudioRef{URL: "https://example.com/x.mp3"}}

	for _, e := range []Event{
		RecordingStarted{},
		InterimResults{Candidates: []string{"hæ"}},
		RecordingStopped{},
		Transcripts{Candidates: []string{"hæ embla"}},
		AnswerReceived{Answer: ans},
		ErrorRaised{Err: newError(KindPlaybackError, "answer could not be played", nil)},
		Terminated{},
	} {
		sub.HandleEvent(e)
	}

	want := []string{"started", "interim:hæ", "stopped", "transcripts:hæ embla", "answer", "error", "terminated"}
	if len(d.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", d.calls, want)
	}
	for i := range want {
		if d.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, d.calls[i], want[i])
		}
	}
	if d.kind != KindPlaybackError || d.msg != "answer could not be played" {
		t.Errorf("OnError(%v, %q)", d.kind, d.msg)
	}
	if d.ans.Command != "play" || d.ans.Audio.URL != ans.Audio.URL {
		t.Errorf("OnAnswer got %+v", d.ans)
	}
}

func TestError(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	err := error(newError(KindQueryError, "query failed", cause))

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if got := KindOf(err); got != KindQueryError {
		t.Errorf("KindOf = %v, want QueryError", got)
	}
	if got := KindOf(cause); got != 0 {
		t.Errorf("KindOf(plain error) = %v, want 0", got)
	}
	want := "voice: QueryError: query failed: dial tcp: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestStateAndCauseStrings(t *testing.T) {
	t.Parallel()

	if StateAwaitingQueryResponse.String() != "awaiting_query_response" {
		t.Errorf("State string = %q", StateAwaitingQueryResponse)
	}
	if !StateFailed.Final() || StatePlayingAnswer.Final() {
		t.Error("Final() misclassifies states")
	}
	if CauseNoSpeechDetected.String() != "no-speech-detected" {
		t.Errorf("Cause string = %q", CauseNoSpeechDetected)
	}
}
