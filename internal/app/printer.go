package app

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/embla/internal/voice"
)

// Printer is a [voice.Subscriber] that writes a human-readable line per
// event. Interim results overwrite each other on a terminal line.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer { return &Printer{w: w} }

// HandleEvent implements [voice.Subscriber].
func (p *Printer) HandleEvent(e voice.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := e.(type) {
	case voice.RecordingStarted:
		fmt.Fprintln(p.w, "Listening...")
	case voice.InterimResults:
		if len(e.Candidates) > 0 {
			fmt.Fprintf(p.w, "\r\033[K  %s", e.Candidates[0])
		}
	case voice.RecordingStopped:
		fmt.Fprint(p.w, "\r\033[K")
	case voice.Transcripts:
		if len(e.Candidates) > 0 {
			fmt.Fprintf(p.w, "> %s\n", e.Candidates[0])
		}
	case voice.AnswerReceived:
		p.answer(e)
	case voice.ErrorRaised:
		fmt.Fprintf(p.w, "! %s\n", e.Err.Message)
	case voice.Terminated:
	}
}

func (p *Printer) answer(e voice.AnswerReceived) {
	a := e.Answer
	text := strings.TrimSpace(a.Text)
	if text == "" {
		text = "(no answer)"
	}
	if a.Source != "" {
		fmt.Fprintf(p.w, "< %s [%s]\n", text, a.Source)
	} else {
		fmt.Fprintf(p.w, "< %s\n", text)
	}
	if a.OpenURL != "" {
		fmt.Fprintf(p.w, "  open: %s\n", a.OpenURL)
	}
	if a.ImageURL != "" {
		fmt.Fprintf(p.w, "  image: %s\n", a.ImageURL)
	}
	if a.Command != "" {
		fmt.Fprintf(p.w, "  command: %s\n", a.Command)
	}
}

var _ voice.Subscriber = (*Printer)(nil)
