// Command embla is the Icelandic voice assistant client: it listens for an
// activation phrase, streams the question to a speech recognizer, asks the
// query backend and speaks the answer.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MrWong99/embla/internal/voice"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Session errors have already been printed with the session's events.
		var verr *voice.Error
		if !errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "embla: %v\n", err)
		}
		os.Exit(1)
	}
}
