// Package hotword provides the triggers that start a voice session: a phrase
// spotter that listens for the activation phrase, and a manual trigger that
// fires on every line read from a terminal.
//
// Every trigger reports activations through the single [Listener] callback.
// The host wires that callback to the voice orchestrator.
package hotword

import "context"

// Listener is notified when the user asks for a voice session.
type Listener interface {
	// OnActivationPhraseDetected is called with the phrase that fired the
	// trigger. The trigger does not listen again until the call returns, and
	// holds no audio device while it runs.
	OnActivationPhraseDetected(phrase string)
}

// ListenerFunc adapts a function to [Listener].
type ListenerFunc func(phrase string)

// OnActivationPhraseDetected calls f(phrase).
func (f ListenerFunc) OnActivationPhraseDetected(phrase string) { f(phrase) }

// Trigger produces activations until its context is cancelled.
type Trigger interface {
	// Run blocks, calling l for every activation, and returns nil once ctx
	// is cancelled or the trigger's input is exhausted.
	Run(ctx context.Context, l Listener) error
}
