package stt

// Result is one recognition update from a streaming session.
//
// Results from a single stream carry strictly increasing Seq values. A result
// describes the whole utterance heard so far, not just the latest segment, so
// a consumer can replace its transcript with the newest result wholesale.
type Result struct {
	// Seq orders results within one stream. The first result has Seq 1.
	Seq uint64

	// Alternatives are the candidate transcripts, best first. Never empty for a
	// result delivered on SessionHandle.Results.
	Alternatives []string

	// IsFinal indicates the recogniser considers the utterance complete.
	IsFinal bool

	// Stability estimates how unlikely the result is to change (0.0–1.0).
	// Final results report 1.
	Stability float64

	// Confidence is the recogniser's confidence in the best alternative
	// (0.0–1.0). May be zero if the provider does not report it.
	Confidence float64
}

// Best returns the highest-ranked alternative, or "" if there is none.
func (r Result) Best() string {
	if len(r.Alternatives) == 0 {
		return ""
	}
	return r.Alternatives[0]
}

// KeywordBoost represents a keyword to boost in recognition. Used to improve
// recognition of the activation phrase and uncommon names.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Embla").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
