// Package phonetic spots activation phrases in recognised text using Double
// Metaphone encoding combined with Jaro-Winkler similarity.
//
// Matching proceeds in two stages:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for each word of
//     the candidate text and of each phrase. A phrase whose codes overlap the
//     candidate's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the phrase with the
//     highest similarity (case-insensitive, on the original strings) wins,
//     provided its score reaches the phonetic threshold. Without any phonetic
//     candidate, a phrase may still match on pure similarity above the higher
//     fuzzy threshold.
//
// Recognisers rarely hear a wake phrase exactly ("hey embla" arrives as "hæ
// emla", "Embla" as "ebla"), which is what both stages tolerate.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.92
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matching phrase. Default: 0.85.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a phrase
// without phonetic overlap. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher finds activation phrases. It is read-only after construction and
// safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match compares text as a whole against each phrase and returns the best
// matching phrase. When matched is false, phrase is "" and score is 0.
func (m *Matcher) Match(text string, phrases []string) (phrase string, score float64, matched bool) {
	if len(phrases) == 0 || strings.TrimSpace(text) == "" {
		return "", 0, false
	}

	textLower := strings.ToLower(strings.TrimSpace(text))
	textTokens := strings.Fields(textLower)
	textCodes := codesForTokens(textTokens)

	type candidate struct {
		phrase   string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, p := range phrases {
		pLower := strings.ToLower(strings.TrimSpace(p))
		if pLower == "" {
			continue
		}
		pTokens := strings.Fields(pLower)

		phoneticMatch := codesOverlap(textCodes, codesForTokens(pTokens))
		jw := jwScore(textTokens, pTokens, textLower, pLower)

		switch {
		case phoneticMatch && jw >= m.phoneticThreshold:
			if !best.phonetic || jw > best.score {
				best = candidate{phrase: p, score: jw, phonetic: true}
			}
		case !phoneticMatch && !best.phonetic && jw >= m.fuzzyThreshold && jw > best.score:
			best = candidate{phrase: p, score: jw}
		}
	}

	if best.phrase == "" {
		return "", 0, false
	}
	return best.phrase, best.score, true
}

// Find looks for any phrase anywhere in text. Every run of consecutive words
// as long as a phrase is compared against it; the highest scoring window
// wins, and the longer phrase wins a tie.
func (m *Matcher) Find(text string, phrases []string) (phrase string, score float64, found bool) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "", 0, false
	}
	bestLen := 0
	for _, p := range phrases {
		n := len(strings.Fields(p))
		if n == 0 {
			continue
		}
		if n > len(words) {
			n = len(words)
		}
		for i := 0; i+n <= len(words); i++ {
			window := strings.Join(words[i:i+n], " ")
			got, s, ok := m.Match(window, []string{p})
			if ok && (s > score || (s == score && n > bestLen)) {
				phrase, score, found, bestLen = got, s, true, n
			}
		}
	}
	return phrase, score, found
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// jwScore is the best Jaro-Winkler similarity between text and phrase over
// the full strings and the space-stripped strings. Multi-word phrases are not
// compared word by word: one matching word out of "hæ embla" is not the
// phrase.
func jwScore(textTokens, phraseTokens []string, textFull, phraseFull string) float64 {
	score := matchr.JaroWinkler(textFull, phraseFull, false)
	if len(textTokens) > 1 || len(phraseTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(textTokens, ""), strings.Join(phraseTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
