package phonetic_test

import (
	"testing"

	"github.com/MrWong99/embla/internal/hotword/phonetic"
)

func TestMatcher_Find(t *testing.T) {
	t.Parallel()

	phrases := []string{"Embla", "hæ embla"}

	tests := []struct {
		name       string
		text       string
		wantPhrase string
		wantFound  bool
	}{
		{name: "single word", text: "embla", wantPhrase: "Embla", wantFound: true},
		{name: "phrase inside longer text", text: "jæja hæ embla hvað er klukkan", wantPhrase: "hæ embla", wantFound: true},
		{name: "misheard", text: "emla", wantPhrase: "Embla", wantFound: true},
		{name: "upper case", text: "EMBLA", wantPhrase: "Embla", wantFound: true},
		{name: "unrelated speech", text: "hvað er klukkan", wantFound: false},
		{name: "empty text", text: "   ", wantFound: false},
	}

	m := phonetic.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			phrase, score, found := m.Find(tt.text, phrases)
			if found != tt.wantFound {
				t.Fatalf("Find(%q) found=%v (phrase %q, score %.3f), want %v", tt.text, found, phrase, score, tt.wantFound)
			}
			if !found {
				if phrase != "" || score != 0 {
					t.Errorf("Find(%q) = %q, %.3f; want empty result", tt.text, phrase, score)
				}
				return
			}
			if phrase != tt.wantPhrase {
				t.Errorf("Find(%q) phrase = %q, want %q", tt.text, phrase, tt.wantPhrase)
			}
			if score < 0.85 || score > 1 {
				t.Errorf("Find(%q) score = %.3f, want in [0.85, 1]", tt.text, score)
			}
		})
	}
}

func TestMatcher_ExactMatchScoresOne(t *testing.T) {
	t.Parallel()

	phrase, score, ok := phonetic.New().Match("Embla", []string{"embla"})
	if !ok || phrase != "embla" {
		t.Fatalf("Match = %q, %v; want embla, true", phrase, ok)
	}
	if score != 1.0 {
		t.Errorf("score = %f, want 1.0", score)
	}
}

func TestMatcher_NoPhrases(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if _, _, ok := m.Match("embla", nil); ok {
		t.Error("Match with no phrases reported a match")
	}
	if _, _, ok := m.Find("embla", []string{"", "  "}); ok {
		t.Error("Find with blank phrases reported a match")
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if _, _, ok := strict.Find("emla", []string{"embla"}); ok {
		t.Error("strict matcher accepted a misheard phrase")
	}
	loose := phonetic.New(phonetic.WithFuzzyThreshold(0.9))
	if _, _, ok := loose.Find("emla", []string{"embla"}); !ok {
		t.Error("loose matcher rejected a misheard phrase")
	}
}
