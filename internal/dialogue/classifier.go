package dialogue

import (
	"fmt"
	"regexp"
	"strings"

	"helpbot/internal/textnorm"
)

// Classifier flags input that is small talk rather than a slot value.
type Classifier interface {
	IsOutOfPolicy(text string) bool
}

// defaultCasual are folded phrases. Multi-word phrases match as whole words
// anywhere in the input; single words only when the input is nothing but
// such words, so names like "Selam Gıda" still reach the resolver.
var defaultCasual = []string{
	"merhaba", "selam", "selamlar", "slm", "naber", "nbr",
	"nasilsin", "nasilsiniz", "iyi misin", "ne haber",
	"gunaydin", "iyi aksamlar", "iyi geceler",
	"tesekkurler", "tesekkur ederim", "sagol", "sagolun",
	"kimsin", "sen kimsin", "adin ne", "fikra anlat", "saka yap",
	"hava nasil", "hava durumu",
	"hello", "hi", "hey", "how are you", "thanks", "thank you",
	"who are you", "tell me a joke", "whats up", "what s up",
}

// casualFiller may accompany a greeting without making it a value.
var casualFiller = []string{"bot", "dostum", "kanka", "hocam", "abi", "ya", "canim", "there", "you"}

// KeywordClassifier matches folded input against phrases and regular
// expressions.
type KeywordClassifier struct {
	words    map[string]struct{}
	filler   map[string]struct{}
	phrases  []string
	patterns []*regexp.Regexp
}

// NewKeywordClassifier builds the default phrase guard plus extra patterns,
// which are matched against the folded input.
func NewKeywordClassifier(extra []string) (*KeywordClassifier, error) {
	k := &KeywordClassifier{
		words:  map[string]struct{}{},
		filler: map[string]struct{}{},
	}
	for _, p := range defaultCasual {
		if strings.Contains(p, " ") {
			k.phrases = append(k.phrases, p)
			continue
		}
		k.words[p] = struct{}{}
	}
	for _, w := range casualFiller {
		k.filler[w] = struct{}{}
	}
	for _, p := range extra {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("casual pattern %q: %w", p, err)
		}
		k.patterns = append(k.patterns, re)
	}
	return k, nil
}

func (k *KeywordClassifier) IsOutOfPolicy(text string) bool {
	norm := textnorm.Normalize(text)
	if norm == "" {
		return false
	}
	padded := " " + norm + " "
	for _, p := range k.phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	if k.onlyGreetings(norm) {
		return true
	}
	folded := textnorm.Fold(text)
	for _, re := range k.patterns {
		if re.MatchString(folded) {
			return true
		}
	}
	return false
}

// onlyGreetings reports whether every token is a casual word or filler and
// at least one is a casual word.
func (k *KeywordClassifier) onlyGreetings(norm string) bool {
	greeted := false
	for _, tok := range strings.Fields(norm) {
		if _, ok := k.words[tok]; ok {
			greeted = true
			continue
		}
		if _, ok := k.filler[tok]; !ok {
			return false
		}
	}
	return greeted
}

// tokenSet matches whole inputs against folded tokens.
type tokenSet map[string]struct{}

func newTokenSet(tokens []string) tokenSet {
	set := make(tokenSet, len(tokens))
	for _, t := range tokens {
		if n := textnorm.Normalize(t); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func (s tokenSet) has(text string) bool {
	_, ok := s[textnorm.Normalize(text)]
	return ok
}
