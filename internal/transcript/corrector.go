// Package transcript repairs misheard keywords in recognised speech.
//
// Recognisers regularly confuse short words with similar-sounding ones
// ("whether" for "weather"). A [Corrector] walks the transcript with n-gram
// windows and replaces windows that sound like a vocabulary entry with the
// entry itself, so that keyword rules still fire. The corrected text is meant
// for matching only; the conversation log keeps what was heard.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/voxa/internal/transcript/phonetic"
)

// DefaultMinWordLength is the shortest single word the [Corrector] will try
// to replace.
const DefaultMinWordLength = 4

// DefaultSingleWordConfidence is the lowest matcher score accepted for a
// single-word window. Ordinary words one letter away from a keyword ("tame",
// "data") score below it.
const DefaultSingleWordConfidence = 0.9

// PhoneticMatcher finds the vocabulary entry that sounds most like word.
// When matched is false, corrected must equal word and confidence must be 0.
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}

// Correction is a single substitution.
type Correction struct {
	// Original is the window as recognised.
	Original string

	// Corrected is the vocabulary entry that replaced it.
	Corrected string

	// Confidence is the matcher's similarity score (0.0–1.0).
	Confidence float64
}

// Result is the output of [Corrector.Correct].
type Result struct {
	// Text is the normalised, corrected transcript: lowercased, split on
	// whitespace, edge punctuation trimmed from every word.
	Text string

	// Corrections lists the substitutions in transcript order.
	Corrections []Correction
}

// Option is a functional option for [New].
type Option func(*Corrector)

// WithMatcher replaces the default [phonetic.Matcher].
func WithMatcher(m PhoneticMatcher) Option {
	return func(c *Corrector) { c.matcher = m }
}

// WithMinWordLength sets the shortest single word (in runes) that may be
// replaced. Default: [DefaultMinWordLength].
func WithMinWordLength(n int) Option {
	return func(c *Corrector) { c.minLen = n }
}

// WithSingleWordConfidence sets the lowest score at which a single word is
// replaced. Default: [DefaultSingleWordConfidence].
func WithSingleWordConfidence(score float64) Option {
	return func(c *Corrector) { c.minWordScore = score }
}

// Corrector is immutable after construction and safe for concurrent use.
type Corrector struct {
	matcher      PhoneticMatcher
	minLen       int
	minWordScore float64
	byWords      map[int][]string // vocabulary grouped by word count
	maxWords     int
}

// New returns a Corrector for vocabulary. Entries are compared
// case-insensitively; empty entries are ignored.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		matcher:      phonetic.New(),
		minLen:       DefaultMinWordLength,
		minWordScore: DefaultSingleWordConfidence,
		byWords:      make(map[int][]string),
	}
	for _, o := range opts {
		o(c)
	}
	for _, v := range vocabulary {
		v = strings.ToLower(strings.TrimSpace(v))
		n := len(strings.Fields(v))
		if n == 0 {
			continue
		}
		c.byWords[n] = append(c.byWords[n], strings.Join(strings.Fields(v), " "))
		c.maxWords = max(c.maxWords, n)
	}
	return c
}

// Correct returns text with every window that sounds like a vocabulary entry
// replaced by that entry. Windows are only compared with entries of the same
// word count, longest first, so a correction never swallows neighbouring
// words.
func (c *Corrector) Correct(text string) Result {
	tokens := normalise(text)
	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n := c.matchAt(tokens, i, &out, &corrections)
		if n == 0 {
			out = append(out, tokens[i])
			n = 1
		}
		i += n
	}
	return Result{Text: strings.Join(out, " "), Corrections: corrections}
}

// matchAt tries windows starting at tokens[i] and returns the number of
// tokens consumed, or 0 when nothing matched.
func (c *Corrector) matchAt(tokens []string, i int, out *[]string, corrections *[]Correction) int {
	for n := min(c.maxWords, len(tokens)-i); n >= 1; n-- {
		vocab := c.byWords[n]
		if len(vocab) == 0 {
			continue
		}
		window := strings.Join(tokens[i:i+n], " ")
		if n == 1 && utf8.RuneCountInString(window) < c.minLen {
			return 0
		}
		entry, conf, ok := c.matcher.Match(window, vocab)
		if !ok || (n == 1 && entry != window && conf < c.minWordScore) {
			continue
		}
		*out = append(*out, entry)
		if entry != window {
			*corrections = append(*corrections, Correction{Original: window, Corrected: entry, Confidence: conf})
		}
		return n
	}
	return 0
}

// normalise lowercases text, splits it on whitespace and trims punctuation
// from both ends of every word. Words that are only punctuation are dropped.
func normalise(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
