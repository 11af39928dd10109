package intent

import "strings"

// Predicate reports whether a lowercased transcript belongs to a rule.
type Predicate func(transcript string) bool

// Rule pairs a [Predicate] with the [Category] it selects.
type Rule struct {
	Category  Category
	Predicate Predicate
}

// Matcher evaluates its rules in order and returns the first matching
// category. A Matcher is immutable after construction and safe for
// concurrent use.
type Matcher struct {
	rules []Rule
}

// NewMatcher returns a Matcher that evaluates rules in the given order.
// Transcripts that match no rule resolve to [Default].
func NewMatcher(rules ...Rule) *Matcher {
	r := make([]Rule, len(rules))
	copy(r, rules)
	return &Matcher{rules: r}
}

// Match returns the category for transcript. The caller is responsible for
// lowercasing; Match performs no normalisation of its own.
func (m *Matcher) Match(transcript string) Category {
	for _, r := range m.rules {
		if r.Predicate(transcript) {
			return r.Category
		}
	}
	return Default
}

// Rules returns a copy of the matcher's rule list in priority order.
func (m *Matcher) Rules() []Rule {
	r := make([]Rule, len(m.rules))
	copy(r, m.rules)
	return r
}

// DefaultRules returns the built-in rule list, highest priority first.
//
// Only "time" carries an exclusion ("sometime"). Short keywords such as
// "hi" and "date" still match inside longer words ("this", "update").
func DefaultRules() []Rule {
	return []Rule{
		{Category: Hello, Predicate: ContainsAny("hello", "hi")},
		{Category: GreetingQuery, Predicate: ContainsAny("how are you")},
		{Category: Weather, Predicate: ContainsAny("weather")},
		{Category: Joke, Predicate: ContainsAny("joke")},
		{Category: Time, Predicate: ContainsExcept("time", "sometime")},
		{Category: Date, Predicate: ContainsAny("date")},
		{Category: Name, Predicate: ContainsAny("name")},
		{Category: Farewell, Predicate: ContainsAny("goodbye", "bye")},
	}
}

// Keywords returns the distinctive phrases of the built-in rules. The short
// forms "hi" and "bye" are left out: they are too short to boost or correct
// reliably.
func Keywords() []string {
	return []string{"hello", "how are you", "weather", "joke", "time", "date", "name", "goodbye"}
}

var defaultMatcher = NewMatcher(DefaultRules()...)

// Match classifies transcript with the built-in rule list.
func Match(transcript string) Category {
	return defaultMatcher.Match(transcript)
}

// ContainsAny returns a predicate that matches when any keyword is a
// substring of the transcript.
func ContainsAny(keywords ...string) Predicate {
	return func(transcript string) bool {
		for _, kw := range keywords {
			if strings.Contains(transcript, kw) {
				return true
			}
		}
		return false
	}
}

// ContainsExcept returns a predicate that matches when keyword is present
// and none of the excluded substrings are.
func ContainsExcept(keyword string, excluded ...string) Predicate {
	return func(transcript string) bool {
		if !strings.Contains(transcript, keyword) {
			return false
		}
		for _, ex := range excluded {
			if strings.Contains(transcript, ex) {
				return false
			}
		}
		return true
	}
}
