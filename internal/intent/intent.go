// Package intent routes a transcript to exactly one [Category] using an
// ordered list of keyword rules.
//
// Matching is plain substring containment on an already lowercased transcript.
// Rules are evaluated in priority order and the first match wins, so a
// transcript containing both "hello" and "weather" resolves to [Hello].
// [Default] catches everything else, which makes [Matcher.Match] total.
package intent

// Category is the classification bucket a transcript is routed to.
type Category int

const (
	// Default is the catch-all category for unrecognised transcripts.
	Default Category = iota

	// Hello answers plain greetings with a fixed reply.
	Hello

	// GreetingQuery answers "how are you" style questions.
	GreetingQuery

	Weather
	Joke

	// Time and Date are answered with a computed value.
	Time
	Date

	Name
	Farewell
)

// Categories lists every category in declaration order.
var Categories = []Category{Default, Hello, GreetingQuery, Weather, Joke, Time, Date, Name, Farewell}

// String returns the stable tag used in logs and metrics.
func (c Category) String() string {
	switch c {
	case Default:
		return "default"
	case Hello:
		return "hello"
	case GreetingQuery:
		return "greeting-query"
	case Weather:
		return "weather"
	case Joke:
		return "joke"
	case Time:
		return "time"
	case Date:
		return "date"
	case Name:
		return "name"
	case Farewell:
		return "farewell"
	default:
		return "unknown"
	}
}
