// Package respond turns a matched [intent.Category] into the text the
// assistant speaks back.
//
// A [Catalog] maps every category to an [Entry]: either a fixed list of
// candidate phrases, one of which is drawn at random, or a function computed
// from the instant the reply is generated (time and date). The catalog is built
// once and never mutated afterwards.
package respond

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxa/internal/intent"
)

// HelloReply is the fixed answer for the [intent.Hello] category.
const HelloReply = "Hello there! How can I help you today?"

const (
	// timeLayout renders the clock the way an en-US locale does.
	timeLayout = "3:04:05 PM"

	// dateLayout renders the day the way an en-US locale does.
	dateLayout = "1/2/2006"
)

// Entry is the reply source for one category. Exactly one of Phrases and
// Compute must be set.
type Entry struct {
	// Phrases is the non-empty candidate list for randomly selected replies.
	Phrases []string

	// Compute produces a reply for the given instant.
	Compute func(now time.Time) string
}

// Computed reports whether the entry is evaluated at reply time.
func (e Entry) Computed() bool {
	return e.Compute != nil
}

// Catalog maps every category to its reply entry.
type Catalog map[intent.Category]Entry

// Validate checks that every known category has exactly one reply source and
// that phrase lists are non-empty.
func (c Catalog) Validate() error {
	var errs []error
	for _, cat := range intent.Categories {
		e, ok := c[cat]
		if !ok {
			errs = append(errs, fmt.Errorf("respond: category %q has no entry", cat))
			continue
		}
		switch {
		case e.Compute != nil && len(e.Phrases) > 0:
			errs = append(errs, fmt.Errorf("respond: category %q sets both phrases and compute", cat))
		case e.Compute == nil && len(e.Phrases) == 0:
			errs = append(errs, fmt.Errorf("respond: category %q has an empty phrase list", cat))
		}
	}
	return errors.Join(errs...)
}

// FormatTime renders the spoken time reply for now.
func FormatTime(now time.Time) string {
	return "The current time is " + now.Format(timeLayout)
}

// FormatDate renders the spoken date reply for now.
func FormatDate(now time.Time) string {
	return "Today is " + now.Format(dateLayout)
}

// DefaultCatalog returns the built-in reply catalog. Each call returns a fresh
// map so callers cannot corrupt a shared instance.
func DefaultCatalog() Catalog {
	return Catalog{
		intent.Hello: {Phrases: []string{HelloReply}},
		intent.GreetingQuery: {Phrases: []string{
			"I am good, how are you?",
			"I am fine, thank you!",
			"I am doing well, how about you?",
			"I am great, thanks for asking!",
		}},
		intent.Weather: {Phrases: []string{
			"The weather is nice today",
			"It is sunny outside, perfect day to go out!",
			"It is raining today, better take an umbrella",
			"It is cloudy today, but no rain expected",
		}},
		intent.Joke: {Phrases: []string{
			"Why don't scientists trust atoms? Because they make up everything!",
			"Did you hear about the mathematician who's afraid of negative numbers? He will stop at nothing to avoid them!",
			"Why don't skeletons fight each other? They don't have the guts!",
			"I invented a new word yesterday: Plagiarism!",
		}},
		intent.Farewell: {Phrases: []string{
			"Goodbye! Have a great day!",
			"See you later!",
			"Bye bye! Come back soon!",
			"Farewell, my friend!",
		}},
		intent.Name: {Phrases: []string{
			"I am your voice assistant!",
			"You can call me VA, short for Voice Assistant",
			"I'm your personal digital assistant",
			"I don't have a name yet, what would you like to call me?",
		}},
		intent.Time: {Compute: FormatTime},
		intent.Date: {Compute: FormatDate},
		intent.Default: {Phrases: []string{
			"I didn't quite catch that. Could you repeat?",
			"I'm not sure I understand. Can you try again?",
			"Sorry, I didn't get that.",
			"Could you say that differently?",
		}},
	}
}
