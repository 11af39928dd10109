// Package voice keeps the list of synthesis voices the platform offers and
// picks the one the assistant speaks with.
//
// The list is owned by a [Cache]. It is empty until first use, filled lazily
// from a [Source], and refreshed whenever the platform reports that its voices
// changed.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/voxa/pkg/provider/tts"
)

// DefaultPreferred is the locale fragment preferred when none is configured.
const DefaultPreferred = "en"

// Source lists the voices currently available on a platform.
type Source interface {
	ListVoices(ctx context.Context) ([]tts.Voice, error)
}

// SourceFunc adapts a function to [Source].
type SourceFunc func(ctx context.Context) ([]tts.Voice, error)

// ListVoices calls f.
func (f SourceFunc) ListVoices(ctx context.Context) ([]tts.Voice, error) { return f(ctx) }

// Select returns the first voice whose Language contains preferred, else the
// first voice, else nil. A nil result means the platform default voice.
func Select(voices []tts.Voice, preferred string) *tts.Voice {
	if len(voices) == 0 {
		return nil
	}
	if preferred != "" {
		for i := range voices {
			if strings.Contains(voices[i].Language, preferred) {
				v := voices[i]
				return &v
			}
		}
	}
	v := voices[0]
	return &v
}

// Cache holds the last voice list fetched from a Source. Safe for concurrent
// use.
type Cache struct {
	src       Source
	preferred string

	mu     sync.Mutex
	voices []tts.Voice
	loaded bool
}

// NewCache returns an empty cache over src. An empty preferred selects
// [DefaultPreferred].
func NewCache(src Source, preferred string) *Cache {
	if preferred == "" {
		preferred = DefaultPreferred
	}
	return &Cache{src: src, preferred: preferred}
}

// Voices returns a copy of the cached list without querying the source.
func (c *Cache) Voices() []tts.Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.voices)
}

// Refresh replaces the cached list with a fresh query. On error the previous
// list is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.src == nil {
		return nil
	}
	voices, err := c.src.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("voice: refresh: %w", err)
	}
	c.mu.Lock()
	c.voices = slices.Clone(voices)
	c.loaded = true
	c.mu.Unlock()
	slog.Debug("voice list refreshed", "count", len(voices))
	return nil
}

// Pick selects a voice for the next utterance. If the cache is empty it
// queries the source once first. A failed query is logged and yields nil.
func (c *Cache) Pick(ctx context.Context) *tts.Voice {
	c.mu.Lock()
	empty := len(c.voices) == 0
	c.mu.Unlock()

	if empty {
		if err := c.Refresh(ctx); err != nil {
			slog.Warn("voice list unavailable, using platform default", "err", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Select(c.voices, c.preferred)
}

// SetPreferred changes the preferred locale fragment.
func (c *Cache) SetPreferred(preferred string) {
	if preferred == "" {
		preferred = DefaultPreferred
	}
	c.mu.Lock()
	c.preferred = preferred
	c.mu.Unlock()
}

// Loaded reports whether at least one refresh has succeeded.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}
