// Package conversation holds the assistant's visible surface: the append-only
// conversation log, the status line, and the trigger's listening and enabled
// flags.
//
// A [Board] is the single source of truth for that surface. Platforms render
// it by subscribing to its updates; the HTTP API serves its [Snapshot].
package conversation

import (
	"log/slog"
	"slices"
	"sync"
)

// UpdateKind identifies which part of the board changed.
type UpdateKind int

const (
	// UpdateLine carries a newly appended log line in Line.
	UpdateLine UpdateKind = iota + 1
	// UpdateStatus carries the new status in Status.
	UpdateStatus
	// UpdateListening carries the listening flag in On.
	UpdateListening
	// UpdateEnabled carries the enabled flag in On.
	UpdateEnabled
)

// Update is one change delivered to subscribers.
type Update struct {
	Kind   UpdateKind
	Line   string
	Status string
	On     bool
}

// Snapshot is a point-in-time copy of the board.
type Snapshot struct {
	Lines     []string `json:"lines"`
	Status    string   `json:"status"`
	Listening bool     `json:"listening"`
	Enabled   bool     `json:"enabled"`
}

// DefaultSubscriberBuffer is the update queue size used by [Board.Subscribe]
// when a non-positive size is requested.
const DefaultSubscriberBuffer = 64

// Board is the conversation log and status line. Safe for concurrent use.
// Lines are never removed.
type Board struct {
	mu        sync.Mutex
	lines     []string
	status    string
	listening bool
	enabled   bool
	subs      map[int]func(Update)
	nextSub   int
}

// NewBoard returns an empty board with the given initial status and the
// trigger enabled.
func NewBoard(status string) *Board {
	return &Board{
		status:  status,
		enabled: true,
		subs:    make(map[int]func(Update)),
	}
}

// Append adds line to the end of the log.
func (b *Board) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	b.publish(Update{Kind: UpdateLine, Line: line})
}

// Empty reports whether nothing has been logged yet.
func (b *Board) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines) == 0
}

// SetStatus replaces the status line.
func (b *Board) SetStatus(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.publish(Update{Kind: UpdateStatus, Status: status})
}

// SetListening sets the trigger's listening affordance.
func (b *Board) SetListening(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listening == on {
		return
	}
	b.listening = on
	b.publish(Update{Kind: UpdateListening, On: on})
}

// SetEnabled enables or disables the trigger.
func (b *Board) SetEnabled(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled == on {
		return
	}
	b.enabled = on
	b.publish(Update{Kind: UpdateEnabled, On: on})
}

// Snapshot returns a copy of the current board.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Board) snapshotLocked() Snapshot {
	lines := slices.Clone(b.lines)
	if lines == nil {
		lines = []string{}
	}
	return Snapshot{
		Lines:     lines,
		Status:    b.status,
		Listening: b.listening,
		Enabled:   b.enabled,
	}
}

// Subscribe returns a channel of future updates together with the snapshot
// they follow, and a function that ends the subscription. A subscriber that
// falls more than buffer updates behind loses the excess.
func (b *Board) Subscribe(buffer int) (Snapshot, <-chan Update, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Update, buffer)
	var id int
	snap, remove := b.subscribe(func(u Update) {
		select {
		case ch <- u:
		default:
			slog.Warn("conversation subscriber lagging, dropping update", "subscriber", id, "kind", int(u.Kind))
		}
	}, &id)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			remove()
			close(ch)
		})
	}
	return snap, ch, cancel
}

// SubscribeFunc calls fn with every future update, in order, while the board
// is locked. fn must not block or call back into the board. It returns the
// snapshot the updates follow and a function that ends the subscription.
func (b *Board) SubscribeFunc(fn func(Update)) (Snapshot, func()) {
	return b.subscribe(fn, nil)
}

func (b *Board) subscribe(fn func(Update), idOut *int) (Snapshot, func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	if idOut != nil {
		*idOut = id
	}
	b.subs[id] = fn
	snap := b.snapshotLocked()
	b.mu.Unlock()

	var once sync.Once
	return snap, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// publish must be called with b.mu held.
func (b *Board) publish(u Update) {
	for _, fn := range b.subs {
		fn(u)
	}
}
