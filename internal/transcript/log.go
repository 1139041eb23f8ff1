package transcript

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/perception-voice/internal/observability"
)

// DefaultRetention is how long an utterance stays queryable
const DefaultRetention = 30 * time.Minute

// Log is an append-only, time-ordered utterance store with age-based eviction.
// Appends and evictions hold the write lock; queries hold the read lock and copy out.
type Log struct {
	mu         sync.RWMutex
	utterances []Utterance // ordered by Timestamp, oldest first

	// latest instant handed to a reader as a marker, in unix nanoseconds
	watermark atomic.Int64

	retention time.Duration
	clock     Clock
	discard   *DiscardFilter
	logger    zerolog.Logger
}

// LogOption configures a Log
type LogOption func(*Log)

// WithClock overrides the time source
func WithClock(clock Clock) LogOption {
	return func(l *Log) {
		l.clock = clock
	}
}

// WithDiscardPhrases drops utterances matching any of the phrases
func WithDiscardPhrases(phrases []string) LogOption {
	return func(l *Log) {
		l.discard = NewDiscardFilter(phrases)
	}
}

// NewLog creates an empty log. A non-positive retention falls back to DefaultRetention.
func NewLog(retention time.Duration, opts ...LogOption) *Log {
	if retention <= 0 {
		retention = DefaultRetention
	}

	l := &Log{
		utterances: make([]Utterance, 0, 64),
		retention:  retention,
		clock:      SystemClock{},
		logger:     observability.GetLogger().With().Str("component", "transcript_log").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the log's notion of the current instant
func (l *Log) Now() time.Time {
	return l.clock.Now()
}

// Retention returns the configured retention window
func (l *Log) Retention() time.Duration {
	return l.retention
}

// Mark returns a read marker covering everything already in the log: the later of now
// and the tail timestamp. Utterances appended afterwards are stamped strictly after it.
func (l *Log) Mark() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()

	at := l.clock.Now()
	if n := len(l.utterances); n > 0 && l.utterances[n-1].Timestamp.After(at) {
		at = l.utterances[n-1].Timestamp
	}
	l.observe(at)
	return at
}

// observe raises the watermark to t
func (l *Log) observe(t time.Time) {
	n := t.UnixNano()
	for {
		cur := l.watermark.Load()
		if n <= cur || l.watermark.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Append stores text stamped with the current time.
// Returns false when the text is blank or matches a discard phrase.
func (l *Log) Append(text string) bool {
	return l.AppendAt(text, time.Time{})
}

// AppendAt stores text with an explicit timestamp. A zero timestamp means now.
// A timestamp earlier than the tail is clamped to the tail so insertion order and
// timestamp order never disagree, and one at or before a marker already handed out
// is moved just past it so that reader still receives it.
func (l *Log) AppendAt(text string, ts time.Time) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		observability.RecordUtteranceDiscarded("empty")
		return false
	}
	if l.discard.Match(text) {
		observability.RecordUtteranceDiscarded("phrase")
		l.logger.Debug().Str("text", text).Msg("Discarded utterance matching discard phrase")
		return false
	}

	l.mu.Lock()
	now := l.clock.Now()
	if ts.IsZero() {
		ts = now
	}
	if n := len(l.utterances); n > 0 && ts.Before(l.utterances[n-1].Timestamp) {
		ts = l.utterances[n-1].Timestamp
	}
	if wm := l.watermark.Load(); wm != 0 && ts.UnixNano() <= wm {
		ts = time.Unix(0, wm+1).In(ts.Location())
	}
	l.utterances = append(l.utterances, Utterance{Timestamp: ts, Text: text})
	evicted := l.evictLocked(now)
	live := len(l.utterances)
	l.mu.Unlock()

	observability.RecordUtteranceAppended()
	observability.RecordUtterancesEvicted(evicted)
	observability.SetLiveUtterances(live)

	l.logger.Debug().
		Int("chars", len(text)).
		Time("ts", ts).
		Int("evicted", evicted).
		Msg("Appended utterance")
	return true
}

// Since returns every live utterance with a timestamp strictly after since, oldest first,
// along with the snapshot instant: the later of now and the last returned timestamp.
// Using that instant as the next marker never skips a later append.
// A zero since returns the whole live log. Expired utterances are excluded even if a
// sweep has not removed them yet.
func (l *Log) Since(since time.Time) ([]Utterance, time.Time) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.retention)

	start := sort.Search(len(l.utterances), func(i int) bool {
		ts := l.utterances[i].Timestamp
		return ts.After(since) && !ts.Before(cutoff)
	})

	out := make([]Utterance, len(l.utterances)-start)
	copy(out, l.utterances[start:])

	at := now
	if n := len(out); n > 0 && out[n-1].Timestamp.After(at) {
		at = out[n-1].Timestamp
	}
	l.observe(at)
	return out, at
}

// Evict removes every utterance older than the retention window and returns how many
// were dropped.
func (l *Log) Evict() int {
	l.mu.Lock()
	evicted := l.evictLocked(l.clock.Now())
	live := len(l.utterances)
	l.mu.Unlock()

	if evicted > 0 {
		observability.RecordUtterancesEvicted(evicted)
		observability.SetLiveUtterances(live)
		l.logger.Debug().Int("evicted", evicted).Int("live", live).Msg("Evicted expired utterances")
	}
	return evicted
}

// evictLocked must be called with l.mu held for writing
func (l *Log) evictLocked(now time.Time) int {
	cutoff := now.Add(-l.retention)
	idx := sort.Search(len(l.utterances), func(i int) bool {
		return !l.utterances[i].Timestamp.Before(cutoff)
	})
	if idx == 0 {
		return 0
	}

	n := copy(l.utterances, l.utterances[idx:])
	clear(l.utterances[n:])
	l.utterances = l.utterances[:n]
	return idx
}

// Run sweeps expired utterances every interval until ctx is cancelled.
// Appends already evict; the sweep releases memory while the producer is silent.
func (l *Log) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Evict()
		}
	}
}

// Len returns the number of stored utterances, including any not yet swept
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.utterances)
}
