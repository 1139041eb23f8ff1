package transcript

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/lexiqai/perception-voice/internal/observability"
)

const cursorShards = 16

type cursorEntry struct {
	mark    time.Time
	touched uint64
}

type cursorShard struct {
	mu      sync.Mutex
	entries map[string]*cursorEntry
}

// CursorTable maps a client id to the timestamp of the last utterance it was handed.
// Entries are spread over shards keyed by xxhash(uid) so unrelated clients rarely share a lock.
type CursorTable struct {
	shards     [cursorShards]cursorShard
	maxCursors int64 // 0 means unbounded
	seq        atomic.Uint64
	count      atomic.Int64
}

// NewCursorTable creates an empty table. maxCursors bounds the number of tracked clients;
// zero or less means unbounded. When a new client pushes the table past the bound the least
// recently used cursor across all shards is dropped, which makes that client look brand new
// on its next request.
func NewCursorTable(maxCursors int) *CursorTable {
	t := &CursorTable{}
	if maxCursors > 0 {
		t.maxCursors = int64(maxCursors)
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*cursorEntry)
	}
	return t
}

func (t *CursorTable) shard(uid string) *cursorShard {
	return &t.shards[xxhash.Sum64String(uid)%cursorShards]
}

// Mark returns the stored mark for uid. Unseen clients get the zero time, which sorts
// before every utterance.
func (t *CursorTable) Mark(uid string) (time.Time, bool) {
	s := t.shard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[uid]
	if !ok {
		return time.Time{}, false
	}
	return e.mark, true
}

// SetMark upserts the mark for uid
func (t *CursorTable) SetMark(uid string, mark time.Time) {
	t.Update(uid, func(time.Time, bool) time.Time {
		return mark
	})
}

// Update atomically replaces uid's mark with fn(current). fn runs with the shard lock
// held and must not block on I/O.
func (t *CursorTable) Update(uid string, fn func(mark time.Time, seen bool) time.Time) {
	if t.update(uid, fn) && t.maxCursors > 0 {
		for t.count.Load() > t.maxCursors {
			if !t.evictOldest() {
				break
			}
		}
	}
}

// update applies fn under the shard lock and reports whether uid was newly added
func (t *CursorTable) update(uid string, fn func(mark time.Time, seen bool) time.Time) bool {
	s := t.shard(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[uid]
	var current time.Time
	if ok {
		current = e.mark
	}

	next := fn(current, ok)

	if !ok {
		e = &cursorEntry{}
		s.entries[uid] = e
		t.count.Add(1)
		observability.CursorAdded()
	}
	e.mark = next
	e.touched = t.seq.Add(1)
	return !ok
}

// evictOldest drops the least recently touched cursor in the table. Shards are locked one
// at a time; an entry touched between the scan and the delete is left alone and the
// caller rescans. Returns false when the table is empty.
func (t *CursorTable) evictOldest() bool {
	var (
		victim    *cursorShard
		oldestUID string
		oldest    uint64
	)
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for uid, e := range s.entries {
			if victim == nil || e.touched < oldest {
				victim, oldestUID, oldest = s, uid, e.touched
			}
		}
		s.mu.Unlock()
	}
	if victim == nil {
		return false
	}

	victim.mu.Lock()
	defer victim.mu.Unlock()
	if e, ok := victim.entries[oldestUID]; ok && e.touched == oldest {
		delete(victim.entries, oldestUID)
		t.count.Add(-1)
		observability.CursorRemoved()
		observability.RecordCursorEvicted()
	}
	return true
}

// Len returns the number of tracked clients
func (t *CursorTable) Len() int {
	return int(t.count.Load())
}
