package transcript

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCursorTable_UnseenIsZero(t *testing.T) {
	table := NewCursorTable(0)

	mark, ok := table.Mark("nobody")
	if ok {
		t.Error("Expected unseen uid")
	}
	if !mark.IsZero() {
		t.Errorf("Expected zero mark, got %v", mark)
	}
}

func TestCursorTable_SetMark(t *testing.T) {
	table := NewCursorTable(0)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	table.SetMark("a", at)
	table.SetMark("a", at.Add(time.Second))

	mark, ok := table.Mark("a")
	if !ok || !mark.Equal(at.Add(time.Second)) {
		t.Errorf("Expected mark %v, got %v (seen=%v)", at.Add(time.Second), mark, ok)
	}
	if table.Len() != 1 {
		t.Errorf("Expected 1 cursor, got %d", table.Len())
	}
}

func TestCursorTable_UpdateSeesCurrent(t *testing.T) {
	table := NewCursorTable(0)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	table.Update("a", func(mark time.Time, seen bool) time.Time {
		if seen || !mark.IsZero() {
			t.Errorf("Expected first update to see an unseen zero mark")
		}
		return at
	})
	table.Update("a", func(mark time.Time, seen bool) time.Time {
		if !seen || !mark.Equal(at) {
			t.Errorf("Expected second update to see %v, got %v", at, mark)
		}
		return mark
	})
}

func TestCursorTable_Independent(t *testing.T) {
	table := NewCursorTable(0)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	table.SetMark("a", at)
	if _, ok := table.Mark("b"); ok {
		t.Error("Expected setting a to leave b unseen")
	}
}

func TestCursorTable_BoundCountsWholeTable(t *testing.T) {
	table := NewCursorTable(cursorShards)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Find two uids sharing a shard
	first := "uid-0"
	var second string
	for i := 1; second == ""; i++ {
		uid := fmt.Sprintf("uid-%d", i)
		if table.shard(uid) == table.shard(first) {
			second = uid
		}
	}

	table.SetMark(first, at)
	table.SetMark(second, at)

	if _, ok := table.Mark(first); !ok {
		t.Error("Expected first cursor to survive while the table is under its bound")
	}
	if _, ok := table.Mark(second); !ok {
		t.Error("Expected second cursor to be kept")
	}
	if table.Len() != 2 {
		t.Errorf("Expected 2 cursors, got %d", table.Len())
	}
}

func TestCursorTable_BoundedEvictsLeastRecentlyUsed(t *testing.T) {
	table := NewCursorTable(2)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	table.SetMark("a", at)
	table.SetMark("b", at)
	// Touch a so b becomes the oldest
	table.SetMark("a", at.Add(time.Second))
	table.SetMark("c", at)

	if _, ok := table.Mark("b"); ok {
		t.Error("Expected least recently used cursor to be evicted")
	}
	for _, uid := range []string{"a", "c"} {
		if _, ok := table.Mark(uid); !ok {
			t.Errorf("Expected cursor %s to be kept", uid)
		}
	}
	if table.Len() != 2 {
		t.Errorf("Expected 2 cursors, got %d", table.Len())
	}
}

func TestCursorTable_BoundedConcurrent(t *testing.T) {
	table := NewCursorTable(5)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			table.SetMark(fmt.Sprintf("client-%d", i), at)
		}(i)
	}
	wg.Wait()

	if table.Len() > 5 {
		t.Errorf("Expected at most 5 cursors, got %d", table.Len())
	}
	tracked := 0
	for i := range table.shards {
		tracked += len(table.shards[i].entries)
	}
	if tracked != table.Len() {
		t.Errorf("Expected count %d to match tracked entries %d", table.Len(), tracked)
	}
}

func TestCursorTable_Concurrent(t *testing.T) {
	table := NewCursorTable(0)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := fmt.Sprintf("client-%d", i%10)
			table.Update(uid, func(mark time.Time, _ bool) time.Time {
				if mark.IsZero() {
					return at
				}
				return mark.Add(time.Second)
			})
		}(i)
	}
	wg.Wait()

	if table.Len() != 10 {
		t.Errorf("Expected 10 cursors, got %d", table.Len())
	}
	for i := 0; i < 10; i++ {
		mark, _ := table.Mark(fmt.Sprintf("client-%d", i))
		if !mark.Equal(at.Add(4 * time.Second)) {
			t.Errorf("Expected 5 serialized updates for client-%d, got mark %v", i, mark)
		}
	}
}
