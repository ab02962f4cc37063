package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func entry(id, session string) Entry {
	return Entry{ID: id, SessionID: session, Started: time.Now(), Transcript: "text " + id}
}

func TestMemory_RecentNewestFirst(t *testing.T) {
	t.Parallel()
	m := NewMemory(10)
	ctx := context.Background()
	for i := range 3 {
		if err := m.Append(ctx, entry(fmt.Sprint(i), "s1")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := m.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	want := []string{"2", "1", "0"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestMemory_RecentLimit(t *testing.T) {
	t.Parallel()
	m := NewMemory(10)
	ctx := context.Background()
	for i := range 5 {
		_ = m.Append(ctx, entry(fmt.Sprint(i), "s1"))
	}

	got, _ := m.Recent(ctx, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "4" || got[1].ID != "3" {
		t.Errorf("ids = %q, %q, want 4, 3", got[0].ID, got[1].ID)
	}
}

func TestMemory_EvictsOldest(t *testing.T) {
	t.Parallel()
	m := NewMemory(3)
	ctx := context.Background()
	for i := range 5 {
		_ = m.Append(ctx, entry(fmt.Sprint(i), "s1"))
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}
	got, _ := m.BySession(ctx, "s1")
	if got[0].ID != "2" || got[2].ID != "4" {
		t.Errorf("kept %q..%q, want 2..4", got[0].ID, got[2].ID)
	}
}

func TestMemory_BySession(t *testing.T) {
	t.Parallel()
	m := NewMemory(0)
	ctx := context.Background()
	_ = m.Append(ctx, entry("a", "s1"))
	_ = m.Append(ctx, entry("b", "s2"))
	_ = m.Append(ctx, entry("c", "s1"))

	got, err := m.BySession(ctx, "s1")
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("BySession(s1) = %+v, want a, c", got)
	}

	none, _ := m.BySession(ctx, "missing")
	if none == nil || len(none) != 0 {
		t.Errorf("BySession(missing) = %v, want empty non-nil slice", none)
	}
}

func TestMemory_Closed(t *testing.T) {
	t.Parallel()
	m := NewMemory(1)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := m.Append(context.Background(), entry("x", "s")); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close = %v, want ErrClosed", err)
	}
	if _, err := m.Recent(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Recent after Close = %v, want ErrClosed", err)
	}
}
