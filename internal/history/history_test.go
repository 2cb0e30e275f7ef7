package history

import (
	"reflect"
	"testing"
	"time"

	"airtech/internal/domain"
)

var now = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func TestAppendFirstEntryIsCreated(t *testing.T) {
	got := Append(nil, "a@x.com", now)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	want := domain.HistoryEntry{Action: domain.ActionCreated, User: "a@x.com", Timestamp: "2024-01-01T10:00:00Z"}
	if got[0] != want {
		t.Fatalf("got %+v want %+v", got[0], want)
	}
}

func TestAppendGrowsByOneAndPreservesPrefix(t *testing.T) {
	trail := Append(nil, "a@x.com", now)
	for i := 0; i < 5; i++ {
		before := make([]domain.HistoryEntry, len(trail))
		copy(before, trail)
		trail = Append(trail, "b@x.com", now.Add(time.Duration(i+1)*time.Hour))
		if len(trail) != len(before)+1 {
			t.Fatalf("len = %d, want %d", len(trail), len(before)+1)
		}
		if !reflect.DeepEqual(trail[:len(before)], before) {
			t.Fatalf("prior entries changed: %+v vs %+v", trail[:len(before)], before)
		}
		last := trail[len(trail)-1]
		if last.Action != domain.ActionUpdated || last.User != "b@x.com" {
			t.Fatalf("unexpected appended entry %+v", last)
		}
	}
}

func TestAppendDoesNotMutateInput(t *testing.T) {
	orig := Append(nil, "a@x.com", now)
	keep := orig[0]
	_ = Append(orig, "b@x.com", now.Add(time.Hour))
	if orig[0] != keep || len(orig) != 1 {
		t.Fatalf("input slice mutated: %+v", orig)
	}
}

func TestBackfill(t *testing.T) {
	got := Backfill("orig@x.com", "2023-06-01T00:00:00Z")
	if len(got) != 1 || got[0].Action != domain.ActionCreated || got[0].User != "orig@x.com" {
		t.Fatalf("unexpected backfill %+v", got)
	}
	anon := Backfill("", "2023-06-01T00:00:00Z")
	if anon[0].User != "Unknown" {
		t.Fatalf("blank creator should become Unknown, got %q", anon[0].User)
	}
}
