package summary

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/EvaluBot/internal/store"
)

func TestRefresher_MarkDirtyDeduplicates(t *testing.T) {
	r := NewRefresher(nil)
	r.MarkDirty("Nova")
	r.MarkDirty(" nova ")
	r.MarkDirty("")
	r.MarkDirty("Aster")

	got := r.Pending()
	if len(got) != 2 || got[0] != "Aster" || got[1] != "nova" {
		t.Errorf("Pending() = %v, want [Aster nova]", got)
	}

	var nilRefresher *Refresher
	nilRefresher.MarkDirty("Nova")
}

func TestRefresher_Refresh(t *testing.T) {
	s := seededStore(t)
	mock := &mockGenAI{reply: fullReply}
	r := NewRefresher(NewAggregator(s, s, mock))

	r.MarkDirty("Nova")
	r.MarkDirty("Nobody")
	if n := r.Refresh(context.Background()); n != 1 {
		t.Fatalf("Refresh() = %d, want 1", n)
	}
	if mock.calls != 1 {
		t.Errorf("expected one generation call, got %d", mock.calls)
	}
	if _, err := s.GetSummary(context.Background(), "nova"); err != nil {
		t.Errorf("summary not stored: %v", err)
	}
	if p := r.Pending(); len(p) != 0 {
		t.Errorf("queue should be empty, got %v", p)
	}
}

func TestRefresher_RetriesFailures(t *testing.T) {
	s := seededStore(t)
	mock := &mockGenAI{err: errors.New("upstream down")}
	r := NewRefresher(NewAggregator(s, s, mock))

	r.MarkDirty("Nova")
	if n := r.Refresh(context.Background()); n != 0 {
		t.Fatalf("Refresh() = %d, want 0", n)
	}
	if p := r.Pending(); len(p) != 1 || p[0] != "Nova" {
		t.Fatalf("failed subject should stay queued, got %v", p)
	}
	if _, err := s.GetSummary(context.Background(), "nova"); !errors.Is(err, store.ErrSummaryNotFound) {
		t.Errorf("expected no stored summary, got %v", err)
	}

	mock.err = nil
	mock.reply = fullReply
	if n := r.Refresh(context.Background()); n != 1 {
		t.Errorf("retry Refresh() = %d, want 1", n)
	}
}
