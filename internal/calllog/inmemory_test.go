package calllog

import (
	"context"
	"testing"
	"time"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calls"
)

func TestInMemoryStoreKeepsNewestFirst(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()

	for _, id := range []string{"CA1", "CA2", "CA3"} {
		end := now
		err := store.Save(context.Background(), &calls.CallSession{
			CallID:    id,
			AgentID:   "agent-1",
			StartTime: now.Add(-time.Minute),
			EndTime:   &end,
		})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	recent := store.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("want 2 entries, got %d", len(recent))
	}
	if recent[0].CallID != "CA3" || recent[1].CallID != "CA2" {
		t.Fatalf("order: %s, %s", recent[0].CallID, recent[1].CallID)
	}

	all := store.Recent(10)
	if len(all) != 3 {
		t.Fatalf("want 3 entries, got %d", len(all))
	}
}
