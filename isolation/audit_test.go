package isolation_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/locilabs/loci/isolation"
)

func TestTrail_SlidingWindow(t *testing.T) {
	trail := isolation.NewTrail(10)

	for i := 0; i < 11; i++ {
		trail.Append(isolation.AuditEntry{
			TenantID:  "t1",
			Operation: fmt.Sprintf("op-%d", i),
		})
	}

	// Exceeding the cap drops the oldest entries, retaining the most
	// recent half.
	if got := trail.Len(); got != 5 {
		t.Fatalf("after overflow: %d entries, want 5", got)
	}
	entries := trail.ForTenant("t1", 0)
	if entries[0].Operation != "op-10" {
		t.Errorf("newest entry = %s, want op-10", entries[0].Operation)
	}
	if entries[len(entries)-1].Operation != "op-6" {
		t.Errorf("oldest retained = %s, want op-6", entries[len(entries)-1].Operation)
	}
}

func TestTrail_NewestFirstWithLimit(t *testing.T) {
	trail := isolation.NewTrail(100)
	for i := 0; i < 5; i++ {
		trail.Append(isolation.AuditEntry{TenantID: "t1", Operation: fmt.Sprintf("op-%d", i)})
	}

	entries := trail.ForTenant("t1", 2)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Operation != "op-4" || entries[1].Operation != "op-3" {
		t.Errorf("unexpected order: %s, %s", entries[0].Operation, entries[1].Operation)
	}
}

func TestTrail_ConcurrentAppends(t *testing.T) {
	trail := isolation.NewTrail(10000)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				trail.Append(isolation.AuditEntry{TenantID: fmt.Sprintf("t%d", w), Operation: "read"})
			}
		}(w)
	}
	wg.Wait()

	if got := trail.Len(); got != 800 {
		t.Errorf("got %d entries, want 800", got)
	}
}
