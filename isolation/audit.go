package isolation

import (
	"sync"
	"time"
)

// AuditEntry is one decision record in the trail. Entries are append-only;
// every allow and every deny produces exactly one.
type AuditEntry struct {
	TenantID     string            `json:"tenant_id"`
	Operation    string            `json:"operation"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Success      bool              `json:"success"`
	Details      map[string]string `json:"details,omitempty"`
}

// Trail is the append-only audit log owned by the isolator. It is bounded
// by a sliding retention window: once the cap is exceeded the oldest entries
// are dropped, always retaining the most recent half of the cap.
type Trail struct {
	mu      sync.Mutex
	entries []AuditEntry
	cap     int
}

// DefaultAuditCap bounds the trail when no cap is configured.
const DefaultAuditCap = 10000

// NewTrail creates a trail with the given cap (<=0 uses DefaultAuditCap).
func NewTrail(capacity int) *Trail {
	if capacity <= 0 {
		capacity = DefaultAuditCap
	}
	return &Trail{cap: capacity}
}

// Append records an entry, stamping the timestamp if unset, and enforces the
// retention window.
func (t *Trail) Append(entry AuditEntry) AuditEntry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, entry)
	if len(t.entries) > t.cap {
		keep := t.cap / 2
		kept := make([]AuditEntry, keep)
		copy(kept, t.entries[len(t.entries)-keep:])
		t.entries = kept
	}
	return entry
}

// ForTenant returns up to limit entries for the tenant, newest first. It
// never exposes another tenant's entries.
func (t *Trail) ForTenant(tenantID string, limit int) []AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []AuditEntry
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].TenantID != tenantID {
			continue
		}
		out = append(out, t.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// PurgeTenant removes every entry for the tenant. Called on deregistration.
func (t *Trail) PurgeTenant(tenantID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0]
	removed := 0
	for _, e := range t.entries {
		if e.TenantID == tenantID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	return removed
}

// Len returns the current entry count across all tenants.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
