package observability

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"actionguard/internal/core"
)

func entry(actionID, agentID string, verdict core.Verdict) core.AuditEntry {
	return core.AuditEntry{
		ActionID:   actionID,
		AgentID:    agentID,
		ActionType: "db.update",
		Verdict:    verdict,
		Timestamp:  time.Now().UTC(),
	}
}

func TestAuditLogBoundedEviction(t *testing.T) {
	log := NewAuditLog(3, nil, nil)
	for i := 0; i < 5; i++ {
		log.Append(entry(fmt.Sprintf("a-%d", i), "agent", core.VerdictAllow))
	}
	if log.Len() != 3 {
		t.Fatalf("len = %d, want bound of 3", log.Len())
	}
	got := log.Query(core.AuditFilter{})
	if got[0].ActionID != "a-2" {
		t.Errorf("oldest retained = %s, want a-2 (FIFO eviction)", got[0].ActionID)
	}
}

func TestAuditLogQueryFilters(t *testing.T) {
	log := NewAuditLog(100, nil, nil)
	log.Append(entry("1", "alice", core.VerdictAllow))
	log.Append(entry("2", "bob", core.VerdictBlock))
	log.Append(entry("3", "alice", core.VerdictBlock))

	tests := []struct {
		name   string
		filter core.AuditFilter
		want   []string
	}{
		{"by agent", core.AuditFilter{AgentID: "alice"}, []string{"1", "3"}},
		{"by verdict", core.AuditFilter{Verdict: core.VerdictBlock}, []string{"2", "3"}},
		{"agent and verdict", core.AuditFilter{AgentID: "alice", Verdict: core.VerdictBlock}, []string{"3"}},
		{"limit", core.AuditFilter{Limit: 2}, []string{"1", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := log.Query(tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ActionID != tt.want[i] {
					t.Errorf("entry %d = %s, want %s", i, got[i].ActionID, tt.want[i])
				}
			}
		})
	}
}

func TestAuditLogConcurrentAppends(t *testing.T) {
	log := NewAuditLog(1000, nil, nil)

	var wg sync.WaitGroup
	const n = 100
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log.Append(entry(fmt.Sprintf("c-%d", i), "agent", core.VerdictAllow))
		}(i)
	}
	wg.Wait()

	if log.Len() != n {
		t.Fatalf("len = %d, want %d", log.Len(), n)
	}
	seen := make(map[string]bool)
	for _, e := range log.Query(core.AuditFilter{}) {
		if seen[e.ActionID] {
			t.Fatalf("duplicate action_id %s", e.ActionID)
		}
		seen[e.ActionID] = true
	}
}

func TestAuditLogMetricsFold(t *testing.T) {
	log := NewAuditLog(100, nil, nil)

	allow := entry("1", "alice", core.VerdictAllow)
	allow.RiskScore = 0.2
	allow.DurationMs = 10
	block := entry("2", "bob", core.VerdictBlock)
	block.RiskScore = 0.8
	block.DurationMs = 30
	block.PolicyTriggered = "no_prod_writes"
	log.Append(allow)
	log.Append(block)

	m := log.Metrics(Counters{Rollbacks: 2, TotalCost: 1.5})
	if m.TotalActions != 2 || m.AllowedActions != 1 || m.BlockedActions != 1 {
		t.Errorf("verdict tallies wrong: %+v", m)
	}
	if m.AvgRiskScore != 0.5 {
		t.Errorf("avg risk = %v, want 0.5", m.AvgRiskScore)
	}
	if m.AvgDurationMs != 20 {
		t.Errorf("avg duration = %v, want 20", m.AvgDurationMs)
	}
	if m.Rollbacks != 2 || m.TotalCost != 1.5 {
		t.Errorf("external counters not carried: %+v", m)
	}
	if m.VerdictsByPolicy["no_prod_writes"] != 1 {
		t.Errorf("policy tally = %v", m.VerdictsByPolicy)
	}
}

// faultyExporter fails every export; okExporter records what it saw.
type faultyExporter struct{}

func (faultyExporter) Name() string                 { return "faulty" }
func (faultyExporter) Export(core.AuditEntry) error { return errors.New("sink down") }

type panicExporter struct{}

func (panicExporter) Name() string                 { return "panicky" }
func (panicExporter) Export(core.AuditEntry) error { panic("boom") }

type okExporter struct {
	mu      sync.Mutex
	entries []core.AuditEntry
}

func (e *okExporter) Name() string { return "ok" }

func (e *okExporter) Export(entry core.AuditEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func TestExporterIsolation(t *testing.T) {
	set := NewExporterSet(nil)
	ok := &okExporter{}
	set.Add(faultyExporter{})
	set.Add(panicExporter{})
	set.Add(ok)

	log := NewAuditLog(100, set, nil)
	log.Append(entry("1", "alice", core.VerdictAllow))

	if len(ok.entries) != 1 {
		t.Fatalf("healthy exporter received %d entries, want 1 despite faulty peers", len(ok.entries))
	}
}

func TestExporterBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	set := NewExporterSet(nil)
	set.Add(faultyExporter{})

	// After enough consecutive failures the breaker opens; exporting
	// must remain safe (no panic, no block) either way.
	for i := 0; i < 10; i++ {
		set.Export(entry(fmt.Sprintf("%d", i), "alice", core.VerdictAllow))
	}
	if state := set.exporters[0].breaker.State(); state != gobreaker.StateOpen {
		t.Errorf("breaker state = %v, want open after 10 consecutive failures", state)
	}
}

func TestStdoutExporterWritesJSONLines(t *testing.T) {
	var buf safeBuffer
	e := NewStdoutExporter(&buf)

	if err := e.Export(entry("x", "alice", core.VerdictAllow)); err != nil {
		t.Fatalf("export: %v", err)
	}
	out := buf.String()
	if out == "" || out[len(out)-1] != '\n' {
		t.Errorf("output %q should be a newline-terminated JSON line", out)
	}
}

type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
