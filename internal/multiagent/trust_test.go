package multiagent

import (
	"errors"
	"sync"
	"testing"

	"actionguard/internal/core"
)

func TestTrustLedgerRegisterAndGet(t *testing.T) {
	ledger := NewTrustLedger(false, nil)
	ledger.Register("planner", core.TrustOrchestrator, []string{"worker"}, 50)

	p, err := ledger.Get("planner")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p.TrustLevel != core.TrustOrchestrator {
		t.Errorf("trust level = %s, want ORCHESTRATOR", p.TrustLevel)
	}
	if p.TrustScore != 0.8 {
		t.Errorf("trust score = %v, want 0.8", p.TrustScore)
	}
	if p.MaxActionsPerRun != 50 {
		t.Errorf("max actions = %d, want 50", p.MaxActionsPerRun)
	}
}

func TestTrustLedgerUnknownAgent(t *testing.T) {
	t.Run("permissive returns synthetic profile", func(t *testing.T) {
		ledger := NewTrustLedger(false, nil)
		p, err := ledger.Get("ghost")
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if p.TrustLevel != core.TrustUnknown || p.TrustScore != 0.0 {
			t.Errorf("got %+v, want UNKNOWN profile with zero score", p)
		}
	})

	t.Run("blocking returns ErrAgentNotRegistered", func(t *testing.T) {
		ledger := NewTrustLedger(true, nil)
		_, err := ledger.Get("ghost")
		if !errors.Is(err, ErrAgentNotRegistered) {
			t.Fatalf("err = %v, want ErrAgentNotRegistered", err)
		}
	})
}

func TestTrustLedgerRecordViolation(t *testing.T) {
	ledger := NewTrustLedger(false, nil)
	ledger.Register("worker", core.TrustPeer, nil, 0)

	ledger.RecordViolation("worker")
	p, _ := ledger.Get("worker")
	if p.ViolationCount != 1 {
		t.Errorf("violation count = %d, want 1", p.ViolationCount)
	}
	if got, want := p.TrustScore, 0.45; got != want {
		t.Errorf("trust score = %v, want %v", got, want)
	}

	// Trust score clamps at zero however many violations pile up.
	for i := 0; i < 20; i++ {
		ledger.RecordViolation("worker")
	}
	p, _ = ledger.Get("worker")
	if p.TrustScore != 0.0 {
		t.Errorf("trust score = %v, want clamp at 0", p.TrustScore)
	}
}

func TestTrustLedgerUpdateTrustScoreClamps(t *testing.T) {
	ledger := NewTrustLedger(false, nil)
	ledger.Register("worker", core.TrustPeer, nil, 0)

	score, err := ledger.UpdateTrustScore("worker", 2.0)
	if err != nil {
		t.Fatalf("UpdateTrustScore: %v", err)
	}
	if score != 1.0 {
		t.Errorf("score = %v, want clamp at 1.0", score)
	}

	score, _ = ledger.UpdateTrustScore("worker", -3.0)
	if score != 0.0 {
		t.Errorf("score = %v, want clamp at 0.0", score)
	}
}

func TestTrustLedgerErrorRate(t *testing.T) {
	ledger := NewTrustLedger(false, nil)
	ledger.Register("worker", core.TrustPeer, nil, 0)

	ledger.RecordAction("worker", true)
	ledger.RecordAction("worker", false)
	ledger.RecordAction("worker", false)
	ledger.RecordAction("worker", true)

	p, _ := ledger.Get("worker")
	if got, want := p.ErrorRate(), 0.5; got != want {
		t.Errorf("error rate = %v, want %v", got, want)
	}
}

func TestTrustLedgerCanDelegate(t *testing.T) {
	ledger := NewTrustLedger(false, nil)
	ledger.Register("orchestrator", core.TrustOrchestrator, []string{"a", "b"}, 0)
	ledger.Register("open", core.TrustPeer, nil, 0)

	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"listed target allowed", "orchestrator", "a", true},
		{"unlisted target denied", "orchestrator", "c", false},
		{"empty list means unrestricted", "open", "anyone", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ledger.CanDelegate(tt.from, tt.to); got != tt.want {
				t.Errorf("CanDelegate(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTrustLedgerConcurrentCounters(t *testing.T) {
	ledger := NewTrustLedger(false, nil)
	ledger.Register("worker", core.TrustPeer, nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ledger.RecordAction("worker", i%2 == 0)
		}(i)
	}
	wg.Wait()

	p, _ := ledger.Get("worker")
	if p.ActionCount != 50 {
		t.Errorf("action count = %d, want 50", p.ActionCount)
	}
	if p.ErrorCount != 25 {
		t.Errorf("error count = %d, want 25", p.ErrorCount)
	}
}

func TestBucketTrustLevel(t *testing.T) {
	tests := []struct {
		in   float64
		want core.TrustLevel
	}{
		{1.0, core.TrustHuman},
		{0.9, core.TrustHuman},
		{0.7, core.TrustOrchestrator},
		{0.5, core.TrustPeer},
		{0.4, core.TrustPeer},
		{0.1, core.TrustSubAgent},
		{0.0, core.TrustUnknown},
	}
	for _, tt := range tests {
		if got := BucketTrustLevel(tt.in); got != tt.want {
			t.Errorf("BucketTrustLevel(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
