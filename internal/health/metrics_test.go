package health

import "testing"

func TestMetrics_SuccessRate_DefaultsToOneWhenUnobserved(t *testing.T) {
	m := Metrics{}
	if rate := m.SuccessRate(); rate != 1.0 {
		t.Errorf("expected unobserved success rate 1.0, got %v", rate)
	}
}

func TestMetrics_SuccessRate(t *testing.T) {
	m := Metrics{SuccessCount: 3, TotalRequests: 4}
	if rate := m.SuccessRate(); rate != 0.75 {
		t.Errorf("expected 0.75, got %v", rate)
	}
}

func TestMetrics_ResponseScore(t *testing.T) {
	tests := []struct {
		name string
		avg  float64
		want float64
	}{
		{"zero average is perfect", 0, 1.0},
		{"half of ceiling", 2500, 0.5},
		{"beyond ceiling clamps to zero", 10000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Metrics{AverageResponseTimeMs: tt.avg}
			if got := m.ResponseScore(); got != tt.want {
				t.Errorf("ResponseScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetrics_LoadScore(t *testing.T) {
	m := Metrics{ActiveConnections: 10}
	if got := m.LoadScore(); got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
}

func TestMetrics_StreakPenalty(t *testing.T) {
	if got := (Metrics{}).StreakPenalty(); got != 1.0 {
		t.Errorf("expected no penalty at streak 0, got %v", got)
	}
	if got := (Metrics{ErrorStreak: 2}).StreakPenalty(); got != 0.5 {
		t.Errorf("expected 0.5 at streak 2, got %v", got)
	}
}

func TestMetrics_HealthScore_PerfectNode(t *testing.T) {
	m := Metrics{TotalRequests: 0}
	if got := m.HealthScore(); got != 1.0 {
		t.Errorf("expected perfect unobserved score 1.0, got %v", got)
	}
}

func TestTracker_OnSuccessUpdatesEMA(t *testing.T) {
	tr := NewTracker(BreakerConfig{})
	tr.OnRequestStart("a1")
	tr.OnSuccess("a1", 1000)

	snap := tr.Snapshot("a1")
	if snap.AverageResponseTimeMs != 200 {
		t.Errorf("expected EMA 0.2*1000 = 200, got %v", snap.AverageResponseTimeMs)
	}
	if snap.ActiveConnections != 0 {
		t.Errorf("expected active connections to decrement back to 0, got %d", snap.ActiveConnections)
	}
	if snap.SuccessCount != 1 || snap.TotalRequests != 1 {
		t.Errorf("expected one recorded success, got %+v", snap)
	}
}

func TestTracker_OnFailureIncrementsStreak(t *testing.T) {
	tr := NewTracker(BreakerConfig{})
	tr.OnRequestStart("a1")
	tr.OnFailure("a1")
	tr.OnRequestStart("a1")
	tr.OnFailure("a1")

	snap := tr.Snapshot("a1")
	if snap.ErrorStreak != 2 {
		t.Errorf("expected error streak 2, got %d", snap.ErrorStreak)
	}
	if snap.ActiveConnections != 0 {
		t.Errorf("active connections should never go negative nor linger, got %d", snap.ActiveConnections)
	}
}

func TestTracker_ActiveConnectionsNeverNegative(t *testing.T) {
	tr := NewTracker(BreakerConfig{})
	// A failure with no matching OnRequestStart should not underflow.
	tr.OnFailure("a1")
	if snap := tr.Snapshot("a1"); snap.ActiveConnections != 0 {
		t.Errorf("expected active connections to stay at 0, got %d", snap.ActiveConnections)
	}
}

func TestTracker_OnRequestAbandoned_ReleasesSlotWithoutOutcome(t *testing.T) {
	tr := NewTracker(BreakerConfig{})
	tr.OnRequestStart("a1")
	tr.OnRequestAbandoned("a1")

	snap := tr.Snapshot("a1")
	if snap.ActiveConnections != 0 {
		t.Errorf("expected slot released, got %d active", snap.ActiveConnections)
	}
	if snap.TotalRequests != 0 || snap.SuccessCount != 0 || snap.FailureCount != 0 {
		t.Errorf("abandonment must not record an outcome, got %+v", snap)
	}
	if !tr.CanExecute("a1") {
		t.Error("abandonment must not touch the breaker")
	}
}

func TestTracker_SuccessResetsStreak(t *testing.T) {
	tr := NewTracker(BreakerConfig{})
	tr.OnFailure("a1")
	tr.OnFailure("a1")
	tr.OnSuccess("a1", 50)

	if snap := tr.Snapshot("a1"); snap.ErrorStreak != 0 {
		t.Errorf("expected streak reset on success, got %d", snap.ErrorStreak)
	}
}

func TestTracker_SnapshotAll(t *testing.T) {
	tr := NewTracker(BreakerConfig{})
	tr.OnSuccess("a1", 10)
	tr.OnFailure("a2")

	all := tr.SnapshotAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 tracked accounts, got %d", len(all))
	}
	if all["a1"].SuccessCount != 1 {
		t.Errorf("expected a1 success count 1, got %+v", all["a1"])
	}
	if all["a2"].FailureCount != 1 {
		t.Errorf("expected a2 failure count 1, got %+v", all["a2"])
	}
}

func TestTracker_UntrackedAccountDefaults(t *testing.T) {
	tr := NewTracker(BreakerConfig{})
	snap := tr.Snapshot("ghost")
	if snap.SuccessRate() != 1.0 {
		t.Errorf("untracked account should report optimistic prior, got %v", snap.SuccessRate())
	}
}
