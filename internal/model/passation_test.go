package model

import (
	"encoding/json"
	"testing"
)

var allStatuses = []PassationStatus{
	StatusNotStarted, StatusInProgress, StatusPaused,
	StatusCompleted, StatusSubmitted, StatusCancelled,
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]PassationStatus]bool{
		{StatusNotStarted, StatusInProgress}: true,
		{StatusNotStarted, StatusCancelled}:  true,
		{StatusInProgress, StatusPaused}:     true,
		{StatusInProgress, StatusCompleted}:  true,
		{StatusInProgress, StatusCancelled}:  true,
		{StatusPaused, StatusInProgress}:     true,
		{StatusPaused, StatusCancelled}:      true,
		{StatusCompleted, StatusSubmitted}:   true,
	}

	// Closure: every pair not in the table must be rejected, including
	// self-transitions and anything out of a terminal state.
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[[2]PassationStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range []PassationStatus{StatusSubmitted, StatusCancelled} {
		if !from.IsTerminal() {
			t.Errorf("%s should be terminal", from)
		}
		for _, to := range allStatuses {
			if CanTransition(from, to) {
				t.Errorf("terminal state %s must have no transition to %s", from, to)
			}
		}
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range allStatuses {
		if !IsValidStatus(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	for _, s := range []PassationStatus{"", "DONE", "not_started"} {
		if IsValidStatus(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := &Passation{
		Answers: map[string]json.RawMessage{"q1": json.RawMessage(`"a"`)},
	}
	cp := p.Clone()

	cp.Answers["q1"] = json.RawMessage(`"b"`)
	cp.Answers["q2"] = json.RawMessage(`"c"`)

	if string(p.Answers["q1"]) != `"a"` {
		t.Errorf("clone mutation leaked into original: %s", p.Answers["q1"])
	}
	if _, ok := p.Answers["q2"]; ok {
		t.Error("clone key addition leaked into original")
	}
}

func TestClassifySync(t *testing.T) {
	tests := []struct {
		name   string
		client int64
		server int64
		want   SyncState
	}{
		{name: "equal", client: 3, server: 3, want: SyncInSync},
		{name: "behind", client: 2, server: 5, want: SyncClientBehind},
		{name: "ahead", client: 7, server: 5, want: SyncConflict},
		{name: "fresh", client: 0, server: 0, want: SyncInSync},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySync(tc.client, tc.server); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
