package wstate

import "testing"

func TestTransitionTableExactlyMatchesLegalPairs(t *testing.T) {
	legal := map[edge]bool{
		{Spawning, Starting}: true,
		{Starting, Online}:   true,
		{Starting, Errored}:  true,
		{Starting, Crashed}:  true,
		{Online, Draining}:   true,
		{Online, Crashed}:    true,
		{Draining, Stopping}: true,
		{Draining, Crashed}:  true,
		{Stopping, Stopped}:  true,
		{Stopping, Crashed}:  true,
		{Stopped, Spawning}:  true,
		{Crashed, Spawning}:  true,
		{Crashed, Errored}:   true,
		{Errored, Spawning}:  true,
	}
	states := []State{Spawning, Starting, Online, Draining, Stopping, Stopped, Errored, Crashed}
	lc := New()
	for _, from := range states {
		for _, to := range states {
			want := legal[edge{from, to}]
			got := lc.CanTransition(from, to)
			if got != want {
				t.Errorf("CanTransition(%s,%s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTransitionFiresListenersOnlyOnSuccess(t *testing.T) {
	lc := New()
	var calls []string
	lc.OnTransition(func(id int, from, to State) {
		calls = append(calls, from.String()+"->"+to.String())
	})

	if ok := lc.Transition(1, Spawning, Starting); !ok {
		t.Fatalf("expected legal transition to succeed")
	}
	if ok := lc.Transition(1, Online, Stopped); ok {
		t.Fatalf("expected illegal transition to fail")
	}
	if len(calls) != 1 || calls[0] != "spawning->starting" {
		t.Fatalf("expected exactly one listener call for the legal transition, got %v", calls)
	}
}

func TestListenersFireInRegistrationOrder(t *testing.T) {
	lc := New()
	var order []int
	lc.OnTransition(func(id int, from, to State) { order = append(order, 1) })
	lc.OnTransition(func(id int, from, to State) { order = append(order, 2) })
	lc.OnTransition(func(id int, from, to State) { order = append(order, 3) })

	lc.Transition(0, Spawning, Starting)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected listeners in registration order, got %v", order)
	}
}

func TestForceStateAlwaysNotifies(t *testing.T) {
	lc := New()
	var calls []string
	lc.OnTransition(func(id int, from, to State) {
		calls = append(calls, from.String()+"->"+to.String())
	})

	// starting->stopped is not in the legal table, but ForceState must still
	// notify: drain-and-stop forcing an in-flight worker straight to stopped.
	if lc.CanTransition(Starting, Stopped) {
		t.Fatal("starting->stopped must not be a legal table entry for this test to be meaningful")
	}
	lc.ForceState(5, Starting, Stopped)
	if len(calls) != 1 || calls[0] != "starting->stopped" {
		t.Fatalf("expected ForceState to notify listeners unconditionally, got %v", calls)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []State{Stopped, Errored} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{Spawning, Starting, Online, Draining, Stopping, Crashed} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
