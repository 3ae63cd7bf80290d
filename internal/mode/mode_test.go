package mode

import "testing"

func TestController_InitialStateIsOff(t *testing.T) {
	var c Controller
	if c.State() != Off {
		t.Errorf("initial state = %v, want off", c.State())
	}
	if c.Enabled() {
		t.Error("Enabled() true in initial state")
	}
}

func TestToggle_FlipsBetweenStates(t *testing.T) {
	var c Controller
	if got := c.Toggle(); got != On {
		t.Errorf("first toggle = %v, want on", got)
	}
	if got := c.Toggle(); got != Off {
		t.Errorf("second toggle = %v, want off", got)
	}
}

func TestObservers_NotifiedInRegistrationOrder(t *testing.T) {
	var c Controller
	var order []string
	c.Register(func(s State) { order = append(order, "first:"+s.String()) })
	c.Register(func(s State) { order = append(order, "second:"+s.String()) })

	c.Toggle()

	if len(order) != 2 || order[0] != "first:on" || order[1] != "second:on" {
		t.Errorf("notification order = %v", order)
	}
}

func TestObservers_SeeStateAlreadyApplied(t *testing.T) {
	var c Controller
	var seen State
	c.Register(func(s State) { seen = c.State() })

	c.TurnOn()
	if seen != On {
		t.Error("observer saw stale state during TurnOn")
	}
}

func TestTurnOn_Idempotent_NoDuplicateNotification(t *testing.T) {
	var c Controller
	calls := 0
	c.Register(func(State) { calls++ })

	c.TurnOn()
	c.TurnOn()
	if calls != 1 {
		t.Errorf("observer called %d times, want 1", calls)
	}
	if c.State() != On {
		t.Errorf("state = %v, want on", c.State())
	}
}

func TestTurnOff_Idempotent_NoNotificationWhenAlreadyOff(t *testing.T) {
	var c Controller
	calls := 0
	c.Register(func(State) { calls++ })

	c.TurnOff()
	if calls != 0 {
		t.Errorf("observer called %d times for no-op, want 0", calls)
	}
}

func TestState_String(t *testing.T) {
	if Off.String() != "off" || On.String() != "on" {
		t.Errorf("String() = %q/%q, want off/on", Off.String(), On.String())
	}
}
