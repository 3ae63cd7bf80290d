// Package mode implements the global ON/OFF gate for the caption pipeline.
//
// The controller is a two-state machine with an explicit observer list:
// every transition synchronously notifies all registered observers, in
// registration order, before the transition call returns. This replaces the
// single-callback slot of earlier designs so that the pipeline reset and the
// UI refresh can both listen without overwriting each other.
//
// A Controller is not safe for concurrent use. The pipeline coordinator owns
// it and is the only caller of its mutating methods; observers must not
// block, since they run on the coordinator's goroutine.
package mode

// State is the current gate position.
type State int

const (
	// Off drops captured audio before it reaches the segmenter.
	Off State = iota

	// On lets captured audio flow into the segmenter.
	On
)

// String returns "off" or "on".
func (s State) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

// Observer receives the new state after a transition has been applied.
type Observer func(State)

// Controller is the ON/OFF state machine. The zero value is a usable
// controller in the Off state with no observers.
type Controller struct {
	state     State
	observers []Observer
}

// Register appends an observer. Observers are invoked in registration order
// on every state change.
func (c *Controller) Register(obs Observer) {
	c.observers = append(c.observers, obs)
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Enabled reports whether the gate is open.
func (c *Controller) Enabled() bool { return c.state == On }

// Toggle flips the state and notifies observers. Returns the new state.
func (c *Controller) Toggle() State {
	if c.state == Off {
		c.state = On
	} else {
		c.state = Off
	}
	c.notify()
	return c.state
}

// TurnOn transitions to On. A no-op, with no observer notification, when
// already On.
func (c *Controller) TurnOn() {
	if c.state == On {
		return
	}
	c.state = On
	c.notify()
}

// TurnOff transitions to Off. A no-op, with no observer notification, when
// already Off.
func (c *Controller) TurnOff() {
	if c.state == Off {
		return
	}
	c.state = Off
	c.notify()
}

func (c *Controller) notify() {
	for _, obs := range c.observers {
		obs(c.state)
	}
}
