package tracking

// State is the controller's tracking state.
type State int

const (
	StateHoming State = iota
	StateIdle
	StateOpenLoop
	StateClosedLoop
	StateSleeping
	StateFault
)

func (s State) String() string {
	switch s {
	case StateHoming:
		return "homing"
	case StateIdle:
		return "idle"
	case StateOpenLoop:
		return "open-loop"
	case StateClosedLoop:
		return "closed-loop"
	case StateSleeping:
		return "sleeping"
	case StateFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Event is something that happened during a tick.
type Event int

const (
	evHomed Event = iota
	evHomeNotFound
	evNight
	evDay
	evClockUnset
	evOnTarget
	evMoveOpenLoop
	evMoveClosedLoop
	evMoveDone
	evMoveAborted
	evStall
	evRehome
)

func (e Event) String() string {
	switch e {
	case evHomed:
		return "homed"
	case evHomeNotFound:
		return "home-not-found"
	case evNight:
		return "night"
	case evDay:
		return "day"
	case evClockUnset:
		return "clock-unset"
	case evOnTarget:
		return "on-target"
	case evMoveOpenLoop:
		return "move-open-loop"
	case evMoveClosedLoop:
		return "move-closed-loop"
	case evMoveDone:
		return "move-done"
	case evMoveAborted:
		return "move-aborted"
	case evStall:
		return "stall"
	case evRehome:
		return "rehome"
	default:
		return "unknown"
	}
}

// transitions lists the state changes. Pairs not listed keep the
// current state, which makes next total over (State, Event). Fault has
// no outgoing edges: a faulted tower stays down until someone looks at
// it.
var transitions = map[State]map[Event]State{
	StateHoming: {
		evHomed:        StateIdle,
		evHomeNotFound: StateFault,
		evStall:        StateFault,
	},
	StateIdle: {
		evNight:          StateSleeping,
		evClockUnset:     StateSleeping,
		evMoveOpenLoop:   StateOpenLoop,
		evMoveClosedLoop: StateClosedLoop,
		evRehome:         StateHoming,
	},
	StateOpenLoop: {
		evMoveDone:    StateIdle,
		evMoveAborted: StateIdle,
		evStall:       StateFault,
	},
	StateClosedLoop: {
		evMoveDone:    StateIdle,
		evMoveAborted: StateIdle,
		evStall:       StateFault,
	},
	StateSleeping: {
		evDay:          StateIdle,
		evHomeNotFound: StateFault,
		evStall:        StateFault,
	},
}

// next returns the state after e. Unlisted pairs are self-loops.
func next(s State, e Event) State {
	if to, ok := transitions[s][e]; ok {
		return to
	}
	return s
}
