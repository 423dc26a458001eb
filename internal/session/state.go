package session

// State is the lifecycle state of a Server.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateAwaitingReady
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateLaunching:     "launching",
	StateAwaitingReady: "awaiting-ready",
	StateRunning:       "running",
	StateStopping:      "stopping",
	StateStopped:       "stopped",
	StateFailed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions happen without a new Start.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}
