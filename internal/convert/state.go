package convert

// State is a step of the conversion state machine, reported in debug logs.
type State int

const (
	StateInit State = iota
	StateParsed
	StateBaseResolved
	StateKeyReady
	StateFetched
	StateDecrypted
	StateAssembled
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:         "INIT",
	StateParsed:       "PARSED",
	StateBaseResolved: "BASE_RESOLVED",
	StateKeyReady:     "KEY_READY",
	StateFetched:      "FETCHED",
	StateDecrypted:    "DECRYPTED",
	StateAssembled:    "ASSEMBLED",
	StateDone:         "DONE",
	StateFailed:       "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}
