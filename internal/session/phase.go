package session

import "fmt"

// Phase is the lifecycle position of the acquisition.
//
//	Idle -> Listening -> Connected -> Exchanging -> Closed
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseConnected
	PhaseExchanging
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseConnected:
		return "connected"
	case PhaseExchanging:
		return "exchanging"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
