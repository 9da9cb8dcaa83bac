package dashboard

// State is where a Manager is in its connection lifecycle
type State int

// Disconnected, Connecting, Connected and Subscribed are the states of a Manager
const (
	Disconnected State = iota
	Connecting
	Connected
	Subscribed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Subscribed:
		return "subscribed"
	}
	return "disconnected"
}
