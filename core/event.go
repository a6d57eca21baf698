package core

// EventKind discriminates simulation lifecycle events.
type EventKind int

const (
	EventNone EventKind = iota
	EventStart
	EventStep
	EventPathComplete
	EventEnd
	EventPause
	EventResume
	EventStop
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventStep:
		return "step"
	case EventPathComplete:
		return "path_complete"
	case EventEnd:
		return "end"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventStop:
		return "stop"
	default:
		return "none"
	}
}

// Payload keys carried by events.
const (
	InfoNode = "node"
)

// Event is delivered to the scenario for every lifecycle change.
type Event struct {
	Kind EventKind
	info map[string]any
}

// NewEvent builds an event with an optional payload.
func NewEvent(kind EventKind, info map[string]any) Event {
	return Event{Kind: kind, info: info}
}

// PathCompleteEvent reports that n consumed the last leg of its path.
func PathCompleteEvent(n *Node) Event {
	return NewEvent(EventPathComplete, map[string]any{InfoNode: n})
}

// Get returns a payload value, or nil if absent.
func (e Event) Get(key string) any {
	return e.info[key]
}

// Node returns the node payload, if any.
func (e Event) Node() *Node {
	n, _ := e.info[InfoNode].(*Node)
	return n
}

func (e Event) String() string { return e.Kind.String() }
