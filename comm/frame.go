package comm

// Constants

type frameKind uint8

// Frames a member sends to the sequencer.
const (
	frameJoin frameKind = iota + 1
	frameLeave
	frameBroadcast
	frameDiscardOwn
	frameGetState
	frameStateReply
)

// Frames the sequencer sends to a member.
const (
	frameView frameKind = iota + 32
	frameDeliver
	frameSuspect
	frameServeState
	frameInstallState
	frameStateDone
)

// Structs

// Frame is the single message type exchanged on a member
// stream. Which fields are set depends on Kind.
type Frame struct {
	Kind       frameKind `msgpack:"k"`
	Group      string    `msgpack:"g,omitempty"`
	Src        Address   `msgpack:"s,omitempty"`
	ViewID     uint64    `msgpack:"v,omitempty"`
	Members    []Address `msgpack:"m,omitempty"`
	Data       []byte    `msgpack:"d,omitempty"`
	ReqID      uint64    `msgpack:"r,omitempty"`
	Timeout    int64     `msgpack:"t,omitempty"`
	OK         bool      `msgpack:"o,omitempty"`
	Expired    bool      `msgpack:"x,omitempty"`
	DiscardOwn bool      `msgpack:"n,omitempty"`
	Err        string    `msgpack:"e,omitempty"`
}

func (f *Frame) view() View {

	return View{
		ID:      f.ViewID,
		Members: f.Members,
	}
}

func viewFrame(v View) *Frame {

	return &Frame{
		Kind:    frameView,
		ViewID:  v.ID,
		Members: v.Members,
	}
}
