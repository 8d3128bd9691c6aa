package comm

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
)

// Errors

var (
	// ErrNotConnected is returned when a channel is used
	// before it joined a group.
	ErrNotConnected = errors.New("channel not connected")

	// ErrClosed is returned on any use of a closed channel.
	ErrClosed = errors.New("channel closed")

	// ErrAlreadyConnected marks a second Connect on one channel.
	ErrAlreadyConnected = errors.New("channel already connected")

	// ErrStateTimeout signals that no state arrived within
	// the requested bound.
	ErrStateTimeout = errors.New("state transfer timed out")

	// ErrNoReceiver is returned by Connect if no receiver
	// was registered beforehand.
	ErrNoReceiver = errors.New("no receiver registered")

	// ErrAddressInUse rejects a join under an address that
	// already belongs to a member of the group.
	ErrAddressInUse = errors.New("address already in use in group")
)

// Structs

// Address identifies one member of a group.
type Address string

// View is the membership of a group as seen at one
// point of its total order. Members are sorted by
// join time, the first one is the coordinator.
type View struct {
	ID      uint64
	Members []Address
}

// Message is one broadcast payload delivered to a member.
type Message struct {
	Src  Address
	Data []byte
}

// Receiver is what a channel calls into. All calls for
// one group arrive serialized on one goroutine.
type Receiver interface {

	// Receive is called for every broadcast delivered
	// to this member.
	Receive(msg Message)

	// GetState is called when another member joins and
	// pulls the state of this one.
	GetState() ([]byte, error)

	// SetState installs the state src provided for this
	// member after it requested it.
	SetState(src Address, state []byte) error

	// ViewAccepted is called after every membership change.
	ViewAccepted(view View)

	// Suspect is called when a member left without saying so.
	Suspect(addr Address)
}

// Channel is one member's handle on a group.
type Channel interface {

	// SetReceiver registers the handler for all inbound
	// traffic. Must be called before Connect.
	SetReceiver(r Receiver)

	// SetDiscardOwnMessages controls whether broadcasts
	// are delivered back to the sending member.
	SetDiscardOwnMessages(discard bool)

	// Connect joins the named group and blocks until
	// this member is part of a view.
	Connect(group string) error

	// Broadcast sends data to all members of the group.
	// It does not wait for delivery.
	Broadcast(data []byte) error

	// RequestState pulls the state of the oldest other
	// member and hands it to the receiver's SetState. It
	// returns false if this member is alone in the group.
	RequestState(timeout time.Duration) (bool, error)

	// Address returns the local member address.
	Address() Address

	// View returns the last view this member accepted.
	View() View

	// Close leaves the group. A closed channel cannot
	// be reconnected.
	Close() error
}

// Functions

// NewAddress returns a fresh, random member address.
func NewAddress() Address {
	return Address(uuid.NewV4().String())
}

// Contains reports whether addr is a member of view v.
func (v View) Contains(addr Address) bool {

	for _, member := range v.Members {
		if member == addr {
			return true
		}
	}

	return false
}

// Coordinator returns the oldest member of the view.
func (v View) Coordinator() Address {

	if len(v.Members) == 0 {
		return ""
	}

	return v.Members[0]
}

func (v View) String() string {

	members := make([]string, len(v.Members))
	for i, member := range v.Members {
		members[i] = string(member)
	}

	return fmt.Sprintf("[%d] %s", v.ID, strings.Join(members, ", "))
}
