package comm

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// Structs

// recorder is a Receiver remembering everything it is
// called with. If block is set, Receive waits on it.
type recorder struct {
	lock          *sync.Mutex
	msgs          []Message
	views         []View
	suspects      []Address
	state         []byte
	installed     []byte
	installedFrom Address
	block         chan struct{}
}

// Functions

func newRecorder(state string) *recorder {

	return &recorder{
		lock:  &sync.Mutex{},
		state: []byte(state),
	}
}

func (r *recorder) Receive(msg Message) {

	if r.block != nil {
		<-r.block
	}

	r.lock.Lock()
	r.msgs = append(r.msgs, msg)
	r.lock.Unlock()
}

func (r *recorder) GetState() ([]byte, error) {
	return r.state, nil
}

func (r *recorder) SetState(src Address, state []byte) error {

	r.lock.Lock()
	r.installed = state
	r.installedFrom = src
	r.lock.Unlock()

	return nil
}

func (r *recorder) ViewAccepted(view View) {

	r.lock.Lock()
	r.views = append(r.views, view)
	r.lock.Unlock()
}

func (r *recorder) Suspect(addr Address) {

	r.lock.Lock()
	r.suspects = append(r.suspects, addr)
	r.lock.Unlock()
}

func (r *recorder) received() []string {

	r.lock.Lock()
	defer r.lock.Unlock()

	data := make([]string, len(r.msgs))
	for i, msg := range r.msgs {
		data[i] = string(msg.Data)
	}

	return data
}

func (r *recorder) suspected() []Address {

	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]Address{}, r.suspects...)
}

func connected(t *testing.T, hub *Hub, group string, r Receiver) *MemChannel {

	ch := hub.NewChannel()
	ch.SetReceiver(r)

	if err := ch.Connect(group); err != nil {
		t.Fatalf("[comm.connected] Expected success joining group '%s' but received: '%v'\n", group, err)
	}

	return ch
}

// TestHubJoin checks view installation and the
// errors of a wrongly used channel.
func TestHubJoin(t *testing.T) {

	hub := NewHub(nil)
	defer hub.Close()

	unready := hub.NewChannel()
	assert.Equal(t, ErrNoReceiver, unready.Connect("join"))
	assert.Equal(t, ErrNotConnected, errors.Cause(unready.Broadcast([]byte("x"))))

	_, err := unready.RequestState(time.Second)
	assert.Equal(t, ErrNotConnected, err)

	ra, rb := newRecorder(""), newRecorder("")

	a := connected(t, hub, "join", ra)
	b := connected(t, hub, "join", rb)

	assert.Equal(t, ErrAlreadyConnected, a.Connect("join"))

	// Views are installed before Connect returns.
	view := b.View()
	assert.Equal(t, []Address{a.Address(), b.Address()}, view.Members)
	assert.Equal(t, a.Address(), view.Coordinator())
	assert.Equal(t, true, view.Contains(b.Address()))

	assert.Eventually(t, func() bool { return a.View().ID == view.ID }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"join"}, hub.Groups())
}

// TestHubTotalOrder broadcasts concurrently from two
// members and expects all three to deliver the same
// sequence.
func TestHubTotalOrder(t *testing.T) {

	hub := NewHub(nil)
	defer hub.Close()

	recorders := []*recorder{newRecorder(""), newRecorder(""), newRecorder("")}
	channels := make([]*MemChannel, len(recorders))

	for i, r := range recorders {
		channels[i] = connected(t, hub, "order", r)
	}

	wg := &sync.WaitGroup{}

	for i := 0; i < 2; i++ {

		wg.Add(1)

		go func(ch *MemChannel, name string) {

			defer wg.Done()

			for j := 0; j < 50; j++ {
				if err := ch.Broadcast([]byte(fmt.Sprintf("%s-%d", name, j))); err != nil {
					t.Errorf("[comm.TestHubTotalOrder] Expected successful broadcast but received: '%v'\n", err)
				}
			}
		}(channels[i], fmt.Sprintf("m%d", i))
	}

	wg.Wait()

	for _, r := range recorders {
		r := r
		assert.Eventually(t, func() bool { return len(r.received()) == 100 }, time.Second, 5*time.Millisecond)
	}

	assert.Equal(t, recorders[0].received(), recorders[1].received())
	assert.Equal(t, recorders[0].received(), recorders[2].received())
}

// TestHubDiscardOwn checks that a member discarding its
// own messages still delivers them to everybody else.
func TestHubDiscardOwn(t *testing.T) {

	hub := NewHub(nil)
	defer hub.Close()

	ra, rb := newRecorder(""), newRecorder("")

	a := hub.NewChannel()
	a.SetReceiver(ra)
	a.SetDiscardOwnMessages(true)
	assert.Nil(t, a.Connect("loop"))

	b := connected(t, hub, "loop", rb)

	assert.Nil(t, a.Broadcast([]byte("from-a")))
	assert.Nil(t, b.Broadcast([]byte("from-b")))

	assert.Eventually(t, func() bool { return len(rb.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"from-a", "from-b"}, rb.received())

	assert.Eventually(t, func() bool { return len(ra.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"from-b"}, ra.received())
}

// TestHubStateTransfer pulls the state of the oldest
// member into a joining one.
func TestHubStateTransfer(t *testing.T) {

	hub := NewHub(nil)
	defer hub.Close()

	ra, rb, rc := newRecorder("state-a"), newRecorder("state-b"), newRecorder("state-c")

	a := connected(t, hub, "state", ra)

	// Alone in the group, there is nothing to pull.
	ok, err := a.RequestState(time.Second)
	assert.Nil(t, err)
	assert.Equal(t, false, ok)

	connected(t, hub, "state", rb)
	c := connected(t, hub, "state", rc)

	ok, err = c.RequestState(time.Second)
	if err != nil {
		t.Fatalf("[comm.TestHubStateTransfer] Expected successful state transfer but received: '%v'\n", err)
	}

	assert.Equal(t, true, ok)
	assert.Equal(t, "state-a", string(rc.installed))
	assert.Equal(t, a.Address(), rc.installedFrom)
}

// TestHubStateTimeout stalls the group so that a state
// request cannot be served in time.
func TestHubStateTimeout(t *testing.T) {

	hub := NewHub(nil)
	defer hub.Close()

	ra, rb := newRecorder("state-a"), newRecorder("")
	ra.block = make(chan struct{})

	connected(t, hub, "stall", ra)
	b := connected(t, hub, "stall", rb)

	// a blocks on delivering this message.
	assert.Nil(t, b.Broadcast([]byte("stall")))

	_, err := b.RequestState(20 * time.Millisecond)
	assert.Equal(t, ErrStateTimeout, errors.Cause(err))

	close(ra.block)

	// The abandoned request is dropped, not installed.
	assert.Nil(t, b.Broadcast([]byte("after")))
	assert.Eventually(t, func() bool { return len(rb.received()) == 2 }, time.Second, 5*time.Millisecond)

	rb.lock.Lock()
	assert.Nil(t, rb.installed)
	rb.lock.Unlock()
}

// TestHubLeave checks suspicion, view changes and
// retirement of empty groups.
func TestHubLeave(t *testing.T) {

	hub := NewHub(nil)
	defer hub.Close()

	ra, rb, rc := newRecorder(""), newRecorder(""), newRecorder("")

	a := connected(t, hub, "leave", ra)
	b := connected(t, hub, "leave", rb)
	c := connected(t, hub, "leave", rc)

	assert.Nil(t, b.leave(true))
	assert.Eventually(t, func() bool { return len(rc.suspected()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Address{b.Address()}, ra.suspected())

	assert.Eventually(t, func() bool { return len(a.View().Members) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, ErrClosed, b.Broadcast([]byte("x")))
	assert.Equal(t, ErrClosed, b.Connect("leave"))

	assert.Nil(t, c.Close())
	assert.Nil(t, a.Close())

	assert.Eventually(t, func() bool { return len(hub.Groups()) == 0 }, time.Second, 5*time.Millisecond)
}

// TestHubDuplicateAddress checks that a second channel
// claiming the address of a member is not admitted.
func TestHubDuplicateAddress(t *testing.T) {

	hub := NewHub(nil)
	defer hub.Close()

	ra, rb := newRecorder(""), newRecorder("")

	a := connected(t, hub, "dup", ra)
	defer a.Close()

	b := hub.NewChannel()
	b.addr = a.Address()
	b.SetReceiver(rb)

	err := b.Connect("dup")
	if errors.Cause(err) != ErrAddressInUse {
		t.Fatalf("[comm.TestHubDuplicateAddress] Expected '%v' but received: '%v'\n", ErrAddressInUse, err)
	}

	assert.Equal(t, []Address{a.Address()}, a.View().Members)
	assert.Equal(t, ErrNotConnected, errors.Cause(b.Broadcast([]byte("x"))))

	// The rejected channel may join under a fresh address.
	b.addr = NewAddress()
	assert.Nil(t, b.Connect("dup"))
	defer b.Close()

	assert.Equal(t, []Address{a.Address(), b.Address()}, b.View().Members)
}
