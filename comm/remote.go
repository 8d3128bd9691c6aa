package comm

import (
	"io"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
)

// Constants

// stateGrace is added to a state timeout on the member
// side, the sequencer enforces the actual bound.
const stateGrace = 2 * time.Second

// DefaultDialTimeout bounds dialing and admission to a
// group when no other timeout is given.
const DefaultDialTimeout = 10 * time.Second

// Structs

// RemoteChannel is a Channel whose group lives on
// a Sequencer reachable via gRPC.
type RemoteChannel struct {
	lock        *sync.RWMutex
	sendLock    *sync.Mutex
	logger      log.Logger
	target      string
	dialOpts    []grpc.DialOption
	dialTimeout time.Duration
	addr        Address
	receiver    Receiver
	discardOwn  bool
	conn        *grpc.ClientConn
	stream      grpc.ClientStream
	cancel      context.CancelFunc
	connecting  bool
	joined      bool
	closed      bool
	view        View
	joinedC     chan struct{}
	doneC       chan struct{}
	nextReq     uint64
	pending     map[uint64]chan *Frame
	installErr  error
	streamErr   error
}

// Functions

// NewRemoteChannel prepares a channel to the sequencer at
// target. Nothing is dialed before Connect.
func NewRemoteChannel(logger log.Logger, target string, dialTimeout time.Duration, opts ...grpc.DialOption) *RemoteChannel {

	if logger == nil {
		logger = log.NewNopLogger()
	}

	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	addr := NewAddress()

	return &RemoteChannel{
		lock:        &sync.RWMutex{},
		sendLock:    &sync.Mutex{},
		logger:      log.With(logger, "member", addr),
		target:      target,
		dialOpts:    opts,
		dialTimeout: dialTimeout,
		addr:        addr,
		joinedC:     make(chan struct{}),
		doneC:       make(chan struct{}),
		pending:     make(map[uint64]chan *Frame),
	}
}

// SetReceiver registers r for all inbound traffic.
func (c *RemoteChannel) SetReceiver(r Receiver) {

	c.lock.Lock()
	c.receiver = r
	c.lock.Unlock()
}

// SetDiscardOwnMessages toggles loopback delivery. On a
// connected channel the sequencer is told immediately.
func (c *RemoteChannel) SetDiscardOwnMessages(discard bool) {

	c.lock.Lock()
	c.discardOwn = discard
	joined := c.joined
	c.lock.Unlock()

	if joined {

		err := c.send(&Frame{Kind: frameDiscardOwn, DiscardOwn: discard})
		if err != nil {
			level.Warn(c.logger).Log("msg", "failed to update loopback setting", "err", err)
		}
	}
}

// Connect dials the sequencer, opens the member stream and
// waits until the sequencer reports a view containing us.
func (c *RemoteChannel) Connect(group string) error {

	c.lock.Lock()

	if c.closed {
		c.lock.Unlock()
		return ErrClosed
	}

	if c.connecting {
		c.lock.Unlock()
		return ErrAlreadyConnected
	}

	if c.receiver == nil {
		c.lock.Unlock()
		return ErrNoReceiver
	}

	c.connecting = true
	discardOwn := c.discardOwn

	c.lock.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer dialCancel()

	conn, err := grpc.DialContext(dialCtx, c.target, c.dialOpts...)
	if err != nil {
		return errors.Wrapf(err, "dialing sequencer at %s failed", c.target)
	}

	ctx, cancel := context.WithCancel(context.Background())

	stream, err := conn.NewStream(ctx, &sequencerServiceDesc.Streams[0], memberMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		cancel()
		conn.Close()
		return errors.Wrap(err, "opening member stream failed")
	}

	c.lock.Lock()
	c.conn = conn
	c.stream = stream
	c.cancel = cancel
	c.lock.Unlock()

	err = c.send(&Frame{
		Kind:       frameJoin,
		Group:      group,
		Src:        c.addr,
		DiscardOwn: discardOwn,
	})
	if err != nil {
		c.teardown()
		return errors.Wrap(err, "sending join failed")
	}

	go c.recvLoop()

	timer := time.NewTimer(c.dialTimeout)
	defer timer.Stop()

	select {

	case <-c.joinedC:
		level.Debug(c.logger).Log("msg", "joined group", "group", group)
		return nil

	case <-c.doneC:

		c.lock.RLock()
		streamErr := c.streamErr
		c.lock.RUnlock()

		if streamErr != nil && streamErr != io.EOF {
			return errors.Wrapf(streamErr, "sequencer refused us in group %s", group)
		}

		return errors.Errorf("sequencer closed the stream before admitting us to group %s", group)

	case <-timer.C:
		c.teardown()
		return errors.Errorf("not admitted to group %s within %s", group, c.dialTimeout)
	}
}

// recvLoop is the only reader of the stream. Every call
// into the receiver happens from here, one at a time.
func (c *RemoteChannel) recvLoop() {

	defer close(c.doneC)

	for {

		f := new(Frame)

		if err := c.stream.RecvMsg(f); err != nil {

			c.lock.Lock()
			closed := c.closed
			c.streamErr = err
			c.lock.Unlock()

			if !closed {
				level.Warn(c.logger).Log("msg", "member stream ended", "err", err)
			}

			c.teardown()

			return
		}

		c.lock.RLock()
		r := c.receiver
		c.lock.RUnlock()

		switch f.Kind {

		case frameView:

			view := f.view()

			c.lock.Lock()
			c.view = view
			admitted := !c.joined && view.Contains(c.addr)
			if admitted {
				c.joined = true
			}
			c.lock.Unlock()

			if admitted {
				close(c.joinedC)
			}

			r.ViewAccepted(view)

		case frameDeliver:
			r.Receive(Message{Src: f.Src, Data: f.Data})

		case frameSuspect:
			r.Suspect(f.Src)

		case frameServeState:

			reply := &Frame{
				Kind:  frameStateReply,
				ReqID: f.ReqID,
			}

			state, err := r.GetState()
			if err != nil {
				reply.Err = err.Error()
			} else {
				reply.Data = state
			}

			if err := c.send(reply); err != nil {
				level.Warn(c.logger).Log("msg", "failed to send state", "err", err)
			}

		case frameInstallState:

			err := r.SetState(f.Src, f.Data)

			c.lock.Lock()
			c.installErr = err
			c.lock.Unlock()

		case frameStateDone:

			c.lock.Lock()
			waiting, found := c.pending[f.ReqID]
			delete(c.pending, f.ReqID)
			c.lock.Unlock()

			if found {
				waiting <- f
			}

		default:
			level.Warn(c.logger).Log("msg", "ignoring unexpected frame", "kind", f.Kind)
		}
	}
}

func (c *RemoteChannel) send(f *Frame) error {

	c.lock.RLock()
	stream := c.stream
	c.lock.RUnlock()

	if stream == nil {
		return ErrNotConnected
	}

	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	return stream.SendMsg(f)
}

// teardown releases stream and connection and
// fails all outstanding state requests.
func (c *RemoteChannel) teardown() {

	c.lock.Lock()

	c.joined = false
	c.closed = true

	cancel, conn := c.cancel, c.conn
	c.cancel, c.conn = nil, nil

	for id, waiting := range c.pending {
		waiting <- &Frame{Kind: frameStateDone, ReqID: id, Err: ErrClosed.Error()}
		delete(c.pending, id)
	}

	c.lock.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		conn.Close()
	}
}

// Broadcast sends data to the sequencer for
// delivery to the group.
func (c *RemoteChannel) Broadcast(data []byte) error {

	c.lock.RLock()
	closed, joined := c.closed, c.joined
	c.lock.RUnlock()

	if closed {
		return ErrClosed
	}

	if !joined {
		return ErrNotConnected
	}

	if err := c.send(&Frame{Kind: frameBroadcast, Data: data}); err != nil {
		return errors.Wrap(err, "sending broadcast to sequencer failed")
	}

	return nil
}

// RequestState asks the sequencer to pull state from the
// oldest other member. The state is installed through the
// receiver before the result arrives.
func (c *RemoteChannel) RequestState(timeout time.Duration) (bool, error) {

	c.lock.Lock()

	if c.closed {
		c.lock.Unlock()
		return false, ErrClosed
	}

	if !c.joined {
		c.lock.Unlock()
		return false, ErrNotConnected
	}

	c.nextReq++
	id := c.nextReq
	waiting := make(chan *Frame, 1)
	c.pending[id] = waiting
	c.installErr = nil

	c.lock.Unlock()

	err := c.send(&Frame{
		Kind:    frameGetState,
		ReqID:   id,
		Timeout: int64(timeout / time.Millisecond),
	})
	if err != nil {

		c.lock.Lock()
		delete(c.pending, id)
		c.lock.Unlock()

		return false, errors.Wrap(err, "sending state request failed")
	}

	timer := time.NewTimer(timeout + stateGrace)
	defer timer.Stop()

	select {

	case done := <-waiting:

		if done.Expired {
			return false, errors.Wrap(ErrStateTimeout, done.Err)
		}

		if done.Err != "" {
			return false, errors.New(done.Err)
		}

		c.lock.RLock()
		installErr := c.installErr
		c.lock.RUnlock()

		if installErr != nil {
			return false, errors.Wrap(installErr, "installing state failed")
		}

		return done.OK, nil

	case <-timer.C:

		c.lock.Lock()
		delete(c.pending, id)
		c.lock.Unlock()

		return false, errors.Wrapf(ErrStateTimeout, "no answer from sequencer within %s", timeout+stateGrace)
	}
}

// Address returns the address of this member.
func (c *RemoteChannel) Address() Address {
	return c.addr
}

// View returns the last view the sequencer reported.
func (c *RemoteChannel) View() View {

	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.view
}

// Close announces the leave and releases the connection.
func (c *RemoteChannel) Close() error {

	c.lock.RLock()
	closed, joined := c.closed, c.joined
	c.lock.RUnlock()

	if closed {
		return nil
	}

	if joined {

		if err := c.send(&Frame{Kind: frameLeave}); err != nil {
			level.Debug(c.logger).Log("msg", "failed to announce leave", "err", err)
		}

		c.sendLock.Lock()
		c.stream.CloseSend()
		c.sendLock.Unlock()
	}

	c.teardown()

	return nil
}
