package comm

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Constants

const (
	// SequencerService is the gRPC service name of the
	// sequencer, also reported to health checks.
	SequencerService = "clustered.comm.Sequencer"

	memberMethod = "/" + SequencerService + "/Member"
)

// Structs

// Sequencer puts the traffic of remote members into one
// total order per group. It hosts a Hub and attaches one
// hub channel per member stream.
type Sequencer struct {
	logger       log.Logger
	hub          *Hub
	health       *health.Server
	stateTimeout time.Duration
	lock         *sync.Mutex
	server       *grpc.Server
}

// sequencerServer is the handler type registered
// with gRPC for the Member stream.
type sequencerServer interface {
	Member(stream grpc.ServerStream) error
}

// memberProxy is the hub-side Receiver of one remote
// member. It forwards everything down the stream.
type memberProxy struct {
	logger       log.Logger
	stream       grpc.ServerStream
	sendLock     *sync.Mutex
	lock         *sync.Mutex
	nextReq      uint64
	pending      map[uint64]chan *Frame
	stateTimeout time.Duration
}

// Variables

var sequencerServiceDesc = grpc.ServiceDesc{
	ServiceName: SequencerService,
	HandlerType: (*sequencerServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Member",
			Handler:       memberStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "comm/sequencer.go",
}

// Functions

// NewSequencer returns a sequencer whose members get
// stateTimeout to answer a state request of a joiner.
func NewSequencer(logger log.Logger, stateTimeout time.Duration) *Sequencer {

	if logger == nil {
		logger = log.NewNopLogger()
	}

	s := &Sequencer{
		logger:       logger,
		hub:          NewHub(log.With(logger, "component", "hub")),
		health:       health.NewServer(),
		stateTimeout: stateTimeout,
		lock:         &sync.Mutex{},
	}

	s.health.SetServingStatus(SequencerService, healthpb.HealthCheckResponse_SERVING)

	return s
}

func memberStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(sequencerServer).Member(stream)
}

// Register attaches the sequencer and its health
// service to an existing gRPC server.
func (s *Sequencer) Register(server *grpc.Server) {

	server.RegisterService(&sequencerServiceDesc, s)
	healthpb.RegisterHealthServer(server, s.health)
}

// Serve creates a gRPC server with opts, registers the
// sequencer and serves on listener until Stop is called.
func (s *Sequencer) Serve(listener net.Listener, opts ...grpc.ServerOption) error {

	server := grpc.NewServer(opts...)
	s.Register(server)

	s.lock.Lock()
	s.server = server
	s.lock.Unlock()

	level.Info(s.logger).Log("msg", "sequencer listening", "addr", listener.Addr())

	return server.Serve(listener)
}

// Stop marks the sequencer as not serving, stops its
// gRPC server if Serve created one and drops all groups.
func (s *Sequencer) Stop() {

	s.health.Shutdown()

	s.lock.Lock()
	server := s.server
	s.lock.Unlock()

	if server != nil {
		server.Stop()
	}

	s.hub.Close()
}

// Member handles the stream of exactly one group member
// from its join frame until it leaves or disconnects.
func (s *Sequencer) Member(stream grpc.ServerStream) error {

	join := new(Frame)
	if err := stream.RecvMsg(join); err != nil {
		return err
	}

	if (join.Kind != frameJoin) || (join.Group == "") {
		return status.Error(codes.InvalidArgument, "first frame on a member stream must be a join with a group name")
	}

	logger := log.With(s.logger, "group", join.Group, "member", join.Src)

	proxy := &memberProxy{
		logger:       logger,
		stream:       stream,
		sendLock:     &sync.Mutex{},
		lock:         &sync.Mutex{},
		pending:      make(map[uint64]chan *Frame),
		stateTimeout: s.stateTimeout,
	}

	ch := s.hub.NewChannel()
	if join.Src != "" {
		ch.addr = join.Src
	}

	ch.SetReceiver(proxy)
	ch.SetDiscardOwnMessages(join.DiscardOwn)

	if err := ch.Connect(join.Group); err != nil {

		if errors.Cause(err) == ErrAddressInUse {
			return status.Errorf(codes.AlreadyExists, "member %s is already part of group %s", join.Src, join.Group)
		}

		return status.Errorf(codes.Unavailable, "joining group %s failed: %v", join.Group, err)
	}

	level.Debug(logger).Log("msg", "member joined")

	for {

		f := new(Frame)

		err := stream.RecvMsg(f)
		if err != nil {

			// A stream that ends without a leave frame
			// means the member is gone unannounced.
			suspect := err != io.EOF
			if suspect {
				level.Warn(logger).Log("msg", "member stream broke", "err", err)
			}

			ch.leave(suspect)
			proxy.failPending()

			return nil
		}

		switch f.Kind {

		case frameBroadcast:

			if err := ch.Broadcast(f.Data); err != nil {
				level.Error(logger).Log("msg", "failed to enqueue broadcast", "err", err)
			}

		case frameDiscardOwn:
			ch.SetDiscardOwnMessages(f.DiscardOwn)

		case frameGetState:
			go proxy.requestState(ch, f)

		case frameStateReply:
			proxy.resolve(f)

		case frameLeave:

			level.Debug(logger).Log("msg", "member left")

			ch.leave(false)
			proxy.failPending()

			return nil

		default:
			level.Warn(logger).Log("msg", "ignoring unexpected frame", "kind", f.Kind)
		}
	}
}

// requestState runs a state request of the remote member on
// the hub and reports its outcome. Any state gets installed
// through SetState before the result frame is sent.
func (p *memberProxy) requestState(ch *MemChannel, f *Frame) {

	ok, err := ch.RequestState(time.Duration(f.Timeout) * time.Millisecond)

	done := &Frame{
		Kind:  frameStateDone,
		ReqID: f.ReqID,
		OK:    ok,
	}

	if err != nil {
		done.Err = err.Error()
		done.Expired = errors.Cause(err) == ErrStateTimeout
	}

	if err := p.send(done); err != nil {
		level.Warn(p.logger).Log("msg", "failed to report state request result", "err", err)
	}
}

func (p *memberProxy) send(f *Frame) error {

	p.sendLock.Lock()
	defer p.sendLock.Unlock()

	return p.stream.SendMsg(f)
}

func (p *memberProxy) resolve(f *Frame) {

	p.lock.Lock()
	waiting, found := p.pending[f.ReqID]
	delete(p.pending, f.ReqID)
	p.lock.Unlock()

	if found {
		waiting <- f
	}
}

func (p *memberProxy) failPending() {

	p.lock.Lock()
	defer p.lock.Unlock()

	for id, waiting := range p.pending {
		waiting <- &Frame{
			Kind:  frameStateReply,
			ReqID: id,
			Err:   ErrClosed.Error(),
		}
		delete(p.pending, id)
	}
}

// Receive forwards a delivered broadcast.
func (p *memberProxy) Receive(msg Message) {

	err := p.send(&Frame{
		Kind: frameDeliver,
		Src:  msg.Src,
		Data: msg.Data,
	})
	if err != nil {
		level.Warn(p.logger).Log("msg", "failed to forward message", "src", msg.Src, "err", err)
	}
}

// GetState asks the remote member for its state and
// waits for the reply, bounded by the state timeout.
func (p *memberProxy) GetState() ([]byte, error) {

	p.lock.Lock()
	p.nextReq++
	id := p.nextReq
	waiting := make(chan *Frame, 1)
	p.pending[id] = waiting
	p.lock.Unlock()

	if err := p.send(&Frame{Kind: frameServeState, ReqID: id}); err != nil {

		p.lock.Lock()
		delete(p.pending, id)
		p.lock.Unlock()

		return nil, errors.Wrap(err, "asking member for state failed")
	}

	timer := time.NewTimer(p.stateTimeout)
	defer timer.Stop()

	var ctx context.Context = p.stream.Context()

	select {

	case reply := <-waiting:

		if reply.Err != "" {
			return nil, errors.New(reply.Err)
		}

		return reply.Data, nil

	case <-timer.C:

		p.lock.Lock()
		delete(p.pending, id)
		p.lock.Unlock()

		return nil, errors.Wrapf(ErrStateTimeout, "member did not provide state within %s", p.stateTimeout)

	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "member stream ended while providing state")
	}
}

// SetState ships the state of src to the remote member.
func (p *memberProxy) SetState(src Address, state []byte) error {

	return p.send(&Frame{
		Kind: frameInstallState,
		Src:  src,
		Data: state,
	})
}

// ViewAccepted forwards a new view.
func (p *memberProxy) ViewAccepted(view View) {

	if err := p.send(viewFrame(view)); err != nil {
		level.Warn(p.logger).Log("msg", "failed to forward view", "view", view.String(), "err", err)
	}
}

// Suspect forwards a suspicion.
func (p *memberProxy) Suspect(addr Address) {

	if err := p.send(&Frame{Kind: frameSuspect, Src: addr}); err != nil {
		level.Warn(p.logger).Log("msg", fmt.Sprintf("failed to forward suspicion of %s", addr), "err", err)
	}
}
