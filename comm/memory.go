package comm

import (
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Constants

type eventKind int

const (
	eventJoin eventKind = iota
	eventLeave
	eventBroadcast
	eventState
)

// Structs

// Hub hosts any number of groups inside one process.
// Channels created from the same Hub can see each other.
type Hub struct {
	lock   *sync.Mutex
	logger log.Logger
	groups map[string]*group
}

// group owns the total order of one named group. Only
// its dispatcher goroutine touches members and viewID.
type group struct {
	lock    *sync.Mutex
	cond    *sync.Cond
	hub     *Hub
	logger  log.Logger
	name    string
	events  []event
	stopped bool
	members []*MemChannel
	viewID  uint64
}

type event struct {
	kind    eventKind
	ch      *MemChannel
	data    []byte
	suspect bool
	done    chan error
	state   *stateRequest
}

// stateRequest is shared between a waiting requester
// and the dispatcher. Whoever flips it first wins: the
// dispatcher by taking it, the requester by abandoning it.
type stateRequest struct {
	lock      *sync.Mutex
	taken     bool
	abandoned bool
	result    chan stateResult
}

type stateResult struct {
	ok  bool
	err error
}

// MemChannel is a Channel attached to a Hub.
type MemChannel struct {
	lock       *sync.RWMutex
	hub        *Hub
	addr       Address
	receiver   Receiver
	discardOwn bool
	group      *group
	joined     bool
	closed     bool
	view       View
}

// Functions

// NewHub returns an empty Hub logging to logger.
func NewHub(logger log.Logger) *Hub {

	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Hub{
		lock:   &sync.Mutex{},
		logger: logger,
		groups: make(map[string]*group),
	}
}

// NewChannel creates an unconnected channel with a
// fresh address on this Hub.
func (h *Hub) NewChannel() *MemChannel {

	return &MemChannel{
		lock: &sync.RWMutex{},
		hub:  h,
		addr: NewAddress(),
	}
}

// Close stops all groups of this Hub. Channels still
// connected fail with ErrClosed afterwards.
func (h *Hub) Close() {

	h.lock.Lock()
	defer h.lock.Unlock()

	for name, g := range h.groups {
		g.stop()
		delete(h.groups, name)
	}
}

// Groups returns the names of all groups that
// currently have a running dispatcher.
func (h *Hub) Groups() []string {

	h.lock.Lock()
	defer h.lock.Unlock()

	names := make([]string, 0, len(h.groups))
	for name := range h.groups {
		names = append(names, name)
	}

	return names
}

// enqueueJoin finds or creates the group called name and
// appends the join event while still holding the Hub lock,
// so that a group cannot be retired in between.
func (h *Hub) enqueueJoin(name string, ev event) *group {

	h.lock.Lock()
	defer h.lock.Unlock()

	g, found := h.groups[name]
	if !found {

		g = &group{
			lock:   &sync.Mutex{},
			hub:    h,
			logger: log.With(h.logger, "group", name),
			name:   name,
		}
		g.cond = sync.NewCond(g.lock)
		h.groups[name] = g

		go g.run()
	}

	g.enqueue(ev)

	return g
}

// retire removes g from the Hub once it has no members
// and no pending events left.
func (h *Hub) retire(g *group) {

	h.lock.Lock()
	defer h.lock.Unlock()

	g.lock.Lock()
	idle := len(g.events) == 0
	g.lock.Unlock()

	if idle && (len(g.members) == 0) && (h.groups[g.name] == g) {
		delete(h.groups, g.name)
		g.stop()
	}
}

func (g *group) enqueue(ev event) bool {

	g.lock.Lock()
	defer g.lock.Unlock()

	if g.stopped {
		return false
	}

	g.events = append(g.events, ev)
	g.cond.Signal()

	return true
}

func (g *group) stop() {

	g.lock.Lock()
	g.stopped = true
	g.cond.Broadcast()
	g.lock.Unlock()
}

// run is the dispatcher loop of a group. Every event is
// handled to completion before the next one is taken.
func (g *group) run() {

	for {

		g.lock.Lock()

		for (len(g.events) == 0) && !g.stopped {
			g.cond.Wait()
		}

		if g.stopped {

			// Fail everybody still waiting on us.
			pending := g.events
			g.events = nil
			g.lock.Unlock()

			for _, ev := range pending {
				g.abort(ev)
			}

			return
		}

		ev := g.events[0]
		g.events[0] = event{}
		g.events = g.events[1:]

		g.lock.Unlock()

		switch ev.kind {
		case eventJoin:
			g.handleJoin(ev)
		case eventLeave:
			g.handleLeave(ev)
		case eventBroadcast:
			g.handleBroadcast(ev)
		case eventState:
			g.handleState(ev)
		}
	}
}

func (g *group) abort(ev event) {

	if ev.done != nil {
		ev.done <- ErrClosed
	}

	if (ev.state != nil) && ev.state.take() {
		ev.state.result <- stateResult{err: ErrClosed}
	}
}

func (g *group) currentView() View {

	members := make([]Address, len(g.members))
	for i, member := range g.members {
		members[i] = member.addr
	}

	return View{
		ID:      g.viewID,
		Members: members,
	}
}

func (g *group) installView() {

	g.viewID++
	view := g.currentView()

	level.Debug(g.logger).Log("msg", "installing view", "view", view.String())

	for _, member := range g.members {
		member.accept(view)
	}
}

func (g *group) handleJoin(ev event) {

	// A channel closed before its join was processed
	// never becomes a member.
	if ev.ch.isClosed() {
		ev.done <- ErrClosed
		g.hub.retire(g)
		return
	}

	// Members tell their own broadcasts apart by address.
	for _, member := range g.members {
		if member.addr == ev.ch.addr {
			level.Warn(g.logger).Log("msg", "rejecting join under taken address", "addr", ev.ch.addr)
			ev.done <- ErrAddressInUse
			return
		}
	}

	g.members = append(g.members, ev.ch)
	ev.ch.markJoined()

	g.installView()

	ev.done <- nil
}

func (g *group) handleLeave(ev event) {

	idx := -1
	for i, member := range g.members {
		if member == ev.ch {
			idx = i
			break
		}
	}

	if idx >= 0 {

		g.members = append(g.members[:idx], g.members[(idx+1):]...)

		if ev.suspect {

			level.Warn(g.logger).Log("msg", "member suspected", "addr", ev.ch.addr)

			for _, member := range g.members {
				member.receiver.Suspect(ev.ch.addr)
			}
		}

		g.installView()
	}

	if ev.done != nil {
		ev.done <- nil
	}

	if len(g.members) == 0 {
		g.hub.retire(g)
	}
}

func (g *group) handleBroadcast(ev event) {

	msg := Message{
		Src:  ev.ch.addr,
		Data: ev.data,
	}

	for _, member := range g.members {

		if (member == ev.ch) && member.discardsOwn() {
			continue
		}

		member.receiver.Receive(msg)
	}
}

// handleState serves a state request at its position in
// the total order. All events before it have been delivered
// to the provider, none after it to the requester.
func (g *group) handleState(ev event) {

	var provider *MemChannel
	member := false

	for _, m := range g.members {

		if m == ev.ch {
			member = true
		} else if provider == nil {
			provider = m
		}
	}

	if !member {

		if ev.state.take() {
			ev.state.result <- stateResult{err: ErrNotConnected}
		}

		return
	}

	if provider == nil {

		if ev.state.take() {
			ev.state.result <- stateResult{ok: false}
		}

		return
	}

	// Requester gave up already, do not
	// install a state it no longer waits for.
	if !ev.state.take() {
		level.Debug(g.logger).Log("msg", "dropping abandoned state request", "requester", ev.ch.addr)
		return
	}

	state, err := provider.receiver.GetState()
	if err != nil {
		ev.state.result <- stateResult{err: errors.Wrapf(err, "state provider %s failed", provider.addr)}
		return
	}

	err = ev.ch.receiver.SetState(provider.addr, state)
	if err != nil {
		ev.state.result <- stateResult{err: errors.Wrap(err, "installing state failed")}
		return
	}

	ev.state.result <- stateResult{ok: true}
}

func newStateRequest() *stateRequest {

	return &stateRequest{
		lock:   &sync.Mutex{},
		result: make(chan stateResult, 1),
	}
}

func (r *stateRequest) take() bool {

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.abandoned || r.taken {
		return false
	}

	r.taken = true

	return true
}

func (r *stateRequest) abandon() bool {

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.taken {
		return false
	}

	r.abandoned = true

	return true
}

// await blocks for the result of r, at most for timeout
// unless the dispatcher is already serving it.
func (r *stateRequest) await(timeout time.Duration) (bool, error) {

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-r.result:
		return res.ok, res.err
	case <-timer.C:
	}

	if r.abandon() {
		return false, errors.Wrapf(ErrStateTimeout, "no state within %s", timeout)
	}

	res := <-r.result

	return res.ok, res.err
}

// SetReceiver registers r for all inbound traffic.
func (c *MemChannel) SetReceiver(r Receiver) {

	c.lock.Lock()
	c.receiver = r
	c.lock.Unlock()
}

// SetDiscardOwnMessages toggles loopback delivery.
func (c *MemChannel) SetDiscardOwnMessages(discard bool) {

	c.lock.Lock()
	c.discardOwn = discard
	c.lock.Unlock()
}

// Connect joins the group called name on the Hub.
func (c *MemChannel) Connect(name string) error {

	c.lock.Lock()

	if c.closed {
		c.lock.Unlock()
		return ErrClosed
	}

	if c.group != nil {
		c.lock.Unlock()
		return ErrAlreadyConnected
	}

	if c.receiver == nil {
		c.lock.Unlock()
		return ErrNoReceiver
	}

	done := make(chan error, 1)
	c.group = c.hub.enqueueJoin(name, event{
		kind: eventJoin,
		ch:   c,
		done: done,
	})

	c.lock.Unlock()

	if err := <-done; err != nil {

		c.lock.Lock()
		c.group = nil
		c.lock.Unlock()

		return errors.Wrapf(err, "joining group %s failed", name)
	}

	return nil
}

// Broadcast hands data to the group's dispatcher.
func (c *MemChannel) Broadcast(data []byte) error {

	c.lock.RLock()
	closed, joined, g := c.closed, c.joined, c.group
	c.lock.RUnlock()

	if closed {
		return ErrClosed
	}

	if !joined {
		return ErrNotConnected
	}

	ok := g.enqueue(event{
		kind: eventBroadcast,
		ch:   c,
		data: data,
	})
	if !ok {
		return ErrClosed
	}

	return nil
}

// RequestState pulls the state of the oldest other member.
func (c *MemChannel) RequestState(timeout time.Duration) (bool, error) {

	c.lock.RLock()
	closed, joined, g := c.closed, c.joined, c.group
	c.lock.RUnlock()

	if closed {
		return false, ErrClosed
	}

	if !joined {
		return false, ErrNotConnected
	}

	req := newStateRequest()

	ok := g.enqueue(event{
		kind:  eventState,
		ch:    c,
		state: req,
	})
	if !ok {
		return false, ErrClosed
	}

	return req.await(timeout)
}

// Address returns the address of this member.
func (c *MemChannel) Address() Address {
	return c.addr
}

// View returns the last accepted view.
func (c *MemChannel) View() View {

	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.view
}

// Close leaves the group. It does not wait for the leave
// to be processed so it is safe to call from a receiver.
func (c *MemChannel) Close() error {
	return c.leave(false)
}

func (c *MemChannel) leave(suspect bool) error {

	c.lock.Lock()

	if c.closed {
		c.lock.Unlock()
		return nil
	}

	c.closed = true
	g := c.group

	c.lock.Unlock()

	if g != nil {
		g.enqueue(event{
			kind:    eventLeave,
			ch:      c,
			suspect: suspect,
		})
	}

	return nil
}

func (c *MemChannel) accept(view View) {

	c.lock.Lock()
	c.view = view
	r := c.receiver
	c.lock.Unlock()

	r.ViewAccepted(view)
}

func (c *MemChannel) markJoined() {

	c.lock.Lock()
	c.joined = true
	c.lock.Unlock()
}

func (c *MemChannel) isClosed() bool {

	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.closed
}

func (c *MemChannel) discardsOwn() bool {

	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.discardOwn
}
