package collections

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/clustered/comm"
	"github.com/pkg/errors"
)

// Structs

// Manager keeps one Managed collection in sync with its
// group. It owns the lock guarding the collection's local
// store and is the comm.Receiver of the group channel.
//
// Local mutations hold the lock from validation until the
// update was handed to the channel, so the order of this
// member's broadcasts equals the order it applied them in.
type Manager[P, S any] struct {
	lock         *sync.RWMutex
	logger       log.Logger
	metrics      *Metrics
	group        string
	channel      comm.Channel
	managed      Managed[P, S]
	callback     func()
	seq          uint64
	provider     comm.Address
	covered      uint64
	synced       bool
	stateTimeout time.Duration
}

// Functions

// NewManager connects ch to group with the Manager as its
// receiver and pulls the group's current state into managed.
// When it returns without error, managed holds a store equal
// to the one of the oldest other member at the join point.
// Payload and snapshot types holding an interface are refused
// with ErrUnsupportedType before ch is touched.
func NewManager[P, S any](group string, ch comm.Channel, managed Managed[P, S], opts ...Option) (*Manager[P, S], error) {

	if err := checkWireType[P](); err != nil {
		return nil, err
	}

	if err := checkWireType[S](); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	m := &Manager[P, S]{
		lock:         &sync.RWMutex{},
		logger:       log.With(o.logger, "group", group, "member", ch.Address()),
		metrics:      o.metrics.with(group),
		group:        group,
		channel:      ch,
		managed:      managed,
		stateTimeout: o.stateTimeout,
	}

	// Own broadcasts were applied before they were sent.
	ch.SetDiscardOwnMessages(true)
	ch.SetReceiver(m)

	if err := ch.Connect(group); err != nil {
		ch.Close()
		return nil, errors.Wrapf(ErrJoin, "connecting to group %s: %v", group, err)
	}

	err := m.Resync(o.stateTimeout)
	if err == nil {
		m.markSynced()
		return m, nil
	}

	if errors.Cause(err) == ErrStateTransferTimeout && o.emptyOnStateTimeout {
		level.Warn(m.logger).Log("msg", "no state received in time, starting with an empty store", "err", err)
		m.markSynced()
		return m, nil
	}

	ch.Close()

	return nil, err
}

// Resync pulls the complete state of the oldest other member
// and replaces the local store with it. Without other members
// the store is kept as is. It must neither be called from an
// update callback nor concurrently with local mutations.
func (m *Manager[P, S]) Resync(timeout time.Duration) error {

	if timeout <= 0 {
		timeout = m.stateTimeout
	}

	installed, err := m.channel.RequestState(timeout)
	if err != nil {

		if errors.Cause(err) == comm.ErrStateTimeout {
			return errors.Wrapf(ErrStateTransferTimeout, "group %s: %v", m.group, err)
		}

		return errors.Wrapf(ErrJoin, "state transfer in group %s: %v", m.group, err)
	}

	if !installed {
		level.Debug(m.logger).Log("msg", "no other member, keeping local store")
	}

	return nil
}

// markSynced ends the join phase. Updates failing to apply
// from then on count as failures.
func (m *Manager[P, S]) markSynced() {

	m.lock.Lock()
	m.synced = true
	m.lock.Unlock()
}

// mutate runs apply with the store lock held. apply changes
// the local store and calls send once per update to
// broadcast, right after the matching local change.
func (m *Manager[P, S]) mutate(apply func(send func(Action, P) error) error) error {

	m.lock.Lock()
	defer m.lock.Unlock()

	return apply(m.sendUpdate)
}

// read runs fn with the store lock held for reading.
func (m *Manager[P, S]) read(fn func()) {

	m.lock.RLock()
	defer m.lock.RUnlock()

	fn()
}

// sendUpdate broadcasts one update. The caller holds the
// write lock and has applied the update locally already,
// which stays in effect if sending fails.
func (m *Manager[P, S]) sendUpdate(action Action, payload P) error {

	m.seq++

	data, err := EncodeUpdate(Update[P]{
		Seq:     m.seq,
		Action:  action,
		Payload: payload,
	})
	if err != nil {
		return err
	}

	if err := m.channel.Broadcast(data); err != nil {
		level.Error(m.logger).Log("msg", "failed to broadcast update", "action", action, "err", err)
		return errors.Wrapf(ErrTransport, "%s in group %s: %v", action, m.group, err)
	}

	m.metrics.UpdatesSent.Add(1)

	return nil
}

// Receive applies an update broadcast by another member.
// Faulty updates are logged and dropped, they never stop
// delivery of the ones that follow.
func (m *Manager[P, S]) Receive(msg comm.Message) {

	if msg.Src == m.channel.Address() {
		return
	}

	u, err := DecodeUpdate[P](msg.Data)
	if err != nil {
		m.metrics.DecodeFailures.Add(1)
		level.Error(m.logger).Log("msg", "dropping undecodable update", "src", msg.Src, "err", err)
		return
	}

	m.lock.Lock()

	// The installed snapshot already contains every update
	// the provider sent up to the covered sequence number.
	if (msg.Src == m.provider) && (u.Seq <= m.covered) {
		m.lock.Unlock()
		m.metrics.UpdatesSkipped.Add(1)
		level.Debug(m.logger).Log("msg", "skipping update covered by snapshot", "src", msg.Src, "seq", u.Seq)
		return
	}

	err = m.managed.ApplyRemote(u.Action, u.Payload)
	callback := m.callback
	synced := m.synced

	m.lock.Unlock()

	// Until the snapshot is in, the store is still empty
	// and the snapshot will contain this update anyway.
	if err != nil && !synced {
		m.metrics.UpdatesSkipped.Add(1)
		level.Debug(m.logger).Log("msg", "update before state transfer did not apply", "src", msg.Src, "action", u.Action, "err", err)
		return
	}

	if err != nil {
		m.metrics.ApplyFailures.Add(1)
		level.Error(m.logger).Log("msg", "failed to apply remote update", "src", msg.Src, "action", u.Action, "err", err)
		return
	}

	m.metrics.UpdatesApplied.Add(1)

	if callback != nil {
		callback()
	}
}

// GetState serializes the local store for a joining member.
func (m *Manager[P, S]) GetState() ([]byte, error) {

	m.lock.RLock()
	data, err := EncodeSnapshot(Snapshot[S]{
		Seq:   m.seq,
		State: m.managed.ProvideSnapshot(),
	})
	m.lock.RUnlock()

	if err != nil {
		return nil, err
	}

	m.metrics.SnapshotsServed.Add(1)

	return data, nil
}

// SetState replaces the local store with the snapshot
// src provided.
func (m *Manager[P, S]) SetState(src comm.Address, state []byte) error {

	s, err := DecodeSnapshot[S](state)
	if err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.managed.InstallSnapshot(s.State); err != nil {
		return errors.Wrapf(err, "installing snapshot of %s", src)
	}

	m.provider = src
	m.covered = s.Seq
	m.synced = true

	m.metrics.SnapshotsInstalled.Add(1)
	level.Debug(m.logger).Log("msg", "installed snapshot", "src", src, "seq", s.Seq)

	return nil
}

// ViewAccepted logs membership changes.
func (m *Manager[P, S]) ViewAccepted(view comm.View) {
	level.Debug(m.logger).Log("msg", "view accepted", "view", view.String())
}

// Suspect logs members that vanished without leaving.
func (m *Manager[P, S]) Suspect(addr comm.Address) {
	level.Warn(m.logger).Log("msg", "member suspected", "addr", addr)
}

// SetUpdateCallback registers fn to be called after each
// applied remote update, outside of the store lock. Local
// mutations never trigger it. A nil fn removes it.
func (m *Manager[P, S]) SetUpdateCallback(fn func()) {

	m.lock.Lock()
	m.callback = fn
	m.lock.Unlock()
}

// Channel returns the group channel of this Manager.
func (m *Manager[P, S]) Channel() comm.Channel {
	return m.channel
}

// Group returns the name of the replicated group.
func (m *Manager[P, S]) Group() string {
	return m.group
}

// Close leaves the group. The local store stays readable.
func (m *Manager[P, S]) Close() error {
	return m.channel.Close()
}

func (m *Manager[P, S]) String() string {
	return fmt.Sprintf("group=%s, member=%s", m.group, m.channel.Address())
}
