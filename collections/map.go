package collections

import (
	"fmt"
	"time"

	"github.com/go-pluto/clustered/comm"
	"github.com/pkg/errors"
)

// Constants

// Actions of a Map.
const (
	MapPut    Action = "PUT"
	MapRemove Action = "REMOVE"
)

// Structs

// Entry is one key/value pair of a Map. It is also the
// payload of Map updates, REMOVE leaves Value unset.
type Entry[K comparable, V any] struct {
	Key   K `msgpack:"k"`
	Value V `msgpack:"v,omitempty"`
}

// Map is a replicated key/value association.
type Map[K comparable, V any] struct {
	store map[K]V
	mgr   *Manager[Entry[K, V], []Entry[K, V]]
}

// Functions

// NewMap joins group via ch and returns a Map holding
// the group's current content.
// Neither K nor V may hold an interface.
func NewMap[K comparable, V any](group string, ch comm.Channel, opts ...Option) (*Map[K, V], error) {

	m := &Map[K, V]{
		store: make(map[K]V),
	}

	mgr, err := NewManager[Entry[K, V], []Entry[K, V]](group, ch, m, opts...)
	if err != nil {
		return nil, err
	}

	m.mgr = mgr

	return m, nil
}

// ApplyRemote implements Managed.
func (m *Map[K, V]) ApplyRemote(action Action, p Entry[K, V]) error {

	switch action {

	case MapPut:
		m.store[p.Key] = p.Value
		return nil

	case MapRemove:
		delete(m.store, p.Key)
		return nil
	}

	return errors.Wrapf(ErrUnknownAction, "map: %q", action)
}

// InstallSnapshot implements Managed.
func (m *Map[K, V]) InstallSnapshot(state []Entry[K, V]) error {

	m.store = make(map[K]V, len(state))
	for _, entry := range state {
		m.store[entry.Key] = entry.Value
	}

	return nil
}

// ProvideSnapshot implements Managed.
func (m *Map[K, V]) ProvideSnapshot() []Entry[K, V] {

	state := make([]Entry[K, V], 0, len(m.store))
	for k, v := range m.store {
		state = append(state, Entry[K, V]{Key: k, Value: v})
	}

	return state
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() (n int) {
	m.mgr.read(func() { n = len(m.store) })
	return n
}

// Get returns the value stored under k.
func (m *Map[K, V]) Get(k K) (v V, found bool) {
	m.mgr.read(func() { v, found = m.store[k] })
	return v, found
}

// ContainsKey reports whether k has a value.
func (m *Map[K, V]) ContainsKey(k K) (found bool) {
	m.mgr.read(func() { _, found = m.store[k] })
	return found
}

// Keys returns all keys in no particular order.
func (m *Map[K, V]) Keys() (keys []K) {

	m.mgr.read(func() {
		keys = make([]K, 0, len(m.store))
		for k := range m.store {
			keys = append(keys, k)
		}
	})

	return keys
}

// Entries returns all entries in no particular order.
func (m *Map[K, V]) Entries() (entries []Entry[K, V]) {
	m.mgr.read(func() { entries = m.ProvideSnapshot() })
	return entries
}

// Range calls fn for every entry until fn returns
// false. fn must not mutate the Map.
func (m *Map[K, V]) Range(fn func(k K, v V) bool) {

	m.mgr.read(func() {
		for k, v := range m.store {
			if !fn(k, v) {
				return
			}
		}
	})
}

// Put stores v under k and returns the value it
// replaced, if any. Every Put is broadcast.
func (m *Map[K, V]) Put(k K, v V) (prev V, existed bool, err error) {

	err = m.mgr.mutate(func(send func(Action, Entry[K, V]) error) error {

		prev, existed = m.store[k]
		m.store[k] = v

		return send(MapPut, Entry[K, V]{Key: k, Value: v})
	})

	return prev, existed, err
}

// PutIfAbsent stores v under k unless k has a value
// already, which is returned instead.
func (m *Map[K, V]) PutIfAbsent(k K, v V) (current V, existed bool, err error) {

	err = m.mgr.mutate(func(send func(Action, Entry[K, V]) error) error {

		current, existed = m.store[k]
		if existed {
			return nil
		}

		m.store[k] = v

		return send(MapPut, Entry[K, V]{Key: k, Value: v})
	})

	return current, existed, err
}

// Remove deletes the entry of k and returns its value.
// Only an actual removal is broadcast.
func (m *Map[K, V]) Remove(k K) (prev V, existed bool, err error) {

	err = m.mgr.mutate(func(send func(Action, Entry[K, V]) error) error {

		prev, existed = m.store[k]
		if !existed {
			return nil
		}

		delete(m.store, k)

		return send(MapRemove, Entry[K, V]{Key: k})
	})

	return prev, existed, err
}

// RemoveIf deletes every entry satisfying match, each
// one broadcast as its own REMOVE. It stops at the first
// failed broadcast and returns how many were removed.
func (m *Map[K, V]) RemoveIf(match func(K, V) bool) (n int, err error) {

	err = m.mgr.mutate(func(send func(Action, Entry[K, V]) error) error {

		for k, v := range m.store {

			if !match(k, v) {
				continue
			}

			delete(m.store, k)
			n++

			if err := send(MapRemove, Entry[K, V]{Key: k}); err != nil {
				return err
			}
		}

		return nil
	})

	return n, err
}

// Clear removes every entry one by one.
func (m *Map[K, V]) Clear() error {

	_, err := m.RemoveIf(func(K, V) bool { return true })

	return err
}

// SetUpdateCallback registers fn to run after every
// update from another member was applied.
func (m *Map[K, V]) SetUpdateCallback(fn func()) {
	m.mgr.SetUpdateCallback(fn)
}

// Resync replaces the content with the current
// content of the oldest other member.
func (m *Map[K, V]) Resync(timeout time.Duration) error {
	return m.mgr.Resync(timeout)
}

// Channel returns the group channel of the Map.
func (m *Map[K, V]) Channel() comm.Channel {
	return m.mgr.Channel()
}

// Close leaves the group.
func (m *Map[K, V]) Close() error {
	return m.mgr.Close()
}

func (m *Map[K, V]) String() string {
	return fmt.Sprintf("Map{size=%d, %s}", m.Len(), m.mgr)
}
