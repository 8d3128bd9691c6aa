package collections

import (
	"fmt"
	"time"

	"github.com/go-pluto/clustered/comm"
	"github.com/pkg/errors"
)

// Constants

// Actions of a Set.
const (
	SetAdd    Action = "ADD"
	SetRemove Action = "REMOVE"
)

// Structs

// Set is a replicated set of distinct elements.
type Set[T comparable] struct {
	store map[T]struct{}
	mgr   *Manager[T, []T]
}

// Functions

// NewSet joins group via ch and returns a Set holding
// the group's current content.
// T must not hold an interface, or ErrUnsupportedType is
// returned.
func NewSet[T comparable](group string, ch comm.Channel, opts ...Option) (*Set[T], error) {

	s := &Set[T]{
		store: make(map[T]struct{}),
	}

	mgr, err := NewManager[T, []T](group, ch, s, opts...)
	if err != nil {
		return nil, err
	}

	s.mgr = mgr

	return s, nil
}

// ApplyRemote implements Managed.
func (s *Set[T]) ApplyRemote(action Action, e T) error {

	switch action {

	case SetAdd:
		s.store[e] = struct{}{}
		return nil

	case SetRemove:
		delete(s.store, e)
		return nil
	}

	return errors.Wrapf(ErrUnknownAction, "set: %q", action)
}

// InstallSnapshot implements Managed.
func (s *Set[T]) InstallSnapshot(state []T) error {

	s.store = make(map[T]struct{}, len(state))
	for _, e := range state {
		s.store[e] = struct{}{}
	}

	return nil
}

// ProvideSnapshot implements Managed.
func (s *Set[T]) ProvideSnapshot() []T {

	state := make([]T, 0, len(s.store))
	for e := range s.store {
		state = append(state, e)
	}

	return state
}

// Len returns the number of elements.
func (s *Set[T]) Len() (n int) {
	s.mgr.read(func() { n = len(s.store) })
	return n
}

// Contains reports whether e is an element.
func (s *Set[T]) Contains(e T) (found bool) {
	s.mgr.read(func() { _, found = s.store[e] })
	return found
}

// Values returns all elements in no particular order.
func (s *Set[T]) Values() (values []T) {
	s.mgr.read(func() { values = s.ProvideSnapshot() })
	return values
}

// Range calls fn for every element until fn returns
// false. fn must not mutate the Set.
func (s *Set[T]) Range(fn func(e T) bool) {

	s.mgr.read(func() {
		for e := range s.store {
			if !fn(e) {
				return
			}
		}
	})
}

// Add inserts e and reports whether it was missing.
// Only an actual insertion is broadcast.
func (s *Set[T]) Add(e T) (added bool, err error) {

	err = s.mgr.mutate(func(send func(Action, T) error) error {

		if _, found := s.store[e]; found {
			return nil
		}

		s.store[e] = struct{}{}
		added = true

		return send(SetAdd, e)
	})

	return added, err
}

// Remove deletes e and reports whether it was present.
// Only an actual removal is broadcast.
func (s *Set[T]) Remove(e T) (removed bool, err error) {

	err = s.mgr.mutate(func(send func(Action, T) error) error {

		if _, found := s.store[e]; !found {
			return nil
		}

		delete(s.store, e)
		removed = true

		return send(SetRemove, e)
	})

	return removed, err
}

// RemoveIf deletes every element satisfying match, each
// one broadcast as its own REMOVE. It stops at the first
// failed broadcast and returns how many were removed.
func (s *Set[T]) RemoveIf(match func(T) bool) (n int, err error) {

	err = s.mgr.mutate(func(send func(Action, T) error) error {

		for e := range s.store {

			if !match(e) {
				continue
			}

			delete(s.store, e)
			n++

			if err := send(SetRemove, e); err != nil {
				return err
			}
		}

		return nil
	})

	return n, err
}

// Clear removes every element one by one.
func (s *Set[T]) Clear() error {

	_, err := s.RemoveIf(func(T) bool { return true })

	return err
}

// SetUpdateCallback registers fn to run after every
// update from another member was applied.
func (s *Set[T]) SetUpdateCallback(fn func()) {
	s.mgr.SetUpdateCallback(fn)
}

// Resync replaces the content with the current
// content of the oldest other member.
func (s *Set[T]) Resync(timeout time.Duration) error {
	return s.mgr.Resync(timeout)
}

// Channel returns the group channel of the Set.
func (s *Set[T]) Channel() comm.Channel {
	return s.mgr.Channel()
}

// Close leaves the group.
func (s *Set[T]) Close() error {
	return s.mgr.Close()
}

func (s *Set[T]) String() string {
	return fmt.Sprintf("Set{size=%d, %s}", s.Len(), s.mgr)
}
