package collections

import (
	"fmt"
	"time"

	"github.com/go-pluto/clustered/comm"
	"github.com/pkg/errors"
)

// Constants

// Actions of a List.
const (
	ListSet    Action = "SET"
	ListAdd    Action = "ADD"
	ListRemove Action = "REMOVE"
	ListClear  Action = "CLEAR"
)

// Structs

// ListPayload is the payload of a List update. Element is
// unused by REMOVE and CLEAR, Index is unused by CLEAR.
type ListPayload[T any] struct {
	Index   int `msgpack:"i,omitempty"`
	Element T   `msgpack:"e,omitempty"`
}

// List is a replicated, ordered sequence.
type List[T any] struct {
	store []T
	mgr   *Manager[ListPayload[T], []T]
}

// Functions

// NewList joins group via ch and returns a List holding
// the group's current content.
func NewList[T any](group string, ch comm.Channel, opts ...Option) (*List[T], error) {

	l := &List[T]{
		store: make([]T, 0),
	}

	mgr, err := NewManager[ListPayload[T], []T](group, ch, l, opts...)
	if err != nil {
		return nil, err
	}

	l.mgr = mgr

	return l, nil
}

// ApplyRemote implements Managed.
func (l *List[T]) ApplyRemote(action Action, p ListPayload[T]) error {

	switch action {

	case ListSet:
		_, err := l.set(p.Index, p.Element)
		return err

	case ListAdd:
		return l.insert(p.Index, p.Element)

	case ListRemove:
		_, err := l.removeAt(p.Index)
		return err

	case ListClear:
		l.clear()
		return nil
	}

	return errors.Wrapf(ErrUnknownAction, "list: %q", action)
}

// InstallSnapshot implements Managed.
func (l *List[T]) InstallSnapshot(state []T) error {

	l.store = make([]T, len(state))
	copy(l.store, state)

	return nil
}

// ProvideSnapshot implements Managed.
func (l *List[T]) ProvideSnapshot() []T {
	return l.store
}

func outOfRange(i int, length int) error {
	return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, length)
}

func (l *List[T]) set(i int, e T) (T, error) {

	var prev T

	if (i < 0) || (i >= len(l.store)) {
		return prev, outOfRange(i, len(l.store))
	}

	prev = l.store[i]
	l.store[i] = e

	return prev, nil
}

func (l *List[T]) insert(i int, e T) error {

	if (i < 0) || (i > len(l.store)) {
		return outOfRange(i, len(l.store))
	}

	var zero T

	l.store = append(l.store, zero)
	copy(l.store[(i+1):], l.store[i:])
	l.store[i] = e

	return nil
}

func (l *List[T]) removeAt(i int) (T, error) {

	var prev T

	if (i < 0) || (i >= len(l.store)) {
		return prev, outOfRange(i, len(l.store))
	}

	prev = l.store[i]

	var zero T

	copy(l.store[i:], l.store[(i+1):])
	l.store[len(l.store)-1] = zero
	l.store = l.store[:(len(l.store) - 1)]

	return prev, nil
}

func (l *List[T]) clear() {
	l.store = make([]T, 0)
}

// Len returns the number of elements.
func (l *List[T]) Len() (n int) {
	l.mgr.read(func() { n = len(l.store) })
	return n
}

// Get returns the element at position i.
func (l *List[T]) Get(i int) (e T, err error) {

	l.mgr.read(func() {

		if (i < 0) || (i >= len(l.store)) {
			err = outOfRange(i, len(l.store))
			return
		}

		e = l.store[i]
	})

	return e, err
}

// Values returns a copy of all elements in order.
func (l *List[T]) Values() (values []T) {

	l.mgr.read(func() {
		values = make([]T, len(l.store))
		copy(values, l.store)
	})

	return values
}

// IndexFunc returns the position of the first element
// satisfying match, or -1.
func (l *List[T]) IndexFunc(match func(T) bool) (idx int) {

	idx = -1

	l.mgr.read(func() {
		for i, e := range l.store {
			if match(e) {
				idx = i
				return
			}
		}
	})

	return idx
}

// Range calls fn for every element in order until fn
// returns false. fn must not mutate the List.
func (l *List[T]) Range(fn func(i int, e T) bool) {

	l.mgr.read(func() {
		for i, e := range l.store {
			if !fn(i, e) {
				return
			}
		}
	})
}

// Set replaces the element at position i and returns the
// previous one. An invalid i changes and sends nothing.
func (l *List[T]) Set(i int, e T) (prev T, err error) {

	err = l.mgr.mutate(func(send func(Action, ListPayload[T]) error) error {

		var err error

		prev, err = l.set(i, e)
		if err != nil {
			return err
		}

		return send(ListSet, ListPayload[T]{Index: i, Element: e})
	})

	return prev, err
}

// Insert puts e at position i, shifting later elements.
func (l *List[T]) Insert(i int, e T) error {

	return l.mgr.mutate(func(send func(Action, ListPayload[T]) error) error {

		if err := l.insert(i, e); err != nil {
			return err
		}

		return send(ListAdd, ListPayload[T]{Index: i, Element: e})
	})
}

// Add appends e to the end of the List.
func (l *List[T]) Add(e T) error {

	return l.mgr.mutate(func(send func(Action, ListPayload[T]) error) error {

		i := len(l.store)

		if err := l.insert(i, e); err != nil {
			return err
		}

		return send(ListAdd, ListPayload[T]{Index: i, Element: e})
	})
}

// RemoveAt removes and returns the element at position i.
func (l *List[T]) RemoveAt(i int) (prev T, err error) {

	err = l.mgr.mutate(func(send func(Action, ListPayload[T]) error) error {

		var err error

		prev, err = l.removeAt(i)
		if err != nil {
			return err
		}

		return send(ListRemove, ListPayload[T]{Index: i})
	})

	return prev, err
}

// Clear removes all elements. It is broadcast as one
// update even if the List is empty already.
func (l *List[T]) Clear() error {

	return l.mgr.mutate(func(send func(Action, ListPayload[T]) error) error {

		l.clear()

		return send(ListClear, ListPayload[T]{})
	})
}

// SetUpdateCallback registers fn to run after every
// update from another member was applied.
func (l *List[T]) SetUpdateCallback(fn func()) {
	l.mgr.SetUpdateCallback(fn)
}

// Resync replaces the content with the current
// content of the oldest other member.
func (l *List[T]) Resync(timeout time.Duration) error {
	return l.mgr.Resync(timeout)
}

// Channel returns the group channel of the List.
func (l *List[T]) Channel() comm.Channel {
	return l.mgr.Channel()
}

// Close leaves the group.
func (l *List[T]) Close() error {
	return l.mgr.Close()
}

func (l *List[T]) String() string {
	return fmt.Sprintf("List{size=%d, %s}", l.Len(), l.mgr)
}
