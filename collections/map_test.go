package collections

import (
	"testing"
	"time"

	"github.com/go-pluto/clustered/comm"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// Functions

// TestMapLocal runs the local operations of a map
// and checks what gets broadcast.
func TestMapLocal(t *testing.T) {

	ch := newFakeChannel()

	m, err := NewMap[string, int]("local", ch)
	if err != nil {
		t.Fatalf("[collections.TestMapLocal] Expected success creating map but received: '%v'\n", err)
	}

	prev, existed, err := m.Put("k", 1)
	assert.Nil(t, err)
	assert.Equal(t, false, existed)
	assert.Equal(t, 0, prev)

	prev, existed, err = m.Put("k", 2)
	assert.Nil(t, err)
	assert.Equal(t, true, existed)
	assert.Equal(t, 1, prev)

	current, existed, err := m.PutIfAbsent("k", 3)
	assert.Nil(t, err)
	assert.Equal(t, true, existed)
	assert.Equal(t, 2, current)

	_, existed, err = m.PutIfAbsent("l", 4)
	assert.Nil(t, err)
	assert.Equal(t, false, existed)

	v, found := m.Get("k")
	assert.Equal(t, true, found)
	assert.Equal(t, 2, v)
	assert.Equal(t, true, m.ContainsKey("l"))
	assert.ElementsMatch(t, []string{"k", "l"}, m.Keys())
	assert.ElementsMatch(t, []Entry[string, int]{{Key: "k", Value: 2}, {Key: "l", Value: 4}}, m.Entries())

	_, existed, err = m.Remove("missing")
	assert.Nil(t, err)
	assert.Equal(t, false, existed)

	// Put, Put, PutIfAbsent on a new key.
	assert.Equal(t, 3, len(ch.sent))

	assert.Nil(t, m.Clear())
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 5, len(ch.sent), "clear should remove key by key")
}

// TestMapRemote checks that remote updates reproduce
// the same store on this member.
func TestMapRemote(t *testing.T) {

	m, err := NewMap[string, int]("remote", newFakeChannel())
	assert.Nil(t, err)

	m.mgr.Receive(message(t, "other", 1, MapPut, Entry[string, int]{Key: "k", Value: 1}))
	m.mgr.Receive(message(t, "other", 2, MapPut, Entry[string, int]{Key: "k", Value: 2}))

	v, found := m.Get("k")
	assert.Equal(t, true, found)
	assert.Equal(t, 2, v)

	m.mgr.Receive(message(t, "other", 3, MapRemove, Entry[string, int]{Key: "k"}))
	assert.Equal(t, 0, m.Len())

	assert.Equal(t, ErrUnknownAction, errors.Cause(m.ApplyRemote(SetAdd, Entry[string, int]{Key: "k"})))
}

// TestMapReplicas checks convergence of maps sharing a
// hub, with struct values and a late joiner.
func TestMapReplicas(t *testing.T) {

	type account struct {
		Owner   string
		Balance int
	}

	hub := comm.NewHub(nil)
	defer hub.Close()

	a, err := NewMap[string, account]("accounts", hub.NewChannel())
	assert.Nil(t, err)
	defer a.Close()

	b, err := NewMap[string, account]("accounts", hub.NewChannel())
	assert.Nil(t, err)
	defer b.Close()

	_, _, err = a.Put("1", account{Owner: "ann", Balance: 10})
	assert.Nil(t, err)
	_, _, err = b.Put("2", account{Owner: "bob", Balance: 20})
	assert.Nil(t, err)

	assert.Eventually(t, func() bool { return (a.Len() == 2) && (b.Len() == 2) }, time.Second, 5*time.Millisecond)

	n, err := a.RemoveIf(func(_ string, acc account) bool { return acc.Balance < 15 })
	assert.Nil(t, err)
	assert.Equal(t, 1, n)

	assert.Eventually(t, func() bool { return !b.ContainsKey("1") }, time.Second, 5*time.Millisecond)

	c, err := NewMap[string, account]("accounts", hub.NewChannel())
	assert.Nil(t, err)
	defer c.Close()

	acc, found := c.Get("2")
	assert.Equal(t, true, found)
	assert.Equal(t, account{Owner: "bob", Balance: 20}, acc)
	assert.Equal(t, 1, c.Len())
}
