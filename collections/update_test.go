package collections

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/vmihailenco/msgpack/v5"
)

// Functions

// TestUpdateRoundTrip checks that every payload shape
// in use survives encoding and decoding unchanged.
func TestUpdateRoundTrip(t *testing.T) {

	list := Update[ListPayload[string]]{Seq: 7, Action: ListSet, Payload: ListPayload[string]{Index: 3, Element: "x"}}

	data, err := EncodeUpdate(list)
	if err != nil {
		t.Fatalf("[collections.TestUpdateRoundTrip] Expected success encoding list update but received: '%v'\n", err)
	}

	decodedList, err := DecodeUpdate[ListPayload[string]](data)
	assert.Nil(t, err, "decoding a list update should not fail")
	assert.Equal(t, list, decodedList)

	clearAll := Update[ListPayload[string]]{Action: ListClear}

	data, err = EncodeUpdate(clearAll)
	assert.Nil(t, err)

	decodedClear, err := DecodeUpdate[ListPayload[string]](data)
	assert.Nil(t, err)
	assert.Equal(t, clearAll, decodedClear)

	put := Update[Entry[string, int]]{Seq: 1, Action: MapPut, Payload: Entry[string, int]{Key: "k", Value: 42}}

	data, err = EncodeUpdate(put)
	assert.Nil(t, err)

	decodedPut, err := DecodeUpdate[Entry[string, int]](data)
	assert.Nil(t, err)
	assert.Equal(t, put, decodedPut)

	add := Update[string]{Seq: 2, Action: SetAdd, Payload: "a"}

	data, err = EncodeUpdate(add)
	assert.Nil(t, err)

	decodedAdd, err := DecodeUpdate[string](data)
	assert.Nil(t, err)
	assert.Equal(t, add, decodedAdd)

	// A REMOVE names a position only, its element stays absent.
	remove := Update[ListPayload[*string]]{Seq: 3, Action: ListRemove, Payload: ListPayload[*string]{Index: 2}}
	decodedRemove := roundTrip(t, remove)
	assert.Equal(t, remove, decodedRemove)
	assert.Nil(t, decodedRemove.Payload.Element)

	removeFirst := Update[ListPayload[*string]]{Seq: 4, Action: ListRemove}
	assert.Equal(t, removeFirst, roundTrip(t, removeFirst))

	x := "x"
	insert := Update[ListPayload[*string]]{Seq: 5, Action: ListAdd, Payload: ListPayload[*string]{Index: 1, Element: &x}}
	assert.Equal(t, insert, roundTrip(t, insert))
}

// TestSetPayloadRoundTrip checks Set payloads of several
// concrete element types.
func TestSetPayloadRoundTrip(t *testing.T) {

	type point struct {
		X     int
		Y     int
		Label string
	}

	ints := Update[int]{Seq: 1, Action: SetAdd, Payload: 1}
	assert.Equal(t, ints, roundTrip(t, ints))

	negative := Update[int]{Seq: 2, Action: SetRemove, Payload: -70000}
	assert.Equal(t, negative, roundTrip(t, negative))

	wide := Update[int64]{Seq: 3, Action: SetAdd, Payload: math.MinInt64}
	assert.Equal(t, wide, roundTrip(t, wide))

	small := Update[uint8]{Seq: 4, Action: SetAdd, Payload: 200}
	assert.Equal(t, small, roundTrip(t, small))

	floats := Update[float64]{Seq: 5, Action: SetAdd, Payload: 3.25}
	assert.Equal(t, floats, roundTrip(t, floats))

	structs := Update[point]{Seq: 6, Action: SetAdd, Payload: point{X: 1, Y: -2, Label: "p"}}
	assert.Equal(t, structs, roundTrip(t, structs))

	// Interface payloads come back with a different dynamic
	// type, which is why the collections refuse them.
	mixed := []interface{}{1, int64(2), uint16(3), point{X: 1}}
	for _, v := range mixed {
		decoded := roundTrip(t, Update[interface{}]{Action: SetAdd, Payload: v})
		assert.NotEqual(t, v, decoded.Payload, "%T should not survive as interface", v)
	}

	assert.Equal(t, ErrUnsupportedType, errors.Cause(checkWireType[interface{}]()))
}

// TestCheckWireType checks which types the collections
// accept as elements, keys and values.
func TestCheckWireType(t *testing.T) {

	type nested struct {
		Name  string
		Extra map[string]interface{}
	}

	type hidden struct {
		Name  string
		cache interface{}
		Skip  interface{} `msgpack:"-"`
	}

	type tree struct {
		Value    int
		Children []*tree
	}

	rejected := map[string]error{
		"any":            checkWireType[interface{}](),
		"error":          checkWireType[error](),
		"slice of any":   checkWireType[[]interface{}](),
		"pointer to any": checkWireType[*interface{}](),
		"map value any":  checkWireType[map[string]interface{}](),
		"nested any":     checkWireType[nested](),
		"list payload":   checkWireType[ListPayload[interface{}]](),
		"map entry key":  checkWireType[Entry[interface{}, int]](),
		"map entry":      checkWireType[[]Entry[string, []interface{}]](),
	}

	for name, err := range rejected {
		if errors.Cause(err) != ErrUnsupportedType {
			t.Fatalf("[collections.TestCheckWireType] Expected '%v' for %s but received: '%v'\n", ErrUnsupportedType, name, err)
		}
	}

	assert.Nil(t, checkWireType[string]())
	assert.Nil(t, checkWireType[ListPayload[*string]]())
	assert.Nil(t, checkWireType[[]Entry[string, []int]]())
	assert.Nil(t, checkWireType[hidden]())
	assert.Nil(t, checkWireType[tree]())
	assert.Nil(t, checkWireType[time.Time]())
}

// TestDecodeUpdateMalformed feeds byte sequences that are
// no valid update and expects a codec error for each.
func TestDecodeUpdateMalformed(t *testing.T) {

	valid, err := EncodeUpdate(Update[string]{Action: SetAdd, Payload: "a"})
	assert.Nil(t, err)

	noAction, err := EncodeUpdate(Update[string]{Payload: "a"})
	assert.Nil(t, err)

	unknownField, err := msgpack.Marshal(map[string]interface{}{
		"a": "ADD",
		"p": "a",
		"z": 1,
	})
	assert.Nil(t, err)

	cases := map[string][]byte{
		"empty":         {},
		"garbage":       []byte("definitely not msgpack"),
		"truncated":     valid[:(len(valid) - 1)],
		"trailing":      append(append([]byte{}, valid...), 0x01),
		"no action":     noAction,
		"unknown field": unknownField,
	}

	for name, data := range cases {

		_, err := DecodeUpdate[string](data)
		if errors.Cause(err) != ErrCodec {
			t.Fatalf("[collections.TestDecodeUpdateMalformed] Case '%s': expected ErrCodec but received: '%v'\n", name, err)
		}
	}

	// A payload of the wrong type is malformed as well.
	_, err = DecodeUpdate[int](valid)
	assert.Equal(t, ErrCodec, errors.Cause(err), "string payload must not decode as int")

	_, err = DecodeUpdate[ListPayload[string]](valid)
	assert.Equal(t, ErrCodec, errors.Cause(err), "string payload must not decode as list payload")
}

// TestSnapshotRoundTrip checks snapshot fidelity for
// the snapshot shapes of all collections.
func TestSnapshotRoundTrip(t *testing.T) {

	list := Snapshot[[]string]{Seq: 4, State: []string{"a", "b", "a"}}

	data, err := EncodeSnapshot(list)
	assert.Nil(t, err)

	decodedList, err := DecodeSnapshot[[]string](data)
	assert.Nil(t, err)
	assert.Equal(t, list, decodedList)

	entries := Snapshot[[]Entry[string, int]]{State: []Entry[string, int]{{Key: "x", Value: 1}, {Key: "y", Value: 2}}}

	data, err = EncodeSnapshot(entries)
	assert.Nil(t, err)

	decodedEntries, err := DecodeSnapshot[[]Entry[string, int]](data)
	assert.Nil(t, err)
	assert.Equal(t, entries, decodedEntries)

	_, err = DecodeSnapshot[[]string]([]byte{0xc1})
	assert.Equal(t, ErrCodec, errors.Cause(err))
}

func roundTrip[P any](t *testing.T, u Update[P]) Update[P] {

	data, err := EncodeUpdate(u)
	if err != nil {
		t.Fatalf("[collections.roundTrip] Expected success encoding %s update but received: '%v'\n", u.Action, err)
	}

	decoded, err := DecodeUpdate[P](data)
	if err != nil {
		t.Fatalf("[collections.roundTrip] Expected success decoding %s update but received: '%v'\n", u.Action, err)
	}

	return decoded
}
