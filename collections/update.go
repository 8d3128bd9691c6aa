package collections

import (
	"bytes"
	"reflect"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Variables

var (
	customEncoderType = reflect.TypeOf((*msgpack.CustomEncoder)(nil)).Elem()
	marshalerType     = reflect.TypeOf((*msgpack.Marshaler)(nil)).Elem()
)

// Structs

// Action names the kind of mutation an Update describes.
// Every collection type defines its own closed vocabulary.
type Action string

// Update is the unit broadcast for one local mutation.
// Seq is stamped by the sending Manager and counts that
// member's broadcasts, it orders nothing across members.
type Update[P any] struct {
	Seq     uint64 `msgpack:"q,omitempty"`
	Action  Action `msgpack:"a"`
	Payload P      `msgpack:"p"`
}

// Snapshot carries a whole local store. Seq is the number
// of updates the providing member had broadcast when the
// snapshot was taken.
type Snapshot[S any] struct {
	Seq   uint64 `msgpack:"q,omitempty"`
	State S      `msgpack:"s"`
}

// Functions

// EncodeUpdate marshals u for broadcast.
func EncodeUpdate[P any](u Update[P]) ([]byte, error) {

	data, err := msgpack.Marshal(&u)
	if err != nil {
		return nil, errors.Wrapf(ErrCodec, "encoding %s update: %v", u.Action, err)
	}

	return data, nil
}

// DecodeUpdate unmarshals data into an Update. Unknown
// fields, trailing bytes, a payload of the wrong type or a
// missing action all fail with ErrCodec.
func DecodeUpdate[P any](data []byte) (Update[P], error) {

	var u Update[P]

	if err := decodeStrict(data, &u); err != nil {
		return Update[P]{}, errors.Wrapf(ErrCodec, "decoding update: %v", err)
	}

	if u.Action == "" {
		return Update[P]{}, errors.Wrap(ErrCodec, "decoding update: no action")
	}

	return u, nil
}

// EncodeSnapshot marshals a snapshot for state transfer.
func EncodeSnapshot[S any](s Snapshot[S]) ([]byte, error) {

	data, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, errors.Wrapf(ErrCodec, "encoding snapshot: %v", err)
	}

	return data, nil
}

// DecodeSnapshot unmarshals a snapshot received
// during state transfer.
func DecodeSnapshot[S any](data []byte) (Snapshot[S], error) {

	var s Snapshot[S]

	if err := decodeStrict(data, &s); err != nil {
		return Snapshot[S]{}, errors.Wrapf(ErrCodec, "decoding snapshot: %v", err)
	}

	return s, nil
}

func decodeStrict(data []byte, v interface{}) error {

	if len(data) == 0 {
		return errors.New("empty input")
	}

	r := bytes.NewReader(data)

	dec := msgpack.NewDecoder(r)
	dec.DisallowUnknownFields(true)

	if err := dec.Decode(v); err != nil {
		return err
	}

	if r.Len() > 0 {
		return errors.Errorf("%d trailing bytes", r.Len())
	}

	return nil
}

// checkWireType fails with ErrUnsupportedType if V contains
// an interface anywhere msgpack would encode it. Decoding
// into an interface yields the smallest fitting wire type,
// so an int sent as any arrives as int8 and no longer equals
// the value the sender holds.
func checkWireType[V any]() error {

	root := reflect.TypeOf((*V)(nil)).Elem()

	return walkWireType(root, root, make(map[reflect.Type]bool))
}

func walkWireType(root reflect.Type, t reflect.Type, seen map[reflect.Type]bool) error {

	if seen[t] {
		return nil
	}
	seen[t] = true

	if t.Kind() == reflect.Interface {
		return errors.Wrapf(ErrUnsupportedType, "%s holds interface type %s", root, t)
	}

	// Types encoding themselves decode themselves as well.
	ptr := reflect.PtrTo(t)
	if t.Implements(customEncoderType) || ptr.Implements(customEncoderType) ||
		t.Implements(marshalerType) || ptr.Implements(marshalerType) {
		return nil
	}

	switch t.Kind() {

	case reflect.Ptr, reflect.Slice, reflect.Array:
		return walkWireType(root, t.Elem(), seen)

	case reflect.Map:

		if err := walkWireType(root, t.Key(), seen); err != nil {
			return err
		}

		return walkWireType(root, t.Elem(), seen)

	case reflect.Struct:

		for i := 0; i < t.NumField(); i++ {

			f := t.Field(i)

			// Unexported and skipped fields never hit the wire.
			if (f.PkgPath != "" && !f.Anonymous) || (f.Tag.Get("msgpack") == "-") {
				continue
			}

			if err := walkWireType(root, f.Type, seen); err != nil {
				return err
			}
		}
	}

	return nil
}
