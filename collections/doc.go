/*
Package collections provides a List, a Set and a Map whose content is replicated to
every member of a named group.

Every member keeps its own local store. A mutation is validated and applied to the local
store first and then broadcast as an Update; the other members apply it through a separate
remote path. A member that joins pulls a snapshot of the whole store from the oldest other
member before it sees any later update.

CAUTION! The collections do not resolve conflicts. Members only converge if the group
transport delivers broadcasts reliably and in one total order, as the transports of package
comm do. Concurrent positional List mutations on different members may still address
different elements, because an index is only meaningful against a store that applied the
same preceding mutations.

Elements, keys and values travel as msgpack and must come back as the very same Go type.
Types holding an interface, such as List[any] or Map[string, any], do not: msgpack decodes
an interface to the smallest wire type that fits, so an int becomes an int8 on the other
members and no longer compares equal. NewList, NewSet and NewMap refuse such types with
ErrUnsupportedType. Use a concrete type, or a type implementing msgpack.CustomEncoder and
msgpack.CustomDecoder that records its own dynamic type.
*/
package collections
