/*
Package comm implements the group communication a replicated collection relies on.
Members join a named group, broadcast opaque payloads to all other members and pull a
full state snapshot from an existing member when they join. Two transports are provided:
an in-process Hub and a gRPC based Sequencer with its RemoteChannel clients. Both put
every join, leave, broadcast and state request of one group into a single total order.
*/
package comm
