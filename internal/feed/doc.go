// Package feed fans out live session events to observers.
//
// The gateway publishes an Event when a session binds a slot, declares a
// sequence, receives a backend result and closes. Observers subscribe to one
// session id, or to All for every session. Delivery is best effort: a
// subscriber whose buffer is full misses events rather than slowing the
// session down.
package feed
