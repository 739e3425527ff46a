// Package pool brokers exclusive access to a fixed set of backend ASR links.
//
// # Overview
//
// The pool dials N links at startup, one after another with a short delay in
// between, and keeps the index of every Open link in a FIFO availability
// queue. Sessions take a slot with Acquire and give it back with Release:
//
//	p := pool.New(pool.Config{Size: 4, ConnectDelay: 200 * time.Millisecond},
//	    pool.LinkDialer(uri, logger), logger)
//	if err := p.Start(ctx); err != nil { ... }
//
//	idx, err := p.Acquire(sessionID, func(msg link.Message) { ... })
//	if errors.Is(err, pool.ErrPoolExhausted) { // refuse the client }
//	err = p.Forward(sessionID, pcm)
//	err = p.Release(sessionID)
//
// # Stream Markers
//
// Acquire sends StartMarker (0x00) on the slot before returning, and Release
// sends EndMarker (0x01) before the slot is queued again.
//
// # Health
//
// Health is checked lazily. A slot whose link closed is discarded the next
// time Acquire pops it, and Forward marks a slot Closed when the send fails.
// With Config.Replenish unset a Closed slot is never redialed and capacity
// shrinks; with it set, Closed slots that are not bound to a session are
// redialed after Config.ReplenishDelay.
//
// # Routing
//
// Every link gets a single message callback when it is dialed. The callback
// looks up the handler bound to the slot in the pool's table, so rebinding a
// slot never touches the link itself. Messages arriving on an unbound slot are
// dropped.
//
// # Thread Safety
//
// All table mutations (pop-and-bind, lookup-and-unbind, health changes) happen
// under one mutex. Network sends happen outside it.
package pool
