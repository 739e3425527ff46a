// Package link wraps one long-lived websocket connection with chunked sends
// and a callback-driven receive loop.
//
// A Link is used for every backend ASR connection held by the pool and by the
// playback harness to drive the gateway like a real client:
//
//	l := link.New("wss://10.0.0.5:7000/ws/streamraw/16000",
//	    link.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
//	    link.WithLogger(logger))
//	l.OnMessage(func(msg link.Message) { ... })
//	if err := l.Open(ctx); err != nil { ... }
//	err := l.SendBinary(pcm)
//
// Outbound payloads are split into frames of at most 4096 bytes (see
// WithFrameSize) and only the last frame carries the FIN bit. Inbound
// fragments are reassembled and delivered as one Message.
//
// Callbacks are single-slot (the last registration wins) and run on a
// dispatcher goroutine owned by the link, in arrival order, so a slow
// callback never stalls the receive loop. The disconnect callback fires
// exactly once however the connection ends.
package link
