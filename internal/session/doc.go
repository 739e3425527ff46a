// Package session holds the per-client bookkeeping for streaming sessions.
//
// # Overview
//
// A State records everything the gateway knows about one client connection:
// the sequences the client declared, the bytes attributed to each of them and
// the backend utterances that were correlated back to a sequence. The package
// does no I/O.
//
// # Sequences
//
// A client declares a sequence with a control message before streaming audio
// for it. Declarations are queued; the first binary frame after a declaration
// pops the queue and makes that sequence current:
//
//	st.DeclareSequence(1, "hello", time.Now())
//	seq, ok := st.CurrentSequence() // 1, true
//
// The current sequence is sticky. When the queue is empty, further audio is
// attributed to the last sequence that was popped.
//
// # Utterances
//
// The ASR engine labels its results with its own utterance id. The first time
// an utterance id is seen it is bound to the current sequence and that binding
// never changes:
//
//	seq, ok := st.CorrelateUtterance("u1")
//
// # Thread Safety
//
// A State is guarded by its own mutex so the client path and the backend
// result path of one session never contend with other sessions. Registry is a
// mutex-guarded map of live sessions.
package session
