// Package transport models one Bluetooth audio transport: its profile,
// negotiated codec, socket endpoints, PCM FIFOs, volume state and the
// signal channel used to steer the transport's IO goroutine.
//
// A transport is created by the daemon manager when a remote device
// connects and handed to exactly one IO goroutine. The controller side
// (D-Bus handlers, HFP state machine) talks to that goroutine only
// through signals written to a pipe the goroutine polls, so control
// events interleave cleanly with socket readiness. Socket acquisition
// and release stay with the embedder through the Acquire and Release
// callbacks.
package transport
