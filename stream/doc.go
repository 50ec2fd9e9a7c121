// Package stream implements the per-transport IO engines: the event
// loops that move audio between a Bluetooth socket and a local PCM
// FIFO, performing codec transcoding, volume scaling, RTP framing,
// real-time pacing and socket backpressure accounting.
//
// Each transport gets exactly one engine goroutine, selected by
// profile and negotiated codec through Run. A2DP source engines share
// one generic poll-and-encode driver parameterized by a per-codec
// packetizer; A2DP sink engines share a poll-and-decode driver
// parameterized by a per-codec depacketizer; SCO transports run a
// single bidirectional loop multiplexing five descriptors.
//
// Engines terminate cooperatively: Transport.Stop raises a flag and
// pings the signal pipe, and the engine observes the flag at its poll
// checkpoint. Teardown happens only there, never mid-operation, so a
// stop request can never corrupt a partially written packet or leak a
// half-initialized codec handle.
package stream
