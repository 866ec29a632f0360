// mnet is a link-layer-agnostic mesh transport: it delivers arbitrary-length
// messages between *named* hosts sharing a broadcast medium, with a choice of
// best-effort or reliable, in-order, exactly-once delivery.
//
// ## How it works
//
// A `Transport` owns the whole protocol state for one host. It sits on top of
// a `Medium` — anything able to broadcast a frame to every listener in range
// and hand back the frames it hears. Three media ship with the module:
// an in-process bus for tests and simulations (`pkg/medium/inproc`), UDP
// broadcast for a LAN segment (`pkg/medium/udpcast`), and a WebSocket relay
// hub for hosts scattered across the WAN (`pkg/medium/wsrelay`).
//
// Reliable delivery is a miniature sliding-window protocol: messages larger
// than the MTU are split into chains of fragments under consecutive sequence
// numbers, receivers buffer out-of-order arrivals and answer with cumulative
// acknowledgments, and unacknowledged packets are retransmitted until an
// absolute timeout expires. Frames addressed to somebody else are re-broadcast
// (flooded), bounded by a packet-id deduplication cache, so hosts outside
// each other's radio range can still talk as long as a chain of relays
// connects them.
//
// ## The pump
//
// There is deliberately no background goroutine driving the protocol:
// `Transport.Receive` is the sole pump. Each call first performs housekeeping
// (retransmission scan, cache eviction) and then waits for at most one
// inbound frame. A host that stops calling Receive stops retransmitting,
// acknowledging and forwarding — so callers MUST keep polling Receive, with a
// short timeout, even when they expect no data. This keeps the transport
// trivially embeddable in a single-threaded event loop and makes all protocol
// activity observable at the call site.
//
// `Transport.SendWait` is the one call that blocks longer: it parks on a
// channel that the acknowledgment handler signals, until the packet is acked
// or given up on.
//
// Dependencies are kept minimal:
//
// * [`hashicorp/go-metrics`][dep-met], to let you choose how to collect metrics.
// * `log/slog`, to let you choose how to treat structured logs.
// * [`gorilla/websocket`][dep-ws], only in the optional wsrelay medium.
//
// [dep-met]: https://pkg.go.dev/github.com/hashicorp/go-metrics
// [dep-ws]: https://pkg.go.dev/github.com/gorilla/websocket
package mnet
