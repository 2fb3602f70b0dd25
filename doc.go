/*
Package lmqtt implements the core of an MQTT v3.1.1 client: a byte-oriented
encoder and decoder that perform no I/O of their own.

The core never reads from or writes to a socket. Instead the host supplies a
ReadFunc and a WriteFunc, both of which operate on caller-owned buffers and
may report that they would block. RunOnce drives one tick of the protocol:
encode whatever is queued, hand it to the host's write, hand the host's read
to the decoder, and repeat until nothing more can be done without blocking.

This design targets hosts that cannot assume threads, a heap, or a specific
socket API: microcontrollers, event-loop frameworks, and non-blocking
runtimes. All memory -- the TX/RX buffers, the packet store, the inbound
packet-identifier set, and the WebSocket handshake line buffer -- is supplied
by the caller or allocated once from the ClientConfig sizes at construction
time, and never grown.

Start by reading errors.go for the error taxonomy, store.go for how in-flight
packets are tracked, and client.go for the state machine wiring it together.
*/
package lmqtt
