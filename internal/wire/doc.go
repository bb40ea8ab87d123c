// Package wire implements the container wire form and the two framing
// protocols used between modules.
//
// # Containers
//
// A Container is the unit of exchange. It carries a DataType tag, an opaque
// payload and two timestamps set by the transport. Serialize and Deserialize
// convert a Container to and from its binary form:
//
//	magic(2) | type uint32 | sent int64 | received int64 | length uint32 | payload
//
// All integers are big-endian; timestamps are microseconds since the epoch.
//
// Typed payloads are registered with a Registry and encoded as JSON into the
// payload bytes:
//
//	reg := wire.NewRegistry()
//	reg.Register(42, "example.Heartbeat", func() wire.Payload { return &Heartbeat{} })
//	c, _ := wire.NewContainer(&Heartbeat{Seq: 1})
//	p, _ := reg.Decode(c)
//
// # Framing
//
// Length-prefixed framing writes a 4-byte big-endian length followed by the
// payload and is used for the binary container channel. Netstring framing
// writes "<len>:<payload>," and is used for the control channel. Both decoders
// accept arbitrary chunks of a byte stream, buffer incomplete frames across
// calls and hand each complete frame to a StringListener in arrival order.
//
// Decoders are not safe for concurrent use; each belongs to the single
// goroutine reading its stream.
package wire
