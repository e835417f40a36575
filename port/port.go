// Package port declares the abstract Port and Listener contracts consumed
// by mbclient, mbserver, and mbtcp. The core never sees
// a concrete transport; serialport and tcpport supply the byte-level
// drivers (RTU/ASCII serial and TCP sockets respectively) that implement
// these interfaces.
package port

import (
	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/statuscode"
)

// ProtocolType identifies the wire transport underneath a Port.
type ProtocolType int

// Protocol types.
const (
	RTU ProtocolType = iota
	ASCII
	TCP
)

// String renders a human-readable protocol name.
func (t ProtocolType) String() string {
	switch t {
	case RTU:
		return "RTU"
	case ASCII:
		return "ASCII"
	case TCP:
		return "TCP"
	default:
		return "unknown"
	}
}

// Port is the non-blocking, PDU-level transport contract the core drives
// through the write -> read -> parse -> dispatch cycle. Every operation may
// return statuscode.StatusProcessing to mean "not finished this tick, call
// again"; there is no blocking inside the core.
type Port interface {
	// IsOpen reports whether the port is currently open.
	IsOpen() bool

	// Open begins or continues opening the port.
	Open() statuscode.StatusCode

	// Close begins or continues closing the port. Close on an
	// already-closed port returns Good immediately with no side effects.
	Close() statuscode.StatusCode

	// Type reports the underlying wire transport.
	Type() ProtocolType

	// SetServerMode tells the port whether it is being driven by a Server
	// Resource (true) or a Client Port (false).
	SetServerMode(server bool)

	// WriteBuffer composes the ADU for the given unit, function, and PDU
	// body into the port's internal write buffer. It performs no I/O.
	WriteBuffer(unit uint8, fn pdu.FuncCode, body []byte) statuscode.StatusCode

	// Write flushes the previously composed write buffer to the wire.
	Write() statuscode.StatusCode

	// Read receives one ADU from the wire into the port's internal read
	// buffer.
	Read() statuscode.StatusCode

	// ReadBuffer extracts the unit, function, and PDU body most recently
	// received by Read.
	ReadBuffer() (unit uint8, fn pdu.FuncCode, body []byte, status statuscode.StatusCode)

	// ReadBufferData and ReadBufferSize expose the raw bytes most recently
	// received, for Rx signal payloads. Implementations that don't emit
	// payload-carrying signals may return (nil, 0).
	ReadBufferData() []byte
	ReadBufferSize() int

	// WriteBufferData and WriteBufferSize expose the raw bytes most
	// recently composed by WriteBuffer, for Tx signal payloads.
	WriteBufferData() []byte
	WriteBufferSize() int

	// LastErrorText returns a textual description of the most recent
	// transport-level failure.
	LastErrorText() string
}

// Listener is the TCP listener extension to Port: a passive
// socket that produces newly accepted connections, each wrapped in its own
// Port by the caller.
type Listener interface {
	// IsOpen reports whether the listener is currently accepting.
	IsOpen() bool

	// Open begins or continues opening the listener.
	Open() statuscode.StatusCode

	// Close stops accepting and releases the listening socket. Close on an
	// already-closed listener returns Good immediately.
	Close() statuscode.StatusCode

	// NextPendingConnection returns the next already-accepted connection,
	// if any, wrapped as a Port in server mode. ok is false when there is
	// none pending right now (not an error).
	NextPendingConnection() (p Port, ok bool)
}
