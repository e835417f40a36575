// Package tcpport implements port.Port and port.Listener over plain TCP
// sockets, framing each ADU with the Modbus application protocol (MBAP)
// header: a two-byte transaction identifier, a two-byte protocol identifier
// (always zero), a two-byte length, and a one-byte unit identifier, followed
// by the PDU (function code plus body).
//
// Both Open and the read/write cycle are non-blocking: each call either
// makes progress or returns statuscode.StatusProcessing, and a socket
// operation waits at most a millisecond, so the caller's tick loop never
// stalls on the network.
package tcpport

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/port"
	"github.com/modbuscore/modbuscore/statuscode"
)

const mbapHeaderLen = 7

// DefaultDialTimeout bounds how long a client-mode Port waits for the
// initial TCP handshake before Open reports failure.
const DefaultDialTimeout = 10 * time.Second

type dialOutcome struct {
	conn net.Conn
	err  error
}

// Port is a port.Port over a TCP connection. A Port is either dialed by the
// caller (client mode, built with New) or handed an already-accepted
// net.Conn by a Listener (server mode, built by NextPendingConnection).
type Port struct {
	addr        string
	dialTimeout time.Duration
	server      bool

	conn net.Conn

	dialCh  chan dialOutcome
	dialing bool

	txnID uint16

	readBuf     []byte
	readScratch [512]byte
	lastFrame   []byte

	pendingUnit uint8
	pendingFn   pdu.FuncCode
	pendingBody []byte

	writeBuf []byte
	writeOff int

	lastErr string
}

var _ port.Port = (*Port)(nil)

// New returns a client-mode Port that dials addr ("host:port") when Open is
// called. A zero dialTimeout uses DefaultDialTimeout.
func New(addr string, dialTimeout time.Duration) *Port {
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Port{addr: addr, dialTimeout: dialTimeout}
}

func newAccepted(conn net.Conn) *Port {
	return &Port{conn: conn, server: true}
}

// IsOpen implements port.Port.
func (p *Port) IsOpen() bool { return p.conn != nil }

// Type implements port.Port.
func (p *Port) Type() port.ProtocolType { return port.TCP }

// SetServerMode implements port.Port.
func (p *Port) SetServerMode(server bool) { p.server = server }

// LastErrorText implements port.Port.
func (p *Port) LastErrorText() string { return p.lastErr }

// Open implements port.Port. Server-mode ports are already connected by the
// time they're handed out and Open is a no-op on them; client-mode ports
// dial in a background goroutine and poll it to completion.
func (p *Port) Open() statuscode.StatusCode {
	if p.conn != nil {
		return statuscode.StatusGood
	}
	if p.server {
		p.lastErr = "server-mode port has no connection to open"
		return statuscode.StatusBadTcpOpenError
	}
	if !p.dialing {
		p.dialCh = make(chan dialOutcome, 1)
		p.dialing = true
		addr, timeout := p.addr, p.dialTimeout
		go func() {
			conn, err := net.DialTimeout("tcp", addr, timeout)
			p.dialCh <- dialOutcome{conn: conn, err: err}
		}()
		return statuscode.StatusProcessing
	}
	select {
	case res := <-p.dialCh:
		p.dialing = false
		if res.err != nil {
			p.lastErr = res.err.Error()
			return statuscode.StatusBadTcpOpenError
		}
		p.conn = res.conn
		return statuscode.StatusGood
	default:
		return statuscode.StatusProcessing
	}
}

// Close implements port.Port.
func (p *Port) Close() statuscode.StatusCode {
	if p.conn == nil {
		return statuscode.StatusGood
	}
	p.conn.Close()
	p.conn = nil
	p.readBuf = p.readBuf[:0]
	p.writeBuf = nil
	p.writeOff = 0
	return statuscode.StatusGood
}

// WriteBuffer implements port.Port: it composes the MBAP header and PDU into
// the internal write buffer. It performs no I/O.
func (p *Port) WriteBuffer(unit uint8, fn pdu.FuncCode, body []byte) statuscode.StatusCode {
	if len(body)+1 > pdu.MaxBytes {
		return statuscode.StatusBadWriteBufferOverflow
	}
	buf := make([]byte, mbapHeaderLen+1+len(body))
	binary.BigEndian.PutUint16(buf[0:2], p.txnID)
	p.txnID++
	// buf[2:4] protocol identifier, always zero.
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(body)+2)) // unit + function code + body
	buf[6] = unit
	buf[7] = byte(fn)
	copy(buf[8:], body)
	p.writeBuf = buf
	p.writeOff = 0
	return statuscode.StatusGood
}

// Write implements port.Port, flushing as much of the write buffer as the
// socket accepts within a millisecond.
func (p *Port) Write() statuscode.StatusCode {
	if p.conn == nil {
		return statuscode.StatusBadPortNotOpen
	}
	if p.writeOff >= len(p.writeBuf) {
		return statuscode.StatusGood
	}
	// A deadline already in the past fails before any write is attempted.
	p.conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
	n, err := p.conn.Write(p.writeBuf[p.writeOff:])
	p.writeOff += n
	if err != nil {
		if isTimeout(err) {
			if p.writeOff >= len(p.writeBuf) {
				return statuscode.StatusGood
			}
			return statuscode.StatusProcessing
		}
		p.lastErr = err.Error()
		return statuscode.StatusBadTcpWriteError
	}
	if p.writeOff >= len(p.writeBuf) {
		return statuscode.StatusGood
	}
	return statuscode.StatusProcessing
}

// Read implements port.Port: it drains whatever bytes the socket has ready,
// waiting at most a millisecond, and reports Good once a complete ADU has
// accumulated.
func (p *Port) Read() statuscode.StatusCode {
	if p.conn == nil {
		return statuscode.StatusBadPortNotOpen
	}
	// A deadline already in the past fails before any read is attempted.
	p.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := p.conn.Read(p.readScratch[:])
	if n > 0 {
		p.readBuf = append(p.readBuf, p.readScratch[:n]...)
	}
	if err != nil {
		if err == io.EOF {
			p.conn.Close()
			p.conn = nil
			return statuscode.StatusBadTcpDisconnect
		}
		if !isTimeout(err) {
			p.lastErr = err.Error()
			return statuscode.StatusBadTcpReadError
		}
	}
	if len(p.readBuf) < mbapHeaderLen {
		return statuscode.StatusProcessing
	}
	length := binary.BigEndian.Uint16(p.readBuf[4:6])
	total := 6 + int(length) // 6 header bytes before the length field's own count
	if total <= mbapHeaderLen || total-mbapHeaderLen > pdu.MaxBytes {
		p.lastErr = "bad MBAP length"
		return statuscode.StatusBadNotCorrectRequest
	}
	if len(p.readBuf) < total {
		return statuscode.StatusProcessing
	}
	frame := p.readBuf[:total]
	p.lastFrame = append(p.lastFrame[:0], frame...)
	p.pendingUnit = frame[6]
	p.pendingFn = pdu.FuncCode(frame[7])
	p.pendingBody = append(p.pendingBody[:0], frame[8:total]...)
	p.readBuf = append(p.readBuf[:0], p.readBuf[total:]...)
	return statuscode.StatusGood
}

// ReadBuffer implements port.Port.
func (p *Port) ReadBuffer() (unit uint8, fn pdu.FuncCode, body []byte, status statuscode.StatusCode) {
	return p.pendingUnit, p.pendingFn, p.pendingBody, statuscode.StatusGood
}

// ReadBufferData implements port.Port.
func (p *Port) ReadBufferData() []byte { return p.lastFrame }

// ReadBufferSize implements port.Port.
func (p *Port) ReadBufferSize() int { return len(p.lastFrame) }

// WriteBufferData implements port.Port.
func (p *Port) WriteBufferData() []byte { return p.writeBuf }

// WriteBufferSize implements port.Port.
func (p *Port) WriteBufferSize() int { return len(p.writeBuf) }

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// Listener is a port.Listener over a TCP socket, handing out one Port per
// accepted connection.
type Listener struct {
	addr string
	ln   *net.TCPListener
}

var _ port.Listener = (*Listener)(nil)

// NewListener returns a Listener that will bind addr ("host:port") on Open.
func NewListener(addr string) *Listener {
	return &Listener{addr: addr}
}

// IsOpen implements port.Listener.
func (l *Listener) IsOpen() bool { return l.ln != nil }

// Addr returns the listener's bound address, or "" if not open. Useful when
// the listener was configured with an ephemeral port (":0").
func (l *Listener) Addr() string {
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// Open implements port.Listener.
func (l *Listener) Open() statuscode.StatusCode {
	if l.ln != nil {
		return statuscode.StatusGood
	}
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return statuscode.StatusBadTcpOpenError
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return statuscode.StatusBadTcpOpenError
	}
	l.ln = tcpLn
	return statuscode.StatusGood
}

// Close implements port.Listener.
func (l *Listener) Close() statuscode.StatusCode {
	if l.ln == nil {
		return statuscode.StatusGood
	}
	l.ln.Close()
	l.ln = nil
	return statuscode.StatusGood
}

// NextPendingConnection implements port.Listener, waiting at most a
// millisecond for a connection: if none is waiting, ok is false.
func (l *Listener) NextPendingConnection() (port.Port, bool) {
	if l.ln == nil {
		return nil, false
	}
	// A deadline already in the past fails before any accept is attempted.
	l.ln.SetDeadline(time.Now().Add(time.Millisecond))
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, false
	}
	return newAccepted(conn), true
}
