// Package serialport implements port.Port over RTU and ASCII serial lines
// using go.bug.st/serial as the concrete byte-level transport. This is one
// of two concrete Port adapters the core never imports directly (the state
// machines in mbclient/mbserver only see port.Port); it exists so a
// complete repository has something real for its cmd/ binaries to open.
//
// Read polls rather than blocks: Open sets a short read timeout on the
// underlying device once, and every call to Read drains whatever bytes are
// currently buffered and reports Processing until a full RTU or ASCII frame
// has accumulated, mirroring tcpport's deadline-polling style. Write hands
// the whole frame to the driver in one call. Grounded on npat-efault-modbus/serrcv.go's
// DeadlineReader pattern for turning a timeout-based reader into a
// tick-driven one, and on channono-ModbusBaby-go's use of go.bug.st/serial
// as the concrete device.
package serialport

import (
	"time"

	"go.bug.st/serial"

	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/port"
	"github.com/modbuscore/modbuscore/statuscode"
)

// Framing selects the serial line encoding: RTU's binary frames with a
// CRC16 trailer, or ASCII's hex-encoded frames with an LRC trailer.
type Framing int

const (
	RTU Framing = iota
	ASCII
)

// Config configures a Port's underlying serial device. The zero value
// defaults to 8N1 at 19200 baud, the Modbus RTU default, with a 10ms read
// poll interval.
type Config struct {
	BaudRate     int
	DataBits     int
	Parity       serial.Parity
	StopBits     serial.StopBits
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = 19200
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	return c
}

// Port is a port.Port over a named serial device. A Port is always in
// client mode until SetServerMode(true) is called by a Server Resource;
// unlike tcpport there is no separate listener type, since RTU/ASCII buses
// have exactly one peer per physical line.
type Port struct {
	name    string
	framing Framing
	cfg     Config
	server  bool

	dev serial.Port

	readBuf     []byte
	readScratch [256]byte
	rtuSizer    sizer
	lastFrame   []byte

	pendingUnit uint8
	pendingFn   pdu.FuncCode
	pendingBody []byte

	writeBuf []byte

	lastErr string
}

var _ port.Port = (*Port)(nil)

// New returns a Port that will open the named serial device (e.g.
// "/dev/ttyUSB0" or "COM3") when Open is called.
func New(name string, framing Framing, cfg Config) *Port {
	return &Port{name: name, framing: framing, cfg: cfg.withDefaults()}
}

// IsOpen implements port.Port.
func (p *Port) IsOpen() bool { return p.dev != nil }

// Type implements port.Port.
func (p *Port) Type() port.ProtocolType {
	if p.framing == ASCII {
		return port.ASCII
	}
	return port.RTU
}

// SetServerMode implements port.Port.
func (p *Port) SetServerMode(server bool) { p.server = server }

// LastErrorText implements port.Port.
func (p *Port) LastErrorText() string { return p.lastErr }

// Open implements port.Port. Opening a local serial device is a bounded,
// fast syscall unlike a network dial, so unlike tcpport.Port.Open this
// never returns Processing.
func (p *Port) Open() statuscode.StatusCode {
	if p.dev != nil {
		return statuscode.StatusGood
	}
	mode := &serial.Mode{
		BaudRate: p.cfg.BaudRate,
		DataBits: p.cfg.DataBits,
		Parity:   p.cfg.Parity,
		StopBits: p.cfg.StopBits,
	}
	dev, err := serial.Open(p.name, mode)
	if err != nil {
		p.lastErr = err.Error()
		return statuscode.StatusBadSerialOpenError
	}
	if err := dev.SetReadTimeout(p.cfg.PollInterval); err != nil {
		dev.Close()
		p.lastErr = err.Error()
		return statuscode.StatusBadSerialOpenError
	}
	p.dev = dev
	return statuscode.StatusGood
}

// Close implements port.Port.
func (p *Port) Close() statuscode.StatusCode {
	if p.dev == nil {
		return statuscode.StatusGood
	}
	p.dev.Close()
	p.dev = nil
	p.readBuf = p.readBuf[:0]
	p.rtuSizer = sizer{}
	p.writeBuf = nil
	return statuscode.StatusGood
}

// WriteBuffer implements port.Port: it composes the RTU or ASCII frame into
// the internal write buffer. It performs no I/O.
func (p *Port) WriteBuffer(unit uint8, fn pdu.FuncCode, body []byte) statuscode.StatusCode {
	if len(body)+1 > pdu.MaxBytes {
		return statuscode.StatusBadWriteBufferOverflow
	}
	payload := make([]byte, 0, 2+len(body))
	payload = append(payload, unit, byte(fn))
	payload = append(payload, body...)

	switch p.framing {
	case ASCII:
		p.writeBuf = encodeASCIIFrame(payload)
	default:
		p.writeBuf = appendCRC(payload)
	}
	return statuscode.StatusGood
}

// Write implements port.Port. A local serial write is bounded by the
// driver's own buffering, so this flushes the whole write buffer in one
// call rather than polling across ticks the way tcpport.Port.Write does
// for a socket that can legitimately block on backpressure.
func (p *Port) Write() statuscode.StatusCode {
	if p.dev == nil {
		return statuscode.StatusBadPortNotOpen
	}
	if len(p.writeBuf) == 0 {
		return statuscode.StatusGood
	}
	if _, err := p.dev.Write(p.writeBuf); err != nil {
		p.lastErr = err.Error()
		return statuscode.StatusBadSerialWriteError
	}
	return statuscode.StatusGood
}

// Read implements port.Port: it drains whatever bytes the device's read
// timeout lets through this tick and reports Good once a complete RTU or
// ASCII frame has accumulated.
func (p *Port) Read() statuscode.StatusCode {
	if p.dev == nil {
		return statuscode.StatusBadPortNotOpen
	}
	n, err := p.dev.Read(p.readScratch[:])
	if err != nil {
		p.lastErr = err.Error()
		return statuscode.StatusBadSerialReadError
	}
	if n > 0 {
		p.readBuf = append(p.readBuf, p.readScratch[:n]...)
	}

	switch p.framing {
	case ASCII:
		return p.readASCII()
	default:
		return p.readRTU()
	}
}

func (p *Port) readRTU() statuscode.StatusCode {
	var remain int
	var ok bool
	if p.server {
		remain, ok = p.rtuSizer.request(p.readBuf)
	} else {
		remain, ok = p.rtuSizer.response(p.readBuf)
	}
	if !ok {
		p.lastErr = "unsupported or unrecognized function code"
		p.resetFrame()
		return statuscode.StatusBadNotCorrectRequest
	}
	if remain > 0 {
		return statuscode.StatusProcessing
	}
	frame := p.readBuf[:p.rtuSizer.total]
	if !checkCRC(frame) {
		p.lastErr = "bad RTU CRC"
		p.consumeFrame(len(frame))
		return statuscode.StatusBadSerialCRC
	}
	p.acceptFrame(frame[:len(frame)-crcTrailer], len(frame))
	return statuscode.StatusGood
}

func (p *Port) readASCII() statuscode.StatusCode {
	nl := indexCRLF(p.readBuf)
	if nl < 0 {
		if len(p.readBuf) > maxASCIIFrame {
			p.lastErr = "ASCII frame too long"
			p.readBuf = p.readBuf[:0]
			return statuscode.StatusBadNotCorrectRequest
		}
		return statuscode.StatusProcessing
	}
	frame := p.readBuf[:nl+2]
	payload, ok := decodeASCIIFrame(frame)
	if !ok {
		p.lastErr = "bad ASCII frame"
		p.consumeFrame(len(frame))
		return statuscode.StatusBadSerialLRC
	}
	p.acceptFrame(payload, len(frame))
	return statuscode.StatusGood
}

func (p *Port) acceptFrame(payload []byte, consumed int) {
	p.lastFrame = append(p.lastFrame[:0], payload...)
	p.pendingUnit = payload[0]
	p.pendingFn = pdu.FuncCode(payload[1])
	p.pendingBody = append(p.pendingBody[:0], payload[2:]...)
	p.consumeFrame(consumed)
}

func (p *Port) consumeFrame(n int) {
	p.readBuf = append(p.readBuf[:0], p.readBuf[n:]...)
	p.rtuSizer = sizer{}
}

func (p *Port) resetFrame() {
	p.readBuf = p.readBuf[:0]
	p.rtuSizer = sizer{}
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
