// Package mbclient implements the Client Port: a state machine that
// serializes Modbus transactions from one or more Client facades onto a
// single port.Port, enforcing FIFO fairness, retries, and broadcast
// semantics. There is no blocking I/O here; every
// public call is re-driven by the caller until it stops returning
// statuscode.StatusProcessing.
package mbclient

import (
	"sync"
	"time"

	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/port"
	"github.com/modbuscore/modbuscore/signals"
	"github.com/modbuscore/modbuscore/statuscode"
)

// state is a transaction's position in the write -> read -> parse cycle.
// A Processing result from the Port's Write or Read moves the transaction
// to WaitForWrite or WaitForRead; those states are handled by the same case
// as Write and Read, so the next tick simply calls the Port again.
type state int

const (
	stateBegin state = iota
	stateWaitForOpen
	statePrepareToWrite
	stateWrite
	stateWaitForWrite
	stateRead
	stateWaitForRead
	stateProcessOutput
	stateTimeout
	stateDone
)

type encodeFunc func(dst []byte) (int, statuscode.StatusCode)
type decodeFunc func(body []byte) statuscode.StatusCode

// transaction is the in-flight client-side request/response exchange.
// At most one exists at a time per ClientPort.
type transaction struct {
	unit     uint8
	fn       pdu.FuncCode
	encode   encodeFunc
	decode   decodeFunc
	clientID int

	broadcast      bool
	state          state
	triesRemaining int
	triesUsed      int
	lastStatus     statuscode.StatusCode

	reqBuf [pdu.MaxBytes]byte
	reqLen int
}

func (t *transaction) enterWrite() {
	t.state = stateWrite
	t.triesUsed++
}

// tick advances t by as much as it can this call, returning a terminal
// status (Good/Bad) once the transaction is finished, or StatusProcessing
// if it is blocked on p.
func (t *transaction) tick(p port.Port) (status statuscode.StatusCode, txSignal, rxSignal bool) {
	for {
		switch t.state {
		case stateBegin:
			if !p.IsOpen() {
				t.state = stateWaitForOpen
				continue
			}
			t.state = statePrepareToWrite
			continue

		case stateWaitForOpen:
			st := p.Open()
			if st.IsProcessing() {
				return st, txSignal, rxSignal
			}
			if st.IsBad() {
				t.lastStatus = st
				t.state = stateTimeout
				return st, txSignal, rxSignal
			}
			t.state = statePrepareToWrite
			continue

		case statePrepareToWrite:
			n, st := t.encode(t.reqBuf[:])
			if !st.IsGood() {
				t.lastStatus = st
				t.state = stateTimeout
				return st, txSignal, rxSignal
			}
			t.reqLen = n
			st = p.WriteBuffer(t.unit, t.fn, t.reqBuf[:n])
			if !st.IsGood() {
				t.lastStatus = st
				t.state = stateTimeout
				return st, txSignal, rxSignal
			}
			t.enterWrite()
			continue

		case stateWrite, stateWaitForWrite:
			st := p.Write()
			if st.IsProcessing() {
				t.state = stateWaitForWrite
				return st, txSignal, rxSignal
			}
			if st.IsGood() {
				txSignal = true
				if t.broadcast {
					t.lastStatus = statuscode.StatusGood
					t.state = stateDone
					return statuscode.StatusGood, txSignal, rxSignal
				}
				t.state = stateRead
				continue
			}
			// Bad write.
			if t.broadcast {
				t.lastStatus = statuscode.StatusGood
				t.state = stateDone
				return statuscode.StatusGood, txSignal, rxSignal
			}
			if t.triesRemaining--; t.triesRemaining <= 0 {
				t.lastStatus = st
				t.state = stateTimeout
				return st, txSignal, rxSignal
			}
			t.enterWrite()
			continue

		case stateRead, stateWaitForRead:
			st := p.Read()
			if st.IsProcessing() {
				t.state = stateWaitForRead
				return st, txSignal, rxSignal
			}
			if st.IsGood() {
				rxSignal = true
				t.state = stateProcessOutput
				continue
			}
			// Bad read: consume a retry and loop back to Write.
			if t.triesRemaining--; t.triesRemaining <= 0 {
				t.lastStatus = st
				t.state = stateTimeout
				return st, txSignal, rxSignal
			}
			t.enterWrite()
			continue

		case stateProcessOutput:
			unit, fn, body, st := p.ReadBuffer()
			if !st.IsGood() {
				t.lastStatus = statuscode.StatusBadNotCorrectResponse
				t.state = stateTimeout
				return t.lastStatus, txSignal, rxSignal
			}
			if unit != t.unit || fn.Plain() != t.fn {
				t.lastStatus = statuscode.StatusBadNotCorrectResponse
				t.state = stateTimeout
				return t.lastStatus, txSignal, rxSignal
			}
			if fn.IsError() {
				t.lastStatus = pdu.DecodeExceptionResponse(body)
				t.state = stateTimeout
				return t.lastStatus, txSignal, rxSignal
			}
			st = t.decode(body)
			t.lastStatus = st
			t.state = stateDone
			return st, txSignal, rxSignal

		case stateDone, stateTimeout:
			return t.lastStatus, txSignal, rxSignal

		default:
			panic("mbclient: unreachable state")
		}
	}
}

func (t *transaction) terminal() bool {
	return t.state == stateDone || t.state == stateTimeout
}

// Config configures a ClientPort.
type Config struct {
	// Tries is the maximum number of write/read attempts per transaction.
	// Must be >= 1; zero is coerced to 1.
	Tries int

	// BroadcastEnabled gates whether unit 0 requests skip waiting for a
	// response.
	BroadcastEnabled bool

	// Name identifies this ClientPort in emitted signals.
	Name string

	// Now returns the current time, used to stamp LastStatusTimestamp.
	// Defaults to time.Now if nil.
	Now func() time.Time
}

// ClientPort owns one port.Port in client mode and serializes transactions
// from one or more Client facades onto it, in FIFO order of arrival.
type ClientPort struct {
	mu sync.Mutex

	p      port.Port
	cfg    Config
	name   string
	now    func() time.Time
	tries  int

	current      *transaction
	queue        []int
	nextClientID int

	wasOpen bool

	lastStatus          statuscode.StatusCode
	lastErrorStatus      statuscode.StatusCode
	lastErrorText        string
	lastStatusTimestamp time.Time
	lastTries           int

	closed bool

	openedBus    signals.Bus[func(name string)]
	closedBus    signals.Bus[func(name string)]
	txBus        signals.Bus[func(name string, data []byte, size int)]
	rxBus        signals.Bus[func(name string, data []byte, size int)]
	errorBus     signals.Bus[func(name string, status statuscode.StatusCode, text string)]
	completedBus signals.Bus[func(name string, status statuscode.StatusCode)]
}

// New creates a ClientPort driving p.
func New(p port.Port, cfg Config) *ClientPort {
	if cfg.Tries < 1 {
		cfg.Tries = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p.SetServerMode(false)
	return &ClientPort{
		p:          p,
		cfg:        cfg,
		name:       cfg.Name,
		now:        cfg.Now,
		tries:      cfg.Tries,
		lastStatus: statuscode.StatusUncertain,
	}
}

// SubscribeOpened, SubscribeClosed, SubscribeTx, SubscribeRx,
// SubscribeError, and SubscribeCompleted register handlers for this
// ClientPort's signals.
func (cp *ClientPort) SubscribeOpened(h func(name string)) signals.Subscription {
	return cp.openedBus.Subscribe(h)
}

func (cp *ClientPort) SubscribeClosed(h func(name string)) signals.Subscription {
	return cp.closedBus.Subscribe(h)
}

func (cp *ClientPort) SubscribeTx(h func(name string, data []byte, size int)) signals.Subscription {
	return cp.txBus.Subscribe(h)
}

func (cp *ClientPort) SubscribeRx(h func(name string, data []byte, size int)) signals.Subscription {
	return cp.rxBus.Subscribe(h)
}

func (cp *ClientPort) SubscribeError(h func(name string, status statuscode.StatusCode, text string)) signals.Subscription {
	return cp.errorBus.Subscribe(h)
}

func (cp *ClientPort) SubscribeCompleted(h func(name string, status statuscode.StatusCode)) signals.Subscription {
	return cp.completedBus.Subscribe(h)
}

// LastStatus, LastErrorStatus, LastErrorText, and LastStatusTimestamp are
// retained on the component for polling.
func (cp *ClientPort) LastStatus() statuscode.StatusCode {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.lastStatus
}

func (cp *ClientPort) LastErrorStatus() statuscode.StatusCode {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.lastErrorStatus
}

func (cp *ClientPort) LastErrorText() string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.lastErrorText
}

func (cp *ClientPort) LastStatusTimestamp() time.Time {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.lastStatusTimestamp
}

// LastTries reports how many write/read attempts the most recently
// completed transaction actually used.
func (cp *ClientPort) LastTries() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.lastTries
}

// Close closes the underlying port and rejects any further client calls
// with StatusBadPortClosed, without going through the Begin/WaitForOpen
// transition.
func (cp *ClientPort) Close() statuscode.StatusCode {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.closed {
		return statuscode.StatusGood
	}
	st := cp.p.Close()
	if st.IsProcessing() {
		return st
	}
	cp.closed = true
	cp.emitClosedLocked()
	return st
}

func (cp *ClientPort) emitClosedLocked() {
	name := cp.name
	cp.closedBus.Emit(func(h func(string)) { h(name) })
}

func (cp *ClientPort) setResultLocked(st statuscode.StatusCode) {
	cp.lastStatus = st
	cp.lastStatusTimestamp = cp.now()
	if st.IsBad() {
		cp.lastErrorStatus = st
		if text := cp.p.LastErrorText(); text != "" {
			cp.lastErrorText = text
		} else {
			cp.lastErrorText = st.String()
		}
	}
}

// dispatch implements the fair-multiplexing algorithm: the
// current client's call advances its transaction; any other client
// registers intent and waits; the port's next free claimant is whichever
// client has been waiting longest.
func (cp *ClientPort) dispatch(
	clientID int, unit uint8, fn pdu.FuncCode, encode encodeFunc, decode decodeFunc,
) statuscode.StatusCode {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.closed {
		return statuscode.StatusBadPortClosed
	}

	cp.checkOpenEdgeLocked()

	if cp.current != nil {
		if cp.current.clientID != clientID {
			cp.enqueueLocked(clientID)
			return statuscode.StatusProcessing
		}
		return cp.tickLocked()
	}

	if len(cp.queue) > 0 && cp.queue[0] != clientID {
		cp.enqueueLocked(clientID)
		return statuscode.StatusProcessing
	}
	if len(cp.queue) > 0 {
		cp.queue = cp.queue[1:]
	}

	broadcast := unit == 0 && cp.cfg.BroadcastEnabled
	cp.current = &transaction{
		unit:           unit,
		fn:             fn,
		encode:         encode,
		decode:         decode,
		clientID:       clientID,
		broadcast:      broadcast,
		state:          stateBegin,
		triesRemaining: cp.tries,
	}
	return cp.tickLocked()
}

func (cp *ClientPort) enqueueLocked(clientID int) {
	for _, id := range cp.queue {
		if id == clientID {
			return
		}
	}
	cp.queue = append(cp.queue, clientID)
}

func (cp *ClientPort) checkOpenEdgeLocked() {
	open := cp.p.IsOpen()
	if open && !cp.wasOpen {
		name := cp.name
		cp.openedBus.Emit(func(h func(string)) { h(name) })
	} else if !open && cp.wasOpen {
		name := cp.name
		cp.closedBus.Emit(func(h func(string)) { h(name) })
	}
	cp.wasOpen = open
}

func (cp *ClientPort) tickLocked() statuscode.StatusCode {
	t := cp.current
	status, tx, rx := t.tick(cp.p)
	name := cp.name
	if tx {
		data, size := cp.p.WriteBufferData(), cp.p.WriteBufferSize()
		cp.txBus.Emit(func(h func(string, []byte, int)) { h(name, data, size) })
	}
	if rx {
		data, size := cp.p.ReadBufferData(), cp.p.ReadBufferSize()
		cp.rxBus.Emit(func(h func(string, []byte, int)) { h(name, data, size) })
	}
	if !t.terminal() {
		return status
	}
	cp.lastTries = t.triesUsed
	cp.setResultLocked(status)
	if status.IsBad() {
		text := cp.lastErrorText
		cp.errorBus.Emit(func(h func(string, statuscode.StatusCode, string)) { h(name, status, text) })
	}
	cp.completedBus.Emit(func(h func(string, statuscode.StatusCode)) { h(name, status) })
	cp.current = nil
	return status
}

// Client is a lightweight facade bound to a (unit, ClientPort) pair. A
// Client is stateless aside from its owning ClientPort; it borrows the
// port's currently-running transaction when it matches this facade's
// identity.
type Client struct {
	id   int
	unit uint8
	port *ClientPort
}

// NewClient returns a Client facade bound to unit on cp.
func (cp *ClientPort) NewClient(unit uint8) *Client {
	cp.mu.Lock()
	id := cp.nextClientID
	cp.nextClientID++
	cp.mu.Unlock()
	return &Client{id: id, unit: unit, port: cp}
}

// Unit returns this facade's bound unit identifier.
func (c *Client) Unit() uint8 { return c.unit }

func (c *Client) call(fn pdu.FuncCode, encode encodeFunc, decode decodeFunc) statuscode.StatusCode {
	return c.port.dispatch(c.id, c.unit, fn, encode, decode)
}

// ReadCoils issues a ReadCoils request. Re-invoke with identical arguments
// until the returned status is no longer StatusProcessing.
func (c *Client) ReadCoils(offset, count uint16) ([]bool, statuscode.StatusCode) {
	var out []bool
	status := c.call(pdu.FuncReadCoils,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeReadCoilsRequest(dst, pdu.ReadRequest{Offset: offset, Count: count})
		},
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeReadCoilsResponse(body, int(count))
			if st.IsGood() {
				out = resp.Bools()
			}
			return st
		})
	return out, status
}

// ReadDiscreteInputs issues a ReadDiscreteInputs request.
func (c *Client) ReadDiscreteInputs(offset, count uint16) ([]bool, statuscode.StatusCode) {
	var out []bool
	status := c.call(pdu.FuncReadDiscreteInputs,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeReadDiscreteInputsRequest(dst, pdu.ReadRequest{Offset: offset, Count: count})
		},
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeReadDiscreteInputsResponse(body, int(count))
			if st.IsGood() {
				out = resp.Bools()
			}
			return st
		})
	return out, status
}

// ReadHoldingRegisters issues a ReadHoldingRegisters request.
func (c *Client) ReadHoldingRegisters(offset, count uint16) ([]uint16, statuscode.StatusCode) {
	var out []uint16
	status := c.call(pdu.FuncReadHoldingRegisters,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeReadHoldingRegistersRequest(dst, pdu.ReadRequest{Offset: offset, Count: count})
		},
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeReadHoldingRegistersResponse(body, int(count))
			if st.IsGood() {
				out = resp.Registers
			}
			return st
		})
	return out, status
}

// ReadInputRegisters issues a ReadInputRegisters request.
func (c *Client) ReadInputRegisters(offset, count uint16) ([]uint16, statuscode.StatusCode) {
	var out []uint16
	status := c.call(pdu.FuncReadInputRegisters,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeReadInputRegistersRequest(dst, pdu.ReadRequest{Offset: offset, Count: count})
		},
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeReadInputRegistersResponse(body, int(count))
			if st.IsGood() {
				out = resp.Registers
			}
			return st
		})
	return out, status
}

// WriteSingleCoil issues a WriteSingleCoil request.
func (c *Client) WriteSingleCoil(offset uint16, value bool) statuscode.StatusCode {
	return c.call(pdu.FuncWriteSingleCoil,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeWriteSingleCoil(dst, pdu.WriteSingleCoil{Offset: offset, Value: value})
		},
		func(body []byte) statuscode.StatusCode {
			_, st := pdu.DecodeWriteSingleCoil(body)
			return st
		})
}

// WriteSingleRegister issues a WriteSingleRegister request.
func (c *Client) WriteSingleRegister(offset, value uint16) statuscode.StatusCode {
	return c.call(pdu.FuncWriteSingleRegister,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeWriteSingleRegister(dst, pdu.WriteSingleRegister{Offset: offset, Value: value})
		},
		func(body []byte) statuscode.StatusCode {
			_, st := pdu.DecodeWriteSingleRegister(body)
			return st
		})
}

// WriteMultipleCoils issues a WriteMultipleCoils request. bits is a
// []bool of length count; packed bytes can be unpacked first with
// pdu.BitsResponse.Bools.
func (c *Client) WriteMultipleCoils(offset uint16, bits []bool) statuscode.StatusCode {
	packed := pdu.PackBools(bits)
	return c.call(pdu.FuncWriteMultipleCoils,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeWriteMultipleCoilsRequest(dst, pdu.WriteMultipleCoilsRequest{
				Offset: offset, Count: len(bits), Packed: packed.Packed,
			})
		},
		func(body []byte) statuscode.StatusCode {
			_, st := pdu.DecodeWriteMultipleCoilsResponse(body)
			return st
		})
}

// WriteMultipleRegisters issues a WriteMultipleRegisters request.
func (c *Client) WriteMultipleRegisters(offset uint16, values []uint16) statuscode.StatusCode {
	return c.call(pdu.FuncWriteMultipleRegisters,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeWriteMultipleRegistersRequest(dst, pdu.WriteMultipleRegistersRequest{
				Offset: offset, Registers: values,
			})
		},
		func(body []byte) statuscode.StatusCode {
			_, st := pdu.DecodeWriteMultipleRegistersResponse(body)
			return st
		})
}

// MaskWriteRegister issues a MaskWriteRegister request.
func (c *Client) MaskWriteRegister(offset, andMask, orMask uint16) statuscode.StatusCode {
	return c.call(pdu.FuncMaskWriteRegister,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeMaskWriteRegister(dst, pdu.MaskWriteRegister{
				Offset: offset, AndMask: andMask, OrMask: orMask,
			})
		},
		func(body []byte) statuscode.StatusCode {
			_, st := pdu.DecodeMaskWriteRegister(body)
			return st
		})
}

// ReadWriteMultipleRegisters issues a ReadWriteMultipleRegisters request.
func (c *Client) ReadWriteMultipleRegisters(
	readOffset, readCount, writeOffset uint16, writeValues []uint16,
) ([]uint16, statuscode.StatusCode) {
	var out []uint16
	status := c.call(pdu.FuncReadWriteMultipleRegisters,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeReadWriteMultipleRegistersRequest(dst, pdu.ReadWriteMultipleRegistersRequest{
				ReadOffset: readOffset, ReadCount: int(readCount),
				WriteOffset: writeOffset, WriteValues: writeValues,
			})
		},
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeReadWriteMultipleRegistersResponse(body, int(readCount))
			if st.IsGood() {
				out = resp.Registers
			}
			return st
		})
	return out, status
}

// ReadFIFOQueue issues a ReadFIFOQueue request.
func (c *Client) ReadFIFOQueue(fifoAddr uint16) ([]uint16, statuscode.StatusCode) {
	var out []uint16
	status := c.call(pdu.FuncReadFIFOQueue,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeReadFIFOQueueRequest(dst, pdu.ReadFIFOQueueRequest{FIFOAddr: fifoAddr})
		},
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeReadFIFOQueueResponse(body)
			if st.IsGood() {
				out = resp.Values
			}
			return st
		})
	return out, status
}

// ReadExceptionStatus issues a ReadExceptionStatus request.
func (c *Client) ReadExceptionStatus() (uint8, statuscode.StatusCode) {
	var out uint8
	status := c.call(pdu.FuncReadExceptionStatus,
		func(dst []byte) (int, statuscode.StatusCode) { return 0, statuscode.StatusGood },
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeReadExceptionStatusResponse(body)
			if st.IsGood() {
				out = resp.Status
			}
			return st
		})
	return out, status
}

// Diagnostics issues a Diagnostics request with the given sub-function and
// device-defined data.
func (c *Client) Diagnostics(subFunc uint16, data []byte) ([]byte, statuscode.StatusCode) {
	var out []byte
	status := c.call(pdu.FuncDiagnostics,
		func(dst []byte) (int, statuscode.StatusCode) {
			return pdu.EncodeDiagnostics(dst, pdu.Diagnostics{SubFunc: subFunc, Data: data})
		},
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeDiagnostics(body)
			if st.IsGood() {
				out = resp.Data
			}
			return st
		})
	return out, status
}

// GetCommEventCounter issues a GetCommEventCounter request.
func (c *Client) GetCommEventCounter() (pdu.GetCommEventCounterResponse, statuscode.StatusCode) {
	var out pdu.GetCommEventCounterResponse
	status := c.call(pdu.FuncGetCommEventCounter,
		func(dst []byte) (int, statuscode.StatusCode) { return 0, statuscode.StatusGood },
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeGetCommEventCounterResponse(body)
			if st.IsGood() {
				out = resp
			}
			return st
		})
	return out, status
}

// GetCommEventLog issues a GetCommEventLog request.
func (c *Client) GetCommEventLog() (pdu.GetCommEventLogResponse, statuscode.StatusCode) {
	var out pdu.GetCommEventLogResponse
	status := c.call(pdu.FuncGetCommEventLog,
		func(dst []byte) (int, statuscode.StatusCode) { return 0, statuscode.StatusGood },
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeGetCommEventLogResponse(body)
			if st.IsGood() {
				out = resp
			}
			return st
		})
	return out, status
}

// ReportServerID issues a ReportServerID request.
func (c *Client) ReportServerID() (pdu.ReportServerIDResponse, statuscode.StatusCode) {
	var out pdu.ReportServerIDResponse
	status := c.call(pdu.FuncReportServerID,
		func(dst []byte) (int, statuscode.StatusCode) { return 0, statuscode.StatusGood },
		func(body []byte) statuscode.StatusCode {
			resp, st := pdu.DecodeReportServerIDResponse(body)
			if st.IsGood() {
				out = resp
			}
			return st
		})
	return out, status
}
