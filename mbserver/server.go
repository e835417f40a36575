// Package mbserver implements the Server Resource: the state machine that
// drives one port.Port in server mode, dispatching each received PDU to a
// Device and framing its result back onto the wire.
package mbserver

import (
	"sync"
	"time"

	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/port"
	"github.com/modbuscore/modbuscore/signals"
	"github.com/modbuscore/modbuscore/statuscode"
	"github.com/modbuscore/modbuscore/unitfilter"
)

// Device is the application-level contract a Server Resource dispatches
// requests to: one method per Modbus function, matching the method set a
// real device implementation (such as memdevice.Device) exposes. Every
// method's StatusCode becomes the response: Good encodes a normal
// response, a Modbus-exception StatusCode encodes that exception, and any
// other Bad status is reported to the requester as ServerDeviceFailure.
// No response is sent for StatusBadNotCorrectRequest, for
// StatusBadGatewayPathUnavailable unless Config.FrameGatewayPathUnavailable
// is set, or for any broadcast request.
type Device interface {
	ReadCoils(unit uint8, offset, count uint16) ([]bool, statuscode.StatusCode)
	ReadDiscreteInputs(unit uint8, offset, count uint16) ([]bool, statuscode.StatusCode)
	ReadHoldingRegisters(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode)
	ReadInputRegisters(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode)
	WriteSingleCoil(unit uint8, offset uint16, value bool) statuscode.StatusCode
	WriteSingleRegister(unit uint8, offset, value uint16) statuscode.StatusCode
	WriteMultipleCoils(unit uint8, offset uint16, values []bool) statuscode.StatusCode
	WriteMultipleRegisters(unit uint8, offset uint16, values []uint16) statuscode.StatusCode
	MaskWriteRegister(unit uint8, offset, andMask, orMask uint16) statuscode.StatusCode
	ReadWriteMultipleRegisters(unit uint8, readOffset, readCount, writeOffset uint16, writeValues []uint16) ([]uint16, statuscode.StatusCode)
	ReadExceptionStatus(unit uint8) (uint8, statuscode.StatusCode)
	Diagnostics(unit uint8, subFunc uint16, data []byte) ([]byte, statuscode.StatusCode)
	GetCommEventCounter(unit uint8) (status, eventCount uint16, sc statuscode.StatusCode)
	GetCommEventLog(unit uint8) (status, eventCount, messageCount uint16, events []byte, sc statuscode.StatusCode)
	ReportServerID(unit uint8) ([]byte, statuscode.StatusCode)
	ReadFIFOQueue(unit uint8, fifoAddr uint16) ([]uint16, statuscode.StatusCode)
}

type state int

const (
	stateBeginOpen state = iota
	stateWaitForOpen
	stateOpened
	stateBeginRead
	stateRead
	stateProcessDevice
	stateBeginWrite
	stateWrite
	stateWaitForClose
	stateClosed
	stateTimeout
)

// Config configures a Resource.
type Config struct {
	// FrameGatewayPathUnavailable, when true, frames a Device's
	// StatusBadGatewayPathUnavailable as a GatewayPathUnavailable
	// exception response. The default (false, the zero value) instead
	// drops the request without any response, which is what real
	// gateways do for an unreachable downstream unit: the requester
	// times out rather than receiving a definite answer.
	FrameGatewayPathUnavailable bool

	// Name identifies this Resource in emitted signals.
	Name string

	// Now returns the current time, used to stamp LastStatusTimestamp.
	Now func() time.Time
}

// Resource owns one port.Port in server mode and one Device, and advances
// the read -> dispatch -> write cycle one Process() call at a time.
type Resource struct {
	mu sync.Mutex

	p      port.Port
	device Device
	filter *unitfilter.Filter
	cfg    Config
	now    func() time.Time

	state state

	pendingFn           pdu.FuncCode
	pendingBody         []byte
	pendingDrop         bool
	respBuf             [pdu.MaxBytes]byte
	lastDispatchUnit    uint8
	lastDispatchResult  statuscode.StatusCode

	wasOpen bool

	lastStatus          statuscode.StatusCode
	lastErrorStatus      statuscode.StatusCode
	lastErrorText        string
	lastStatusTimestamp time.Time

	openedBus    signals.Bus[func(name string)]
	closedBus    signals.Bus[func(name string)]
	txBus        signals.Bus[func(name string, data []byte, size int)]
	rxBus        signals.Bus[func(name string, data []byte, size int)]
	errorBus     signals.Bus[func(name string, status statuscode.StatusCode, text string)]
	completedBus signals.Bus[func(name string, status statuscode.StatusCode)]
}

// New creates a Resource driving p in server mode, dispatching to device,
// and filtering units through filter. A nil filter accepts every unit.
func New(p port.Port, device Device, filter *unitfilter.Filter, cfg Config) *Resource {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if filter == nil {
		filter = unitfilter.New()
	}
	p.SetServerMode(true)
	return &Resource{
		p:          p,
		device:     device,
		filter:     filter,
		cfg:        cfg,
		now:        cfg.Now,
		lastStatus: statuscode.StatusUncertain,
	}
}

// Port returns the underlying transport.
func (r *Resource) Port() port.Port { return r.p }

// Filter returns the unit filter governing which requests this Resource
// answers.
func (r *Resource) Filter() *unitfilter.Filter { return r.filter }

func (r *Resource) SubscribeOpened(h func(name string)) signals.Subscription {
	return r.openedBus.Subscribe(h)
}

func (r *Resource) SubscribeClosed(h func(name string)) signals.Subscription {
	return r.closedBus.Subscribe(h)
}

func (r *Resource) SubscribeTx(h func(name string, data []byte, size int)) signals.Subscription {
	return r.txBus.Subscribe(h)
}

func (r *Resource) SubscribeRx(h func(name string, data []byte, size int)) signals.Subscription {
	return r.rxBus.Subscribe(h)
}

func (r *Resource) SubscribeError(h func(name string, status statuscode.StatusCode, text string)) signals.Subscription {
	return r.errorBus.Subscribe(h)
}

func (r *Resource) SubscribeCompleted(h func(name string, status statuscode.StatusCode)) signals.Subscription {
	return r.completedBus.Subscribe(h)
}

// UnsubscribeTx, UnsubscribeRx, UnsubscribeError, and UnsubscribeCompleted
// remove a handler previously registered on the matching bus. A caller
// that subscribes to more than one bus (mbtcp does, for every accepted
// connection's Resource) must unsubscribe each one individually since
// Subscription ids are only unique within their own bus.
func (r *Resource) UnsubscribeTx(sub signals.Subscription)        { r.txBus.Unsubscribe(sub) }
func (r *Resource) UnsubscribeRx(sub signals.Subscription)        { r.rxBus.Unsubscribe(sub) }
func (r *Resource) UnsubscribeError(sub signals.Subscription)     { r.errorBus.Unsubscribe(sub) }
func (r *Resource) UnsubscribeCompleted(sub signals.Subscription) { r.completedBus.Unsubscribe(sub) }

func (r *Resource) LastStatus() statuscode.StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastStatus
}

func (r *Resource) LastErrorStatus() statuscode.StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErrorStatus
}

func (r *Resource) LastErrorText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErrorText
}

func (r *Resource) LastStatusTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastStatusTimestamp
}

// IsOpen reports whether the underlying port is open.
func (r *Resource) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p.IsOpen()
}

// Open begins opening the underlying port.
func (r *Resource) Open() statuscode.StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p.Open()
}

// Close closes the underlying port.
func (r *Resource) Close() statuscode.StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.p.Close()
	if !st.IsProcessing() {
		r.state = stateClosed
	}
	return st
}

// Type reports the underlying wire transport.
func (r *Resource) Type() port.ProtocolType { return r.p.Type() }

// Process advances this Resource by as much as it can this call: opening
// the port, receiving one request, dispatching it to the Device, and
// writing its response. It returns StatusProcessing when blocked on the
// port, and otherwise the terminal status of whichever transaction just
// completed.
func (r *Resource) Process() statuscode.StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkOpenEdgeLocked()

	for {
		switch r.state {
		case stateBeginOpen:
			if r.p.IsOpen() {
				r.state = stateOpened
				continue
			}
			r.state = stateWaitForOpen
			continue

		case stateWaitForOpen:
			st := r.p.Open()
			if st.IsProcessing() {
				return st
			}
			r.checkOpenEdgeLocked()
			if st.IsBad() {
				r.setResultLocked(st)
				return st
			}
			r.state = stateOpened
			continue

		case stateOpened:
			r.state = stateBeginRead
			continue

		case stateBeginRead, stateRead:
			st := r.p.Read()
			if st.IsProcessing() {
				r.state = stateRead
				return st
			}
			if st.IsBad() {
				r.setResultLocked(st)
				r.state = stateOpened
				return st
			}
			r.emitRxLocked()
			r.state = stateProcessDevice
			continue

		case stateProcessDevice:
			unit, fn, body, st := r.p.ReadBuffer()
			if !st.IsGood() {
				r.setResultLocked(statuscode.StatusBadNotCorrectRequest)
				r.state = stateOpened
				return statuscode.StatusBadNotCorrectRequest
			}
			respBody, result, action := r.dispatchLocked(unit, fn, body)
			switch action {
			case dropSilentGood:
				r.setCompletedOnlyLocked(statuscode.StatusGood)
				r.state = stateOpened
				return statuscode.StatusGood
			case dropSilentBad:
				// Garbage on the wire (wrong size, bad byte count, an
				// illegal single-coil value): surfaced to the caller for
				// logging, but no Modbus exception goes out over the bus
				// for a frame that was never a valid request.
				r.setResultLocked(result)
				r.state = stateOpened
				return result
			}
			respFn := fn
			if result.IsGood() {
				r.pendingBody = respBody
			} else {
				code := exceptionByteFor(result)
				n, _ := pdu.EncodeExceptionResponse(r.respBuf[:], code)
				r.pendingBody = r.respBuf[:n]
				respFn = fn.AsError()
			}
			r.pendingFn = respFn
			wst := r.p.WriteBuffer(unit, respFn, r.pendingBody)
			if !wst.IsGood() {
				r.setResultLocked(wst)
				r.state = stateOpened
				return wst
			}
			r.pendingDrop = false
			r.lastDispatchUnit = unit
			r.lastDispatchResult = result
			r.state = stateBeginWrite
			continue

		case stateBeginWrite, stateWrite:
			st := r.p.Write()
			if st.IsProcessing() {
				r.state = stateWrite
				return st
			}
			r.emitTxLocked()
			if st.IsBad() {
				r.setResultLocked(st)
				r.state = stateOpened
				return st
			}
			r.setResultLocked(r.lastDispatchResult)
			r.state = stateOpened
			return r.lastDispatchResult

		case stateClosed, stateTimeout:
			return r.lastStatus

		default:
			panic("mbserver: unreachable state")
		}
	}
}

func (r *Resource) checkOpenEdgeLocked() {
	open := r.p.IsOpen()
	name := r.cfg.Name
	if open && !r.wasOpen {
		r.openedBus.Emit(func(h func(string)) { h(name) })
	} else if !open && r.wasOpen {
		r.closedBus.Emit(func(h func(string)) { h(name) })
		// The port died on its own (read/write failure, peer hangup)
		// rather than through a deliberate Close() call: go back to
		// BeginOpen so the next Process() call tries to reopen it. A
		// deliberate Close() has already set state to stateClosed, which
		// is terminal, so leave that alone.
		if r.state != stateClosed {
			r.state = stateBeginOpen
		}
	}
	r.wasOpen = open
}

func (r *Resource) emitRxLocked() {
	name := r.cfg.Name
	data, size := r.p.ReadBufferData(), r.p.ReadBufferSize()
	r.rxBus.Emit(func(h func(string, []byte, int)) { h(name, data, size) })
}

func (r *Resource) emitTxLocked() {
	name := r.cfg.Name
	data, size := r.p.WriteBufferData(), r.p.WriteBufferSize()
	r.txBus.Emit(func(h func(string, []byte, int)) { h(name, data, size) })
}

func (r *Resource) setResultLocked(st statuscode.StatusCode) {
	name := r.cfg.Name
	r.lastStatus = st
	r.lastStatusTimestamp = r.now()
	if st.IsBad() {
		r.lastErrorStatus = st
		if text := r.p.LastErrorText(); text != "" {
			r.lastErrorText = text
		} else {
			r.lastErrorText = st.String()
		}
		r.errorBus.Emit(func(h func(string, statuscode.StatusCode, string)) { h(name, st, r.lastErrorText) })
	}
	r.completedBus.Emit(func(h func(string, statuscode.StatusCode)) { h(name, st) })
}

func (r *Resource) setCompletedOnlyLocked(st statuscode.StatusCode) {
	name := r.cfg.Name
	r.lastStatus = st
	r.lastStatusTimestamp = r.now()
	r.completedBus.Emit(func(h func(string, statuscode.StatusCode)) { h(name, st) })
}

// exceptionByteFor maps a Device-reported Bad status to the Modbus
// exception byte the response PDU carries: a status already produced by
// statuscode.ExceptionToStatus carries its own byte; any other Bad status
// (a storage error, a bounds check the Device didn't map itself, ...) is
// reported as ServerDeviceFailure.
func exceptionByteFor(st statuscode.StatusCode) byte {
	if code, ok := st.IsException(); ok {
		return code
	}
	return 0x04
}

// dispatchAction tells stateProcessDevice what to do with the outcome of
// dispatchLocked.
type dispatchAction int

const (
	// respond writes a normal or exception response PDU back onto the
	// wire.
	respond dispatchAction = iota
	// dropSilentGood drops the request with no response and no error
	// signal: the unit isn't accepted here, it was a broadcast, or the
	// Device reported an unreachable downstream gateway path and that is
	// configured (the default) to fail silently.
	dropSilentGood
	// dropSilentBad drops the request with no response but still reports
	// and signals the Bad status: the frame was shape-garbage (wrong
	// size, bad byte count, an illegal single-coil value) rather than a
	// Modbus-semantic error, so no exception PDU is fabricated for it.
	dropSilentBad
)

// dispatchLocked decodes body per fn, calls the matching Device method,
// and encodes its result.
func (r *Resource) dispatchLocked(unit uint8, fn pdu.FuncCode, body []byte) (respBody []byte, result statuscode.StatusCode, action dispatchAction) {
	if !r.filter.IsAccepted(unit) {
		return nil, statuscode.StatusGood, dropSilentGood
	}
	broadcast := r.filter.IsBroadcast(unit)

	respBody, result = r.callDevice(unit, fn, body)

	if result == statuscode.StatusBadNotCorrectRequest {
		return nil, result, dropSilentBad
	}
	if result == statuscode.StatusBadGatewayPathUnavailable && !r.cfg.FrameGatewayPathUnavailable {
		return nil, result, dropSilentGood
	}
	if broadcast {
		return nil, result, dropSilentGood
	}
	return respBody, result, respond
}

func (r *Resource) callDevice(unit uint8, fn pdu.FuncCode, body []byte) ([]byte, statuscode.StatusCode) {
	dst := r.respBuf[:]
	switch fn {
	case pdu.FuncReadCoils:
		req, st := pdu.DecodeReadCoilsRequest(body)
		if !st.IsGood() {
			return nil, st
		}
		bits, st := r.device.ReadCoils(unit, req.Offset, req.Count)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeReadCoilsResponse(dst, pdu.PackBools(bits))
		return dst[:n], st

	case pdu.FuncReadDiscreteInputs:
		req, st := pdu.DecodeReadDiscreteInputsRequest(body)
		if !st.IsGood() {
			return nil, st
		}
		bits, st := r.device.ReadDiscreteInputs(unit, req.Offset, req.Count)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeReadDiscreteInputsResponse(dst, pdu.PackBools(bits))
		return dst[:n], st

	case pdu.FuncReadHoldingRegisters:
		req, st := pdu.DecodeReadHoldingRegistersRequest(body)
		if !st.IsGood() {
			return nil, st
		}
		regs, st := r.device.ReadHoldingRegisters(unit, req.Offset, req.Count)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeReadHoldingRegistersResponse(dst, pdu.WordsResponse{Registers: regs})
		return dst[:n], st

	case pdu.FuncReadInputRegisters:
		req, st := pdu.DecodeReadInputRegistersRequest(body)
		if !st.IsGood() {
			return nil, st
		}
		regs, st := r.device.ReadInputRegisters(unit, req.Offset, req.Count)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeReadInputRegistersResponse(dst, pdu.WordsResponse{Registers: regs})
		return dst[:n], st

	case pdu.FuncWriteSingleCoil:
		w, st := pdu.DecodeWriteSingleCoil(body)
		if !st.IsGood() {
			return nil, st
		}
		if st = r.device.WriteSingleCoil(unit, w.Offset, w.Value); !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeWriteSingleCoil(dst, w)
		return dst[:n], st

	case pdu.FuncWriteSingleRegister:
		w, st := pdu.DecodeWriteSingleRegister(body)
		if !st.IsGood() {
			return nil, st
		}
		if st = r.device.WriteSingleRegister(unit, w.Offset, w.Value); !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeWriteSingleRegister(dst, w)
		return dst[:n], st

	case pdu.FuncReadExceptionStatus:
		if st := pdu.DecodeReadExceptionStatusRequest(body); !st.IsGood() {
			return nil, st
		}
		status, st := r.device.ReadExceptionStatus(unit)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeReadExceptionStatusResponse(dst, pdu.ReadExceptionStatusResponse{Status: status})
		return dst[:n], st

	case pdu.FuncDiagnostics:
		d, st := pdu.DecodeDiagnostics(body)
		if !st.IsGood() {
			return nil, st
		}
		out, st := r.device.Diagnostics(unit, d.SubFunc, d.Data)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeDiagnostics(dst, pdu.Diagnostics{SubFunc: d.SubFunc, Data: out})
		return dst[:n], st

	case pdu.FuncGetCommEventCounter:
		status, eventCount, st := r.device.GetCommEventCounter(unit)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeGetCommEventCounterResponse(dst, pdu.GetCommEventCounterResponse{
			Status: status, EventCount: eventCount,
		})
		return dst[:n], st

	case pdu.FuncGetCommEventLog:
		status, eventCount, messageCount, events, st := r.device.GetCommEventLog(unit)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeGetCommEventLogResponse(dst, pdu.GetCommEventLogResponse{
			Status: status, EventCount: eventCount, MessageCount: messageCount, Events: events,
		})
		return dst[:n], st

	case pdu.FuncWriteMultipleCoils:
		req, st := pdu.DecodeWriteMultipleCoilsRequest(body)
		if !st.IsGood() {
			return nil, st
		}
		bits := pdu.BitsResponse{Count: req.Count, Packed: req.Packed}.Bools()
		if st = r.device.WriteMultipleCoils(unit, req.Offset, bits); !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeWriteMultipleCoilsResponse(dst, pdu.OffsetCount{
			Offset: req.Offset, Count: uint16(req.Count),
		})
		return dst[:n], st

	case pdu.FuncWriteMultipleRegisters:
		req, st := pdu.DecodeWriteMultipleRegistersRequest(body)
		if !st.IsGood() {
			return nil, st
		}
		if st = r.device.WriteMultipleRegisters(unit, req.Offset, req.Registers); !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeWriteMultipleRegistersResponse(dst, pdu.OffsetCount{
			Offset: req.Offset, Count: uint16(len(req.Registers)),
		})
		return dst[:n], st

	case pdu.FuncReportServerID:
		data, st := r.device.ReportServerID(unit)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeReportServerIDResponse(dst, pdu.ReportServerIDResponse{Data: data})
		return dst[:n], st

	case pdu.FuncMaskWriteRegister:
		m, st := pdu.DecodeMaskWriteRegister(body)
		if !st.IsGood() {
			return nil, st
		}
		if st = r.device.MaskWriteRegister(unit, m.Offset, m.AndMask, m.OrMask); !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeMaskWriteRegister(dst, m)
		return dst[:n], st

	case pdu.FuncReadWriteMultipleRegisters:
		req, st := pdu.DecodeReadWriteMultipleRegistersRequest(body)
		if !st.IsGood() {
			return nil, st
		}
		regs, st := r.device.ReadWriteMultipleRegisters(
			unit, req.ReadOffset, uint16(req.ReadCount), req.WriteOffset, req.WriteValues)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeReadWriteMultipleRegistersResponse(dst, pdu.WordsResponse{Registers: regs})
		return dst[:n], st

	case pdu.FuncReadFIFOQueue:
		req, st := pdu.DecodeReadFIFOQueueRequest(body)
		if !st.IsGood() {
			return nil, st
		}
		values, st := r.device.ReadFIFOQueue(unit, req.FIFOAddr)
		if !st.IsGood() {
			return nil, st
		}
		n, st := pdu.EncodeReadFIFOQueueResponse(dst, pdu.ReadFIFOQueueResponse{Values: values})
		return dst[:n], st

	default:
		return nil, statuscode.StatusBadIllegalFunction
	}
}
