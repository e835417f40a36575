package mbserver

import (
	"testing"

	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/port"
	"github.com/modbuscore/modbuscore/statuscode"
	"github.com/modbuscore/modbuscore/unitfilter"
)

// fakePort is a minimal port.Port test double that serves one pre-loaded
// request per Read() call.
type fakePort struct {
	open bool

	reqUnit uint8
	reqFn   pdu.FuncCode
	reqBody []byte

	readScript []statuscode.StatusCode
	// closeOnBadRead simulates a transport (like tcpport on io.EOF) that
	// tears itself down the moment a Read fails, rather than staying open
	// for the caller to retry against.
	closeOnBadRead bool

	wroteUnit uint8
	wroteFn   pdu.FuncCode
	wroteBody []byte
	writeCalls int
}

var _ port.Port = (*fakePort)(nil)

func (p *fakePort) IsOpen() bool                { return p.open }
func (p *fakePort) Open() statuscode.StatusCode  { p.open = true; return statuscode.StatusGood }
func (p *fakePort) Close() statuscode.StatusCode { p.open = false; return statuscode.StatusGood }
func (p *fakePort) Type() port.ProtocolType      { return port.TCP }
func (p *fakePort) SetServerMode(server bool)    {}

func (p *fakePort) WriteBuffer(unit uint8, fn pdu.FuncCode, body []byte) statuscode.StatusCode {
	p.wroteUnit, p.wroteFn = unit, fn
	p.wroteBody = append([]byte(nil), body...)
	return statuscode.StatusGood
}

func (p *fakePort) Write() statuscode.StatusCode {
	p.writeCalls++
	return statuscode.StatusGood
}

func (p *fakePort) Read() statuscode.StatusCode {
	if len(p.readScript) == 0 {
		return statuscode.StatusGood
	}
	st := p.readScript[0]
	p.readScript = p.readScript[1:]
	if st.IsBad() && p.closeOnBadRead {
		p.open = false
	}
	return st
}

func (p *fakePort) ReadBuffer() (uint8, pdu.FuncCode, []byte, statuscode.StatusCode) {
	return p.reqUnit, p.reqFn, p.reqBody, statuscode.StatusGood
}

func (p *fakePort) ReadBufferData() []byte  { return p.reqBody }
func (p *fakePort) ReadBufferSize() int     { return len(p.reqBody) }
func (p *fakePort) WriteBufferData() []byte { return p.wroteBody }
func (p *fakePort) WriteBufferSize() int    { return len(p.wroteBody) }
func (p *fakePort) LastErrorText() string   { return "" }

// fakeDevice is a Device test double with per-method override hooks.
type fakeDevice struct {
	readHoldingRegisters func(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode)
}

var _ Device = (*fakeDevice)(nil)

func (d *fakeDevice) ReadCoils(unit uint8, offset, count uint16) ([]bool, statuscode.StatusCode) {
	return make([]bool, count), statuscode.StatusGood
}
func (d *fakeDevice) ReadDiscreteInputs(unit uint8, offset, count uint16) ([]bool, statuscode.StatusCode) {
	return make([]bool, count), statuscode.StatusGood
}
func (d *fakeDevice) ReadHoldingRegisters(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode) {
	if d.readHoldingRegisters != nil {
		return d.readHoldingRegisters(unit, offset, count)
	}
	return make([]uint16, count), statuscode.StatusGood
}
func (d *fakeDevice) ReadInputRegisters(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode) {
	return make([]uint16, count), statuscode.StatusGood
}
func (d *fakeDevice) WriteSingleCoil(unit uint8, offset uint16, value bool) statuscode.StatusCode {
	return statuscode.StatusGood
}
func (d *fakeDevice) WriteSingleRegister(unit uint8, offset, value uint16) statuscode.StatusCode {
	return statuscode.StatusGood
}
func (d *fakeDevice) WriteMultipleCoils(unit uint8, offset uint16, values []bool) statuscode.StatusCode {
	return statuscode.StatusGood
}
func (d *fakeDevice) WriteMultipleRegisters(unit uint8, offset uint16, values []uint16) statuscode.StatusCode {
	return statuscode.StatusGood
}
func (d *fakeDevice) MaskWriteRegister(unit uint8, offset, andMask, orMask uint16) statuscode.StatusCode {
	return statuscode.StatusGood
}
func (d *fakeDevice) ReadWriteMultipleRegisters(unit uint8, readOffset, readCount, writeOffset uint16, writeValues []uint16) ([]uint16, statuscode.StatusCode) {
	return make([]uint16, readCount), statuscode.StatusGood
}
func (d *fakeDevice) ReadExceptionStatus(unit uint8) (uint8, statuscode.StatusCode) {
	return 0, statuscode.StatusGood
}
func (d *fakeDevice) Diagnostics(unit uint8, subFunc uint16, data []byte) ([]byte, statuscode.StatusCode) {
	return data, statuscode.StatusGood
}
func (d *fakeDevice) GetCommEventCounter(unit uint8) (uint16, uint16, statuscode.StatusCode) {
	return 0, 0, statuscode.StatusGood
}
func (d *fakeDevice) GetCommEventLog(unit uint8) (uint16, uint16, uint16, []byte, statuscode.StatusCode) {
	return 0, 0, 0, nil, statuscode.StatusGood
}
func (d *fakeDevice) ReportServerID(unit uint8) ([]byte, statuscode.StatusCode) {
	return []byte{0x01, 0xFF}, statuscode.StatusGood
}
func (d *fakeDevice) ReadFIFOQueue(unit uint8, fifoAddr uint16) ([]uint16, statuscode.StatusCode) {
	return nil, statuscode.StatusGood
}

func encodeReadHoldingRegistersRequest(t *testing.T, offset, count uint16) []byte {
	t.Helper()
	dst := make([]byte, 4)
	n, st := pdu.EncodeReadHoldingRegistersRequest(dst, pdu.ReadRequest{Offset: offset, Count: count})
	if !st.IsGood() {
		t.Fatalf("encode failed: %v", st)
	}
	return dst[:n]
}

func TestProcessReadHoldingRegisters(t *testing.T) {
	p := &fakePort{open: true}
	p.reqUnit = 1
	p.reqFn = pdu.FuncReadHoldingRegisters
	p.reqBody = encodeReadHoldingRegistersRequest(t, 0, 2)

	dev := &fakeDevice{
		readHoldingRegisters: func(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode) {
			return []uint16{0x000A, 0x0014}, statuscode.StatusGood
		},
	}
	r := New(p, dev, nil, Config{})

	status := r.Process()
	if status != statuscode.StatusGood {
		t.Fatalf("status = %v, want Good", status)
	}
	if p.wroteFn != pdu.FuncReadHoldingRegisters {
		t.Fatalf("wroteFn = %v, want FuncReadHoldingRegisters (no error bit)", p.wroteFn)
	}
	regs, st := pdu.DecodeReadHoldingRegistersResponse(p.wroteBody, 2)
	if !st.IsGood() || regs.Registers[0] != 0x000A || regs.Registers[1] != 0x0014 {
		t.Fatalf("response decode = %v, %v", regs, st)
	}
}

func TestProcessDeviceExceptionFraming(t *testing.T) {
	// Spec scenario S4: device reports a Modbus-mapped Bad status; the
	// server must frame it as the matching exception, with the function
	// code's error bit set.
	p := &fakePort{open: true}
	p.reqUnit = 1
	p.reqFn = pdu.FuncReadHoldingRegisters
	p.reqBody = encodeReadHoldingRegistersRequest(t, 0, 2)

	dev := &fakeDevice{
		readHoldingRegisters: func(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode) {
			return nil, statuscode.StatusBadIllegalDataAddress
		},
	}
	r := New(p, dev, nil, Config{})

	status := r.Process()
	if status != statuscode.StatusBadIllegalDataAddress {
		t.Fatalf("status = %v, want StatusBadIllegalDataAddress", status)
	}
	if p.wroteFn != pdu.FuncReadHoldingRegisters.AsError() {
		t.Fatalf("wroteFn = %v, want error-bit set", p.wroteFn)
	}
	if len(p.wroteBody) != 1 || p.wroteBody[0] != 0x02 {
		t.Fatalf("wroteBody = %v, want [0x02]", p.wroteBody)
	}
}

func TestProcessGenericBadMapsToServerDeviceFailure(t *testing.T) {
	p := &fakePort{open: true}
	p.reqUnit = 1
	p.reqFn = pdu.FuncReadHoldingRegisters
	p.reqBody = encodeReadHoldingRegistersRequest(t, 0, 2)

	dev := &fakeDevice{
		readHoldingRegisters: func(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode) {
			return nil, statuscode.StatusBad
		},
	}
	r := New(p, dev, nil, Config{})

	r.Process()
	if len(p.wroteBody) != 1 || p.wroteBody[0] != 0x04 {
		t.Fatalf("wroteBody = %v, want [0x04] (ServerDeviceFailure)", p.wroteBody)
	}
}

func TestProcessGatewayPathUnavailableSilentlyDropped(t *testing.T) {
	p := &fakePort{open: true}
	p.reqUnit = 1
	p.reqFn = pdu.FuncReadHoldingRegisters
	p.reqBody = encodeReadHoldingRegistersRequest(t, 0, 2)

	dev := &fakeDevice{
		readHoldingRegisters: func(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode) {
			return nil, statuscode.StatusBadGatewayPathUnavailable
		},
	}
	r := New(p, dev, nil, Config{})

	status := r.Process()
	if status != statuscode.StatusGood {
		t.Fatalf("status = %v, want Good (silent drop is a completed transaction)", status)
	}
	if p.writeCalls != 0 {
		t.Fatalf("writeCalls = %d, want 0", p.writeCalls)
	}
}

func TestProcessUnitFilterDropsUnacceptedUnit(t *testing.T) {
	p := &fakePort{open: true}
	p.reqUnit = 9
	p.reqFn = pdu.FuncReadHoldingRegisters
	p.reqBody = encodeReadHoldingRegistersRequest(t, 0, 2)

	filter := unitfilter.New()
	filter.BroadcastEnabled = false
	filter.SetUnitEnabled(1, true)

	r := New(p, &fakeDevice{}, filter, Config{})
	status := r.Process()
	if status != statuscode.StatusGood {
		t.Fatalf("status = %v, want Good", status)
	}
	if p.writeCalls != 0 {
		t.Fatalf("writeCalls = %d, want 0 for a unit outside the filter", p.writeCalls)
	}
}

func TestProcessWriteMultipleCoilsByteCountMismatchIsSilentlyBad(t *testing.T) {
	// Spec scenario S6: a malformed write-multiple-coils request (byte
	// count doesn't match count, but the wire size matches the claimed
	// byte count so the shape check still fires) is BadNotCorrectRequest
	// with no response written at all, not an exception PDU.
	p := &fakePort{open: true}
	p.reqUnit = 1
	p.reqFn = pdu.FuncWriteMultipleCoils
	// offset, count=16, byte_count=3 (wrong: ceil(16/8)=2), 3 data bytes.
	p.reqBody = []byte{0x00, 0x00, 0x00, 0x10, 0x03, 0xFF, 0xFF, 0xFF}

	r := New(p, &fakeDevice{}, nil, Config{})
	status := r.Process()
	if status != statuscode.StatusBadNotCorrectRequest {
		t.Fatalf("status = %v, want StatusBadNotCorrectRequest", status)
	}
	if p.writeCalls != 0 {
		t.Fatalf("writeCalls = %d, want 0: a framing error must not be written as an exception response", p.writeCalls)
	}
}

func TestProcessReopensAfterPortDiesMidCycle(t *testing.T) {
	// A port can report itself closed on its own, between two Process calls,
	// the way tcpport nils its connection on a read EOF rather than staying
	// open for a retry. The resource must notice the open->closed edge and
	// go back to reopening the port, not get stuck re-reading a dead one.
	p := &fakePort{
		open:           true,
		readScript:     []statuscode.StatusCode{statuscode.StatusBadTcpReadError},
		closeOnBadRead: true,
	}
	p.reqUnit = 1
	p.reqFn = pdu.FuncReadHoldingRegisters
	p.reqBody = encodeReadHoldingRegistersRequest(t, 0, 2)

	r := New(p, &fakeDevice{}, nil, Config{})

	status := r.Process()
	if status != statuscode.StatusBadTcpReadError {
		t.Fatalf("status = %v, want StatusBadTcpReadError", status)
	}
	if p.open {
		t.Fatalf("port should have closed itself on the failed read")
	}

	var closed int
	r.SubscribeClosed(func(string) { closed++ })

	// Next crank must see the open->closed edge, reset to reopening, and
	// reopen the port rather than looping on a bad read against a dead one.
	status = r.Process()
	if status != statuscode.StatusGood {
		t.Fatalf("status = %v, want Good: resource must reopen the port and complete the pending request", status)
	}
	if !p.open {
		t.Fatalf("port should have been reopened")
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
}

func TestProcessBroadcastNeverWrites(t *testing.T) {
	p := &fakePort{open: true}
	p.reqUnit = 0
	p.reqFn = pdu.FuncWriteSingleRegister
	dst := make([]byte, 4)
	n, _ := pdu.EncodeWriteSingleRegister(dst, pdu.WriteSingleRegister{Offset: 0, Value: 7})
	p.reqBody = dst[:n]

	r := New(p, &fakeDevice{}, nil, Config{})
	status := r.Process()
	if status != statuscode.StatusGood {
		t.Fatalf("status = %v, want Good", status)
	}
	if p.writeCalls != 0 {
		t.Fatalf("writeCalls = %d, want 0 for a broadcast request", p.writeCalls)
	}
}
