package mbclient

import (
	"testing"

	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/port"
	"github.com/modbuscore/modbuscore/statuscode"
)

// fakePort is a minimal port.Port test double whose Write/Read/Open scripts
// are configured per test.
type fakePort struct {
	open bool

	openScript  []statuscode.StatusCode
	writeScript []statuscode.StatusCode
	readScript  []statuscode.StatusCode

	writeCalls    int
	readCalls     int
	writeBufCalls int

	respUnit uint8
	respFn   pdu.FuncCode
	respBody []byte

	lastWriteBuf []byte
	lastReadBuf  []byte
}

var _ port.Port = (*fakePort)(nil)

func (p *fakePort) IsOpen() bool { return p.open }

func (p *fakePort) Open() statuscode.StatusCode {
	if len(p.openScript) == 0 {
		p.open = true
		return statuscode.StatusGood
	}
	st := p.openScript[0]
	p.openScript = p.openScript[1:]
	if st.IsGood() {
		p.open = true
	}
	return st
}

func (p *fakePort) Close() statuscode.StatusCode    { p.open = false; return statuscode.StatusGood }
func (p *fakePort) Type() port.ProtocolType         { return port.TCP }
func (p *fakePort) SetServerMode(server bool)       {}

func (p *fakePort) WriteBuffer(unit uint8, fn pdu.FuncCode, body []byte) statuscode.StatusCode {
	p.writeBufCalls++
	p.lastWriteBuf = append([]byte(nil), body...)
	return statuscode.StatusGood
}

func (p *fakePort) Write() statuscode.StatusCode {
	p.writeCalls++
	if len(p.writeScript) == 0 {
		return statuscode.StatusGood
	}
	st := p.writeScript[0]
	p.writeScript = p.writeScript[1:]
	return st
}

func (p *fakePort) Read() statuscode.StatusCode {
	p.readCalls++
	if len(p.readScript) == 0 {
		return statuscode.StatusGood
	}
	st := p.readScript[0]
	p.readScript = p.readScript[1:]
	return st
}

func (p *fakePort) ReadBuffer() (uint8, pdu.FuncCode, []byte, statuscode.StatusCode) {
	p.lastReadBuf = p.respBody
	return p.respUnit, p.respFn, p.respBody, statuscode.StatusGood
}

func (p *fakePort) ReadBufferData() []byte  { return p.lastReadBuf }
func (p *fakePort) ReadBufferSize() int     { return len(p.lastReadBuf) }
func (p *fakePort) WriteBufferData() []byte { return p.lastWriteBuf }
func (p *fakePort) WriteBufferSize() int    { return len(p.lastWriteBuf) }
func (p *fakePort) LastErrorText() string   { return "" }

func encodeHoldingRegistersResponse(t *testing.T, regs []uint16) []byte {
	t.Helper()
	dst := make([]byte, 1+2*len(regs))
	n, st := pdu.EncodeReadHoldingRegistersResponse(dst, pdu.WordsResponse{Registers: regs})
	if !st.IsGood() {
		t.Fatalf("encode failed: %v", st)
	}
	return dst[:n]
}

func TestReadHoldingRegistersRoundTrip(t *testing.T) {
	// Spec scenario S1: port write/read both succeed on the first call.
	p := &fakePort{open: true}
	p.respUnit = 1
	p.respFn = pdu.FuncReadHoldingRegisters
	p.respBody = encodeHoldingRegistersResponse(t, []uint16{0x000A, 0x0014})

	cp := New(p, Config{})
	c := cp.NewClient(1)

	regs, status := c.ReadHoldingRegisters(0, 2)
	if status != statuscode.StatusGood {
		t.Fatalf("status = %v, want Good", status)
	}
	if len(regs) != 2 || regs[0] != 0x000A || regs[1] != 0x0014 {
		t.Fatalf("regs = %v, want [10 20]", regs)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	// Spec scenario S3: write always good, read fails twice then succeeds,
	// with tries=3. Expect exactly 3 write and 3 read invocations, and
	// exactly one WriteBuffer call (prepared once).
	p := &fakePort{
		open:       true,
		readScript: []statuscode.StatusCode{statuscode.StatusBadTcpReadTimeout, statuscode.StatusBadTcpReadTimeout},
	}
	p.respUnit = 1
	p.respFn = pdu.FuncReadHoldingRegisters
	p.respBody = encodeHoldingRegistersResponse(t, []uint16{1, 2})

	cp := New(p, Config{Tries: 3})
	c := cp.NewClient(1)

	var status statuscode.StatusCode
	for i := 0; i < 10; i++ {
		_, status = c.ReadHoldingRegisters(0, 2)
		if status != statuscode.StatusProcessing {
			break
		}
	}
	if status != statuscode.StatusGood {
		t.Fatalf("status = %v, want Good", status)
	}
	if p.writeCalls != 3 {
		t.Fatalf("writeCalls = %d, want 3", p.writeCalls)
	}
	if p.readCalls != 3 {
		t.Fatalf("readCalls = %d, want 3", p.readCalls)
	}
	if p.writeBufCalls != 1 {
		t.Fatalf("writeBufCalls = %d, want 1", p.writeBufCalls)
	}
	if cp.LastTries() != 3 {
		t.Fatalf("LastTries() = %d, want 3", cp.LastTries())
	}
}

func TestExceptionResponse(t *testing.T) {
	// Spec scenario S4: server replies with an exception PDU; the client
	// must surface it as the mapped Bad StatusCode.
	p := &fakePort{open: true}
	p.respUnit = 1
	p.respFn = pdu.FuncReadHoldingRegisters.AsError()
	p.respBody = []byte{0x02}

	cp := New(p, Config{})
	c := cp.NewClient(1)

	_, status := c.ReadHoldingRegisters(0, 2)
	if status != statuscode.StatusBadIllegalDataAddress {
		t.Fatalf("status = %v, want StatusBadIllegalDataAddress", status)
	}
}

func TestBroadcastSkipsRead(t *testing.T) {
	// Spec scenario S7: a broadcast write (unit 0) never calls Read.
	p := &fakePort{open: true}
	cp := New(p, Config{BroadcastEnabled: true})
	c := cp.NewClient(0)

	status := c.WriteSingleRegister(0, 42)
	if status != statuscode.StatusGood {
		t.Fatalf("status = %v, want Good", status)
	}
	if p.readCalls != 0 {
		t.Fatalf("readCalls = %d, want 0 for broadcast", p.readCalls)
	}
}

func mustEncodeWriteSingleRegister(t *testing.T, offset, value uint16) []byte {
	t.Helper()
	dst := make([]byte, 4)
	n, st := pdu.EncodeWriteSingleRegister(dst, pdu.WriteSingleRegister{Offset: offset, Value: value})
	if !st.IsGood() {
		t.Fatalf("encode failed: %v", st)
	}
	return dst[:n]
}

func TestFairnessFIFO(t *testing.T) {
	// Spec scenario S5 / testable property 9: three clients contend for one
	// ClientPort; whichever asked first must complete first.
	p := &fakePort{
		open: true,
		// A's write doesn't land on the first tick, so A's transaction is
		// still current (not yet done) when B and C call in below.
		writeScript: []statuscode.StatusCode{statuscode.StatusProcessing},
	}
	p.respUnit = 1
	p.respFn = pdu.FuncWriteSingleRegister

	cp := New(p, Config{})
	a := cp.NewClient(1)
	b := cp.NewClient(1)
	c := cp.NewClient(1)

	p.respBody = mustEncodeWriteSingleRegister(t, 0, 1)
	sa := a.WriteSingleRegister(0, 1)
	if sa != statuscode.StatusProcessing {
		t.Fatalf("a: status = %v, want Processing", sa)
	}
	// B and C, arriving while A holds the port, must wait.
	sb := b.WriteSingleRegister(0, 2)
	sc := c.WriteSingleRegister(0, 3)
	if sb != statuscode.StatusProcessing {
		t.Fatalf("b: status = %v, want Processing", sb)
	}
	if sc != statuscode.StatusProcessing {
		t.Fatalf("c: status = %v, want Processing", sc)
	}

	// Drive A to completion.
	for i := 0; i < 10 && sa.IsProcessing(); i++ {
		sa = a.WriteSingleRegister(0, 1)
	}
	if !sa.IsGood() {
		t.Fatalf("a final status = %v, want Good", sa)
	}

	// Now C calls before B; C must still be told to wait since B arrived
	// first.
	scAfter := c.WriteSingleRegister(0, 3)
	if scAfter != statuscode.StatusProcessing {
		t.Fatalf("c after a done = %v, want Processing (b should go first)", scAfter)
	}
	p.respBody = mustEncodeWriteSingleRegister(t, 0, 2)
	sbAfter := b.WriteSingleRegister(0, 2)
	if sbAfter.IsBad() {
		t.Fatalf("b after a done: unexpected bad status %v", sbAfter)
	}
}

func TestClosedPortRejectsImmediately(t *testing.T) {
	p := &fakePort{open: true}
	cp := New(p, Config{})
	cp.Close()
	c := cp.NewClient(1)
	_, status := c.ReadHoldingRegisters(0, 1)
	if status != statuscode.StatusBadPortClosed {
		t.Fatalf("status = %v, want StatusBadPortClosed", status)
	}
}
