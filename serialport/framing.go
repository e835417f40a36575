package serialport

import "github.com/modbuscore/modbuscore/pdu"

// sizer determines how many more bytes a partially received RTU frame
// needs before it is complete, keyed off the function code once enough of
// the frame has arrived to read it. Grounded directly on
// npat-efault-modbus/serrcv.go's sizer, adapted to this module's
// pdu.FuncCode constants and to framing both requests (server-received)
// and responses (client-received).
type sizer struct {
	total int
}

// crcTrailer is the two CRC bytes appended to every RTU frame.
const crcTrailer = 2

// request returns the remaining byte count needed to complete a partially
// received RTU request frame "unit, func, body...", or ok=false if the
// function code isn't recognized yet (frame too short, or unsupported).
func (s *sizer) request(b []byte) (remain int, ok bool) {
	if s.total != 0 {
		return s.total - len(b), true
	}
	if len(b) < 2 {
		return 2 - len(b), true
	}
	switch pdu.FuncCode(b[1]) {
	case pdu.FuncReadCoils, pdu.FuncReadDiscreteInputs, pdu.FuncReadHoldingRegisters,
		pdu.FuncReadInputRegisters, pdu.FuncWriteSingleCoil, pdu.FuncWriteSingleRegister:
		s.total = 2 + 4 + crcTrailer
	case pdu.FuncReadExceptionStatus, pdu.FuncGetCommEventCounter, pdu.FuncGetCommEventLog,
		pdu.FuncReportServerID:
		s.total = 2 + 0 + crcTrailer
	case pdu.FuncMaskWriteRegister:
		s.total = 2 + 6 + crcTrailer
	case pdu.FuncReadFIFOQueue:
		s.total = 2 + 2 + crcTrailer
	case pdu.FuncWriteMultipleCoils, pdu.FuncWriteMultipleRegisters:
		if len(b) < 7 {
			return 7 - len(b), true
		}
		s.total = 2 + 5 + int(b[6]) + crcTrailer
	case pdu.FuncReadWriteMultipleRegisters:
		if len(b) < 11 {
			return 11 - len(b), true
		}
		s.total = 2 + 9 + int(b[10]) + crcTrailer
	case pdu.FuncDiagnostics:
		// Device-defined length with no byte count on the wire, so the
		// sizer cannot tell where the frame ends; it reports ok=false and
		// readRTU rejects the frame. RTU Diagnostics requests are not framed.
		return 0, false
	default:
		return 0, false
	}
	return s.total - len(b), true
}

// response mirrors request for client-received RTU response frames.
func (s *sizer) response(b []byte) (remain int, ok bool) {
	if s.total != 0 {
		return s.total - len(b), true
	}
	if len(b) < 3 {
		return 3 - len(b), true
	}
	if pdu.FuncCode(b[1]).IsError() {
		s.total = 2 + 1 + crcTrailer
		return s.total - len(b), true
	}
	switch pdu.FuncCode(b[1]) {
	case pdu.FuncReadCoils, pdu.FuncReadDiscreteInputs, pdu.FuncReadHoldingRegisters,
		pdu.FuncReadInputRegisters, pdu.FuncReportServerID:
		s.total = 2 + 1 + int(b[2]) + crcTrailer
	case pdu.FuncWriteSingleCoil, pdu.FuncWriteSingleRegister, pdu.FuncGetCommEventCounter:
		s.total = 2 + 4 + crcTrailer
	case pdu.FuncMaskWriteRegister:
		s.total = 2 + 6 + crcTrailer
	case pdu.FuncReadExceptionStatus:
		s.total = 2 + 1 + crcTrailer
	case pdu.FuncReadWriteMultipleRegisters:
		s.total = 2 + 1 + int(b[2]) + crcTrailer
	case pdu.FuncReadFIFOQueue:
		if len(b) < 4 {
			return 4 - len(b), true
		}
		// byteCount counts the bytes after the 2-byte byte-count field.
		byteCount := int(b[2])<<8 | int(b[3])
		s.total = 2 + 2 + byteCount + crcTrailer
	case pdu.FuncGetCommEventLog, pdu.FuncDiagnostics:
		return 0, false
	default:
		return 0, false
	}
	return s.total - len(b), true
}
