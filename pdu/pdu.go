// Package pdu implements the Modbus protocol data unit codec: pure,
// allocation-light functions that serialize a logical Modbus operation into
// a PDU body and parse a PDU body back into typed parameters or an
// exception. It performs no I/O; the core state machines in mbclient and
// mbserver call it once per tick against buffers owned by a Port.
package pdu

import (
	"encoding/binary"

	"github.com/modbuscore/modbuscore/statuscode"
)

// FuncCode is an 8-bit Modbus function code. The top bit set denotes an
// exception response.
type FuncCode uint8

// Function code constants.
const (
	FuncReadCoils                  FuncCode = 0x01
	FuncReadDiscreteInputs         FuncCode = 0x02
	FuncReadHoldingRegisters       FuncCode = 0x03
	FuncReadInputRegisters         FuncCode = 0x04
	FuncWriteSingleCoil            FuncCode = 0x05
	FuncWriteSingleRegister        FuncCode = 0x06
	FuncReadExceptionStatus        FuncCode = 0x07
	FuncDiagnostics                FuncCode = 0x08
	FuncGetCommEventCounter        FuncCode = 0x0B
	FuncGetCommEventLog            FuncCode = 0x0C
	FuncWriteMultipleCoils         FuncCode = 0x0F
	FuncWriteMultipleRegisters     FuncCode = 0x10
	FuncReportServerID             FuncCode = 0x11
	FuncMaskWriteRegister          FuncCode = 0x16
	FuncReadWriteMultipleRegisters FuncCode = 0x17
	FuncReadFIFOQueue              FuncCode = 0x18
)

// FuncError is the bit a response function code carries to denote an
// exception PDU.
const FuncError FuncCode = 0x80

// IsError reports whether fc is an exception-response function code.
func (fc FuncCode) IsError() bool { return fc&FuncError != 0 }

// AsError returns fc with the exception bit set.
func (fc FuncCode) AsError() FuncCode { return fc | FuncError }

// Plain returns fc with the exception bit cleared.
func (fc FuncCode) Plain() FuncCode { return fc &^ FuncError }

// Size limits.
const (
	// MaxBytes is MB_MAX_BYTES, the maximum PDU size: function code plus
	// body.
	MaxBytes = 253

	// MaxDiscrets is MB_MAX_DISCRETS, the maximum number of coils or
	// discrete inputs in a single read.
	MaxDiscrets = 2040

	// MaxRegisters is MB_MAX_REGISTERS, the maximum number of registers in
	// a single read.
	MaxRegisters = 125

	// maxWriteBits is the standard Modbus maximum for WriteMultipleCoils.
	maxWriteBits = 1968

	// maxWriteWords is the standard Modbus maximum for
	// WriteMultipleRegisters.
	maxWriteWords = 123

	// maxReadWriteWords is the standard Modbus maximum for the write half
	// of ReadWriteMultipleRegisters.
	maxReadWriteWords = 121
)

func overflow() (int, statuscode.StatusCode) {
	return 0, statuscode.StatusBadWriteBufferOverflow
}

func putBytes(dst []byte, b ...byte) (int, statuscode.StatusCode) {
	if len(dst) < len(b) {
		return overflow()
	}
	copy(dst, b)
	return len(b), statuscode.StatusGood
}

// ReadRequest is the offset/count request shared by ReadCoils,
// ReadDiscreteInputs, ReadHoldingRegisters, and ReadInputRegisters.
type ReadRequest struct {
	Offset uint16
	Count  uint16
}

func decodeReadRequest(data []byte, maxCount uint16, bad statuscode.StatusCode) (ReadRequest, statuscode.StatusCode) {
	if len(data) != 4 {
		return ReadRequest{}, bad
	}
	req := ReadRequest{
		Offset: binary.BigEndian.Uint16(data[0:2]),
		Count:  binary.BigEndian.Uint16(data[2:4]),
	}
	if req.Count == 0 || req.Count > maxCount {
		return ReadRequest{}, statuscode.StatusBadIllegalDataValue
	}
	if int(req.Offset)+int(req.Count) > 1<<16 {
		return ReadRequest{}, statuscode.StatusBadIllegalDataAddress
	}
	return req, statuscode.StatusGood
}

func encodeReadRequest(dst []byte, req ReadRequest) (int, statuscode.StatusCode) {
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], req.Offset)
	binary.BigEndian.PutUint16(buf[2:4], req.Count)
	return putBytes(dst, buf[:]...)
}

// DecodeReadCoilsRequest parses a ReadCoils request body (server side).
func DecodeReadCoilsRequest(data []byte) (ReadRequest, statuscode.StatusCode) {
	return decodeReadRequest(data, MaxDiscrets, statuscode.StatusBadNotCorrectRequest)
}

// EncodeReadCoilsRequest builds a ReadCoils request body (client side).
func EncodeReadCoilsRequest(dst []byte, req ReadRequest) (int, statuscode.StatusCode) {
	return encodeReadRequest(dst, req)
}

// DecodeReadDiscreteInputsRequest parses a ReadDiscreteInputs request body.
func DecodeReadDiscreteInputsRequest(data []byte) (ReadRequest, statuscode.StatusCode) {
	return decodeReadRequest(data, MaxDiscrets, statuscode.StatusBadNotCorrectRequest)
}

// EncodeReadDiscreteInputsRequest builds a ReadDiscreteInputs request body.
func EncodeReadDiscreteInputsRequest(dst []byte, req ReadRequest) (int, statuscode.StatusCode) {
	return encodeReadRequest(dst, req)
}

// DecodeReadHoldingRegistersRequest parses a ReadHoldingRegisters request.
func DecodeReadHoldingRegistersRequest(data []byte) (ReadRequest, statuscode.StatusCode) {
	return decodeReadRequest(data, MaxRegisters, statuscode.StatusBadNotCorrectRequest)
}

// EncodeReadHoldingRegistersRequest builds a ReadHoldingRegisters request.
func EncodeReadHoldingRegistersRequest(dst []byte, req ReadRequest) (int, statuscode.StatusCode) {
	return encodeReadRequest(dst, req)
}

// DecodeReadInputRegistersRequest parses a ReadInputRegisters request.
func DecodeReadInputRegistersRequest(data []byte) (ReadRequest, statuscode.StatusCode) {
	return decodeReadRequest(data, MaxRegisters, statuscode.StatusBadNotCorrectRequest)
}

// EncodeReadInputRegistersRequest builds a ReadInputRegisters request.
func EncodeReadInputRegistersRequest(dst []byte, req ReadRequest) (int, statuscode.StatusCode) {
	return encodeReadRequest(dst, req)
}

// BitsResponse carries a packed-bit response (ReadCoils / ReadDiscreteInputs).
type BitsResponse struct {
	// Count is the number of logical bits represented.
	Count int

	// Packed holds ceil(Count/8) bytes, LSB of byte 0 is the first bit.
	// Padding bits in the last byte are zero.
	Packed []byte
}

// Bools unpacks r into a []bool of length r.Count.
func (r BitsResponse) Bools() []bool {
	out := make([]bool, r.Count)
	for i := 0; i < r.Count; i++ {
		out[i] = r.Packed[i/8]&(1<<(uint(i)%8)) != 0
	}
	return out
}

// PackBools packs bits into a BitsResponse, zeroing unused padding bits.
func PackBools(bits []bool) BitsResponse {
	packed := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			packed[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return BitsResponse{Count: len(bits), Packed: packed}
}

func decodeBitsResponse(data []byte, count int, bad statuscode.StatusCode) (BitsResponse, statuscode.StatusCode) {
	if len(data) < 1 {
		return BitsResponse{}, bad
	}
	byteCount := int(data[0])
	want := (count + 7) / 8
	if byteCount != want || len(data)-1 != byteCount {
		return BitsResponse{}, bad
	}
	return BitsResponse{Count: count, Packed: data[1:]}, statuscode.StatusGood
}

func encodeBitsResponse(dst []byte, r BitsResponse) (int, statuscode.StatusCode) {
	want := (r.Count + 7) / 8
	if want != len(r.Packed) {
		return 0, statuscode.StatusBad
	}
	if len(dst) < 1+want {
		return overflow()
	}
	dst[0] = byte(want)
	copy(dst[1:], r.Packed)
	return 1 + want, statuscode.StatusGood
}

// DecodeReadCoilsResponse parses a ReadCoils response body, given the
// number of coils originally requested (client side; the count is not
// re-encoded on the wire so the caller must remember it).
func DecodeReadCoilsResponse(data []byte, count int) (BitsResponse, statuscode.StatusCode) {
	return decodeBitsResponse(data, count, statuscode.StatusBadNotCorrectResponse)
}

// EncodeReadCoilsResponse builds a ReadCoils response body (server side).
func EncodeReadCoilsResponse(dst []byte, r BitsResponse) (int, statuscode.StatusCode) {
	return encodeBitsResponse(dst, r)
}

// DecodeReadDiscreteInputsResponse parses a ReadDiscreteInputs response.
func DecodeReadDiscreteInputsResponse(data []byte, count int) (BitsResponse, statuscode.StatusCode) {
	return decodeBitsResponse(data, count, statuscode.StatusBadNotCorrectResponse)
}

// EncodeReadDiscreteInputsResponse builds a ReadDiscreteInputs response.
func EncodeReadDiscreteInputsResponse(dst []byte, r BitsResponse) (int, statuscode.StatusCode) {
	return encodeBitsResponse(dst, r)
}

// WordsResponse carries a register list response.
type WordsResponse struct {
	Registers []uint16
}

func decodeWordsResponse(data []byte, count int, bad statuscode.StatusCode) (WordsResponse, statuscode.StatusCode) {
	if len(data) < 1 {
		return WordsResponse{}, bad
	}
	byteCount := int(data[0])
	if byteCount != 2*count || len(data)-1 != byteCount {
		return WordsResponse{}, bad
	}
	regs := make([]uint16, count)
	for i := 0; i < count; i++ {
		regs[i] = binary.BigEndian.Uint16(data[1+2*i : 3+2*i])
	}
	return WordsResponse{Registers: regs}, statuscode.StatusGood
}

func encodeWordsResponse(dst []byte, r WordsResponse) (int, statuscode.StatusCode) {
	n := len(r.Registers)
	need := 1 + 2*n
	if len(dst) < need {
		return overflow()
	}
	dst[0] = byte(2 * n)
	for i, v := range r.Registers {
		binary.BigEndian.PutUint16(dst[1+2*i:3+2*i], v)
	}
	return need, statuscode.StatusGood
}

// DecodeReadHoldingRegistersResponse parses a ReadHoldingRegisters response.
func DecodeReadHoldingRegistersResponse(data []byte, count int) (WordsResponse, statuscode.StatusCode) {
	return decodeWordsResponse(data, count, statuscode.StatusBadNotCorrectResponse)
}

// EncodeReadHoldingRegistersResponse builds a ReadHoldingRegisters response.
func EncodeReadHoldingRegistersResponse(dst []byte, r WordsResponse) (int, statuscode.StatusCode) {
	return encodeWordsResponse(dst, r)
}

// DecodeReadInputRegistersResponse parses a ReadInputRegisters response.
func DecodeReadInputRegistersResponse(data []byte, count int) (WordsResponse, statuscode.StatusCode) {
	return decodeWordsResponse(data, count, statuscode.StatusBadNotCorrectResponse)
}

// EncodeReadInputRegistersResponse builds a ReadInputRegisters response.
func EncodeReadInputRegistersResponse(dst []byte, r WordsResponse) (int, statuscode.StatusCode) {
	return encodeWordsResponse(dst, r)
}

// WriteSingleCoil is both the request and the echoed response of
// WriteSingleCoil.
type WriteSingleCoil struct {
	Offset uint16
	Value  bool
}

// DecodeWriteSingleCoil parses a WriteSingleCoil request or response body.
// A value other than 0x0000/0xFF00 is BadNotCorrectRequest: this is
// a framing decision, not a Modbus exception.
func DecodeWriteSingleCoil(data []byte) (WriteSingleCoil, statuscode.StatusCode) {
	if len(data) != 4 {
		return WriteSingleCoil{}, statuscode.StatusBadNotCorrectRequest
	}
	offset := binary.BigEndian.Uint16(data[0:2])
	switch binary.BigEndian.Uint16(data[2:4]) {
	case 0x0000:
		return WriteSingleCoil{Offset: offset, Value: false}, statuscode.StatusGood
	case 0xFF00:
		return WriteSingleCoil{Offset: offset, Value: true}, statuscode.StatusGood
	default:
		return WriteSingleCoil{}, statuscode.StatusBadNotCorrectRequest
	}
}

// EncodeWriteSingleCoil builds a WriteSingleCoil request or response body.
func EncodeWriteSingleCoil(dst []byte, w WriteSingleCoil) (int, statuscode.StatusCode) {
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], w.Offset)
	if w.Value {
		binary.BigEndian.PutUint16(buf[2:4], 0xFF00)
	}
	return putBytes(dst, buf[:]...)
}

// WriteSingleRegister is both the request and the echoed response of
// WriteSingleRegister.
type WriteSingleRegister struct {
	Offset uint16
	Value  uint16
}

// DecodeWriteSingleRegister parses a WriteSingleRegister request or
// response body.
func DecodeWriteSingleRegister(data []byte) (WriteSingleRegister, statuscode.StatusCode) {
	if len(data) != 4 {
		return WriteSingleRegister{}, statuscode.StatusBadNotCorrectRequest
	}
	return WriteSingleRegister{
		Offset: binary.BigEndian.Uint16(data[0:2]),
		Value:  binary.BigEndian.Uint16(data[2:4]),
	}, statuscode.StatusGood
}

// EncodeWriteSingleRegister builds a WriteSingleRegister request/response.
func EncodeWriteSingleRegister(dst []byte, w WriteSingleRegister) (int, statuscode.StatusCode) {
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], w.Offset)
	binary.BigEndian.PutUint16(buf[2:4], w.Value)
	return putBytes(dst, buf[:]...)
}

// WriteMultipleCoilsRequest is the WriteMultipleCoils request body.
type WriteMultipleCoilsRequest struct {
	Offset uint16
	Count  int
	Packed []byte
}

// DecodeWriteMultipleCoilsRequest parses a WriteMultipleCoils request body.
func DecodeWriteMultipleCoilsRequest(data []byte) (WriteMultipleCoilsRequest, statuscode.StatusCode) {
	if len(data) < 5 {
		return WriteMultipleCoilsRequest{}, statuscode.StatusBadNotCorrectRequest
	}
	offset := binary.BigEndian.Uint16(data[0:2])
	count := int(binary.BigEndian.Uint16(data[2:4]))
	byteCount := int(data[4])
	wantBytes := (count + 7) / 8
	if count == 0 || byteCount != wantBytes || len(data)-5 != byteCount {
		return WriteMultipleCoilsRequest{}, statuscode.StatusBadNotCorrectRequest
	}
	if count > maxWriteBits {
		return WriteMultipleCoilsRequest{}, statuscode.StatusBadIllegalDataValue
	}
	if int(offset)+count > 1<<16 {
		return WriteMultipleCoilsRequest{}, statuscode.StatusBadIllegalDataAddress
	}
	return WriteMultipleCoilsRequest{Offset: offset, Count: count, Packed: data[5:]}, statuscode.StatusGood
}

// EncodeWriteMultipleCoilsRequest builds a WriteMultipleCoils request body.
func EncodeWriteMultipleCoilsRequest(dst []byte, r WriteMultipleCoilsRequest) (int, statuscode.StatusCode) {
	byteCount := (r.Count + 7) / 8
	need := 5 + byteCount
	if len(dst) < need || byteCount != len(r.Packed) {
		return overflow()
	}
	binary.BigEndian.PutUint16(dst[0:2], r.Offset)
	binary.BigEndian.PutUint16(dst[2:4], uint16(r.Count))
	dst[4] = byte(byteCount)
	copy(dst[5:], r.Packed)
	return need, statuscode.StatusGood
}

// OffsetCount is the echoed offset/count response shared by
// WriteMultipleCoils and WriteMultipleRegisters.
type OffsetCount struct {
	Offset uint16
	Count  uint16
}

func decodeOffsetCount(data []byte, bad statuscode.StatusCode) (OffsetCount, statuscode.StatusCode) {
	if len(data) != 4 {
		return OffsetCount{}, bad
	}
	return OffsetCount{
		Offset: binary.BigEndian.Uint16(data[0:2]),
		Count:  binary.BigEndian.Uint16(data[2:4]),
	}, statuscode.StatusGood
}

func encodeOffsetCount(dst []byte, r OffsetCount) (int, statuscode.StatusCode) {
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], r.Offset)
	binary.BigEndian.PutUint16(buf[2:4], r.Count)
	return putBytes(dst, buf[:]...)
}

// DecodeWriteMultipleCoilsResponse parses a WriteMultipleCoils response.
func DecodeWriteMultipleCoilsResponse(data []byte) (OffsetCount, statuscode.StatusCode) {
	return decodeOffsetCount(data, statuscode.StatusBadNotCorrectResponse)
}

// EncodeWriteMultipleCoilsResponse builds a WriteMultipleCoils response.
func EncodeWriteMultipleCoilsResponse(dst []byte, r OffsetCount) (int, statuscode.StatusCode) {
	return encodeOffsetCount(dst, r)
}

// WriteMultipleRegistersRequest is the WriteMultipleRegisters request body.
type WriteMultipleRegistersRequest struct {
	Offset    uint16
	Registers []uint16
}

// DecodeWriteMultipleRegistersRequest parses a WriteMultipleRegisters
// request body.
func DecodeWriteMultipleRegistersRequest(data []byte) (WriteMultipleRegistersRequest, statuscode.StatusCode) {
	if len(data) < 5 {
		return WriteMultipleRegistersRequest{}, statuscode.StatusBadNotCorrectRequest
	}
	offset := binary.BigEndian.Uint16(data[0:2])
	count := int(binary.BigEndian.Uint16(data[2:4]))
	byteCount := int(data[4])
	if count == 0 || byteCount != 2*count || len(data)-5 != byteCount {
		return WriteMultipleRegistersRequest{}, statuscode.StatusBadNotCorrectRequest
	}
	if count > maxWriteWords {
		return WriteMultipleRegistersRequest{}, statuscode.StatusBadIllegalDataValue
	}
	if int(offset)+count > 1<<16 {
		return WriteMultipleRegistersRequest{}, statuscode.StatusBadIllegalDataAddress
	}
	regs := make([]uint16, count)
	for i := 0; i < count; i++ {
		regs[i] = binary.BigEndian.Uint16(data[5+2*i : 7+2*i])
	}
	return WriteMultipleRegistersRequest{Offset: offset, Registers: regs}, statuscode.StatusGood
}

// EncodeWriteMultipleRegistersRequest builds a WriteMultipleRegisters
// request body.
func EncodeWriteMultipleRegistersRequest(dst []byte, r WriteMultipleRegistersRequest) (int, statuscode.StatusCode) {
	n := len(r.Registers)
	need := 5 + 2*n
	if len(dst) < need {
		return overflow()
	}
	binary.BigEndian.PutUint16(dst[0:2], r.Offset)
	binary.BigEndian.PutUint16(dst[2:4], uint16(n))
	dst[4] = byte(2 * n)
	for i, v := range r.Registers {
		binary.BigEndian.PutUint16(dst[5+2*i:7+2*i], v)
	}
	return need, statuscode.StatusGood
}

// DecodeWriteMultipleRegistersResponse parses a WriteMultipleRegisters
// response.
func DecodeWriteMultipleRegistersResponse(data []byte) (OffsetCount, statuscode.StatusCode) {
	return decodeOffsetCount(data, statuscode.StatusBadNotCorrectResponse)
}

// EncodeWriteMultipleRegistersResponse builds a WriteMultipleRegisters
// response.
func EncodeWriteMultipleRegistersResponse(dst []byte, r OffsetCount) (int, statuscode.StatusCode) {
	return encodeOffsetCount(dst, r)
}

// MaskWriteRegister is both the request and the echoed response of
// MaskWriteRegister.
type MaskWriteRegister struct {
	Offset  uint16
	AndMask uint16
	OrMask  uint16
}

// DecodeMaskWriteRegister parses a MaskWriteRegister request or response.
func DecodeMaskWriteRegister(data []byte) (MaskWriteRegister, statuscode.StatusCode) {
	if len(data) != 6 {
		return MaskWriteRegister{}, statuscode.StatusBadNotCorrectRequest
	}
	return MaskWriteRegister{
		Offset:  binary.BigEndian.Uint16(data[0:2]),
		AndMask: binary.BigEndian.Uint16(data[2:4]),
		OrMask:  binary.BigEndian.Uint16(data[4:6]),
	}, statuscode.StatusGood
}

// EncodeMaskWriteRegister builds a MaskWriteRegister request or response.
func EncodeMaskWriteRegister(dst []byte, m MaskWriteRegister) (int, statuscode.StatusCode) {
	var buf [6]byte
	binary.BigEndian.PutUint16(buf[0:2], m.Offset)
	binary.BigEndian.PutUint16(buf[2:4], m.AndMask)
	binary.BigEndian.PutUint16(buf[4:6], m.OrMask)
	return putBytes(dst, buf[:]...)
}

// ReadWriteMultipleRegistersRequest is the ReadWriteMultipleRegisters
// request body.
type ReadWriteMultipleRegistersRequest struct {
	ReadOffset  uint16
	ReadCount   int
	WriteOffset uint16
	WriteValues []uint16
}

// DecodeReadWriteMultipleRegistersRequest parses a
// ReadWriteMultipleRegisters request body.
func DecodeReadWriteMultipleRegistersRequest(data []byte) (ReadWriteMultipleRegistersRequest, statuscode.StatusCode) {
	if len(data) < 9 {
		return ReadWriteMultipleRegistersRequest{}, statuscode.StatusBadNotCorrectRequest
	}
	readOffset := binary.BigEndian.Uint16(data[0:2])
	readCount := int(binary.BigEndian.Uint16(data[2:4]))
	writeOffset := binary.BigEndian.Uint16(data[4:6])
	writeCount := int(binary.BigEndian.Uint16(data[6:8]))
	byteCount := int(data[8])
	if readCount == 0 || writeCount == 0 ||
		byteCount != 2*writeCount || len(data)-9 != byteCount {
		return ReadWriteMultipleRegistersRequest{}, statuscode.StatusBadNotCorrectRequest
	}
	if readCount > MaxRegisters || writeCount > maxReadWriteWords {
		return ReadWriteMultipleRegistersRequest{}, statuscode.StatusBadIllegalDataValue
	}
	if int(readOffset)+readCount > 1<<16 || int(writeOffset)+writeCount > 1<<16 {
		return ReadWriteMultipleRegistersRequest{}, statuscode.StatusBadIllegalDataAddress
	}
	values := make([]uint16, writeCount)
	for i := 0; i < writeCount; i++ {
		values[i] = binary.BigEndian.Uint16(data[9+2*i : 11+2*i])
	}
	return ReadWriteMultipleRegistersRequest{
		ReadOffset: readOffset, ReadCount: readCount,
		WriteOffset: writeOffset, WriteValues: values,
	}, statuscode.StatusGood
}

// EncodeReadWriteMultipleRegistersRequest builds a
// ReadWriteMultipleRegisters request body.
func EncodeReadWriteMultipleRegistersRequest(dst []byte, r ReadWriteMultipleRegistersRequest) (int, statuscode.StatusCode) {
	n := len(r.WriteValues)
	need := 9 + 2*n
	if len(dst) < need {
		return overflow()
	}
	binary.BigEndian.PutUint16(dst[0:2], r.ReadOffset)
	binary.BigEndian.PutUint16(dst[2:4], uint16(r.ReadCount))
	binary.BigEndian.PutUint16(dst[4:6], r.WriteOffset)
	binary.BigEndian.PutUint16(dst[6:8], uint16(n))
	dst[8] = byte(2 * n)
	for i, v := range r.WriteValues {
		binary.BigEndian.PutUint16(dst[9+2*i:11+2*i], v)
	}
	return need, statuscode.StatusGood
}

// DecodeReadWriteMultipleRegistersResponse parses a
// ReadWriteMultipleRegisters response.
func DecodeReadWriteMultipleRegistersResponse(data []byte, readCount int) (WordsResponse, statuscode.StatusCode) {
	return decodeWordsResponse(data, readCount, statuscode.StatusBadNotCorrectResponse)
}

// EncodeReadWriteMultipleRegistersResponse builds a
// ReadWriteMultipleRegisters response.
func EncodeReadWriteMultipleRegistersResponse(dst []byte, r WordsResponse) (int, statuscode.StatusCode) {
	return encodeWordsResponse(dst, r)
}

// ReadFIFOQueueRequest is the ReadFIFOQueue request body.
type ReadFIFOQueueRequest struct {
	FIFOAddr uint16
}

// DecodeReadFIFOQueueRequest parses a ReadFIFOQueue request body.
func DecodeReadFIFOQueueRequest(data []byte) (ReadFIFOQueueRequest, statuscode.StatusCode) {
	if len(data) != 2 {
		return ReadFIFOQueueRequest{}, statuscode.StatusBadNotCorrectRequest
	}
	return ReadFIFOQueueRequest{FIFOAddr: binary.BigEndian.Uint16(data)}, statuscode.StatusGood
}

// EncodeReadFIFOQueueRequest builds a ReadFIFOQueue request body.
func EncodeReadFIFOQueueRequest(dst []byte, r ReadFIFOQueueRequest) (int, statuscode.StatusCode) {
	if len(dst) < 2 {
		return overflow()
	}
	binary.BigEndian.PutUint16(dst, r.FIFOAddr)
	return 2, statuscode.StatusGood
}

// ReadFIFOQueueResponse is the ReadFIFOQueue response body.
type ReadFIFOQueueResponse struct {
	Values []uint16
}

// DecodeReadFIFOQueueResponse parses a ReadFIFOQueue response body.
func DecodeReadFIFOQueueResponse(data []byte) (ReadFIFOQueueResponse, statuscode.StatusCode) {
	if len(data) < 4 {
		return ReadFIFOQueueResponse{}, statuscode.StatusBadNotCorrectResponse
	}
	byteCount := int(binary.BigEndian.Uint16(data[0:2]))
	count := int(binary.BigEndian.Uint16(data[2:4]))
	if byteCount != 2+2*count || len(data)-4 != 2*count {
		return ReadFIFOQueueResponse{}, statuscode.StatusBadNotCorrectResponse
	}
	values := make([]uint16, count)
	for i := 0; i < count; i++ {
		values[i] = binary.BigEndian.Uint16(data[4+2*i : 6+2*i])
	}
	return ReadFIFOQueueResponse{Values: values}, statuscode.StatusGood
}

// EncodeReadFIFOQueueResponse builds a ReadFIFOQueue response body.
func EncodeReadFIFOQueueResponse(dst []byte, r ReadFIFOQueueResponse) (int, statuscode.StatusCode) {
	n := len(r.Values)
	need := 4 + 2*n
	if len(dst) < need {
		return overflow()
	}
	binary.BigEndian.PutUint16(dst[0:2], uint16(2+2*n))
	binary.BigEndian.PutUint16(dst[2:4], uint16(n))
	for i, v := range r.Values {
		binary.BigEndian.PutUint16(dst[4+2*i:6+2*i], v)
	}
	return need, statuscode.StatusGood
}

// DecodeReadExceptionStatusRequest parses a ReadExceptionStatus request
// body, which carries no fields.
func DecodeReadExceptionStatusRequest(data []byte) statuscode.StatusCode {
	if len(data) != 0 {
		return statuscode.StatusBadNotCorrectRequest
	}
	return statuscode.StatusGood
}

// ReadExceptionStatusResponse is the ReadExceptionStatus response body.
type ReadExceptionStatusResponse struct {
	Status uint8
}

// DecodeReadExceptionStatusResponse parses a ReadExceptionStatus response.
func DecodeReadExceptionStatusResponse(data []byte) (ReadExceptionStatusResponse, statuscode.StatusCode) {
	if len(data) != 1 {
		return ReadExceptionStatusResponse{}, statuscode.StatusBadNotCorrectResponse
	}
	return ReadExceptionStatusResponse{Status: data[0]}, statuscode.StatusGood
}

// EncodeReadExceptionStatusResponse builds a ReadExceptionStatus response.
func EncodeReadExceptionStatusResponse(dst []byte, r ReadExceptionStatusResponse) (int, statuscode.StatusCode) {
	return putBytes(dst, r.Status)
}

// Diagnostics is both the request and response of Diagnostics: a
// sub-function selector plus device-defined data, echoed or transformed by
// the device per sub-function.
type Diagnostics struct {
	SubFunc uint16
	Data    []byte
}

// DecodeDiagnostics parses a Diagnostics request or response body.
func DecodeDiagnostics(data []byte) (Diagnostics, statuscode.StatusCode) {
	if len(data) < 2 {
		return Diagnostics{}, statuscode.StatusBadNotCorrectRequest
	}
	return Diagnostics{
		SubFunc: binary.BigEndian.Uint16(data[0:2]),
		Data:    data[2:],
	}, statuscode.StatusGood
}

// EncodeDiagnostics builds a Diagnostics request or response body.
func EncodeDiagnostics(dst []byte, d Diagnostics) (int, statuscode.StatusCode) {
	need := 2 + len(d.Data)
	if len(dst) < need {
		return overflow()
	}
	binary.BigEndian.PutUint16(dst[0:2], d.SubFunc)
	copy(dst[2:], d.Data)
	return need, statuscode.StatusGood
}

// GetCommEventCounterResponse is the GetCommEventCounter response body.
// The request carries no fields.
type GetCommEventCounterResponse struct {
	Status     uint16
	EventCount uint16
}

// DecodeGetCommEventCounterResponse parses a GetCommEventCounter response.
func DecodeGetCommEventCounterResponse(data []byte) (GetCommEventCounterResponse, statuscode.StatusCode) {
	if len(data) != 4 {
		return GetCommEventCounterResponse{}, statuscode.StatusBadNotCorrectResponse
	}
	return GetCommEventCounterResponse{
		Status:     binary.BigEndian.Uint16(data[0:2]),
		EventCount: binary.BigEndian.Uint16(data[2:4]),
	}, statuscode.StatusGood
}

// EncodeGetCommEventCounterResponse builds a GetCommEventCounter response.
func EncodeGetCommEventCounterResponse(dst []byte, r GetCommEventCounterResponse) (int, statuscode.StatusCode) {
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], r.Status)
	binary.BigEndian.PutUint16(buf[2:4], r.EventCount)
	return putBytes(dst, buf[:]...)
}

// GetCommEventLogResponse is the GetCommEventLog response body. The request
// carries no fields.
type GetCommEventLogResponse struct {
	Status       uint16
	EventCount   uint16
	MessageCount uint16
	Events       []byte
}

// DecodeGetCommEventLogResponse parses a GetCommEventLog response.
func DecodeGetCommEventLogResponse(data []byte) (GetCommEventLogResponse, statuscode.StatusCode) {
	if len(data) < 7 {
		return GetCommEventLogResponse{}, statuscode.StatusBadNotCorrectResponse
	}
	byteCount := int(data[0])
	if byteCount != len(data)-1 || byteCount < 6 {
		return GetCommEventLogResponse{}, statuscode.StatusBadNotCorrectResponse
	}
	return GetCommEventLogResponse{
		Status:       binary.BigEndian.Uint16(data[1:3]),
		EventCount:   binary.BigEndian.Uint16(data[3:5]),
		MessageCount: binary.BigEndian.Uint16(data[5:7]),
		Events:       data[7:],
	}, statuscode.StatusGood
}

// EncodeGetCommEventLogResponse builds a GetCommEventLog response.
func EncodeGetCommEventLogResponse(dst []byte, r GetCommEventLogResponse) (int, statuscode.StatusCode) {
	need := 7 + len(r.Events)
	if len(dst) < need {
		return overflow()
	}
	dst[0] = byte(need - 1)
	binary.BigEndian.PutUint16(dst[1:3], r.Status)
	binary.BigEndian.PutUint16(dst[3:5], r.EventCount)
	binary.BigEndian.PutUint16(dst[5:7], r.MessageCount)
	copy(dst[7:], r.Events)
	return need, statuscode.StatusGood
}

// ReportServerIDResponse is the ReportServerID response body. The request
// carries no fields.
type ReportServerIDResponse struct {
	// Data is the device-supplied server ID data, including the trailing
	// run-indicator byte.
	Data []byte
}

// DecodeReportServerIDResponse parses a ReportServerID response.
func DecodeReportServerIDResponse(data []byte) (ReportServerIDResponse, statuscode.StatusCode) {
	if len(data) < 1 {
		return ReportServerIDResponse{}, statuscode.StatusBadNotCorrectResponse
	}
	byteCount := int(data[0])
	if byteCount != len(data)-1 {
		return ReportServerIDResponse{}, statuscode.StatusBadNotCorrectResponse
	}
	return ReportServerIDResponse{Data: data[1:]}, statuscode.StatusGood
}

// EncodeReportServerIDResponse builds a ReportServerID response.
func EncodeReportServerIDResponse(dst []byte, r ReportServerIDResponse) (int, statuscode.StatusCode) {
	need := 1 + len(r.Data)
	if len(dst) < need {
		return overflow()
	}
	dst[0] = byte(len(r.Data))
	copy(dst[1:], r.Data)
	return need, statuscode.StatusGood
}

// EncodeExceptionResponse builds a 1-byte exception response body carrying
// the given Modbus exception code. The caller is responsible for setting
// the response function code's error bit (FuncCode.AsError).
func EncodeExceptionResponse(dst []byte, code byte) (int, statuscode.StatusCode) {
	return putBytes(dst, code)
}

// DecodeExceptionResponse parses a 1-byte exception response body into its
// mapped StatusCode.
func DecodeExceptionResponse(data []byte) statuscode.StatusCode {
	if len(data) != 1 {
		return statuscode.StatusBadNotCorrectResponse
	}
	return statuscode.ExceptionToStatus(data[0])
}
