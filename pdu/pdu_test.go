package pdu

import (
	"reflect"
	"testing"

	"github.com/modbuscore/modbuscore/statuscode"
)

func TestReadHoldingRegistersRoundTrip(t *testing.T) {
	req := ReadRequest{Offset: 0, Count: 2}
	buf := make([]byte, 16)
	n, status := EncodeReadHoldingRegistersRequest(buf, req)
	if !status.IsGood() {
		t.Fatalf("encode request: %v", status)
	}
	got, status := DecodeReadHoldingRegistersRequest(buf[:n])
	if !status.IsGood() {
		t.Fatalf("decode request: %v", status)
	}
	if got != req {
		t.Fatalf("round trip request: got %+v, want %+v", got, req)
	}

	resp := WordsResponse{Registers: []uint16{0x000A, 0x0014}}
	n, status = EncodeReadHoldingRegistersResponse(buf, resp)
	if !status.IsGood() {
		t.Fatalf("encode response: %v", status)
	}
	wireWant := []byte{0x04, 0x00, 0x0A, 0x00, 0x14}
	if !reflect.DeepEqual(buf[:n], wireWant) {
		t.Fatalf("wire bytes = %x, want %x", buf[:n], wireWant)
	}
	gotResp, status := DecodeReadHoldingRegistersResponse(buf[:n], 2)
	if !status.IsGood() {
		t.Fatalf("decode response: %v", status)
	}
	if !reflect.DeepEqual(gotResp.Registers, resp.Registers) {
		t.Fatalf("round trip response: got %v, want %v", gotResp.Registers, resp.Registers)
	}
}

func TestReadCoilsRoundTrip(t *testing.T) {
	bits := []bool{true, false, true, false, true, false, true, false, true}
	r := PackBools(bits)
	buf := make([]byte, 16)
	n, status := EncodeReadCoilsResponse(buf, r)
	if !status.IsGood() {
		t.Fatalf("encode: %v", status)
	}
	got, status := DecodeReadCoilsResponse(buf[:n], len(bits))
	if !status.IsGood() {
		t.Fatalf("decode: %v", status)
	}
	if !reflect.DeepEqual(got.Bools(), bits) {
		t.Fatalf("round trip bits: got %v, want %v", got.Bools(), bits)
	}
	// Padding bits of the last byte must be zero.
	lastByte := got.Packed[len(got.Packed)-1]
	usedBits := uint(len(bits) % 8)
	if usedBits != 0 && lastByte>>usedBits != 0 {
		t.Fatalf("padding bits not zero: %08b", lastByte)
	}
}

func TestWriteSingleCoilIllegalValue(t *testing.T) {
	data := []byte{0x00, 0x00, 0xAA, 0xAA}
	_, status := DecodeWriteSingleCoil(data)
	if status != statuscode.StatusBadNotCorrectRequest {
		t.Fatalf("status = %v, want BadNotCorrectRequest", status)
	}
}

func TestWriteMultipleCoilsByteCountMismatch(t *testing.T) {
	// offset=0, count=16, byte_count=3 (should be 2), 3 bytes of data.
	data := []byte{0x00, 0x00, 0x00, 0x10, 0x03, 0xFF, 0xFF, 0x00}
	_, status := DecodeWriteMultipleCoilsRequest(data)
	if status != statuscode.StatusBadNotCorrectRequest {
		t.Fatalf("status = %v, want BadNotCorrectRequest", status)
	}
}

func TestExceptionRoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	n, status := EncodeExceptionResponse(buf, 0x02)
	if !status.IsGood() {
		t.Fatalf("encode: %v", status)
	}
	got := DecodeExceptionResponse(buf[:n])
	if got != statuscode.StatusBadIllegalDataAddress {
		t.Fatalf("status = %v, want BadIllegalDataAddress", got)
	}
}

func TestReadCoilsCountOverLimit(t *testing.T) {
	req := []byte{0x00, 0x00, 0x07, 0xF9} // 2041 > MaxDiscrets
	_, status := DecodeReadCoilsRequest(req)
	if status != statuscode.StatusBadIllegalDataValue {
		t.Fatalf("status = %v, want BadIllegalDataValue", status)
	}
}

func TestEncodeOverflow(t *testing.T) {
	buf := make([]byte, 2)
	_, status := EncodeWriteSingleRegister(buf, WriteSingleRegister{Offset: 1, Value: 2})
	if status != statuscode.StatusBadWriteBufferOverflow {
		t.Fatalf("status = %v, want BadWriteBufferOverflow", status)
	}
}
