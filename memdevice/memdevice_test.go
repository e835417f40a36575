package memdevice

import (
	"testing"

	"github.com/modbuscore/modbuscore/statuscode"
)

func TestWriteReadHoldingRegistersRoundTrip(t *testing.T) {
	d, err := New(Model{HoldingRegisters: []Range{{Start: 0, Len: 10}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if st := d.WriteMultipleRegisters(1, 2, []uint16{10, 20, 30}); !st.IsGood() {
		t.Fatalf("write status = %v", st)
	}
	regs, st := d.ReadHoldingRegisters(1, 2, 3)
	if !st.IsGood() || regs[0] != 10 || regs[1] != 20 || regs[2] != 30 {
		t.Fatalf("regs = %v, st = %v", regs, st)
	}
}

func TestReadCoilsDefaultFalse(t *testing.T) {
	d, err := New(Model{Coils: []Range{{Start: 0, Len: 8}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bits, st := d.ReadCoils(1, 0, 8)
	if !st.IsGood() {
		t.Fatalf("status = %v", st)
	}
	for i, b := range bits {
		if b {
			t.Fatalf("bit %d = true, want false (zero value)", i)
		}
	}
}

func TestWriteSingleCoilThenReadBack(t *testing.T) {
	d, err := New(Model{Coils: []Range{{Start: 0, Len: 8}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.WriteSingleCoil(1, 3, true)
	bits, st := d.ReadCoils(1, 0, 8)
	if !st.IsGood() {
		t.Fatalf("status = %v", st)
	}
	for i, want := range []bool{false, false, false, true, false, false, false, false} {
		if bits[i] != want {
			t.Fatalf("bit %d = %v, want %v", i, bits[i], want)
		}
	}
}

func TestGapBetweenRangesIsIllegalAddress(t *testing.T) {
	// Two holding-register ranges with a gap at [10,20): a read spanning the
	// gap must fail.
	d, err := New(Model{HoldingRegisters: []Range{
		{Start: 0, Len: 10},
		{Start: 20, Len: 10},
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, st := d.ReadHoldingRegisters(1, 5, 10)
	if st != statuscode.StatusBadIllegalDataAddress {
		t.Fatalf("status = %v, want StatusBadIllegalDataAddress", st)
	}
}

func TestReadPastLastRangeIsIllegalAddress(t *testing.T) {
	d, err := New(Model{HoldingRegisters: []Range{{Start: 0, Len: 10}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, st := d.ReadHoldingRegisters(1, 8, 5)
	if st != statuscode.StatusBadIllegalDataAddress {
		t.Fatalf("status = %v, want StatusBadIllegalDataAddress", st)
	}
}

func TestOverlappingRangesRejectedAtConstruction(t *testing.T) {
	_, err := New(Model{HoldingRegisters: []Range{
		{Start: 0, Len: 10},
		{Start: 5, Len: 10},
	}})
	if err == nil {
		t.Fatalf("New: want error for overlapping ranges")
	}
}

func TestMaskWriteRegister(t *testing.T) {
	d, err := New(Model{HoldingRegisters: []Range{{Start: 0, Len: 1}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.WriteSingleRegister(1, 0, 0x0012)
	if st := d.MaskWriteRegister(1, 0, 0x00F2, 0x0025); !st.IsGood() {
		t.Fatalf("status = %v", st)
	}
	regs, _ := d.ReadHoldingRegisters(1, 0, 1)
	if regs[0] != 0x0017 {
		t.Fatalf("register = %#04x, want 0x0017", regs[0])
	}
}

func TestReadWriteMultipleRegistersAtomic(t *testing.T) {
	d, err := New(Model{HoldingRegisters: []Range{{Start: 0, Len: 10}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.WriteMultipleRegisters(1, 4, []uint16{1, 2, 3})

	regs, st := d.ReadWriteMultipleRegisters(1, 4, 3, 4, []uint16{9, 9, 9})
	if !st.IsGood() {
		t.Fatalf("status = %v", st)
	}
	// The write lands before the read is taken, so the response echoes the
	// just-written values.
	for i, want := range []uint16{9, 9, 9} {
		if regs[i] != want {
			t.Fatalf("regs[%d] = %d, want %d", i, regs[i], want)
		}
	}
}

func TestReadWriteMultipleRegistersDistinctRanges(t *testing.T) {
	d, err := New(Model{HoldingRegisters: []Range{
		{Start: 0, Len: 10},
		{Start: 100, Len: 10},
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.WriteMultipleRegisters(1, 100, []uint16{5, 6})

	regs, st := d.ReadWriteMultipleRegisters(1, 100, 2, 0, []uint16{1, 2, 3})
	if !st.IsGood() {
		t.Fatalf("status = %v", st)
	}
	if regs[0] != 5 || regs[1] != 6 {
		t.Fatalf("regs = %v, want [5 6]", regs)
	}
	written, _ := d.ReadHoldingRegisters(1, 0, 3)
	if written[0] != 1 || written[1] != 2 || written[2] != 3 {
		t.Fatalf("written = %v, want [1 2 3]", written)
	}
}
