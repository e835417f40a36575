// Package memdevice is a reference in-memory mbserver.Device: flat,
// range-addressed storage for coils, discrete inputs, holding registers,
// and input registers, with atomic cross-range locking for operations that
// touch more than one range in one transaction. Storage is typed slices
// ([]bool / []uint16) rather than packed bytes, since pdu already owns
// wire-level bit/word packing above this layer.
package memdevice

import (
	"fmt"
	"sort"
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"
	"github.com/modbuscore/modbuscore/mbserver"
	"github.com/modbuscore/modbuscore/statuscode"
)

// DataType identifies one of the four Modbus data tables.
type DataType int

// Data types.
const (
	DiscreteInputs DataType = iota
	Coils
	InputRegisters
	HoldingRegisters
	numDataTypes = 4
)

func (dt DataType) String() string {
	switch dt {
	case DiscreteInputs:
		return "discrete inputs"
	case Coils:
		return "coils"
	case InputRegisters:
		return "input registers"
	case HoldingRegisters:
		return "holding registers"
	default:
		return fmt.Sprintf("unknown data type %d", dt)
	}
}

// Range declares one contiguous, independently-locked stretch of
// addresses for a data type.
type Range struct {
	Start uint16
	Len   uint16
}

func (r Range) validate() error {
	if r.Len == 0 {
		return fmt.Errorf("zero length range")
	}
	end := uint32(r.Start) + uint32(r.Len)
	if end > 0x10000 {
		return fmt.Errorf("range [%d,%d) exceeds address space", r.Start, end)
	}
	return nil
}

// Model declares the address ranges a Device serves for each data type.
// Ranges within one data type may not overlap, but need not be contiguous:
// a read or write spanning a gap between ranges fails with
// StatusBadIllegalDataAddress.
type Model struct {
	DiscreteInputs   []Range
	Coils            []Range
	InputRegisters   []Range
	HoldingRegisters []Range
}

// block is one Range's storage plus its own lock.
type block struct {
	mx    sync.RWMutex
	start uint16
	n     uint16
	bits  []bool   // used by DiscreteInputs/Coils blocks
	words []uint16 // used by InputRegisters/HoldingRegisters blocks
}

// Device is a complete in-memory Modbus server backend: it implements
// mbserver.Device directly, so it can be handed straight to mbserver.New
// or mbtcp.New.
type Device struct {
	blocks [numDataTypes][]*block
}

var _ mbserver.Device = (*Device)(nil)

// New builds a Device from model. Ranges of the same data type must not
// overlap.
func New(model Model) (*Device, error) {
	d := &Device{}
	byType := [numDataTypes][]Range{
		DiscreteInputs:   model.DiscreteInputs,
		Coils:            model.Coils,
		InputRegisters:   model.InputRegisters,
		HoldingRegisters: model.HoldingRegisters,
	}
	for dt := DataType(0); dt < numDataTypes; dt++ {
		ranges := append([]Range(nil), byType[dt]...)
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
		prevEnd := uint32(0)
		for i, r := range ranges {
			if err := r.validate(); err != nil {
				return nil, fmt.Errorf("%s range %d: %w", dt, i, err)
			}
			if uint32(r.Start) < prevEnd {
				return nil, fmt.Errorf("%s range %d overlaps the previous range", dt, i)
			}
			prevEnd = uint32(r.Start) + uint32(r.Len)
			b := &block{start: r.Start, n: r.Len}
			if dt == DiscreteInputs || dt == Coils {
				b.bits = make([]bool, r.Len)
			} else {
				b.words = make([]uint16, r.Len)
			}
			d.blocks[dt] = append(d.blocks[dt], b)
		}
	}
	return d, nil
}

// span is one contiguous piece of a read or write that lands in a single
// block.
type span struct {
	b          *block
	localStart int
	n          int
}

// locate breaks [start, start+count) for dt into the blocks that cover it,
// in address order, failing if any part of the range isn't covered by a
// block (including gaps between adjacent blocks).
func (d *Device) locate(dt DataType, start uint16, count int) ([]span, statuscode.StatusCode) {
	if count == 0 {
		return nil, statuscode.StatusGood
	}
	blocks := d.blocks[dt]
	addr := int(start)
	remaining := count
	var spans []span
	idx := sort.Search(len(blocks), func(i int) bool {
		return int(blocks[i].start)+int(blocks[i].n) > addr
	})
	for remaining > 0 {
		if idx >= len(blocks) || int(blocks[idx].start) > addr {
			return nil, statuscode.StatusBadIllegalDataAddress
		}
		b := blocks[idx]
		localStart := addr - int(b.start)
		avail := int(b.n) - localStart
		n := avail
		if n > remaining {
			n = remaining
		}
		spans = append(spans, span{b: b, localStart: localStart, n: n})
		addr += n
		remaining -= n
		idx++
	}
	return spans, statuscode.StatusGood
}

// lockedBlocks returns the distinct blocks touched by spans, in a stable
// order, so callers build one multilocker.Locker per transaction
// regardless of how many spans reference the same block.
func lockedBlocks(spanSets ...[]span) []*block {
	seen := make(map[*block]bool)
	var blocks []*block
	for _, spans := range spanSets {
		for _, sp := range spans {
			if !seen[sp.b] {
				seen[sp.b] = true
				blocks = append(blocks, sp.b)
			}
		}
	}
	return blocks
}

func readLocker(blocks []*block) sync.Locker {
	lockers := make([]sync.Locker, len(blocks))
	for i, b := range blocks {
		lockers[i] = b.mx.RLocker()
	}
	return multilocker.New(lockers...)
}

func writeLocker(blocks []*block) sync.Locker {
	lockers := make([]sync.Locker, len(blocks))
	for i, b := range blocks {
		lockers[i] = &b.mx
	}
	return multilocker.New(lockers...)
}

func readBits(spans []span) []bool {
	out := make([]bool, 0, totalLen(spans))
	for _, sp := range spans {
		out = append(out, sp.b.bits[sp.localStart:sp.localStart+sp.n]...)
	}
	return out
}

func writeBits(spans []span, values []bool) {
	off := 0
	for _, sp := range spans {
		copy(sp.b.bits[sp.localStart:sp.localStart+sp.n], values[off:off+sp.n])
		off += sp.n
	}
}

func readWords(spans []span) []uint16 {
	out := make([]uint16, 0, totalLen(spans))
	for _, sp := range spans {
		out = append(out, sp.b.words[sp.localStart:sp.localStart+sp.n]...)
	}
	return out
}

func writeWords(spans []span, values []uint16) {
	off := 0
	for _, sp := range spans {
		copy(sp.b.words[sp.localStart:sp.localStart+sp.n], values[off:off+sp.n])
		off += sp.n
	}
}

func totalLen(spans []span) int {
	n := 0
	for _, sp := range spans {
		n += sp.n
	}
	return n
}

func (d *Device) readBitsLocked(dt DataType, offset uint16, count uint16) ([]bool, statuscode.StatusCode) {
	spans, st := d.locate(dt, offset, int(count))
	if !st.IsGood() {
		return nil, st
	}
	l := readLocker(lockedBlocks(spans))
	l.Lock()
	defer l.Unlock()
	return readBits(spans), statuscode.StatusGood
}

func (d *Device) readWordsLocked(dt DataType, offset uint16, count uint16) ([]uint16, statuscode.StatusCode) {
	spans, st := d.locate(dt, offset, int(count))
	if !st.IsGood() {
		return nil, st
	}
	l := readLocker(lockedBlocks(spans))
	l.Lock()
	defer l.Unlock()
	return readWords(spans), statuscode.StatusGood
}

// ReadCoils implements mbserver.Device.
func (d *Device) ReadCoils(unit uint8, offset, count uint16) ([]bool, statuscode.StatusCode) {
	return d.readBitsLocked(Coils, offset, count)
}

// ReadDiscreteInputs implements mbserver.Device.
func (d *Device) ReadDiscreteInputs(unit uint8, offset, count uint16) ([]bool, statuscode.StatusCode) {
	return d.readBitsLocked(DiscreteInputs, offset, count)
}

// ReadHoldingRegisters implements mbserver.Device.
func (d *Device) ReadHoldingRegisters(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode) {
	return d.readWordsLocked(HoldingRegisters, offset, count)
}

// ReadInputRegisters implements mbserver.Device.
func (d *Device) ReadInputRegisters(unit uint8, offset, count uint16) ([]uint16, statuscode.StatusCode) {
	return d.readWordsLocked(InputRegisters, offset, count)
}

// WriteSingleCoil implements mbserver.Device.
func (d *Device) WriteSingleCoil(unit uint8, offset uint16, value bool) statuscode.StatusCode {
	spans, st := d.locate(Coils, offset, 1)
	if !st.IsGood() {
		return st
	}
	l := writeLocker(lockedBlocks(spans))
	l.Lock()
	defer l.Unlock()
	writeBits(spans, []bool{value})
	return statuscode.StatusGood
}

// WriteSingleRegister implements mbserver.Device.
func (d *Device) WriteSingleRegister(unit uint8, offset, value uint16) statuscode.StatusCode {
	spans, st := d.locate(HoldingRegisters, offset, 1)
	if !st.IsGood() {
		return st
	}
	l := writeLocker(lockedBlocks(spans))
	l.Lock()
	defer l.Unlock()
	writeWords(spans, []uint16{value})
	return statuscode.StatusGood
}

// WriteMultipleCoils implements mbserver.Device.
func (d *Device) WriteMultipleCoils(unit uint8, offset uint16, values []bool) statuscode.StatusCode {
	spans, st := d.locate(Coils, offset, len(values))
	if !st.IsGood() {
		return st
	}
	l := writeLocker(lockedBlocks(spans))
	l.Lock()
	defer l.Unlock()
	writeBits(spans, values)
	return statuscode.StatusGood
}

// WriteMultipleRegisters implements mbserver.Device.
func (d *Device) WriteMultipleRegisters(unit uint8, offset uint16, values []uint16) statuscode.StatusCode {
	spans, st := d.locate(HoldingRegisters, offset, len(values))
	if !st.IsGood() {
		return st
	}
	l := writeLocker(lockedBlocks(spans))
	l.Lock()
	defer l.Unlock()
	writeWords(spans, values)
	return statuscode.StatusGood
}

// MaskWriteRegister implements mbserver.Device: (current & and) | (or &^ and).
func (d *Device) MaskWriteRegister(unit uint8, offset, andMask, orMask uint16) statuscode.StatusCode {
	spans, st := d.locate(HoldingRegisters, offset, 1)
	if !st.IsGood() {
		return st
	}
	sp := spans[0]
	sp.b.mx.Lock()
	defer sp.b.mx.Unlock()
	current := sp.b.words[sp.localStart]
	sp.b.words[sp.localStart] = (current & andMask) | (orMask &^ andMask)
	return statuscode.StatusGood
}

// ReadWriteMultipleRegisters implements mbserver.Device: writes
// writeValues at writeOffset, then reads readCount registers from
// readOffset, both under one atomic lock over every block either side
// touches.
func (d *Device) ReadWriteMultipleRegisters(unit uint8, readOffset, readCount, writeOffset uint16, writeValues []uint16) ([]uint16, statuscode.StatusCode) {
	writeSpans, st := d.locate(HoldingRegisters, writeOffset, len(writeValues))
	if !st.IsGood() {
		return nil, st
	}
	readSpans, st := d.locate(HoldingRegisters, readOffset, int(readCount))
	if !st.IsGood() {
		return nil, st
	}
	l := writeLocker(lockedBlocks(writeSpans, readSpans))
	l.Lock()
	defer l.Unlock()
	writeWords(writeSpans, writeValues)
	return readWords(readSpans), statuscode.StatusGood
}

// ReadExceptionStatus, Diagnostics, GetCommEventCounter, GetCommEventLog,
// ReportServerID, and ReadFIFOQueue have no backing store in this
// reference Device: they are serviced, not data-model operations, so
// memdevice answers each with a fixed, harmless value rather than an
// exception. A real device embedding memdevice for its data tables can
// shadow any of these with its own method.

// ReadExceptionStatus implements mbserver.Device.
func (d *Device) ReadExceptionStatus(unit uint8) (uint8, statuscode.StatusCode) {
	return 0, statuscode.StatusGood
}

// Diagnostics implements mbserver.Device: subfunction 0x00 (Return Query
// Data) echoes data back, matching real Modbus server convention; every
// other subfunction reports Good with an empty body.
func (d *Device) Diagnostics(unit uint8, subFunc uint16, data []byte) ([]byte, statuscode.StatusCode) {
	if subFunc == 0x0000 {
		return data, statuscode.StatusGood
	}
	return nil, statuscode.StatusGood
}

// GetCommEventCounter implements mbserver.Device.
func (d *Device) GetCommEventCounter(unit uint8) (uint16, uint16, statuscode.StatusCode) {
	return 0, 0, statuscode.StatusGood
}

// GetCommEventLog implements mbserver.Device.
func (d *Device) GetCommEventLog(unit uint8) (uint16, uint16, uint16, []byte, statuscode.StatusCode) {
	return 0, 0, 0, nil, statuscode.StatusGood
}

// ReportServerID implements mbserver.Device.
func (d *Device) ReportServerID(unit uint8) ([]byte, statuscode.StatusCode) {
	return []byte{0x00, 0xFF}, statuscode.StatusGood
}

// ReadFIFOQueue implements mbserver.Device: no queue in this reference
// implementation, so every address reports an empty queue.
func (d *Device) ReadFIFOQueue(unit uint8, fifoAddr uint16) ([]uint16, statuscode.StatusCode) {
	return nil, statuscode.StatusGood
}

// SetHoldingRegistersUint32BE is a convenience setter: writes a 32-bit
// value across two consecutive holding registers in big-endian order,
// outside of the normal PDU path (e.g. for test fixtures or startup
// seeding).
func (d *Device) SetHoldingRegistersUint32BE(offset uint16, value uint32) statuscode.StatusCode {
	hi := uint16(value >> 16)
	lo := uint16(value)
	return d.WriteMultipleRegisters(0, offset, []uint16{hi, lo})
}
