// Package statuscode defines the tagged status value threaded through the
// protocol core: every Port, Device, and state-machine operation reports
// its outcome as a StatusCode rather than a plain error, so that callers can
// tell a call that must be re-driven (Processing) apart from one that is
// finished (Good or Bad).
package statuscode

import "fmt"

// StatusCode is a tagged status value with three disjoint bands: Good,
// Processing, and Bad. The band is encoded in the high bits so IsGood,
// IsProcessing, and IsBad can classify a value with a single comparison.
type StatusCode uint32

const (
	processingBase StatusCode = 0x1000
	badBase        StatusCode = 0x8000
	exceptionBase  StatusCode = badBase + 0x80
)

// Good band. StatusUncertain is the neutral default of an unset StatusCode;
// it classifies as Good so a component that has not yet run reports success
// rather than failure.
const (
	StatusUncertain StatusCode = 0x0000
	StatusGood      StatusCode = 0x0001
)

// Processing band: the operation has not completed this tick and the
// caller must call again with the same arguments.
const (
	StatusProcessing StatusCode = processingBase
)

// Bad band, generic and transport sub-kinds.
const (
	StatusBad StatusCode = badBase + 0x00

	// Serial transport.
	StatusBadSerialOpenError    StatusCode = badBase + 0x01
	StatusBadSerialWriteTimeout StatusCode = badBase + 0x02
	StatusBadSerialReadTimeout  StatusCode = badBase + 0x03
	StatusBadSerialWriteError   StatusCode = badBase + 0x04
	StatusBadSerialReadError    StatusCode = badBase + 0x05
	StatusBadSerialCRC          StatusCode = badBase + 0x06
	StatusBadSerialLRC          StatusCode = badBase + 0x07

	// TCP transport.
	StatusBadTcpOpenError    StatusCode = badBase + 0x10
	StatusBadTcpDisconnect   StatusCode = badBase + 0x11
	StatusBadTcpWriteTimeout StatusCode = badBase + 0x12
	StatusBadTcpReadTimeout  StatusCode = badBase + 0x13
	StatusBadTcpWriteError   StatusCode = badBase + 0x14
	StatusBadTcpReadError    StatusCode = badBase + 0x15

	// Protocol / framing.
	StatusBadNotCorrectRequest  StatusCode = badBase + 0x20
	StatusBadNotCorrectResponse StatusCode = badBase + 0x21
	StatusBadWriteBufferOverflow StatusCode = badBase + 0x22
	StatusBadPortClosed         StatusCode = badBase + 0x23
	StatusBadPortNotOpen        StatusCode = badBase + 0x24
)

// Modbus standard exception sub-kinds. The
// numeric value of each is exceptionBase plus the wire exception byte, so
// ExceptionToStatus / StatusToException are a bijection over the full
// 0x01..0xFF exception byte space without a lookup table.
const (
	StatusBadIllegalFunction               StatusCode = exceptionBase + 0x01
	StatusBadIllegalDataAddress            StatusCode = exceptionBase + 0x02
	StatusBadIllegalDataValue              StatusCode = exceptionBase + 0x03
	StatusBadServerDeviceFailure           StatusCode = exceptionBase + 0x04
	StatusBadAcknowledge                   StatusCode = exceptionBase + 0x05
	StatusBadServerDeviceBusy              StatusCode = exceptionBase + 0x06
	StatusBadMemoryParityError             StatusCode = exceptionBase + 0x08
	StatusBadGatewayPathUnavailable        StatusCode = exceptionBase + 0x0A
	StatusBadGatewayTargetFailedToRespond  StatusCode = exceptionBase + 0x0B
)

// IsGood reports whether s is in the Good band (success, including the
// neutral StatusUncertain default).
func (s StatusCode) IsGood() bool {
	return s < processingBase
}

// IsProcessing reports whether s means the operation must be re-driven.
func (s StatusCode) IsProcessing() bool {
	return s >= processingBase && s < badBase
}

// IsBad reports whether s is a terminal failure.
func (s StatusCode) IsBad() bool {
	return s >= badBase
}

// IsException reports whether s was produced by ExceptionToStatus, and if so
// returns the Modbus exception byte it carries.
func (s StatusCode) IsException() (code byte, ok bool) {
	if s < exceptionBase || s > exceptionBase+0xFF {
		return 0, false
	}
	return byte(s - exceptionBase), true
}

// ExceptionToStatus maps a Modbus exception byte (as found in the single
// data byte of an exception response PDU) to its Bad StatusCode.
func ExceptionToStatus(code byte) StatusCode {
	return exceptionBase + StatusCode(code)
}

// StatusToException is the inverse of ExceptionToStatus. ok is false if s
// does not carry an exception byte.
func StatusToException(s StatusCode) (code byte, ok bool) {
	return s.IsException()
}

var names = map[StatusCode]string{
	StatusUncertain:                        "uncertain",
	StatusGood:                             "good",
	StatusProcessing:                       "processing",
	StatusBad:                              "bad",
	StatusBadSerialOpenError:               "serial open error",
	StatusBadSerialWriteTimeout:            "serial write timeout",
	StatusBadSerialReadTimeout:             "serial read timeout",
	StatusBadSerialWriteError:              "serial write error",
	StatusBadSerialReadError:               "serial read error",
	StatusBadSerialCRC:                     "serial CRC error",
	StatusBadSerialLRC:                     "serial LRC error",
	StatusBadTcpOpenError:                  "tcp open error",
	StatusBadTcpDisconnect:                 "tcp disconnected",
	StatusBadTcpWriteTimeout:               "tcp write timeout",
	StatusBadTcpReadTimeout:                "tcp read timeout",
	StatusBadTcpWriteError:                 "tcp write error",
	StatusBadTcpReadError:                  "tcp read error",
	StatusBadNotCorrectRequest:             "not a correct request",
	StatusBadNotCorrectResponse:            "not a correct response",
	StatusBadWriteBufferOverflow:           "write buffer overflow",
	StatusBadPortClosed:                    "port closed",
	StatusBadPortNotOpen:                   "port not open",
	StatusBadIllegalFunction:               "illegal function",
	StatusBadIllegalDataAddress:            "illegal data address",
	StatusBadIllegalDataValue:              "illegal data value",
	StatusBadServerDeviceFailure:           "server device failure",
	StatusBadAcknowledge:                   "acknowledge",
	StatusBadServerDeviceBusy:              "server device busy",
	StatusBadMemoryParityError:             "memory parity error",
	StatusBadGatewayPathUnavailable:        "gateway path unavailable",
	StatusBadGatewayTargetFailedToRespond:  "gateway target failed to respond",
}

// String renders a human readable name for s.
func (s StatusCode) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	if code, ok := s.IsException(); ok {
		return fmt.Sprintf("modbus exception 0x%02X", code)
	}
	return fmt.Sprintf("status 0x%X", uint32(s))
}

// Error implements the error interface so a StatusCode can be returned and
// wrapped through ordinary Go error paths while still being recovered by
// value via a plain type assertion or errors.As.
func (s StatusCode) Error() string {
	return s.String()
}
