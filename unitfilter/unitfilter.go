// Package unitfilter implements the Server Resource's unit-id gate: a
// 256-bit map plus a broadcast flag, consulted once per received PDU to
// decide whether a unit id is serviced on this port.
package unitfilter

import (
	"fmt"
	"strconv"
	"strings"
)

// MapSize is the unit map size in bytes, one bit per unit id (0..255).
const MapSize = 32

// Filter decides whether a unit id is serviced. The zero value accepts
// every unit and has broadcasting disabled, so unit 0 is not treated as
// broadcast; New returns a filter with broadcasting enabled.
type Filter struct {
	// unitmap is nil until the first SetUnitEnabled call. A nil map means
	// "accept all units".
	unitmap *[MapSize]byte

	// BroadcastEnabled gates whether unit 0 is accepted as a broadcast.
	BroadcastEnabled bool
}

// New returns a Filter with broadcasting enabled and no unit map installed
// (accept-all).
func New() *Filter {
	return &Filter{BroadcastEnabled: true}
}

// IsBroadcast reports whether unit is the broadcast unit and broadcasting
// is enabled on this filter.
func (f *Filter) IsBroadcast(unit uint8) bool {
	return unit == 0 && f.BroadcastEnabled
}

// IsAccepted reports whether a received PDU addressed to unit should be
// serviced: unit 0 with broadcasting enabled, or no map installed (accept
// all), or the corresponding bit set in the installed map.
func (f *Filter) IsAccepted(unit uint8) bool {
	if f.IsBroadcast(unit) {
		return true
	}
	if f.unitmap == nil {
		return true
	}
	return f.unitmap[unit/8]&(1<<(unit%8)) != 0
}

// SetUnitEnabled sets or clears the bit for unit. The 32-byte map is
// allocated lazily on the first call: before any call, IsAccepted accepts
// every unit.
func (f *Filter) SetUnitEnabled(unit uint8, enable bool) {
	if f.unitmap == nil {
		f.unitmap = &[MapSize]byte{}
	}
	if enable {
		f.unitmap[unit/8] |= 1 << (unit % 8)
	} else {
		f.unitmap[unit/8] &^= 1 << (unit % 8)
	}
}

// IsUnitEnabled reports whether unit's bit is set in the installed map.
// It does not consider broadcast; use IsAccepted for the dispatch decision.
func (f *Filter) IsUnitEnabled(unit uint8) bool {
	if f.unitmap == nil {
		return true
	}
	return f.unitmap[unit/8]&(1<<(unit%8)) != 0
}

// Map returns a copy of the installed 32-byte bitmap, or nil if none is
// installed.
func (f *Filter) Map() []byte {
	if f.unitmap == nil {
		return nil
	}
	out := make([]byte, MapSize)
	copy(out, f.unitmap[:])
	return out
}

// SetMap installs a copy of the given 32-byte bitmap. A nil or empty map
// reverts the filter to accept-all.
func (f *Filter) SetMap(m []byte) error {
	if len(m) == 0 {
		f.unitmap = nil
		return nil
	}
	if len(m) != MapSize {
		return fmt.Errorf("unit map must be %d bytes, got %d", MapSize, len(m))
	}
	var cp [MapSize]byte
	copy(cp[:], m)
	f.unitmap = &cp
	return nil
}

// String renders the enabled units as a comma-separated list of single
// numbers or a-b ranges, e.g. "1,3,5-8". It returns the empty string if no
// map is installed or no units are enabled.
func (f *Filter) String() string {
	if f.unitmap == nil {
		return ""
	}
	var parts []string
	start := -1
	for u := 0; u <= 255; u++ {
		enabled := f.unitmap[u/8]&(1<<(uint(u)%8)) != 0
		if enabled && start == -1 {
			start = u
		}
		if !enabled && start != -1 {
			parts = append(parts, formatRange(start, u-1))
			start = -1
		}
	}
	if start != -1 {
		parts = append(parts, formatRange(start, 255))
	}
	return strings.Join(parts, ",")
}

func formatRange(lo, hi int) string {
	if lo == hi {
		return strconv.Itoa(lo)
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

// ParseRanges parses a comma-separated list of "n" or "a-b" ranges into a
// new Filter with those units enabled. An empty string yields an accept-all
// filter with no map installed.
func ParseRanges(s string, broadcastEnabled bool) (*Filter, error) {
	f := &Filter{BroadcastEnabled: broadcastEnabled}
	s = strings.TrimSpace(s)
	if s == "" {
		return f, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parseRange(part)
		if err != nil {
			return nil, fmt.Errorf("unit range %q: %w", part, err)
		}
		for u := lo; u <= hi; u++ {
			f.SetUnitEnabled(uint8(u), true)
		}
	}
	return f, nil
}

func parseRange(part string) (lo, hi int, err error) {
	if idx := strings.IndexByte(part, '-'); idx >= 0 {
		lo, err = strconv.Atoi(strings.TrimSpace(part[:idx]))
		if err != nil {
			return 0, 0, err
		}
		hi, err = strconv.Atoi(strings.TrimSpace(part[idx+1:]))
		if err != nil {
			return 0, 0, err
		}
	} else {
		lo, err = strconv.Atoi(part)
		if err != nil {
			return 0, 0, err
		}
		hi = lo
	}
	if lo < 0 || hi > 255 || lo > hi {
		return 0, 0, fmt.Errorf("out of range [0,255]")
	}
	return lo, hi, nil
}
