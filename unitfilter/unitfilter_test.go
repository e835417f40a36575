package unitfilter

import "testing"

func TestAcceptAllWhenNoMap(t *testing.T) {
	f := New()
	for u := 0; u <= 255; u++ {
		if !f.IsAccepted(uint8(u)) {
			t.Fatalf("unit %d not accepted with nil map", u)
		}
	}
}

func TestBroadcastDisabled(t *testing.T) {
	f := New()
	f.BroadcastEnabled = false
	f.SetUnitEnabled(1, true)
	if f.IsAccepted(0) {
		t.Fatal("unit 0 accepted with broadcast disabled and a map installed")
	}
	if !f.IsAccepted(1) {
		t.Fatal("unit 1 not accepted")
	}
}

func TestSetUnitEnabledLazyAllocates(t *testing.T) {
	f := New()
	if !f.IsAccepted(5) {
		t.Fatal("unit 5 should be accepted before any SetUnitEnabled call")
	}
	f.SetUnitEnabled(5, true)
	if !f.IsAccepted(5) {
		t.Fatal("unit 5 should be accepted after enabling")
	}
	if f.IsAccepted(6) {
		t.Fatal("unit 6 should not be accepted once a map is installed")
	}
}

func TestStringRoundTrip(t *testing.T) {
	f, err := ParseRanges("1,3,5-8", true)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.String(); got != "1,3,5-8" {
		t.Fatalf("String() = %q, want %q", got, "1,3,5-8")
	}
	for _, u := range []uint8{1, 3, 5, 6, 7, 8} {
		if !f.IsAccepted(u) {
			t.Fatalf("unit %d should be accepted", u)
		}
	}
	for _, u := range []uint8{2, 4, 9} {
		if f.IsAccepted(u) {
			t.Fatalf("unit %d should not be accepted", u)
		}
	}
}

func TestSetMapCopiesOnInstall(t *testing.T) {
	f := New()
	f.BroadcastEnabled = false
	buf := make([]byte, MapSize)
	buf[0] = 0x02 // bit 1 => unit 1
	if err := f.SetMap(buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 0xFF // mutate caller's buffer after install
	if !f.IsAccepted(1) {
		t.Fatal("unit 1 should remain accepted")
	}
	if f.IsAccepted(2) {
		t.Fatal("filter observed mutation of caller's buffer after SetMap")
	}
}
