package statuscode

import "testing"

func TestBands(t *testing.T) {
	cases := []struct {
		name                         string
		s                            StatusCode
		good, processing, bad        bool
	}{
		{"uncertain", StatusUncertain, true, false, false},
		{"good", StatusGood, true, false, false},
		{"processing", StatusProcessing, false, true, false},
		{"bad", StatusBad, false, false, true},
		{"exception", StatusBadIllegalDataAddress, false, false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.s.IsGood(); got != c.good {
				t.Errorf("IsGood() = %v, want %v", got, c.good)
			}
			if got := c.s.IsProcessing(); got != c.processing {
				t.Errorf("IsProcessing() = %v, want %v", got, c.processing)
			}
			if got := c.s.IsBad(); got != c.bad {
				t.Errorf("IsBad() = %v, want %v", got, c.bad)
			}
		})
	}
}

func TestExceptionBijection(t *testing.T) {
	known := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x08, 0x0A, 0x0B}
	for _, code := range known {
		s := ExceptionToStatus(code)
		if !s.IsBad() {
			t.Fatalf("ExceptionToStatus(%#x) not bad", code)
		}
		got, ok := StatusToException(s)
		if !ok {
			t.Fatalf("StatusToException(%v) ok=false", s)
		}
		if got != code {
			t.Errorf("round trip exception %#x => %#x", code, got)
		}
	}
}

func TestErrorInterface(t *testing.T) {
	var err error = StatusBadIllegalDataAddress
	if err.Error() == "" {
		t.Fatal("empty error string")
	}
}
