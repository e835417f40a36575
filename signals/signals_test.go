package signals

import "testing"

func TestSubscribeEmitUnsubscribe(t *testing.T) {
	var bus Bus[func(n int)]
	var got []int
	sub := bus.Subscribe(func(n int) { got = append(got, n) })
	bus.Emit(func(h func(int)) { h(1) })
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1]", got)
	}
	bus.Unsubscribe(sub)
	bus.Emit(func(h func(int)) { h(2) })
	if len(got) != 1 {
		t.Fatalf("handler fired after unsubscribe: %v", got)
	}
}

func TestMultipleHandlers(t *testing.T) {
	var bus Bus[func()]
	n := 0
	bus.Subscribe(func() { n++ })
	bus.Subscribe(func() { n++ })
	bus.Emit(func(h func()) { h() })
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if bus.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", bus.Len())
	}
}
