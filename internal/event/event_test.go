package event

import "testing"

func TestKind_String(t *testing.T) {
	tests := []struct {
		k    Kind
		want string
	}{
		{KindInput, "input"},
		{KindOutput, "output"},
		{KindFeature, "feature"},
		{KindFixup, "fixup"},
		{KindLifecycle, "lifecycle"},
		{KindUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}

func TestVerdict_String(t *testing.T) {
	tests := []struct {
		v    Verdict
		want string
	}{
		{VerdictDelivered, "delivered"},
		{VerdictAborted, "aborted"},
		{VerdictOverflow, "overflow"},
		{VerdictUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Verdict(%d).String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestAcquire_Release(t *testing.T) {
	e := Acquire()
	if e == nil {
		t.Fatal("Acquire() returned nil")
	}
	e.Kind = KindInput
	e.DeviceID = 7
	e.AbortCode = -5
	e.SetLabel("program", "noop")
	e.SetNumeric("dispatch_ns", 1200)

	if e.Label("program") != "noop" {
		t.Error("Label not set")
	}
	if e.NumericVal("dispatch_ns") != 1200 {
		t.Error("Numeric not set")
	}

	e.Release()

	// After release, re-acquire should give a clean event
	e2 := Acquire()
	if e2.Kind != KindUnknown || e2.DeviceID != 0 || e2.AbortCode != 0 {
		t.Error("pool event not cleared")
	}
	if len(e2.Labels) != 0 || len(e2.Numeric) != 0 {
		t.Error("maps not cleared")
	}
	e2.Release()
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Close()

	ch := bus.Subscribe("test")

	e := Acquire()
	e.Kind = KindInput
	e.DeviceID = 42
	bus.Publish(e)

	received := <-ch
	if received.Kind != KindInput {
		t.Errorf("got kind %v, want KindInput", received.Kind)
	}
	if received.DeviceID != 42 {
		t.Errorf("got device %d, want 42", received.DeviceID)
	}
}

func TestBus_DropOnOverflow(t *testing.T) {
	bus := NewBus(2, nil) // tiny buffer
	defer bus.Close()

	bus.Subscribe("slow")

	for i := 0; i < 10; i++ {
		e := Acquire()
		e.DeviceID = uint32(i)
		bus.Publish(e)
	}

	stats := bus.Stats()
	if stats.Published != 10 {
		t.Errorf("published = %d, want 10", stats.Published)
	}
	if dropped := stats.DroppedBySubscriber["slow"]; dropped != 8 {
		t.Errorf("dropped = %d, want 8", dropped)
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Close()

	ch1 := bus.Subscribe("sub1")
	ch2 := bus.Subscribe("sub2")

	e := Acquire()
	e.Kind = KindFixup
	bus.Publish(e)

	r1 := <-ch1
	r2 := <-ch2
	if r1.Kind != KindFixup || r2.Kind != KindFixup {
		t.Error("both subscribers should receive the event")
	}
}

func BenchmarkBus_Publish(b *testing.B) {
	bus := NewBus(8192, nil)
	defer bus.Close()
	bus.Subscribe("bench")

	e := Acquire()
	e.Kind = KindInput
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(e)
	}
}
