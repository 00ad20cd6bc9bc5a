package device

import "testing"

func TestEventBusOnType(t *testing.T) {
	eb := NewEventBus(testLogger())

	var got []string
	unsub := eb.On(EventStateUpdate, func(e Event) {
		got = append(got, e.Type)
	})

	eb.Emit(Event{Type: EventStateUpdate})
	eb.Emit(Event{Type: EventFrame})
	if len(got) != 1 {
		t.Fatalf("handler called %d times, want 1", len(got))
	}

	unsub()
	eb.Emit(Event{Type: EventStateUpdate})
	if len(got) != 1 {
		t.Error("handler called after unsubscribe")
	}
}

func TestEventBusOnAll(t *testing.T) {
	eb := NewEventBus(testLogger())

	count := 0
	unsub := eb.OnAll(func(Event) { count++ })
	defer unsub()

	eb.Emit(Event{Type: EventStateUpdate})
	eb.Emit(Event{Type: EventFrame})
	eb.Emit(Event{Type: EventConnection})
	if count != 3 {
		t.Errorf("handler called %d times, want 3", count)
	}
}

func TestEventBusRecoversPanic(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.OnAll(func(Event) { panic("bad subscriber") })
	called := false
	eb.OnAll(func(Event) { called = true })

	eb.Emit(Event{Type: EventFrame}) // must not panic
	if !called {
		t.Error("panicking handler blocked later handlers")
	}
}
