package device

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"greenbox-home/internal/protocol"
	"greenbox-home/internal/transport"
)

// fakeTransport records lifecycle calls and written frames, and lets
// tests inject notifications through the registered callback.
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	notify     transport.NotifyFunc
	writes     [][]byte
	connectErr error
	notifyErr  error
	writeErr   error
	stops      int
}

func (f *fakeTransport) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) StartNotify(_ string, fn transport.NotifyFunc) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.mu.Lock()
	f.notify = fn
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) StopNotify(string) error {
	f.mu.Lock()
	f.notify = nil
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) WriteNoResponse(_ context.Context, _ string, data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) push(data []byte) {
	f.mu.Lock()
	fn := f.notify
	f.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (f *fakeTransport) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	s := NewSession(tr, Config{}, testLogger())
	return s, tr
}

func startTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	s, tr := newTestSession(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s, tr
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSessionStartConnectError(t *testing.T) {
	s, tr := newTestSession(t)
	tr.connectErr = errors.New("adapter off")
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() = nil, want connect error")
	}
}

func TestSessionStartNotifyErrorDisconnects(t *testing.T) {
	s, tr := newTestSession(t)
	tr.notifyErr = errors.New("no such characteristic")
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() = nil, want subscribe error")
	}
	if tr.connected {
		t.Error("transport left connected after failed subscribe")
	}
}

func TestSessionPipelineAppliesFrames(t *testing.T) {
	s, tr := startTestSession(t)

	tr.push(protocol.Encode(70, protocol.IDWater))
	tr.push(protocol.Encode(630, protocol.IDWakeTime))

	waitFor(t, func() bool { return s.State().Snapshot().WaterLvl == 70 })
	snap := s.State().Snapshot()
	if snap.WakeHoursUTC != 6 || snap.WakeMinutesUTC != 30 {
		t.Errorf("wake = %02d:%02d, want 06:30", snap.WakeHoursUTC, snap.WakeMinutesUTC)
	}
	if s.Diag().Len() != 2 {
		t.Errorf("diag entries = %d, want 2", s.Diag().Len())
	}
}

func TestSessionFIFOOrder(t *testing.T) {
	s, tr := startTestSession(t)

	var mu sync.Mutex
	var seen []uint16
	unsub := s.Events().On(EventStateUpdate, func(e Event) {
		data := e.Data.(map[string]interface{})
		if data["property"] == "water_lvl" {
			mu.Lock()
			seen = append(seen, data["value"].(uint16))
			mu.Unlock()
		}
	})
	defer unsub()

	// Enqueue faster than the consumer can possibly drain; order must
	// still be strict arrival order.
	want := make([]uint16, 0, 50)
	for i := 0; i < 50; i++ {
		v := uint16(i)
		want = append(want, v)
		tr.push(protocol.Encode(v, protocol.IDWater))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range want {
		if seen[i] != v {
			t.Fatalf("apply order broken at %d: got %d, want %d", i, seen[i], v)
		}
	}
}

func TestSessionStopIsGraceful(t *testing.T) {
	s, tr := newTestSession(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	tr.push(protocol.Encode(42, protocol.IDWater))
	waitFor(t, func() bool { return s.State().Snapshot().WaterLvl == 42 })

	s.Stop()
	if tr.connected {
		t.Error("transport still connected after Stop")
	}
	if tr.stops != 1 {
		t.Errorf("StopNotify calls = %d, want 1", tr.stops)
	}
	// State keeps its last applied value.
	if s.State().Snapshot().WaterLvl != 42 {
		t.Error("state lost after Stop")
	}
	// Second Stop is a no-op.
	s.Stop()
	if tr.stops != 1 {
		t.Errorf("StopNotify calls after double Stop = %d, want 1", tr.stops)
	}
}

func TestSessionUnsupportedFrameTouchesState(t *testing.T) {
	s, tr := startTestSession(t)
	before := s.State().LastUpdate()

	time.Sleep(5 * time.Millisecond)
	tr.push([]byte{0xEE, 1, 2, 3, 4, 5, 6, 7, 8}) // 9 bytes: unsupported

	waitFor(t, func() bool { return s.Diag().Len() == 1 })
	if !s.State().LastUpdate().After(before) {
		t.Error("unsupported frame did not refresh last_update")
	}
	snap := s.State().Snapshot()
	if snap.WaterLvl != 0 || snap.LightStatus != 0 {
		t.Error("unsupported frame mutated named state")
	}
}

func TestSessionDropsWhenQueueFull(t *testing.T) {
	// Unstarted session: nothing drains notifyCh.
	s, _ := newTestSession(t)
	for i := 0; i < notifyQueueSize+10; i++ {
		s.enqueue(protocol.Encode(uint16(i), protocol.IDWater))
	}
	if got := s.Dropped(); got != 10 {
		t.Errorf("Dropped() = %d, want 10", got)
	}
}

func TestCommandClamping(t *testing.T) {
	tests := []struct {
		name string
		send func(s *Session) error
		want []byte
	}{
		{"lamp above range", func(s *Session) error {
			return s.SetLamp(context.Background(), 1, 150)
		}, protocol.Encode(100, protocol.IDLamp1)},
		{"lamp below range", func(s *Session) error {
			return s.SetLamp(context.Background(), 0, -5)
		}, protocol.Encode(0, protocol.IDLamp0)},
		{"wake time saturates", func(s *Session) error {
			return s.SetWakeTimeUTC(context.Background(), 99, -3)
		}, protocol.Encode(2400, protocol.IDWakeTime)},
		{"weekend wake time", func(s *Session) error {
			return s.SetWakeTimeWeekendUTC(context.Background(), 7, 45)
		}, protocol.Encode(745, protocol.IDWakeTimeWeekend)},
		{"light on", func(s *Session) error {
			return s.TurnLightOn(context.Background())
		}, protocol.Encode(1, protocol.IDLight)},
		{"light off", func(s *Session) error {
			return s.TurnLightOff(context.Background())
		}, protocol.Encode(0, protocol.IDLight)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, tr := newTestSession(t)
			if err := tt.send(s); err != nil {
				t.Fatal(err)
			}
			writes := tr.written()
			if len(writes) != 1 {
				t.Fatalf("writes = %d, want 1", len(writes))
			}
			if !bytes.Equal(writes[0], tt.want) {
				t.Errorf("frame = % X, want % X", writes[0], tt.want)
			}
		})
	}
}

func TestSetLampInvalidID(t *testing.T) {
	s, tr := newTestSession(t)
	if err := s.SetLamp(context.Background(), 3, 50); err == nil {
		t.Fatal("SetLamp(3) = nil, want error")
	}
	if err := s.SetLamp(context.Background(), -1, 50); err == nil {
		t.Fatal("SetLamp(-1) = nil, want error")
	}
	if len(tr.written()) != 0 {
		t.Error("invalid lamp id reached the transport")
	}
}

func TestToggleLight(t *testing.T) {
	s, tr := newTestSession(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.state.now = func() time.Time { return now }
	s.state.lastUpdate = now

	// Light reported on: toggle sends off.
	s.state.Apply(protocol.IDLight, 1)
	if err := s.ToggleLight(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Light reported off: toggle sends on.
	s.state.Apply(protocol.IDLight, 0)
	if err := s.ToggleLight(context.Background()); err != nil {
		t.Fatal(err)
	}

	writes := tr.written()
	if len(writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(writes))
	}
	if !bytes.Equal(writes[0], protocol.Encode(0, protocol.IDLight)) {
		t.Errorf("first toggle = % X, want light off", writes[0])
	}
	if !bytes.Equal(writes[1], protocol.Encode(1, protocol.IDLight)) {
		t.Errorf("second toggle = % X, want light on", writes[1])
	}
}

func TestWriteErrorPropagates(t *testing.T) {
	s, tr := newTestSession(t)
	tr.writeErr = errors.New("gatt failure")
	if err := s.TurnLightOn(context.Background()); err == nil {
		t.Fatal("TurnLightOn() = nil, want write error")
	}
}
