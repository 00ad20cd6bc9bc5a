//go:build !no_automation

package automation

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"greenbox-home/internal/device"
)

// fakeController records commands and exposes a real event bus so the
// engine's dispatch path runs end to end.
type fakeController struct {
	state  *device.State
	events *device.EventBus

	mu    sync.Mutex
	calls []string
}

func newFakeController() *fakeController {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fakeController{
		state:  device.NewState(0),
		events: device.NewEventBus(logger),
	}
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeController) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) State() *device.State     { return f.state }
func (f *fakeController) Events() *device.EventBus { return f.events }

func (f *fakeController) TurnLightOn(context.Context) error {
	f.record("light_on")
	return nil
}

func (f *fakeController) TurnLightOff(context.Context) error {
	f.record("light_off")
	return nil
}

func (f *fakeController) ToggleLight(context.Context) error {
	f.record("toggle")
	return nil
}

func (f *fakeController) SetLamp(_ context.Context, lampID, strength int) error {
	f.record("set_lamp")
	return nil
}

func (f *fakeController) SetWakeTimeUTC(_ context.Context, hours, minutes int) error {
	f.record("set_wake_time")
	return nil
}

func (f *fakeController) SetWakeTimeWeekendUTC(_ context.Context, hours, minutes int) error {
	f.record("set_wake_time_weekend")
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeController, *Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctrl := newFakeController()
	return NewEngine(ctrl, mgr, logger), ctrl, mgr
}

func writeScript(t *testing.T, mgr *Manager, id, code string, enabled bool) {
	t.Helper()
	_, err := mgr.Save(&Script{
		ID:      id,
		Meta:    ScriptMeta{Name: id, Enabled: enabled},
		LuaCode: code,
	})
	if err != nil {
		t.Fatalf("save script %s: %v", id, err)
	}
}

func waitForCalls(t *testing.T, ctrl *fakeController, want int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := ctrl.callNames(); len(calls) >= want {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never saw %d calls, got %v", want, ctrl.callNames())
	return nil
}

func TestEngineDispatchesStateUpdate(t *testing.T) {
	engine, ctrl, mgr := newTestEngine(t)

	writeScript(t, mgr, "low_water", `
greenbox.on("state_update", {property = "water_lvl"}, function(event)
  if event.value < 20 then
    greenbox.light_off()
  end
end)
`, true)

	engine.Start()
	defer engine.Stop()

	ctrl.events.Emit(device.Event{
		Type: device.EventStateUpdate,
		Data: map[string]interface{}{"property": "water_lvl", "value": 10},
	})

	calls := waitForCalls(t, ctrl, 1)
	if calls[0] != "light_off" {
		t.Errorf("call = %q, want light_off", calls[0])
	}
}

func TestEnginePropertyFilter(t *testing.T) {
	engine, ctrl, mgr := newTestEngine(t)

	writeScript(t, mgr, "filtered", `
greenbox.on("state_update", {property = "light_status"}, function(event)
  greenbox.toggle()
end)
`, true)

	engine.Start()
	defer engine.Stop()

	// Non-matching property must not fire the handler.
	ctrl.events.Emit(device.Event{
		Type: device.EventStateUpdate,
		Data: map[string]interface{}{"property": "water_lvl", "value": 50},
	})
	ctrl.events.Emit(device.Event{
		Type: device.EventStateUpdate,
		Data: map[string]interface{}{"property": "light_status", "value": 1},
	})

	calls := waitForCalls(t, ctrl, 1)
	if len(calls) != 1 || calls[0] != "toggle" {
		t.Errorf("calls = %v, want exactly [toggle]", calls)
	}
}

func TestEngineConnectionEvent(t *testing.T) {
	engine, ctrl, mgr := newTestEngine(t)

	writeScript(t, mgr, "reconnect", `
greenbox.on("connection", {}, function(event)
  if event.value == "connected" then
    greenbox.set_lamp(0, 80)
  end
end)
`, true)

	engine.Start()
	defer engine.Stop()

	ctrl.events.Emit(device.Event{Type: device.EventConnection, Data: "connected"})

	calls := waitForCalls(t, ctrl, 1)
	if calls[0] != "set_lamp" {
		t.Errorf("call = %q, want set_lamp", calls[0])
	}
}

func TestEngineSkipsDisabledScripts(t *testing.T) {
	engine, ctrl, mgr := newTestEngine(t)

	writeScript(t, mgr, "disabled", `
greenbox.on("state_update", {}, function(event)
  greenbox.light_on()
end)
`, false)

	engine.Start()
	defer engine.Stop()

	ctrl.events.Emit(device.Event{
		Type: device.EventStateUpdate,
		Data: map[string]interface{}{"property": "water_lvl", "value": 10},
	})

	time.Sleep(50 * time.Millisecond)
	if calls := ctrl.callNames(); len(calls) != 0 {
		t.Errorf("disabled script issued commands: %v", calls)
	}
}

func TestEngineStopAfterStop(t *testing.T) {
	engine, ctrl, mgr := newTestEngine(t)

	writeScript(t, mgr, "stopme", `
greenbox.on("state_update", {}, function(event)
  greenbox.light_on()
end)
`, true)

	engine.Start()
	engine.Stop()

	ctrl.events.Emit(device.Event{
		Type: device.EventStateUpdate,
		Data: map[string]interface{}{"property": "water_lvl", "value": 10},
	})

	time.Sleep(50 * time.Millisecond)
	if calls := ctrl.callNames(); len(calls) != 0 {
		t.Errorf("stopped engine issued commands: %v", calls)
	}
}

func TestEngineSandbox(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	for _, code := range []string{
		`os.execute("true")`,
		`io.open("/etc/passwd")`,
		`require("socket")`,
	} {
		res := engine.RunLuaCode(code)
		if res.OK {
			t.Errorf("sandboxed code %q ran successfully", code)
		}
	}
}

func TestRunLuaCodeCapturesLogs(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	res := engine.RunLuaCode(`
greenbox.log("first")
greenbox.on("state_update", {}, function(event)
  greenbox.log("handler ran")
end)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 2 || res.Logs[0] != "first" || res.Logs[1] != "handler ran" {
		t.Errorf("logs = %v, want [first, handler ran]", res.Logs)
	}
}

func TestRunLuaCodeReportsErrors(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	res := engine.RunLuaCode(`this is not lua`)
	if res.OK || res.Error == "" {
		t.Errorf("expected parse error, got %+v", res)
	}
}

func TestReloadScriptPicksUpChanges(t *testing.T) {
	engine, ctrl, mgr := newTestEngine(t)

	writeScript(t, mgr, "evolving", `
greenbox.on("state_update", {}, function(event)
  greenbox.light_on()
end)
`, true)

	engine.Start()
	defer engine.Stop()

	writeScript(t, mgr, "evolving", `
greenbox.on("state_update", {}, function(event)
  greenbox.light_off()
end)
`, true)
	if err := engine.ReloadScript("evolving"); err != nil {
		t.Fatalf("reload: %v", err)
	}

	ctrl.events.Emit(device.Event{
		Type: device.EventStateUpdate,
		Data: map[string]interface{}{"property": "water_lvl", "value": 10},
	})

	calls := waitForCalls(t, ctrl, 1)
	if calls[0] != "light_off" {
		t.Errorf("call = %q, want light_off after reload", calls[0])
	}
}

func TestManagerRoundTrip(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	saved, err := mgr.Save(&Script{
		Meta:    ScriptMeta{Name: "Night Light!", Enabled: true},
		LuaCode: `greenbox.log("hi")`,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID != "night_light" {
		t.Errorf("id = %q, want night_light", saved.ID)
	}

	got, err := mgr.Get("night_light")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Meta.Name != "Night Light!" || !got.Meta.Enabled {
		t.Errorf("meta = %+v", got.Meta)
	}
	if got.LuaCode != `greenbox.log("hi")` {
		t.Errorf("lua code = %q", got.LuaCode)
	}
}

func TestManagerRejectsPathTraversal(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	for _, id := range []string{"../escape", "a/b", "..", ""} {
		if _, err := mgr.Get(id); err == nil {
			t.Errorf("Get(%q) accepted a bad id", id)
		}
		if err := mgr.Delete(id); err == nil {
			t.Errorf("Delete(%q) accepted a bad id", id)
		}
	}
}

func TestManagerListSkipsNonLua(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeScript(t, mgr, "real", `greenbox.log("x")`, true)

	scripts, err := mgr.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(scripts) != 1 || scripts[0].ID != "real" {
		t.Errorf("scripts = %+v, want just 'real'", scripts)
	}
}
