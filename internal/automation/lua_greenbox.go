//go:build !no_automation

package automation

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// commandTimeout bounds every device write issued from Lua.
const commandTimeout = 5 * time.Second

// registerGreenboxModule registers the `greenbox` global table in a
// Lua state.
func registerGreenboxModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return greenboxOn(L, vm)
	}))

	mod.RawSetString("light_on", L.NewFunction(func(L *lua.LState) int {
		e.runCommand("light_on", func(ctx context.Context) error {
			return e.ctrl.TurnLightOn(ctx)
		})
		return 0
	}))

	mod.RawSetString("light_off", L.NewFunction(func(L *lua.LState) int {
		e.runCommand("light_off", func(ctx context.Context) error {
			return e.ctrl.TurnLightOff(ctx)
		})
		return 0
	}))

	mod.RawSetString("toggle", L.NewFunction(func(L *lua.LState) int {
		e.runCommand("toggle", func(ctx context.Context) error {
			return e.ctrl.ToggleLight(ctx)
		})
		return 0
	}))

	mod.RawSetString("set_lamp", L.NewFunction(func(L *lua.LState) int {
		return greenboxSetLamp(L, e)
	}))

	mod.RawSetString("set_wake_time", L.NewFunction(func(L *lua.LState) int {
		return greenboxSetWakeTime(L, e, false)
	}))

	mod.RawSetString("set_wake_time_weekend", L.NewFunction(func(L *lua.LState) int {
		return greenboxSetWakeTime(L, e, true)
	}))

	mod.RawSetString("state", L.NewFunction(func(L *lua.LState) int {
		return greenboxState(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return greenboxAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		e.logger.Info("script log", "msg", msg)
		return 0
	}))

	L.SetGlobal("greenbox", mod)
}

const maxHandlersPerScript = 100

// greenbox.on(type, filter, callback)
func greenboxOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("property"); v != lua.LNil {
		h.property = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// greenbox.set_lamp(lamp_id, strength)
func greenboxSetLamp(L *lua.LState, e *Engine) int {
	lampID := L.CheckInt(1)
	strength := L.CheckInt(2)

	e.runCommand("set_lamp", func(ctx context.Context) error {
		return e.ctrl.SetLamp(ctx, lampID, strength)
	})
	return 0
}

// greenbox.set_wake_time(hours, minutes) /
// greenbox.set_wake_time_weekend(hours, minutes)
func greenboxSetWakeTime(L *lua.LState, e *Engine, weekend bool) int {
	hours := L.CheckInt(1)
	minutes := L.CheckInt(2)

	name := "set_wake_time"
	if weekend {
		name = "set_wake_time_weekend"
	}
	e.runCommand(name, func(ctx context.Context) error {
		if weekend {
			return e.ctrl.SetWakeTimeWeekendUTC(ctx, hours, minutes)
		}
		return e.ctrl.SetWakeTimeUTC(ctx, hours, minutes)
	})
	return 0
}

// greenbox.state() — current device snapshot as a table.
func greenboxState(L *lua.LState, e *Engine) int {
	snap := e.ctrl.State().Snapshot()

	t := L.NewTable()
	t.RawSetString("wake_hours_utc", lua.LNumber(snap.WakeHoursUTC))
	t.RawSetString("wake_minutes_utc", lua.LNumber(snap.WakeMinutesUTC))
	t.RawSetString("hours_on", lua.LNumber(snap.HoursOn))
	t.RawSetString("wake_hours_weekend_utc", lua.LNumber(snap.WakeHoursWeekendUTC))
	t.RawSetString("wake_minutes_weekend_utc", lua.LNumber(snap.WakeMinutesWeekendUTC))
	t.RawSetString("hours_on_weekend", lua.LNumber(snap.HoursOnWeekend))
	t.RawSetString("weekend_enabled", lua.LBool(snap.WeekendEnabled))
	t.RawSetString("light_status", lua.LNumber(snap.LightStatus))
	t.RawSetString("light_on", lua.LNumber(snap.LightOn))
	t.RawSetString("water_lvl", lua.LNumber(snap.WaterLvl))
	t.RawSetString("fresh", lua.LBool(snap.Fresh))

	lamps := L.NewTable()
	for i, lvl := range snap.LampLvl {
		lamps.RawSetInt(i+1, lua.LNumber(lvl))
	}
	t.RawSetString("lamp_lvl", lamps)

	L.Push(t)
	return 1
}

// greenbox.after(seconds, callback) — delayed execution on the VM's
// own goroutine.
func greenboxAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// runCommand issues a device write with a bounded timeout. Lua never
// sees the error; the appliance gives no feedback either way.
func (e *Engine) runCommand(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		e.logger.Error("script command", "cmd", name, "err", err)
	}
}
