package device

import (
	"context"
	"fmt"

	"greenbox-home/internal/protocol"
)

// Command channel: every operation clamps its inputs, encodes one
// frame, and pushes it through the session write lock. Out-of-range
// numbers saturate to the nearest bound instead of failing; the device
// itself silently ignores frames it dislikes, so rejecting here would
// only add a failure mode the appliance does not have.

// clamp limits v to [min, max].
func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// SetLamp sets one of the three lamps to a strength in [0,100].
// The lamp ID addresses hardware; an unknown one is an error, not a
// clamp.
func (s *Session) SetLamp(ctx context.Context, lampID, strength int) error {
	if lampID < 0 || lampID >= len(protocol.LampIDs) {
		return fmt.Errorf("lamp id %d out of range 0-%d", lampID, len(protocol.LampIDs)-1)
	}
	v := uint16(clamp(strength, 0, 100))
	return s.write(ctx, protocol.Encode(v, protocol.LampIDs[lampID]))
}

// TurnLightOn switches the grow light on.
func (s *Session) TurnLightOn(ctx context.Context) error {
	return s.write(ctx, protocol.Encode(1, protocol.IDLight))
}

// TurnLightOff switches the grow light off.
func (s *Session) TurnLightOff(ctx context.Context) error {
	return s.write(ctx, protocol.Encode(0, protocol.IDLight))
}

// ToggleLight inverts the computed light state. An unknown state
// toggles to on.
func (s *Session) ToggleLight(ctx context.Context) error {
	if s.state.LightOn() == LightOn {
		return s.TurnLightOff(ctx)
	}
	return s.TurnLightOn(ctx)
}

// SetWakeTimeUTC programs the weekday wake time. The device wants the
// combined HHMM integer, so 6:30 goes over the wire as 630.
func (s *Session) SetWakeTimeUTC(ctx context.Context, hours, minutes int) error {
	h := clamp(hours, 0, 24)
	m := clamp(minutes, 0, 60)
	return s.write(ctx, protocol.Encode(uint16(h*100+m), protocol.IDWakeTime))
}

// SetWakeTimeWeekendUTC programs the weekend wake time.
func (s *Session) SetWakeTimeWeekendUTC(ctx context.Context, hours, minutes int) error {
	h := clamp(hours, 0, 24)
	m := clamp(minutes, 0, 60)
	return s.write(ctx, protocol.Encode(uint16(h*100+m), protocol.IDWakeTimeWeekend))
}
