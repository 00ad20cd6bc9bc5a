// Package device holds the single authoritative record of GreenBox
// appliance state and the session that keeps it current over the
// wireless transport.
package device

import (
	"sync"
	"time"

	"greenbox-home/internal/protocol"
)

// DefaultStaleTimeout is how long the state stays trustworthy without a
// notification from the appliance.
const DefaultStaleTimeout = 20 * time.Second

// LightMode is the computed on/off state of the grow light.
type LightMode int

const (
	LightUnknown LightMode = -1
	LightOff     LightMode = 0
	LightOn      LightMode = 1
)

// String implements fmt.Stringer for log output and MQTT payloads.
func (m LightMode) String() string {
	switch m {
	case LightOn:
		return "on"
	case LightOff:
		return "off"
	default:
		return "unknown"
	}
}

// lightFollowSchedule is the status code the appliance reports when it
// has been following its programmed schedule; 0 and 1 mean plain
// off/on.
const lightFollowSchedule = 3

// State is the device state record. All fields are written only by
// Apply (or Touch) from the session's single consumer goroutine; reads
// take the read lock so snapshots are consistent.
type State struct {
	mu sync.RWMutex

	wakeHoursUTC          uint8
	wakeMinutesUTC        uint8
	hoursOn               uint8
	wakeHoursWeekendUTC   uint8
	wakeMinutesWeekendUTC uint8
	hoursOnWeekend        uint8
	weekendEnabled        bool
	lightStatus           uint16
	lampLvl               [3]uint8
	waterLvl              uint8
	lastUpdate            time.Time

	staleAfter time.Duration
	now        func() time.Time // swapped out in tests
}

// Snapshot is the explicit read-only view of State handed to
// collaborators (MQTT bridge, web handlers, Lua scripts).
type Snapshot struct {
	WakeHoursUTC          uint8     `json:"wake_hours_utc"`
	WakeMinutesUTC        uint8     `json:"wake_minutes_utc"`
	HoursOn               uint8     `json:"hours_on"`
	WakeHoursWeekendUTC   uint8     `json:"wake_hours_weekend_utc"`
	WakeMinutesWeekendUTC uint8     `json:"wake_minutes_weekend_utc"`
	HoursOnWeekend        uint8     `json:"hours_on_weekend"`
	WeekendEnabled        bool      `json:"weekend_enabled"`
	LightStatus           uint16    `json:"light_status"`
	LightOn               LightMode `json:"light_on"`
	LampLvl               [3]uint8  `json:"lamp_lvl"`
	WaterLvl              uint8     `json:"water_lvl"`
	LastUpdate            time.Time `json:"last_update"`
	Fresh                 bool      `json:"fresh"`
}

// NewState creates a device state record. staleAfter <= 0 selects
// DefaultStaleTimeout.
func NewState(staleAfter time.Duration) *State {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleTimeout
	}
	return &State{
		staleAfter: staleAfter,
		now:        time.Now,
		lastUpdate: time.Now(),
	}
}

// Apply dispatches a decoded notification value onto the state record.
// It returns the snapshot property name that changed, or "" when the
// control ID is not in the known table. lastUpdate is refreshed either
// way: any decodable traffic proves the appliance is alive.
func (s *State) Apply(controlID uint8, value uint16) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdate = s.now()

	switch controlID {
	case protocol.IDWakeTime:
		// Combined HHMM integer, not a time encoding: 630 -> 06:30.
		s.wakeHoursUTC = uint8(value / 100)
		s.wakeMinutesUTC = uint8(value % 100)
		return "wake_time"
	case protocol.IDWakeHours:
		s.hoursOn = uint8(value)
		return "hours_on"
	case protocol.IDWakeTimeWeekend:
		s.wakeHoursWeekendUTC = uint8(value / 100)
		s.wakeMinutesWeekendUTC = uint8(value % 100)
		return "wake_time_weekend"
	case protocol.IDWakeHoursWeekend:
		s.weekendEnabled = value > 0
		s.hoursOnWeekend = uint8(value)
		return "hours_on_weekend"
	case protocol.IDWater:
		s.waterLvl = uint8(value)
		return "water_lvl"
	case protocol.IDLight:
		s.lightStatus = value
		return "light_status"
	case protocol.IDLamp0, protocol.IDLamp1, protocol.IDLamp2:
		s.lampLvl[controlID-protocol.IDLamp0] = uint8(value)
		return "lamp_lvl"
	}
	return ""
}

// Touch refreshes lastUpdate without changing any named field. Used for
// frames that decode as Empty or Unsupported.
func (s *State) Touch() {
	s.mu.Lock()
	s.lastUpdate = s.now()
	s.mu.Unlock()
}

// Fresh reports whether a notification arrived within the staleness
// window. This is a protocol-level liveness signal, independent of the
// transport's own connected flag.
func (s *State) Fresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freshLocked(s.now())
}

func (s *State) freshLocked(now time.Time) bool {
	return now.Sub(s.lastUpdate) <= s.staleAfter
}

// LightOn computes the tri-state light signal. It is never stored; the
// raw status code is, and the on/off window is reconstructed on read.
func (s *State) LightOn() LightMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lightOnLocked(s.now())
}

// lightOnLocked implements the schedule-following quirk: status 3 does
// not mean on or off, it means "I followed my program", so the active
// window has to be recomputed from wake time and duration.
func (s *State) lightOnLocked(now time.Time) LightMode {
	if !s.freshLocked(now) {
		return LightUnknown
	}
	if s.lightStatus != lightFollowSchedule {
		if s.lightStatus == 1 {
			return LightOn
		}
		return LightOff
	}

	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(),
		int(s.wakeHoursUTC), int(s.wakeMinutesUTC), 0, 0, time.UTC)
	if start.After(now) {
		// The reported window may have opened yesterday relative to
		// UTC midnight.
		start = start.AddDate(0, 0, -1)
	}
	end := start.Add(time.Duration(s.hoursOn) * time.Hour)
	if !start.After(now) && now.Before(end) {
		return LightOn
	}
	return LightOff
}

// LastUpdate returns the timestamp of the most recent applied
// notification.
func (s *State) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Snapshot returns a consistent copy of all named fields plus the
// computed light signal and freshness.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	return Snapshot{
		WakeHoursUTC:          s.wakeHoursUTC,
		WakeMinutesUTC:        s.wakeMinutesUTC,
		HoursOn:               s.hoursOn,
		WakeHoursWeekendUTC:   s.wakeHoursWeekendUTC,
		WakeMinutesWeekendUTC: s.wakeMinutesWeekendUTC,
		HoursOnWeekend:        s.hoursOnWeekend,
		WeekendEnabled:        s.weekendEnabled,
		LightStatus:           s.lightStatus,
		LightOn:               s.lightOnLocked(now),
		LampLvl:               s.lampLvl,
		WaterLvl:              s.waterLvl,
		LastUpdate:            s.lastUpdate,
		Fresh:                 s.freshLocked(now),
	}
}
