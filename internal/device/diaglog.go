package device

import (
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"greenbox-home/internal/protocol"
)

// DiagEntry is one distinct raw frame observed on the notify
// characteristic, with the decode it produced at first sight.
type DiagEntry struct {
	Raw       []byte    `json:"-"`
	Hex       string    `json:"raw"`
	ControlID uint8     `json:"control_id"`
	Value     uint16    `json:"value"`
	Known     bool      `json:"known"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// DiagLog keeps every distinct raw frame ever received in this session,
// keyed by exact byte sequence. It is observational only: nothing in the
// control path reads it. In-memory, discarded with the session.
type DiagLog struct {
	mu      sync.Mutex
	entries map[string]*DiagEntry
}

// NewDiagLog creates an empty diagnostic log.
func NewDiagLog() *DiagLog {
	return &DiagLog{entries: make(map[string]*DiagEntry)}
}

// Record notes a raw frame and its decode. A repeat of an identical byte
// sequence refreshes LastSeen on the existing entry; FirstSeen and the
// stored decode are never re-derived.
func (d *DiagLog) Record(raw []byte, res protocol.Result, at time.Time) {
	key := hex.EncodeToString(raw)

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok {
		e.LastSeen = at
		return
	}
	d.entries[key] = &DiagEntry{
		Raw:       append([]byte(nil), raw...),
		Hex:       key,
		ControlID: res.ControlID,
		Value:     res.Value,
		Known:     knownControlID(res.ControlID),
		FirstSeen: at,
		LastSeen:  at,
	}
}

// Entries returns a copy of all entries ordered by first sighting.
func (d *DiagLog) Entries() []DiagEntry {
	d.mu.Lock()
	out := make([]DiagEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].Hex < out[j].Hex
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}

// Len returns the number of distinct frames seen.
func (d *DiagLog) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func knownControlID(id uint8) bool {
	switch id {
	case protocol.IDWakeTime, protocol.IDWakeHours,
		protocol.IDWakeTimeWeekend, protocol.IDWakeHoursWeekend,
		protocol.IDWater, protocol.IDLight,
		protocol.IDLamp0, protocol.IDLamp1, protocol.IDLamp2:
		return true
	}
	return false
}
