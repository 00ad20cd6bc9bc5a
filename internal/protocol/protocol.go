// Package protocol implements the GreenBox binary frame codec.
//
// The appliance speaks a fixed-layout frame over a single GATT
// characteristic: [0xEE, control_id, value_high, value_low, checksum, 0xEF].
// Commands are always 6 bytes; notifications arrive as 4-7 bytes and may
// omit the trailing end byte depending on firmware. Only bytes [1..4)
// carry meaning.
package protocol

// Frame delimiters and checksum base. The checksum is not a CRC: the
// device accepts a frame iff (base - (id + hi + lo)) mod 256 matches.
const (
	StartByte    = 0xEE
	EndByte      = 0xEF
	checksumBase = 256

	// FrameLen is the exact length of a command frame on the wire.
	FrameLen = 6

	// MaxNotifyLen is the longest notification we know how to read.
	// Longer frames exist in the wild but their layout is undocumented,
	// so they are passed through as Unsupported.
	MaxNotifyLen = 7

	// minNotifyLen is the shortest notification that still carries a
	// control ID and value.
	minNotifyLen = 4
)

// Control IDs assigned by the vendor. Values outside this table are
// ignored by the state interpreter but kept in the diagnostic log.
const (
	IDWakeTime         = 0x03 // HHMM-combined wake time, weekdays
	IDWakeHours        = 0x04 // hours the light stays on, weekdays
	IDWakeTimeWeekend  = 0x05 // HHMM-combined wake time, weekends
	IDWakeHoursWeekend = 0x06 // hours on, weekends; 0 disables the weekend schedule
	IDLight            = 0x07 // 0=off, 1=on, 3=following schedule
	IDLamp0            = 0x08
	IDLamp1            = 0x09
	IDLamp2            = 0x0A
	IDWater            = 0x0C // water level 0-100
)

// LampIDs maps lamp position (0-2) to its control ID.
var LampIDs = [3]uint8{IDLamp0, IDLamp1, IDLamp2}

// CharacteristicUUID is the vendor characteristic used for both
// write-without-response and notify.
const CharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"

// ResultKind classifies a decoded notification.
type ResultKind int

const (
	// Parsed means ControlID and Value are valid.
	Parsed ResultKind = iota
	// Empty means the frame was too short to carry a value; it decodes
	// as control ID 0, value 0.
	Empty
	// Unsupported means the frame exceeds the known format. Raw holds
	// the original bytes, ControlID and Value are zero.
	Unsupported
)

// Result is the outcome of decoding one notification. Decoding never
// fails; malformed input degrades to Empty or Unsupported.
type Result struct {
	Kind      ResultKind
	ControlID uint8
	Value     uint16
	Raw       []byte
}

// Checksum computes the device checksum over the three payload bytes.
func Checksum(controlID, valueHigh, valueLow uint8) uint8 {
	sum := int(controlID) + int(valueHigh) + int(valueLow)
	return uint8(((checksumBase - sum) % 256 + 256) % 256)
}

// Encode builds a 6-byte command frame for the given control ID and
// 16-bit value. It cannot fail; values wider than 16 bits are truncated
// by the parameter type.
func Encode(value uint16, controlID uint8) []byte {
	hi := uint8(value >> 8)
	lo := uint8(value & 0xFF)
	return []byte{StartByte, controlID, hi, lo, Checksum(controlID, hi, lo), EndByte}
}

// Decode parses a notification frame. The input slice is not retained
// except in the Unsupported case, where Raw aliases it.
func Decode(data []byte) Result {
	if len(data) > MaxNotifyLen {
		return Result{Kind: Unsupported, Raw: data}
	}
	if len(data) < minNotifyLen {
		return Result{Kind: Empty}
	}
	return Result{
		Kind:      Parsed,
		ControlID: data[1],
		Value:     uint16(data[2])<<8 | uint16(data[3]),
	}
}
