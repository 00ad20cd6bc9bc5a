package transport

import (
	"bytes"
	"testing"
)

func TestFrameSplitterWholeFrame(t *testing.T) {
	var s frameSplitter
	frame := []byte{0xEE, 0x07, 0x00, 0x01, 0xF8, 0xEF}
	got := s.Feed(frame)
	if len(got) != 1 {
		t.Fatalf("frames = %d, want 1", len(got))
	}
	if !bytes.Equal(got[0], frame) {
		t.Errorf("frame = % X, want % X", got[0], frame)
	}
}

func TestFrameSplitterByteAtATime(t *testing.T) {
	var s frameSplitter
	frame := []byte{0xEE, 0x0C, 0x00, 0x46, 0xAE, 0xEF}
	var got [][]byte
	for _, b := range frame {
		got = append(got, s.Feed([]byte{b})...)
	}
	if len(got) != 1 {
		t.Fatalf("frames = %d, want 1", len(got))
	}
	if !bytes.Equal(got[0], frame) {
		t.Errorf("frame = % X, want % X", got[0], frame)
	}
}

func TestFrameSplitterTwoFramesOneChunk(t *testing.T) {
	var s frameSplitter
	a := []byte{0xEE, 0x07, 0x00, 0x01, 0xF8, 0xEF}
	b := []byte{0xEE, 0x0C, 0x00, 0x46, 0xAE, 0xEF}
	got := s.Feed(append(append([]byte(nil), a...), b...))
	if len(got) != 2 {
		t.Fatalf("frames = %d, want 2", len(got))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("frames = % X / % X, want % X / % X", got[0], got[1], a, b)
	}
}

func TestFrameSplitterDiscardsNoise(t *testing.T) {
	var s frameSplitter
	frame := []byte{0xEE, 0x07, 0x00, 0x01, 0xF8, 0xEF}
	input := append([]byte{0x00, 0x42, 0x13}, frame...)
	got := s.Feed(input)
	if len(got) != 1 {
		t.Fatalf("frames = %d, want 1", len(got))
	}
	if !bytes.Equal(got[0], frame) {
		t.Errorf("frame = % X, want % X", got[0], frame)
	}
}

func TestFrameSplitterMissingEndByte(t *testing.T) {
	// A frame with no end delimiter flushes at the max notification
	// length once enough bytes arrive.
	var s frameSplitter
	got := s.Feed([]byte{0xEE, 0x07, 0x00, 0x03, 0xF6, 0x00, 0x00})
	if len(got) != 1 {
		t.Fatalf("frames = %d, want 1", len(got))
	}
	if len(got[0]) != 7 {
		t.Errorf("frame length = %d, want 7", len(got[0]))
	}
}

func TestFrameSplitterPartialWaits(t *testing.T) {
	var s frameSplitter
	if got := s.Feed([]byte{0xEE, 0x07, 0x00}); len(got) != 0 {
		t.Fatalf("frames = %d, want 0 for partial input", len(got))
	}
	if got := s.Feed([]byte{0x01, 0xF8, 0xEF}); len(got) != 1 {
		t.Fatalf("frames = %d, want 1 after completion", len(got))
	}
}
