package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"greenbox-home/internal/protocol"
)

// Serial drives the appliance protocol through a UART bridge, used on
// the bench where a wired adapter replays the BLE characteristic. The
// byte stream has no transport framing, so frames are rebuilt from the
// 0xEE/0xEF delimiters.
type Serial struct {
	portName string
	baud     int
	logger   *slog.Logger

	mu     sync.Mutex
	port   serial.Port
	notify NotifyFunc

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSerial creates a serial transport. Nothing is opened until
// Connect.
func NewSerial(portName string, baud int, logger *slog.Logger) *Serial {
	return &Serial{
		portName: portName,
		baud:     baud,
		logger:   logger.With("component", "serial"),
	}
}

// Connect opens the port and starts the read loop.
func (s *Serial) Connect(_ context.Context) error {
	mode := &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.portName, mode)
	if err != nil {
		return fmt.Errorf("serial open %s: %w", s.portName, err)
	}

	s.mu.Lock()
	s.port = port
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(port)

	s.logger.Info("port opened", "port", s.portName, "baud", s.baud)
	return nil
}

// Disconnect closes the port and waits for the read loop to exit.
func (s *Serial) Disconnect() error {
	s.mu.Lock()
	port := s.port
	done := s.done
	s.port = nil
	s.notify = nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	close(done)
	err := port.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("serial close: %w", err)
	}
	return nil
}

// StartNotify registers the frame callback. The characteristic is
// meaningless on a wire, so it is ignored.
func (s *Serial) StartNotify(_ string, fn NotifyFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrNotConnected
	}
	s.notify = fn
	return nil
}

// StopNotify deregisters the frame callback.
func (s *Serial) StopNotify(_ string) error {
	s.mu.Lock()
	s.notify = nil
	s.mu.Unlock()
	return nil
}

// WriteNoResponse writes a command frame to the port.
func (s *Serial) WriteNoResponse(_ context.Context, _ string, data []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}
	if _, err := port.Write(data); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

func (s *Serial) readLoop(port serial.Port) {
	defer s.wg.Done()

	var split frameSplitter
	buf := make([]byte, 64)
	for {
		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-s.done:
				// Closed by Disconnect.
			default:
				s.logger.Error("serial read", "err", err)
			}
			return
		}
		for _, frame := range split.Feed(buf[:n]) {
			s.mu.Lock()
			fn := s.notify
			s.mu.Unlock()
			if fn != nil {
				fn(frame)
			}
		}
	}
}

// frameSplitter rebuilds delimited frames from a raw byte stream. A
// frame opens at 0xEE and closes at 0xEF; firmware that omits the end
// byte is covered by flushing once the maximum notification length has
// accumulated. Payload bytes that collide with a delimiter can split a
// frame early; BLE packetization makes this a bench-only concern.
type frameSplitter struct {
	pending []byte
}

// Feed consumes a chunk of stream bytes and returns any complete
// frames. Returned slices are freshly allocated.
func (f *frameSplitter) Feed(p []byte) [][]byte {
	f.pending = append(f.pending, p...)

	var frames [][]byte
	for {
		// Discard noise before the start delimiter.
		start := -1
		for i, b := range f.pending {
			if b == protocol.StartByte {
				start = i
				break
			}
		}
		if start < 0 {
			f.pending = f.pending[:0]
			return frames
		}
		f.pending = f.pending[start:]

		end := -1
		for i := 1; i < len(f.pending) && i < protocol.MaxNotifyLen; i++ {
			if f.pending[i] == protocol.EndByte {
				end = i
				break
			}
		}
		switch {
		case end >= 0:
			frames = append(frames, append([]byte(nil), f.pending[:end+1]...))
			f.pending = f.pending[end+1:]
		case len(f.pending) >= protocol.MaxNotifyLen:
			// No end byte within the known format; flush what we have.
			frames = append(frames, append([]byte(nil), f.pending[:protocol.MaxNotifyLen]...))
			f.pending = f.pending[protocol.MaxNotifyLen:]
		default:
			// Partial frame, wait for more bytes.
			return frames
		}
	}
}
