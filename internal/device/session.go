package device

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"greenbox-home/internal/protocol"
	"greenbox-home/internal/transport"
)

// notifyQueueSize bounds the raw frame queue between the transport
// callback and the pipeline consumer. The appliance notifies a handful
// of frames per second at most; if the queue ever fills, the newest
// frame is dropped and counted rather than blocking the transport's
// event goroutine.
const notifyQueueSize = 256

// Config holds session tuning.
type Config struct {
	// StaleTimeout is how long without a notification before the state
	// is reported unknown. Zero selects DefaultStaleTimeout.
	StaleTimeout time.Duration
}

// Session owns one connection to one appliance: it runs the
// notification pipeline, serializes writes, and exposes the command
// channel. Created per connection attempt and discarded on teardown.
type Session struct {
	tr     transport.Transport
	state  *State
	diag   *DiagLog
	events *EventBus
	logger *slog.Logger

	notifyCh chan []byte
	dropped  atomic.Uint64

	// writeMu serializes outbound writes: the characteristic does not
	// tolerate concurrent write-without-response operations.
	writeMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// NewSession creates a session over the given transport.
func NewSession(tr transport.Transport, cfg Config, logger *slog.Logger) *Session {
	return &Session{
		tr:       tr,
		state:    NewState(cfg.StaleTimeout),
		diag:     NewDiagLog(),
		events:   NewEventBus(logger),
		logger:   logger.With("component", "session"),
		notifyCh: make(chan []byte, notifyQueueSize),
	}
}

// State returns the device state record.
func (s *Session) State() *State { return s.state }

// Diag returns the diagnostic frame log.
func (s *Session) Diag() *DiagLog { return s.diag }

// Events returns the session event bus.
func (s *Session) Events() *EventBus { return s.events }

// Dropped returns how many notifications were discarded because the
// pipeline queue was full.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// Start connects the transport, subscribes to the status
// characteristic, and starts the pipeline consumer. Connect or
// subscribe failure is fatal for this attempt and is returned to the
// caller with the transport torn down again.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.tr.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := s.tr.StartNotify(protocol.CharacteristicUUID, s.enqueue); err != nil {
		_ = s.tr.Disconnect()
		return fmt.Errorf("start notify: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)

	s.logger.Info("session started")
	s.events.Emit(Event{Type: EventConnection, Data: "connected"})
	return nil
}

// Stop cancels the pipeline, unsubscribes, and disconnects. The
// in-flight frame finishes applying before the consumer exits;
// cancellation is normal shutdown, never an error.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	s.wg.Wait()

	if err := s.tr.StopNotify(protocol.CharacteristicUUID); err != nil {
		s.logger.Warn("stop notify", "err", err)
	}
	if err := s.tr.Disconnect(); err != nil {
		s.logger.Warn("disconnect", "err", err)
	}
	s.events.Emit(Event{Type: EventConnection, Data: "disconnected"})
	s.logger.Info("session stopped")
}

// enqueue is the transport notify callback. It never blocks: the
// transport's event goroutine is not ours to stall.
func (s *Session) enqueue(data []byte) {
	select {
	case s.notifyCh <- data:
	default:
		n := s.dropped.Add(1)
		s.logger.Warn("notification queue full, dropping frame", "dropped", n)
	}
}

// run is the single pipeline consumer. Frames are applied to state in
// strict arrival order; there is exactly one of these per session.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-s.notifyCh:
			s.handleFrame(raw)
		}
	}
}

func (s *Session) handleFrame(raw []byte) {
	res := protocol.Decode(raw)
	now := time.Now()

	switch res.Kind {
	case protocol.Parsed:
		prop := s.state.Apply(res.ControlID, res.Value)
		if prop != "" {
			s.events.Emit(Event{Type: EventStateUpdate, Data: map[string]interface{}{
				"property": prop,
				"value":    res.Value,
			}})
		} else {
			s.logger.Debug("unrecognized control id", "id", fmt.Sprintf("0x%02X", res.ControlID), "value", res.Value)
		}
	case protocol.Empty, protocol.Unsupported:
		// Still proof of life, even if we cannot read it.
		s.state.Touch()
	}

	s.diag.Record(raw, res, now)
	s.events.Emit(Event{Type: EventFrame, Data: map[string]interface{}{
		"raw":        hex.EncodeToString(raw),
		"control_id": res.ControlID,
		"value":      res.Value,
	}})
}

// write serializes one command frame onto the characteristic. At most
// one write is in flight at any time. Errors propagate to the caller;
// there is no retry.
func (s *Session) write(ctx context.Context, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.tr.WriteNoResponse(ctx, protocol.CharacteristicUUID, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
