// Package transport defines the wireless link the device session
// consumes, plus the two backends that implement it: BLE for the real
// appliance and a serial bridge for bench work.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by operations that require an established
// link.
var ErrNotConnected = errors.New("transport: not connected")

// NotifyFunc receives one raw notification frame. It is called from the
// transport's own event goroutine and must not block; the session's
// callback only enqueues.
type NotifyFunc func(data []byte)

// Transport is the capability the device session consumes. One vendor
// characteristic carries both directions: write-without-response for
// commands, notify for status.
type Transport interface {
	// Connect establishes the link. Fatal for the session attempt on
	// error; reconnect policy belongs to the caller.
	Connect(ctx context.Context) error

	// Disconnect tears the link down. Safe to call when not connected.
	Disconnect() error

	// StartNotify subscribes to the characteristic and delivers frames
	// to fn until StopNotify.
	StartNotify(characteristic string, fn NotifyFunc) error

	// StopNotify cancels the subscription.
	StopNotify(characteristic string) error

	// WriteNoResponse writes a command frame. No payload is read back;
	// the device acknowledges nothing.
	WriteNoResponse(ctx context.Context, characteristic string, data []byte) error
}
