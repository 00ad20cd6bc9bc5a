package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// BLE talks to the appliance over Bluetooth LE using the system adapter.
// The device address must be known up front; there is no scanner.
type BLE struct {
	address string
	logger  *slog.Logger

	mu        sync.Mutex
	device    bluetooth.Device
	chars     map[string]bluetooth.DeviceCharacteristic
	connected bool
}

// NewBLE creates a BLE transport for a device at the given
// "XX:XX:XX:XX:XX:XX" address. Nothing is connected until Connect.
func NewBLE(address string, logger *slog.Logger) *BLE {
	return &BLE{
		address: address,
		logger:  logger.With("component", "ble"),
		chars:   make(map[string]bluetooth.DeviceCharacteristic),
	}
}

// Connect enables the adapter, connects, and discovers all service
// characteristics so later calls can address them by UUID string.
func (b *BLE) Connect(ctx context.Context) error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable adapter: %w", err)
	}

	mac, err := bluetooth.ParseMAC(b.address)
	if err != nil {
		return fmt.Errorf("ble parse address %q: %w", b.address, err)
	}

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	dev, err := adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, params)
	if err != nil {
		return fmt.Errorf("ble connect %s: %w", b.address, err)
	}

	services, err := dev.DiscoverServices(nil)
	if err != nil {
		dev.Disconnect()
		return fmt.Errorf("ble discover services: %w", err)
	}

	chars := make(map[string]bluetooth.DeviceCharacteristic)
	for _, svc := range services {
		cc, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, c := range cc {
			chars[c.UUID().String()] = c
		}
	}

	b.mu.Lock()
	b.device = dev
	b.chars = chars
	b.connected = true
	b.mu.Unlock()

	b.logger.Info("connected", "address", b.address, "characteristics", len(chars))
	return nil
}

// Disconnect drops the link.
func (b *BLE) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.connected = false
	if err := b.device.Disconnect(); err != nil {
		return fmt.Errorf("ble disconnect: %w", err)
	}
	return nil
}

// StartNotify subscribes to the characteristic's notifications.
func (b *BLE) StartNotify(characteristic string, fn NotifyFunc) error {
	c, err := b.characteristic(characteristic)
	if err != nil {
		return err
	}
	if err := c.EnableNotifications(func(buf []byte) {
		// buf is reused by the stack; hand the session its own copy.
		fn(append([]byte(nil), buf...))
	}); err != nil {
		return fmt.Errorf("ble enable notifications %s: %w", characteristic, err)
	}
	return nil
}

// StopNotify cancels the subscription.
func (b *BLE) StopNotify(characteristic string) error {
	c, err := b.characteristic(characteristic)
	if err != nil {
		return err
	}
	if err := c.EnableNotifications(nil); err != nil {
		return fmt.Errorf("ble disable notifications %s: %w", characteristic, err)
	}
	return nil
}

// WriteNoResponse writes a frame to the characteristic.
func (b *BLE) WriteNoResponse(_ context.Context, characteristic string, data []byte) error {
	c, err := b.characteristic(characteristic)
	if err != nil {
		return err
	}
	if _, err := c.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("ble write %s: %w", characteristic, err)
	}
	return nil
}

func (b *BLE) characteristic(uuid string) (bluetooth.DeviceCharacteristic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return bluetooth.DeviceCharacteristic{}, ErrNotConnected
	}
	c, ok := b.chars[uuid]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble characteristic %s not found", uuid)
	}
	return c, nil
}
