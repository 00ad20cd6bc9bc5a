//go:build !no_mqtt

// Package mqtt mirrors the appliance state onto an MQTT broker and
// feeds remote commands back into the device session.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"greenbox-home/internal/device"
)

// Controller is the slice of the device session the bridge needs.
type Controller interface {
	State() *device.State
	Events() *device.EventBus
	TurnLightOn(ctx context.Context) error
	TurnLightOff(ctx context.Context) error
	ToggleLight(ctx context.Context) error
	SetLamp(ctx context.Context, lampID, strength int) error
	SetWakeTimeUTC(ctx context.Context, hours, minutes int) error
	SetWakeTimeWeekendUTC(ctx context.Context, hours, minutes int) error
}

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	// PublishInterval is the period of the unconditional state
	// republish. Zero selects 10 seconds.
	PublishInterval time.Duration
}

// Bridge connects one GreenBox session to MQTT with HA autodiscovery.
type Bridge struct {
	client   pahomqtt.Client
	ctrl     Controller
	prefix   string
	interval time.Duration
	logger   *slog.Logger
	unsub    func()
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(ctrl Controller, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		ctrl:     ctrl,
		prefix:   cfg.TopicPrefix,
		interval: cfg.PublishInterval,
		logger:   logger.With("component", "mqtt"),
		ctx:      ctx,
		cancel:   cancel,
	}
	if b.interval <= 0 {
		b.interval = 10 * time.Second
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("greenbox-home").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/availability", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publish(b.prefix+"/availability", []byte("online"), true)
			b.publishDiscovery()
			b.subscribeCommands()
			b.publishState()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return b, nil
}

// Start subscribes to session events and begins the periodic publish
// loop.
func (b *Bridge) Start() {
	b.unsub = b.ctrl.Events().On(device.EventStateUpdate, func(device.Event) {
		b.publishState()
	})
	go b.publishLoop()
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline availability, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publish(b.prefix+"/availability", []byte("offline"), true)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// publishLoop republishes the full state on a timer so subscribers that
// missed an update converge anyway.
func (b *Bridge) publishLoop() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.publishState()
		}
	}
}

func (b *Bridge) publishState() {
	snap := b.ctrl.State().Snapshot()

	b.publish(b.prefix+"/state", buildStatePayload(snap), true)
	// Scalar topics for dashboards that want a bare value.
	b.publish(b.prefix+"/water_lvl", []byte(strconv.Itoa(int(snap.WaterLvl))), true)
	b.publish(b.prefix+"/light_on", []byte(snap.LightOn.String()), true)
}

func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/set"
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Payload())
	})
}

// command is the JSON accepted on the set topic. Absent fields are
// skipped, so one message can carry several operations.
type command struct {
	Light           string `json:"light,omitempty"`             // "ON", "OFF", "TOGGLE"
	Lamp            *int   `json:"lamp,omitempty"`              // 0-2, paired with Level
	Level           *int   `json:"level,omitempty"`
	WakeTime        string `json:"wake_time,omitempty"`         // "HH:MM" UTC
	WakeTimeWeekend string `json:"wake_time_weekend,omitempty"` // "HH:MM" UTC
}

func (b *Bridge) handleCommand(payload []byte) {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()

	if cmd.Light != "" {
		var err error
		switch strings.ToUpper(cmd.Light) {
		case "ON":
			err = b.ctrl.TurnLightOn(ctx)
		case "OFF":
			err = b.ctrl.TurnLightOff(ctx)
		case "TOGGLE":
			err = b.ctrl.ToggleLight(ctx)
		default:
			b.logger.Warn("unknown light command", "value", cmd.Light)
		}
		if err != nil {
			b.logger.Warn("light command failed", "err", err)
		}
	}

	if cmd.Lamp != nil && cmd.Level != nil {
		if err := b.ctrl.SetLamp(ctx, *cmd.Lamp, *cmd.Level); err != nil {
			b.logger.Warn("lamp command failed", "lamp", *cmd.Lamp, "err", err)
		}
	}

	if cmd.WakeTime != "" {
		if h, m, err := parseClock(cmd.WakeTime); err != nil {
			b.logger.Warn("invalid wake_time", "value", cmd.WakeTime, "err", err)
		} else if err := b.ctrl.SetWakeTimeUTC(ctx, h, m); err != nil {
			b.logger.Warn("wake_time command failed", "err", err)
		}
	}

	if cmd.WakeTimeWeekend != "" {
		if h, m, err := parseClock(cmd.WakeTimeWeekend); err != nil {
			b.logger.Warn("invalid wake_time_weekend", "value", cmd.WakeTimeWeekend, "err", err)
		} else if err := b.ctrl.SetWakeTimeWeekendUTC(ctx, h, m); err != nil {
			b.logger.Warn("wake_time_weekend command failed", "err", err)
		}
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// buildStatePayload renders the retained JSON state document.
func buildStatePayload(snap device.Snapshot) []byte {
	doc := map[string]interface{}{
		"water_lvl":       snap.WaterLvl,
		"light_on":        snap.LightOn.String(),
		"light_status":    snap.LightStatus,
		"lamp_lvl":        snap.LampLvl,
		"wake_time":       fmt.Sprintf("%02d:%02d", snap.WakeHoursUTC, snap.WakeMinutesUTC),
		"hours_on":        snap.HoursOn,
		"weekend_enabled": snap.WeekendEnabled,
		"fresh":           snap.Fresh,
		"last_update":     snap.LastUpdate.Format(time.RFC3339),
	}
	if snap.WeekendEnabled {
		doc["wake_time_weekend"] = fmt.Sprintf("%02d:%02d", snap.WakeHoursWeekendUTC, snap.WakeMinutesWeekendUTC)
		doc["hours_on_weekend"] = snap.HoursOnWeekend
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// parseClock parses "HH:MM".
func parseClock(s string) (hours, minutes int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad hours in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minutes in %q", s)
	}
	return h, m, nil
}
