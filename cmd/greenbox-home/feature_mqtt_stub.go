//go:build no_mqtt

package main

import (
	"log/slog"

	"greenbox-home/internal/device"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *device.Session, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
