//go:build no_automation

package main

import (
	"log/slog"

	"greenbox-home/internal/device"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *device.Session, _ *Config, _ *slog.Logger) *autoStopper {
	return &autoStopper{}
}
