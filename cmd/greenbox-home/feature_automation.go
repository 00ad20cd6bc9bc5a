//go:build !no_automation

package main

import (
	"log/slog"

	"greenbox-home/internal/automation"
	"greenbox-home/internal/device"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(session *device.Session, cfg *Config, logger *slog.Logger) *autoStopper {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}
	}

	engine := automation.NewEngine(session, scriptMgr, logger)
	engine.Start()
	return &autoStopper{engine: engine}
}
