package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.State().Snapshot())
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"frames":  s.session.Diag().Entries(),
		"dropped": s.session.Dropped(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":     s.version,
		"fresh":       s.session.State().Fresh(),
		"last_update": s.session.State().LastUpdate().Format(time.RFC3339),
	})
}

type lightRequest struct {
	State string `json:"state"` // "ON", "OFF", "TOGGLE"
}

func (s *Server) handleLight(w http.ResponseWriter, r *http.Request) {
	var req lightRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var err error
	switch strings.ToUpper(req.State) {
	case "ON":
		err = s.session.TurnLightOn(r.Context())
	case "OFF":
		err = s.session.TurnLightOff(r.Context())
	case "TOGGLE":
		err = s.session.ToggleLight(r.Context())
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state must be ON, OFF or TOGGLE"})
		return
	}
	if err != nil {
		s.logger.Error("light command", "state", req.State, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "device write failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type lampRequest struct {
	Level int `json:"level"`
}

func (s *Server) handleLamp(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid lamp id"})
		return
	}

	var req lampRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.session.SetLamp(r.Context(), id, req.Level); err != nil {
		s.logger.Error("lamp command", "lamp", id, "err", err)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type wakeRequest struct {
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Weekend bool `json:"weekend"`
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	var req wakeRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var err error
	if req.Weekend {
		err = s.session.SetWakeTimeWeekendUTC(r.Context(), req.Hours, req.Minutes)
	} else {
		err = s.session.SetWakeTimeUTC(r.Context(), req.Hours, req.Minutes)
	}
	if err != nil {
		s.logger.Error("wake command", "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "device write failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
