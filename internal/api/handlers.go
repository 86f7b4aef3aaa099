package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yksanjo/tinyguardian/internal/logger"
	"github.com/yksanjo/tinyguardian/internal/store"
	"github.com/yksanjo/tinyguardian/pkg/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.AlertFilter{DeviceID: q.Get("device_id")}

	if raw := q.Get("severity_min"); raw != "" {
		min, err := strconv.ParseFloat(raw, 64)
		if err != nil || min < 0 || min > 1 {
			writeError(w, http.StatusBadRequest, "severity_min must be a number in [0,1]")
			return
		}
		filter.SeverityMin = min
	}

	if raw := q.Get("status"); raw != "" {
		status := models.AlertStatus(raw)
		if !models.ValidAlertStatus(status) {
			writeError(w, http.StatusBadRequest, "unknown alert status: "+raw)
			return
		}
		filter.Status = status
	}

	for param, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if raw := q.Get(param); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, param+" must be RFC3339")
				return
			}
			*dst = t
		}
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = limit

	alerts, err := s.store.QueryAlerts(r.Context(), filter)
	if err != nil {
		logger.Errorf("Alert query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleUpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	var body struct {
		Status models.AlertStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !models.ValidAlertStatus(body.Status) {
		writeError(w, http.StatusBadRequest, "unknown alert status: "+string(body.Status))
		return
	}

	if err := s.store.UpdateAlertStatus(r.Context(), id, body.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		logger.Errorf("Alert status update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": body.Status})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.store.RecentEvents(r.Context(), limit)
	if err != nil {
		logger.Errorf("Event query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		logger.Errorf("Device query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices, "count": len(devices)})
}

func (s *Server) handleBlockDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device id is required")
		return
	}

	if err := s.store.SetDeviceStatus(r.Context(), deviceID, models.DeviceBlocked); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		logger.Errorf("Device block failed: %v", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	logger.Infof("Device %s marked blocked", deviceID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"device_id": deviceID, "status": models.DeviceBlocked})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		logger.Errorf("Stats query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "disabled"
	if s.classifier != nil {
		state = s.classifier.State()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"classifier": state,
		"uptime":     time.Since(s.started).Round(time.Second).String(),
	})
}
