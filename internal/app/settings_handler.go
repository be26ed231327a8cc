package app

import (
	"encoding/json"
	"net/http"
	"time"

	"gridwatch/config"

	"go.uber.org/zap"
)

// SettingsHandler exposes the refresh timing settings. The runner intervals
// take effect immediately; the fetch delays apply after a restart.
type SettingsHandler struct {
	logger     *zap.Logger
	liveConfig *config.LiveConfig
}

// Settings is the editable subset of the config.
type Settings struct {
	Refresh config.RefreshConfig `json:"refresh"`
}

func NewSettingsHandler(logger *zap.Logger, liveConfig *config.LiveConfig) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{
		logger:     logger.Named("settings"),
		liveConfig: liveConfig,
	}
}

func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/settings", h.handleSettingsAPI)
}

func (h *SettingsHandler) handleSettingsAPI(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getSettings(w)
	case http.MethodPost:
		h.updateSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) getSettings(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(settingsOf(h.liveConfig.Get())); err != nil {
		h.logger.Error("failed to encode settings", zap.Error(err))
	}
}

// updateSettings overlays the posted fields on the current settings.
func (h *SettingsHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	cfg := h.liveConfig.Get()
	s := settingsOf(cfg)
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	cfg.Refresh = s.Refresh

	if validation := cfg.Validate(); !validation.Valid {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"errors":  validation.Errors,
		})
		return
	}
	if err := h.liveConfig.Update(cfg); err != nil {
		http.Error(w, "Failed to update settings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("settings updated via API")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"applied_at": time.Now(),
	})
}

func settingsOf(cfg *config.Config) Settings {
	return Settings{Refresh: cfg.Refresh}
}
