package main

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"atende/config"
	"atende/httpx"
	"atende/parsers"

	log "github.com/sirupsen/logrus"
)

// GetConfigHandler は現在の設定を返します
func GetConfigHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, config.GetConfig())
	}
}

// SaveConfigHandler は設定を検証して保存し、ログレベルをその場で反映します。
// 割当間隔の変更は再起動後に有効になります。
func SaveConfigHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var newCfg config.Config
		if err := httpx.DecodeJSON(r, &newCfg); err != nil {
			httpx.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		if err := validateConfig(newCfg); err != nil {
			httpx.WriteJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := config.SaveConfig(newCfg); err != nil {
			log.Printf("Error saving config: %v", err)
			httpx.WriteJSONError(w, "failed to save settings", http.StatusInternalServerError)
			return
		}
		configureLogging(config.GetConfig().LogLevel)
		httpx.WriteMessage(w, "settings saved")
	}
}

// validateConfig は負の値や未対応の文字コードを拒否します。0 と空文字は既定値になります。
func validateConfig(c config.Config) error {
	switch {
	case c.HeatmapRadiusKm < 0:
		return errors.New("heatmapRadiusKm must not be negative")
	case c.DashboardDays < 0 || c.DashboardDays > 366:
		return errors.New("dashboardDays must be between 1 and 366")
	case c.AssignIntervalSeconds < 0:
		return errors.New("assignIntervalSeconds must not be negative")
	case c.PresenceTimeoutMinutes < 0:
		return errors.New("presenceTimeoutMinutes must not be negative")
	case c.MaxConcurrentTickets < 0:
		return errors.New("maxConcurrentTickets must not be negative")
	}
	if c.CatalogCSVEncoding != "" {
		if _, err := parsers.Decode(strings.NewReader(""), c.CatalogCSVEncoding); err != nil {
			return err
		}
	}
	if c.LogLevel != "" {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return validateSeedPath(c.CatalogSeedPath)
}

// validateSeedPath はシードファイルのパスを検証します。未作成のファイルは許可します。
func validateSeedPath(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		log.Printf("Error checking seed path: %v", err)
		return errors.New("failed to check catalogSeedPath")
	}
	if info.IsDir() {
		return errors.New("catalogSeedPath is a directory: " + path)
	}
	return nil
}
