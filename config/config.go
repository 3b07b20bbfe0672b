package config

import (
	"encoding/json"
	"os"
	"sync"
)

// Config は画面から編集できる運用設定です。
type Config struct {
	HeatmapRadiusKm        float64 `json:"heatmapRadiusKm"`
	DashboardDays          int     `json:"dashboardDays"`
	AssignIntervalSeconds  int     `json:"assignIntervalSeconds"`
	PresenceTimeoutMinutes int     `json:"presenceTimeoutMinutes"`
	MaxConcurrentTickets   int     `json:"maxConcurrentTickets"`
	CatalogCSVEncoding     string  `json:"catalogCsvEncoding"`
	CatalogSeedPath        string  `json:"catalogSeedPath"`
	LogLevel               string  `json:"logLevel"`
}

var (
	cfg = applyDefaults(Config{})
	mu  sync.RWMutex

	configFilePath = "./atende_config.json"
)

// SetPath は設定ファイルの場所を差し替えます (テスト・別環境用)。
func SetPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	configFilePath = path
}

func applyDefaults(c Config) Config {
	if c.HeatmapRadiusKm <= 0 {
		c.HeatmapRadiusKm = 1.0
	}
	if c.DashboardDays <= 0 {
		c.DashboardDays = 14
	}
	if c.AssignIntervalSeconds <= 0 {
		c.AssignIntervalSeconds = 30
	}
	if c.PresenceTimeoutMinutes <= 0 {
		c.PresenceTimeoutMinutes = 5
	}
	if c.MaxConcurrentTickets <= 0 {
		c.MaxConcurrentTickets = 5
	}
	if c.CatalogCSVEncoding == "" {
		c.CatalogCSVEncoding = "utf-8"
	}
	if c.CatalogSeedPath == "" {
		c.CatalogSeedPath = "catalog.yaml"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

func LoadConfig() (Config, error) {
	mu.Lock()
	defer mu.Unlock()

	file, err := os.ReadFile(configFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = applyDefaults(Config{})
			return cfg, nil
		}
		return Config{}, err
	}

	var tempCfg Config
	if err := json.Unmarshal(file, &tempCfg); err != nil {
		return Config{}, err
	}
	cfg = applyDefaults(tempCfg)

	return cfg, nil
}

func SaveConfig(newCfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	newCfg = applyDefaults(newCfg)

	file, err := json.MarshalIndent(newCfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(configFilePath, file, 0644); err != nil {
		return err
	}
	cfg = newCfg
	return nil
}

func GetConfig() Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Replace はファイルに書かずにメモリ上の設定を差し替え、直前の設定を返します。
func Replace(newCfg Config) Config {
	mu.Lock()
	defer mu.Unlock()
	prev := cfg
	cfg = applyDefaults(newCfg)
	return prev
}
