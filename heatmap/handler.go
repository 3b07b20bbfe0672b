package heatmap

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"atende/config"
	"atende/database"
	"atende/httpx"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// Handler は直近 DashboardDays 日の地点をまとめて返します。
// ?radiusKm= と ?days= で設定値を上書きできます。
func Handler(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := config.GetConfig()
		radius := cfg.HeatmapRadiusKm
		if v := r.URL.Query().Get("radiusKm"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
				httpx.WriteJSONError(w, "radiusKm must be a positive number", http.StatusBadRequest)
				return
			}
			radius = f
		}
		days := httpx.QueryInt(r, "days", cfg.DashboardDays)
		if days <= 0 {
			days = cfg.DashboardDays
		}

		since := database.CurrentTime().Add(-time.Duration(days) * 24 * time.Hour).Format(database.TimeLayout)
		points, err := database.GetHeatPoints(db, since)
		if err != nil {
			log.Printf("ERROR: heatmap query failed: %v", err)
			httpx.WriteJSONError(w, "internal error", http.StatusInternalServerError)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"since":    since,
			"radiusKm": radius,
			"points":   len(points),
			"clusters": Cluster(points, radius),
		})
	}
}
