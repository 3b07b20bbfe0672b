package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"atende/config"
	"atende/database"
	"atende/events"
	"atende/httpx"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// SummaryHandler は ?days= (既定は設定値) の集計を返します。cache は nil でもかまいません。
// キャッシュの障害は警告だけ出して DB から返します。
func SummaryHandler(db *sqlx.DB, cache Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := httpx.QueryInt(r, "days", config.GetConfig().DashboardDays)
		if days <= 0 {
			days = config.GetConfig().DashboardDays
		}
		today := database.CurrentTime().Truncate(24 * time.Hour)
		since := today.AddDate(0, 0, -(days - 1))
		key := cacheKey(since)

		if cache != nil {
			val, ok, err := cache.Get(r.Context(), key)
			if err != nil {
				log.Printf("WARN: dashboard cache read failed: %v", err)
			} else if ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "HIT")
				w.Write(val)
				return
			}
		}

		summary, err := Summary(db, since)
		if err != nil {
			log.Printf("ERROR: dashboard summary failed: %v", err)
			httpx.WriteJSONError(w, "internal error", http.StatusInternalServerError)
			return
		}
		body, err := json.Marshal(summary)
		if err != nil {
			httpx.WriteJSONError(w, "internal error", http.StatusInternalServerError)
			return
		}
		if cache != nil {
			if err := cache.Set(r.Context(), key, body, DefaultTTL); err != nil {
				log.Printf("WARN: dashboard cache write failed: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "MISS")
		w.Write(body)
	}
}

// RecentEventsHandler は直近のイベントを新しい順に返します (?limit=、既定 50)。
func RecentEventsHandler(ring *events.Ring) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, ring.Recent(httpx.QueryInt(r, "limit", 50)))
	}
}
