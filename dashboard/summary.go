// Package dashboard はダッシュボード用の集計とそのキャッシュです。
package dashboard

import (
	"fmt"
	"time"

	"atende/database"
	"atende/model"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// Summary は since 以降の集計を返します。状態別件数だけは期間に関係なく現在値です。
func Summary(q sqlx.Ext, since time.Time) (*model.DashboardSummary, error) {
	sinceStr := since.UTC().Format(database.TimeLayout)
	s := &model.DashboardSummary{Since: sinceStr}

	var err error
	if s.StatusCounts, err = database.GetStatusCounts(q); err != nil {
		return nil, err
	}
	if s.Workload, err = database.GetWorkload(q, sinceStr); err != nil {
		return nil, err
	}
	if s.Volume, err = database.GetDailyVolume(q, sinceStr); err != nil {
		return nil, err
	}

	pairs, err := database.GetAssignedPairs(q, sinceStr)
	if err != nil {
		return nil, err
	}
	s.AvgWaitMinutes = averageWaitMinutes(pairs)

	if s.PaidOrders, s.RevenueCents, err = database.GetPaidRevenue(q, sinceStr); err != nil {
		return nil, err
	}
	return s, nil
}

// averageWaitMinutes は (登録, 割当) の差の平均を小数 1 桁で返します。
func averageWaitMinutes(pairs [][2]string) float64 {
	var total time.Duration
	n := 0
	for _, p := range pairs {
		created, err1 := database.ParseTime(p[0])
		assigned, err2 := database.ParseTime(p[1])
		if err1 != nil || err2 != nil || assigned.Before(created) {
			log.Printf("WARN: skipping malformed assignment times %q / %q", p[0], p[1])
			continue
		}
		total += assigned.Sub(created)
		n++
	}
	if n == 0 {
		return 0
	}
	avg := total.Minutes() / float64(n)
	return float64(int64(avg*10+0.5)) / 10
}

func cacheKey(since time.Time) string {
	return fmt.Sprintf("atende:dashboard:%s", since.UTC().Format("2006-01-02"))
}
