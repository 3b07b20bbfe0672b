package database

import (
	"fmt"
	"sort"

	"atende/model"

	"github.com/jmoiron/sqlx"
)

// GetStatusCounts は状態ごとの件数を返します (期間指定なし、現在の全件)。
func GetStatusCounts(q sqlx.Ext) ([]model.StatusCount, error) {
	counts := []model.StatusCount{}
	err := sqlx.Select(q, &counts, `SELECT status, COUNT(*) AS count FROM tickets GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tickets by status: %w", err)
	}
	return counts, nil
}

// GetWorkload は担当者ごとの対応中件数と since 以降の完了件数を返します。
func GetWorkload(q sqlx.Ext, since string) ([]model.WorkloadItem, error) {
	const query = `
		SELECT a.id AS attendant_id, a.name, a.online,
			(SELECT COUNT(*) FROM tickets t WHERE t.attendant_id = a.id AND t.status = ?) AS open_count,
			(SELECT COUNT(*) FROM tickets t WHERE t.attendant_id = a.id AND t.status = ? AND t.finished_at >= ?) AS finished_count
		FROM attendants a
		WHERE a.active = ?
		ORDER BY open_count DESC, a.name`
	items := []model.WorkloadItem{}
	err := sqlx.Select(q, &items, q.Rebind(query), model.StatusInService, model.StatusFinished, since, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get workload: %w", err)
	}
	return items, nil
}

// GetDailyVolume は日別の登録件数・完了件数を返します。日付は UTC の YYYY-MM-DD。
func GetDailyVolume(q sqlx.Ext, since string) ([]model.VolumePoint, error) {
	created := []struct {
		Day   string `db:"day"`
		Count int    `db:"cnt"`
	}{}
	err := sqlx.Select(q, &created, q.Rebind(`SELECT SUBSTR(created_at, 1, 10) AS day, COUNT(*) AS cnt
		FROM tickets WHERE created_at >= ? GROUP BY SUBSTR(created_at, 1, 10)`), since)
	if err != nil {
		return nil, fmt.Errorf("failed to get created volume: %w", err)
	}
	finished := []struct {
		Day   string `db:"day"`
		Count int    `db:"cnt"`
	}{}
	err = sqlx.Select(q, &finished, q.Rebind(`SELECT SUBSTR(finished_at, 1, 10) AS day, COUNT(*) AS cnt
		FROM tickets WHERE status = ? AND finished_at >= ? GROUP BY SUBSTR(finished_at, 1, 10)`), model.StatusFinished, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get finished volume: %w", err)
	}

	byDay := make(map[string]*model.VolumePoint)
	var days []string
	point := func(day string) *model.VolumePoint {
		if p, ok := byDay[day]; ok {
			return p
		}
		p := &model.VolumePoint{Day: day}
		byDay[day] = p
		days = append(days, day)
		return p
	}
	for _, c := range created {
		point(c.Day).Created = c.Count
	}
	for _, f := range finished {
		point(f.Day).Finished = f.Count
	}

	sort.Strings(days)
	volume := make([]model.VolumePoint, 0, len(days))
	for _, d := range days {
		volume = append(volume, *byDay[d])
	}
	return volume, nil
}

// GetAssignedPairs は since 以降に割り当てられた atendimento の (登録, 割当) 日時を返します。
func GetAssignedPairs(q sqlx.Ext, since string) ([][2]string, error) {
	rows := []struct {
		CreatedAt  string `db:"created_at"`
		AssignedAt string `db:"assigned_at"`
	}{}
	err := sqlx.Select(q, &rows, q.Rebind(`SELECT created_at, assigned_at FROM tickets
		WHERE assigned_at <> '' AND created_at >= ?`), since)
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment times: %w", err)
	}
	pairs := make([][2]string, 0, len(rows))
	for _, r := range rows {
		pairs = append(pairs, [2]string{r.CreatedAt, r.AssignedAt})
	}
	return pairs, nil
}

// GetPaidRevenue は since 以降に支払われた注文の件数と合計金額を返します。
func GetPaidRevenue(q sqlx.Ext, since string) (int, int64, error) {
	var row struct {
		Count int   `db:"cnt"`
		Total int64 `db:"total"`
	}
	err := sqlx.Get(q, &row, q.Rebind(`SELECT COUNT(*) AS cnt, COALESCE(SUM(total_cents), 0) AS total
		FROM orders WHERE status = ? AND paid_at >= ?`), model.OrderPaid, since)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum paid revenue: %w", err)
	}
	return row.Count, row.Total, nil
}

// GetHeatPoints は座標付きの atendimento を since 以降について返します。重みは 1。
func GetHeatPoints(q sqlx.Ext, since string) ([]model.HeatPoint, error) {
	points := []model.HeatPoint{}
	err := sqlx.Select(q, &points, q.Rebind(`SELECT latitude, longitude, 1.0 AS weight FROM tickets
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL AND created_at >= ?
		ORDER BY created_at`), since)
	if err != nil {
		return nil, fmt.Errorf("failed to get heat points: %w", err)
	}
	return points, nil
}
