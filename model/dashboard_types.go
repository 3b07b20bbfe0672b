package model

// HeatPoint はヒートマップ用の座標と重みです。
type HeatPoint struct {
	Latitude  float64 `db:"latitude" json:"lat"`
	Longitude float64 `db:"longitude" json:"lng"`
	Weight    float64 `db:"weight" json:"weight"`
}

// HeatCluster は近接点をまとめた結果です。
type HeatCluster struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Count     float64 `json:"count"`
}

type StatusCount struct {
	Status TicketStatus `db:"status" json:"status"`
	Count  int          `db:"count" json:"count"`
}

type WorkloadItem struct {
	AttendantID string `db:"attendant_id" json:"attendantId"`
	Name        string `db:"name" json:"name"`
	Online      bool   `db:"online" json:"online"`
	Open        int    `db:"open_count" json:"open"`
	Finished    int    `db:"finished_count" json:"finished"`
}

type VolumePoint struct {
	Day      string `db:"day" json:"day"`
	Created  int    `db:"created_count" json:"created"`
	Finished int    `db:"finished_count" json:"finished"`
}

// DashboardSummary はダッシュボードのカード群に表示する集計です。
type DashboardSummary struct {
	Since          string         `json:"since"`
	StatusCounts   []StatusCount  `json:"statusCounts"`
	Workload       []WorkloadItem `json:"workload"`
	Volume         []VolumePoint  `json:"volume"`
	AvgWaitMinutes float64        `json:"avgWaitMinutes"`
	RevenueCents   int64          `json:"revenueCents"`
	PaidOrders     int            `json:"paidOrders"`
}
