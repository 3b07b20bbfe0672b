package mappers

import (
	"time"

	"atende/database"
	"atende/model"
)

// TicketView は atendimento の画面表示用です。
type TicketView struct {
	model.Ticket
	StatusLabel     string `json:"statusLabel"`
	AttendantName   string `json:"attendantName"`
	WaitMinutes     int    `json:"waitMinutes"`
	HandlingMinutes int    `json:"handlingMinutes"`
}

// ToTicketView は待ち時間 (作成→割り当て) と対応時間 (割り当て→終了) を分単位で付けます。
// まだ終わっていない区間は now までで計算します。
func ToTicketView(t *model.Ticket, attendantNames map[string]string, now time.Time) TicketView {
	if t == nil {
		return TicketView{}
	}
	v := TicketView{
		Ticket:        *t,
		StatusLabel:   StatusLabel(t.Status),
		AttendantName: attendantNames[t.AttendantID],
	}
	if v.AttendantName == "" {
		v.AttendantName = t.AttendantID
	}

	created, _ := database.ParseTime(t.CreatedAt)
	assigned, _ := database.ParseTime(t.AssignedAt)
	finished, _ := database.ParseTime(t.FinishedAt)

	switch {
	case !assigned.IsZero():
		v.WaitMinutes = minutesBetween(created, assigned)
	case !t.Status.IsFinal() && t.Status != model.StatusBot:
		v.WaitMinutes = minutesBetween(created, now)
	}
	if !assigned.IsZero() {
		end := finished
		if end.IsZero() {
			end = now
		}
		v.HandlingMinutes = minutesBetween(assigned, end)
	}
	return v
}

// ToTicketViews は一覧用にまとめて変換します。
func ToTicketViews(tickets []model.Ticket, attendantNames map[string]string, now time.Time) []TicketView {
	views := make([]TicketView, 0, len(tickets))
	for i := range tickets {
		views = append(views, ToTicketView(&tickets[i], attendantNames, now))
	}
	return views
}

func minutesBetween(from, to time.Time) int {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / time.Minute)
}

// PlanView はプランの画面表示用です。
type PlanView struct {
	model.Plan
	PriceLabel string `json:"priceLabel"`
}

func ToPlanView(p *model.Plan) PlanView {
	if p == nil {
		return PlanView{}
	}
	return PlanView{Plan: *p, PriceLabel: FormatBRL(p.PriceCents)}
}

// ItemView は品目の画面表示用です。
type ItemView struct {
	model.Item
	PriceLabel string `json:"priceLabel"`
}

func ToItemView(it *model.Item) ItemView {
	if it == nil {
		return ItemView{}
	}
	return ItemView{Item: *it, PriceLabel: FormatBRL(it.PriceCents)}
}
